package repository

import (
	"context"
	"time"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuctionRepository struct {
	db *gorm.DB
}

func NewAuctionRepository(db *gorm.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

func (r *AuctionRepository) CreateAuction(ctx context.Context, auction *model.Auction) error {
	return translateErr(r.db.WithContext(ctx).Create(auction).Error, nil)
}

func (r *AuctionRepository) GetAuction(ctx context.Context, id int64) (*model.Auction, error) {
	var auction model.Auction
	if err := r.db.WithContext(ctx).First(&auction, id).Error; err != nil {
		return nil, translateErr(err, errs.ErrAuctionNotFound)
	}
	return &auction, nil
}

func (r *AuctionRepository) GetAuctionForUpdate(ctx context.Context, id int64) (*model.Auction, error) {
	var auction model.Auction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&auction, id).Error
	if err != nil {
		return nil, translateErr(err, errs.ErrAuctionNotFound)
	}
	return &auction, nil
}

// UpdateAuction 以 version 为条件更新，保证出价与结算的"检查+写入"是一次原子操作
//
// is_active 一旦为 false 就不会再被写回 true
func (r *AuctionRepository) UpdateAuction(ctx context.Context, auction *model.Auction, expectedVersion int) error {
	query := r.db.WithContext(ctx).
		Model(&model.Auction{}).
		Where("id = ? AND version = ?", auction.ID, expectedVersion)
	if auction.IsActive {
		query = query.Where("is_active = ?", true)
	}

	result := query.Updates(map[string]interface{}{
		"current_price":   auction.CurrentPrice,
		"bid_count":       auction.BidCount,
		"is_active":       auction.IsActive,
		"winner_id":       auction.WinnerID,
		"final_price":     auction.FinalPrice,
		"credits_reduced": auction.CreditsReduced,
		"settle_reason":   auction.SettleReason,
		"settled_at":      auction.SettledAt,
		"version":         expectedVersion + 1,
	})
	if result.Error != nil {
		return translateErr(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetAuction(ctx, auction.ID); err != nil {
			return err
		}
		return errs.ErrConcurrentConflict
	}

	auction.Version = expectedVersion + 1
	return nil
}

func (r *AuctionRepository) ListActiveAuctions(ctx context.Context, now time.Time) ([]*model.Auction, error) {
	var auctions []*model.Auction
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND end_time > ?", true, now).
		Order("end_time ASC").
		Find(&auctions).Error
	return auctions, translateErr(err, nil)
}

func (r *AuctionRepository) ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	var auctions []*model.Auction
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND end_time <= ?", true, now).
		Order("end_time ASC").
		Limit(limit).
		Find(&auctions).Error
	return auctions, translateErr(err, nil)
}

func (r *AuctionRepository) ListSettledAuctions(ctx context.Context, page, pageSize int) ([]*model.Auction, int64, error) {
	var auctions []*model.Auction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Auction{}).Where("is_active = ?", false).Session(&gorm.Session{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translateErr(err, nil)
	}

	err := query.
		Order("settled_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&auctions).Error
	return auctions, total, translateErr(err, nil)
}

func (r *AuctionRepository) CreateBid(ctx context.Context, bid *model.Bid) error {
	return translateErr(r.db.WithContext(ctx).Create(bid).Error, nil)
}

// ListBids 最高价在前，同价按出价时间先后
func (r *AuctionRepository) ListBids(ctx context.Context, auctionID int64) ([]*model.Bid, error) {
	var bids []*model.Bid
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("amount DESC").
		Order("timestamp ASC").
		Order("id ASC").
		Find(&bids).Error
	return bids, translateErr(err, nil)
}
