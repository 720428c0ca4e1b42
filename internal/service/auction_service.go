package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/errs"
	"mediacredits/internal/infrastructure/lock"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
	"mediacredits/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// 拍卖
// ============================================================================
//
// 状态机：Active -> (Bid)* -> Settled(EXPIRED | MANUAL_CLOSE)
//
// 【出价不冻结积分】出价时只校验价格，积分在结算时才扣。被超价的用户不受任何影响，
// 代价是赢家结算时可能已经付不起：此时拍卖照常结束、保留 winner_id、
// credits_reduced=false，并通知运营频道，不会自动顺延给第二名。
//
// 【结算只有一个入口】到期扫描和管理员"立即结束"都走 settle：
// 事务内 FOR UPDATE 读拍卖 -> is_active 仍为 true 才处理 -> 置为 false，
// 第二次进入时看到 is_active=false 直接返回上次的结果（幂等）。
// ============================================================================

type AuctionService struct {
	runner
	cfg         *config.Config
	redisClient *redis.Client
	identity    *IdentityResolver
	now         func() time.Time
}

// NewAuctionService redisClient 为空时不加结算锁，正确性仍由事务保证
func NewAuctionService(st store.Store, cfg *config.Config, redisClient *redis.Client, identity *IdentityResolver) *AuctionService {
	return &AuctionService{
		runner:      newRunner(st, &cfg.Economy),
		cfg:         cfg,
		redisClient: redisClient,
		identity:    identity,
		now:         time.Now,
	}
}

type CreateAuctionRequest struct {
	Title         string          `json:"title" binding:"required"`
	Description   string          `json:"description"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	EndTime       time.Time       `json:"end_time" binding:"required"`
	CreatedBy     int64           `json:"created_by" binding:"required"`
}

func (s *AuctionService) CreateAuction(ctx context.Context, req *CreateAuctionRequest) (*model.Auction, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, errs.Invalid("拍卖标题不能为空")
	}
	if req.StartingPrice.IsNegative() || !req.StartingPrice.Equal(req.StartingPrice.Round(2)) {
		return nil, errs.Invalid("起拍价不能为负且最多两位小数")
	}
	if !req.EndTime.After(s.now()) {
		return nil, errs.Invalid("结束时间必须晚于当前时间")
	}

	auction := &model.Auction{
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		CurrentPrice:  req.StartingPrice,
		EndTime:       req.EndTime,
		CreatedBy:     req.CreatedBy,
		IsActive:      true,
	}
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		auction.ID = 0
		return tx.CreateAuction(ctx, auction)
	})
	if err != nil {
		return nil, fmt.Errorf("创建拍卖失败: %w", err)
	}

	log.Printf("拍卖已创建: id=%d, title=%s, startingPrice=%s, endTime=%s",
		auction.ID, auction.Title, auction.StartingPrice, auction.EndTime.Format(time.RFC3339))
	return auction, nil
}

// PlaceBid 出价
//
// 【关键点】价格校验与写入在同一个事务里，且拍卖行带版本号更新：
// 两个并发出价只有一个能先提交，另一个重试时拿到新的 current_price，
// 金额不再高于它就返回 ErrBidTooLow，不会把价格覆盖成更低的值
func (s *AuctionService) PlaceBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*model.Bid, error) {
	if err := positive(amount, "出价"); err != nil {
		return nil, err
	}

	var bid *model.Bid
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.GetAccount(ctx, bidderID); err != nil {
			return err
		}
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}

		now := s.now()
		if !auction.AcceptingBids(now) {
			return errs.ErrAuctionInactive
		}
		if auction.CreatedBy == bidderID {
			return errs.ErrSelfBid
		}
		if !amount.GreaterThan(auction.CurrentPrice) {
			return fmt.Errorf("%w: 当前价格 %s", errs.ErrBidTooLow, auction.CurrentPrice.StringFixed(2))
		}

		b := &model.Bid{
			BidNo:     idgen.GenerateBidNo(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			Timestamp: now,
		}
		if err := tx.CreateBid(ctx, b); err != nil {
			return fmt.Errorf("记录出价失败: %w", err)
		}

		auction.CurrentPrice = amount
		auction.BidCount++
		if err := tx.UpdateAuction(ctx, auction, auction.Version); err != nil {
			return err
		}
		bid = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("出价成功: auctionID=%d, bidderID=%d, amount=%s", auctionID, bidderID, amount)
	return bid, nil
}

// SettleResult 结算结果，重复结算返回相同内容
type SettleResult struct {
	AuctionID      int64           `json:"auction_id"`
	WinnerID       *int64          `json:"winner_id"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	CreditsReduced bool            `json:"credits_reduced"`
	Reason         string          `json:"reason"`
	SettledAt      time.Time       `json:"settled_at"`
	AlreadySettled bool            `json:"already_settled"`
}

func resultOf(a *model.Auction, already bool) *SettleResult {
	r := &SettleResult{
		AuctionID:      a.ID,
		WinnerID:       a.WinnerID,
		FinalPrice:     a.FinalPrice,
		CreditsReduced: a.CreditsReduced,
		Reason:         a.SettleReason,
		AlreadySettled: already,
	}
	if a.SettledAt != nil {
		r.SettledAt = *a.SettledAt
	}
	return r
}

// Settle 结算拍卖；未到结束时间时按管理员提前结束处理
func (s *AuctionService) Settle(ctx context.Context, auctionID int64) (*SettleResult, error) {
	return s.settle(ctx, auctionID, "")
}

// Finish 管理员立即结束拍卖
func (s *AuctionService) Finish(ctx context.Context, auctionID int64) (*SettleResult, error) {
	return s.settle(ctx, auctionID, model.SettleReasonManualClose)
}

func (s *AuctionService) settle(ctx context.Context, auctionID int64, reason string) (*SettleResult, error) {
	if s.redisClient != nil {
		settleLock := lock.NewSettleLock(s.redisClient, auctionID, uuid.NewString())
		if err := settleLock.Lock(ctx, 50*time.Millisecond, 40); err != nil {
			// 锁只是用来排队，拿不到时交给数据库事务兜底
			log.Printf("[AuctionService] 获取结算锁失败，直接进入事务: auctionID=%d, err=%v", auctionID, err)
		} else {
			defer settleLock.Unlock(context.Background())
		}
	}

	var result *SettleResult
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if !auction.IsActive {
			result = resultOf(auction, true)
			return nil
		}

		now := s.now()
		settleReason := reason
		if settleReason == "" {
			settleReason = model.SettleReasonExpired
			if now.Before(auction.EndTime) {
				settleReason = model.SettleReasonManualClose
			}
		}

		auction.IsActive = false
		auction.SettleReason = settleReason
		auction.SettledAt = &now

		bids, err := tx.ListBids(ctx, auctionID)
		if err != nil {
			return err
		}
		if len(bids) > 0 {
			top := bids[0]
			winner := top.BidderID
			auction.WinnerID = &winner
			auction.FinalPrice = top.Amount
			if err := s.chargeWinner(ctx, tx, auction); err != nil {
				return err
			}
		}

		if err := tx.UpdateAuction(ctx, auction, auction.Version); err != nil {
			return err
		}
		result = resultOf(auction, false)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadySettled {
		winner := "无人出价"
		if result.WinnerID != nil {
			winner = s.identity.DisplayName(ctx, *result.WinnerID)
		}
		log.Printf("拍卖已结算: auctionID=%d, reason=%s, winner=%s, finalPrice=%s, creditsReduced=%v",
			auctionID, result.Reason, winner, result.FinalPrice, result.CreditsReduced)
	}
	return result, nil
}

// chargeWinner 尝试扣赢家积分；付不起时只记录并通知运营，不回滚结算
func (s *AuctionService) chargeWinner(ctx context.Context, tx store.Store, auction *model.Auction) error {
	winnerID := *auction.WinnerID
	key := fmt.Sprintf("auction-%d", auction.ID)

	account, err := tx.GetAccountForUpdate(ctx, winnerID)
	if err == nil && account.Credits.GreaterThanOrEqual(auction.FinalPrice) {
		if _, err := post(ctx, tx, account, entry{
			Amount: auction.FinalPrice.Neg(),
			Type:   model.TxTypeAuction,
			RefNo:  fmt.Sprintf("AUC-%d", auction.ID),
			Remark: fmt.Sprintf("拍卖成交: %s", auction.Title),
		}); err != nil {
			return err
		}
		auction.CreditsReduced = true
		return notify(ctx, tx, s.cfg.Kafka.Topic.Notify, key, map[string]interface{}{
			"event":       model.EventAuctionWon,
			"auction_id":  auction.ID,
			"title":       auction.Title,
			"user_id":     winnerID,
			"final_price": auction.FinalPrice.StringFixed(2),
			"balance":     account.Credits.StringFixed(2),
		})
	}
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	auction.CreditsReduced = false
	balance := "-"
	if account != nil {
		balance = account.Credits.StringFixed(2)
	}
	log.Printf("[AuctionService] 赢家积分不足，未扣款: auctionID=%d, winnerID=%d, finalPrice=%s, balance=%s",
		auction.ID, winnerID, auction.FinalPrice, balance)
	return notify(ctx, tx, s.cfg.Kafka.Topic.Operator, key, map[string]interface{}{
		"event":       model.EventAuctionUnpaid,
		"auction_id":  auction.ID,
		"title":       auction.Title,
		"user_id":     winnerID,
		"final_price": auction.FinalPrice.StringFixed(2),
		"balance":     balance,
	})
}

func (s *AuctionService) GetAuction(ctx context.Context, auctionID int64) (*model.Auction, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.GetAuction(ctx, auctionID)
}

func (s *AuctionService) ListBids(ctx context.Context, auctionID int64) ([]*model.Bid, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()
	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.store.ListBids(ctx, auctionID)
}

// ListActiveAuctions 仍在接受出价的拍卖，按结束时间升序
func (s *AuctionService) ListActiveAuctions(ctx context.Context) ([]*model.Auction, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.ListActiveAuctions(ctx, s.now())
}

// GetAuctionHistory 已结算的拍卖，按结算时间倒序
func (s *AuctionService) GetAuctionHistory(ctx context.Context, page, pageSize int) ([]*model.Auction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.ListSettledAuctions(ctx, page, pageSize)
}

// ListExpired 已到结束时间但尚未结算的拍卖
func (s *AuctionService) ListExpired(ctx context.Context, limit int) ([]*model.Auction, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.ListExpiredAuctions(ctx, s.now(), limit)
}
