package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SettleReasonExpired     = "EXPIRED"
	SettleReasonManualClose = "MANUAL_CLOSE"
)

// Auction 拍卖
//
// 状态机：Active -> (Bid)* -> Settled(EXPIRED | MANUAL_CLOSE)
// IsActive=false 是终态，不会被重新激活
type Auction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Title          string          `gorm:"type:varchar(128);not null" json:"title"`
	Description    string          `gorm:"type:text" json:"description"`
	StartingPrice  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"starting_price"`
	CurrentPrice   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"current_price"`
	EndTime        time.Time       `gorm:"index;not null" json:"end_time"`
	CreatedBy      int64           `gorm:"not null" json:"created_by"`
	IsActive       bool            `gorm:"index;not null;default:true" json:"is_active"`
	WinnerID       *int64          `json:"winner_id"`
	FinalPrice     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"final_price"`
	CreditsReduced bool            `gorm:"not null;default:false" json:"credits_reduced"`
	SettleReason   string          `gorm:"type:varchar(16)" json:"settle_reason"`
	SettledAt      *time.Time      `json:"settled_at"`
	BidCount       int             `gorm:"not null;default:0" json:"bid_count"`
	Version        int             `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Auction) TableName() string {
	return "auction"
}

// AcceptingBids 拍卖是否仍可出价；到达 EndTime 即视为结束
func (a *Auction) AcceptingBids(now time.Time) bool {
	return a.IsActive && now.Before(a.EndTime)
}

func (a *Auction) Clone() *Auction {
	cp := *a
	if a.WinnerID != nil {
		w := *a.WinnerID
		cp.WinnerID = &w
	}
	if a.SettledAt != nil {
		t := *a.SettledAt
		cp.SettledAt = &t
	}
	return &cp
}

// Bid 出价记录，写入后不可变
type Bid struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	BidNo     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"bid_no"`
	AuctionID int64           `gorm:"index;not null" json:"auction_id"`
	BidderID  int64           `gorm:"index;not null" json:"bidder_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Timestamp time.Time       `gorm:"not null" json:"timestamp"`
}

func (Bid) TableName() string {
	return "auction_bid"
}
