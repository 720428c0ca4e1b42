package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	UnlockStateLocked   = "locked"
	UnlockStateUnlocked = "unlocked"
)

const (
	ServicePlex = "plex"
	ServiceEmby = "emby"
)

// Account 用户积分账户
//
// 不变量：
//  1. Credits 任何可观测时刻都 >= 0
//  2. UnlockTime 非空 当且仅当 UnlockState = unlocked
//
// 所有余额变更都必须带着读到的 Version 做条件更新（乐观锁），
// 不允许"先读后写"分两次往返
type Account struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64           `gorm:"uniqueIndex;not null" json:"user_id"`          // 外部用户ID（机器人侧）
	ServiceTag    string          `gorm:"type:varchar(16);not null" json:"service_tag"` // plex / emby
	ExternalID    string          `gorm:"type:varchar(64)" json:"external_id"`          // 媒体服务器上的用户ID
	Credits       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"credits"`
	DonationTotal decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"donation_total"`
	PremiumExpiry *time.Time      `gorm:"index" json:"premium_expiry"`
	PremiumEnded  *time.Time      `json:"premium_ended,omitempty"` // 最近一次被清除的会员到期时间
	UnlockState   string          `gorm:"type:varchar(16);not null;default:locked" json:"unlock_state"`
	UnlockTime    *time.Time      `json:"unlock_time"`
	Version       int             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// IsPremium 高级会员是否在有效期内
func (a *Account) IsPremium(now time.Time) bool {
	return a.PremiumExpiry != nil && a.PremiumExpiry.After(now)
}

// PremiumAt 在 t 时刻是否是会员，过期清除后的 PremiumEnded 也算在内
func (a *Account) PremiumAt(t time.Time) bool {
	return a.IsPremium(t) || (a.PremiumEnded != nil && a.PremiumEnded.After(t))
}

// Clone 返回深拷贝，指针字段不共享
func (a *Account) Clone() *Account {
	cp := *a
	if a.PremiumExpiry != nil {
		t := *a.PremiumExpiry
		cp.PremiumExpiry = &t
	}
	if a.PremiumEnded != nil {
		t := *a.PremiumEnded
		cp.PremiumEnded = &t
	}
	if a.UnlockTime != nil {
		t := *a.UnlockTime
		cp.UnlockTime = &t
	}
	return &cp
}
