package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ActiveWheelConfigID 当前只有一套生效的转盘配置
const ActiveWheelConfigID int64 = 1

// WheelItem 转盘奖项，Probability 取值 (0,100]
type WheelItem struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

// WheelConfig 转盘配置，整体替换，不做局部修改
type WheelConfig struct {
	ID                  int64                          `gorm:"primaryKey" json:"id"`
	CostCredits         decimal.Decimal                `gorm:"type:decimal(20,2);not null" json:"cost_credits"`
	MinCreditsRequired  decimal.Decimal                `gorm:"type:decimal(20,2);not null" json:"min_credits_required"`
	Items               datatypes.JSONSlice[WheelItem] `gorm:"type:json;not null" json:"items"`
	ProtectionEnabled   bool                           `gorm:"not null;default:false" json:"protection_enabled"`
	ProtectionThreshold float64                        `gorm:"not null;default:0" json:"protection_threshold"`
	ProtectionFactor    float64                        `gorm:"not null;default:1" json:"protection_factor"`
	UpdatedAt           time.Time                      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WheelConfig) TableName() string {
	return "wheel_config"
}

func (c *WheelConfig) Clone() *WheelConfig {
	cp := *c
	cp.Items = append(datatypes.JSONSlice[WheelItem](nil), c.Items...)
	return &cp
}

// WheelSpin 抽奖记录，只追加，用于审计与统计
type WheelSpin struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SpinNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"spin_no"`
	UserID       int64           `gorm:"index;not null" json:"user_id"`
	ItemName     string          `gorm:"type:varchar(64);index;not null" json:"item_name"`
	Cost         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"cost"`
	CreditsDelta decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"credits_delta"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Roll         float64         `gorm:"not null" json:"roll"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WheelSpin) TableName() string {
	return "wheel_spin"
}

// WheelItemStat 单个奖项的中奖统计
type WheelItemStat struct {
	ItemName string `json:"item_name"`
	Count    int64  `json:"count"`
}
