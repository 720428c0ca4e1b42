package model

import "time"

// TrafficUsage 每日流量使用记录，只追加/聚合，账本只读
type TrafficUsage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"index:idx_traffic_user_date;not null" json:"user_id"`
	Service     string    `gorm:"type:varchar(16);not null" json:"service"`
	Date        string    `gorm:"type:char(10);index:idx_traffic_user_date;not null" json:"date"` // 2006-01-02
	BytesUsed   int64     `gorm:"not null" json:"bytes_used"`
	PremiumFlag bool      `gorm:"not null;default:false" json:"premium_flag"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TrafficUsage) TableName() string {
	return "traffic_usage"
}

// TrafficAggregate 单用户单日汇总
type TrafficAggregate struct {
	UserID    int64  `json:"user_id"`
	Date      string `json:"date"`
	BytesUsed int64  `json:"bytes_used"`
	Premium   bool   `json:"premium"`
}

const DateLayout = "2006-01-02"
