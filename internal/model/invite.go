package model

import "time"

// InvitationCode 邀请码
//
// 积分换码是单向扣款；IsUsed 只能从 false 变为 true
type InvitationCode struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"`
	Owner     int64      `gorm:"index;not null" json:"owner"`
	IsUsed    bool       `gorm:"not null;default:false" json:"is_used"`
	UsedBy    *int64     `json:"used_by"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (InvitationCode) TableName() string {
	return "invitation_code"
}
