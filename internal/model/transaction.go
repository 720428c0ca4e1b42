package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TxTypeAdjust      = "ADJUST"       // 人工/外部调整
	TxTypeTransferOut = "TRANSFER_OUT" // 转出
	TxTypeTransferIn  = "TRANSFER_IN"  // 转入
	TxTypeDonation    = "DONATION"     // 捐赠折算
	TxTypeUnlock      = "UNLOCK"       // 解锁媒体库
	TxTypeLockRefund  = "LOCK_REFUND"  // 锁回媒体库退款（按时间衰减）
	TxTypePremium     = "PREMIUM"      // 购买高级线路
	TxTypeAuction     = "AUCTION"      // 拍卖成交扣款
	TxTypeWheelCost   = "WHEEL_COST"   // 转盘门票
	TxTypeWheelPrize  = "WHEEL_PRIZE"  // 转盘奖励
	TxTypeInvite      = "INVITE"       // 兑换邀请码
	TxTypeTraffic     = "TRAFFIC"      // 超额流量计费
)

// ============================================================================
// 积分流水实体
// ============================================================================

// CreditTransaction 积分流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除：保证审计可追溯
// 2. RefNo 关联业务单号且唯一：同一业务效果只会入账一次（幂等）
// 3. 记录交易前后余额：便于校验余额一致性
type CreditTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	RefNo         string          `gorm:"type:varchar(96);uniqueIndex;not null" json:"ref_no"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // 正数入账，负数出账
	Type          string          `gorm:"type:varchar(20);index;not null" json:"type"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
