// Package store 定义积分账本使用的存储接口
//
// 有两个实现：repository（gorm + MySQL）和 store/memory（进程内，测试与单机调试使用）。
// 所有"检查不变量再写入"的操作都必须放在 WithTx 里，并通过 ...ForUpdate 读取 +
// 带版本号的条件更新完成，实现方保证：
//   - WithTx 内的读写要么全部生效要么全部回滚
//   - UpdateAccount / UpdateAuction 在版本号不匹配时返回 errs.ErrConcurrentConflict
package store

import (
	"context"
	"time"

	"mediacredits/internal/model"
)

type Store interface {
	// WithTx 在一个原子单元内执行 fn，fn 返回错误则回滚
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Account methods
	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)
	GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error)
	UpdateAccount(ctx context.Context, a *model.Account, expectedVersion int) error
	ListPremiumExpired(ctx context.Context, now time.Time, limit int) ([]*model.Account, error)

	// Transaction journal methods
	CreateTransaction(ctx context.Context, t *model.CreditTransaction) error
	GetTransactionByRef(ctx context.Context, refNo string) (*model.CreditTransaction, error)
	ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error)

	// Auction methods
	CreateAuction(ctx context.Context, a *model.Auction) error
	GetAuction(ctx context.Context, id int64) (*model.Auction, error)
	GetAuctionForUpdate(ctx context.Context, id int64) (*model.Auction, error)
	UpdateAuction(ctx context.Context, a *model.Auction, expectedVersion int) error
	ListActiveAuctions(ctx context.Context, now time.Time) ([]*model.Auction, error)
	ListExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error)
	ListSettledAuctions(ctx context.Context, page, pageSize int) ([]*model.Auction, int64, error)
	CreateBid(ctx context.Context, b *model.Bid) error
	ListBids(ctx context.Context, auctionID int64) ([]*model.Bid, error)

	// Wheel methods
	GetWheelConfig(ctx context.Context) (*model.WheelConfig, error)
	SaveWheelConfig(ctx context.Context, c *model.WheelConfig) error
	CreateWheelSpin(ctx context.Context, s *model.WheelSpin) error
	ListWheelSpins(ctx context.Context, userID int64, limit int) ([]*model.WheelSpin, error)
	CountWheelSpinsByItem(ctx context.Context) ([]model.WheelItemStat, error)

	// Invitation code methods
	CreateInviteCode(ctx context.Context, c *model.InvitationCode) error
	GetInviteCode(ctx context.Context, code string) (*model.InvitationCode, error)
	MarkInviteCodeUsed(ctx context.Context, code string, usedBy int64, usedAt time.Time) error
	ListInviteCodes(ctx context.Context, owner int64) ([]*model.InvitationCode, error)

	// Traffic usage methods
	CreateTrafficUsage(ctx context.Context, u *model.TrafficUsage) error
	AggregateTrafficUsage(ctx context.Context, date string) ([]model.TrafficAggregate, error)

	// Outbox methods
	CreateOutboxMessage(ctx context.Context, msg *model.OutboxMessage) error
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	UpdateOutboxStatus(ctx context.Context, id int64, status string) error
	IncrementOutboxRetry(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64) error
}
