package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"mediacredits/internal/errs"
	"mediacredits/internal/store"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// MySQL 错误码
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// Store gorm 实现的 store.Store，由各实体仓储组合而成
type Store struct {
	db *gorm.DB
	*AccountRepository
	*TransactionRepository
	*AuctionRepository
	*WheelRepository
	*InviteRepository
	*TrafficRepository
	*OutboxRepository
}

var _ store.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:                    db,
		AccountRepository:     NewAccountRepository(db),
		TransactionRepository: NewTransactionRepository(db),
		AuctionRepository:     NewAuctionRepository(db),
		WheelRepository:       NewWheelRepository(db),
		InviteRepository:      NewInviteRepository(db),
		TrafficRepository:     NewTrafficRepository(db),
		OutboxRepository:      NewOutboxRepository(db),
	}
}

// WithTx 开启数据库事务，fn 内通过 tx 访问的仓储都绑定在同一事务上
//
// 在事务内再次调用 WithTx 时 gorm 使用 SAVEPOINT 实现嵌套
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
	return translateErr(err, nil)
}

// translateErr 把 gorm / MySQL 错误翻译为账本错误分类
//
//	记录不存在          -> notFound（为 nil 时原样返回）
//	死锁 / 锁等待超时    -> ErrConcurrentConflict（调用方可以重试）
//	唯一键冲突          -> ErrDuplicate
//	连接失效 / 超时      -> ErrStoreUnavailable
func translateErr(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil {
		return notFound
	}

	// 已经是分类错误（例如 WithTx 内业务代码返回的），不再包装
	for _, known := range []error{
		errs.ErrInsufficientFunds, errs.ErrNotFound, errs.ErrInvalidState,
		errs.ErrConfigInvalid, errs.ErrConcurrentConflict, errs.ErrStoreUnavailable,
		errs.ErrInvalidArgument,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %v", errs.ErrConcurrentConflict, err)
		case mysqlErrDuplicateEntry:
			return fmt.Errorf("%w: %v", errs.ErrDuplicate, err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	return err
}
