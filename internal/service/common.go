package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/errs"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
	"mediacredits/pkg/idgen"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 事务执行器
// ============================================================================
//
// 所有余额/拍卖变更都走 runner.inTx：
//   1. 每次尝试都有独立的超时（economy.store_timeout），超时按失败处理，不假设成功
//   2. 乐观锁冲突（ErrConcurrentConflict）透明重试，最多 max_conflict_retries 次
//   3. 其它错误直接返回，不重试
//
// 【关键点】fn 内只能通过 tx 访问存储，且不能发起任何网络调用（媒体服务器等），
// 否则会在持有行锁的情况下等待外部服务
// ============================================================================

type runner struct {
	store    store.Store
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

func newRunner(st store.Store, cfg *config.EconomyConfig) runner {
	attempts := cfg.MaxConflictRetries
	if attempts < 1 {
		attempts = 1
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return runner{store: st, timeout: timeout, attempts: attempts, backoff: 5 * time.Millisecond}
}

func (r runner) inTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.once(ctx, fn)
		if !errs.Retryable(err) {
			return err
		}
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, ctx.Err())
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}
	return err
}

func (r runner) once(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.WithTx(ctx, func(tx store.Store) error {
		return fn(ctx, tx)
	})
}

// read 只读查询，同样带超时
func (r runner) read(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// ============================================================================
// 记账
// ============================================================================

type entry struct {
	Amount decimal.Decimal // 正数入账，负数出账
	Type   string
	RefNo  string
	Remark string
}

// post 给已经在事务内读出的账户记一笔账：更新余额（带版本号）并追加流水
//
// 余额不足时返回 ErrInsufficientFunds，账户和流水都不会写入
func post(ctx context.Context, tx store.Store, acc *model.Account, e entry) (*model.CreditTransaction, error) {
	before := acc.Credits
	after := before.Add(e.Amount).Round(2)
	if after.IsNegative() {
		return nil, fmt.Errorf("%w: 余额 %s，需要 %s", errs.ErrInsufficientFunds, before.StringFixed(2), e.Amount.Neg().StringFixed(2))
	}

	acc.Credits = after
	if err := tx.UpdateAccount(ctx, acc, acc.Version); err != nil {
		return nil, err
	}

	refNo := e.RefNo
	if refNo == "" {
		refNo = idgen.GenerateRefNo("REF")
	}
	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        acc.UserID,
		RefNo:         refNo,
		Amount:        e.Amount.Round(2),
		Type:          e.Type,
		BalanceBefore: before,
		BalanceAfter:  after,
		Remark:        e.Remark,
	}
	if err := tx.CreateTransaction(ctx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}
	return trans, nil
}

// notify 在事务内写入一条待投递消息
func notify(ctx context.Context, tx store.Store, topic, key string, payload map[string]interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := tx.CreateOutboxMessage(ctx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

func positive(amount decimal.Decimal, name string) error {
	if !amount.IsPositive() {
		return errs.Invalid("%s必须大于0", name)
	}
	if !amount.Equal(amount.Round(2)) {
		return errs.Invalid("%s最多两位小数", name)
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
