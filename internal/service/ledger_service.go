package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"mediacredits/internal/config"
	"mediacredits/internal/errs"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
	"mediacredits/pkg/idgen"

	"github.com/shopspring/decimal"
)

// LedgerService 账户与余额
//
// 所有余额变化都在一个事务里完成"加锁读 -> 校验 -> 带版本号写入 -> 追加流水"，
// 不存在跨两次往返的先读后写
type LedgerService struct {
	runner
	cfg      *config.Config
	identity *IdentityResolver
}

func NewLedgerService(st store.Store, cfg *config.Config, identity *IdentityResolver) *LedgerService {
	return &LedgerService{
		runner:   newRunner(st, &cfg.Economy),
		cfg:      cfg,
		identity: identity,
	}
}

// BindAccount 首次绑定时创建账户，已存在时更新媒体服务器信息
func (s *LedgerService) BindAccount(ctx context.Context, userID int64, serviceTag, externalID string) (*model.Account, error) {
	if userID <= 0 {
		return nil, errs.Invalid("user_id 不合法")
	}
	if serviceTag != model.ServicePlex && serviceTag != model.ServiceEmby {
		return nil, errs.Invalid("不支持的服务类型: %q", serviceTag)
	}

	var account *model.Account
	bind := func(ctx context.Context, tx store.Store) error {
		existing, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if existing == nil {
			account = &model.Account{
				UserID:      userID,
				ServiceTag:  serviceTag,
				ExternalID:  externalID,
				Credits:     decimal.Zero,
				UnlockState: model.UnlockStateLocked,
			}
			return tx.CreateAccount(ctx, account)
		}

		existing.ServiceTag = serviceTag
		existing.ExternalID = externalID
		if err := tx.UpdateAccount(ctx, existing, existing.Version); err != nil {
			return err
		}
		account = existing
		return nil
	}

	err := s.inTx(ctx, bind)
	if errors.Is(err, errs.ErrDuplicate) {
		// 并发首次绑定，对方先开了户，按已有账户再走一遍
		err = s.inTx(ctx, bind)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.GetAccount(ctx, userID)
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Credits, nil
}

// ApplyDelta 调整余额，delta 为负且余额不够时返回 ErrInsufficientFunds
func (s *LedgerService) ApplyDelta(ctx context.Context, userID int64, delta decimal.Decimal, reason string) (decimal.Decimal, error) {
	return s.ApplyDeltaOnce(ctx, "", userID, delta, reason)
}

// ApplyDeltaOnce 同 ApplyDelta，refNo 非空时同一个 refNo 只入账一次，重复调用返回 ErrDuplicate
//
// 并发的两次调用都通过了前置检查时，流水 ref_no 唯一键让后提交的一方同样得到 ErrDuplicate
func (s *LedgerService) ApplyDeltaOnce(ctx context.Context, refNo string, userID int64, delta decimal.Decimal, reason string) (decimal.Decimal, error) {
	if delta.IsZero() || !delta.Equal(delta.Round(2)) {
		return decimal.Zero, errs.Invalid("调整金额必须非零且最多两位小数")
	}

	var balance decimal.Decimal
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		if refNo != "" {
			prior, err := tx.GetTransactionByRef(ctx, refNo)
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.UserID != userID {
					return fmt.Errorf("%w: 业务单号 %s 已被其他用户使用", errs.ErrDuplicate, refNo)
				}
				return fmt.Errorf("%w: 业务单号 %s 已入账", errs.ErrDuplicate, refNo)
			}
		}

		account, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := post(ctx, tx, account, entry{
			Amount: delta,
			Type:   model.TxTypeAdjust,
			RefNo:  refNo,
			Remark: reason,
		}); err != nil {
			return err
		}
		balance = account.Credits
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// TransferResult 转账结果
type TransferResult struct {
	RefNo       string          `json:"ref_no"`
	FromBalance decimal.Decimal `json:"from_balance"`
	ToBalance   decimal.Decimal `json:"to_balance"`
	Received    decimal.Decimal `json:"received"`
}

// Transfer from 扣 amount，to 收 amount-fee，两边同时成功或同时失败
//
// 【关键点】两个账户按 user_id 从小到大加锁，避免 A->B 和 B->A 同时发生时互相等待
func (s *LedgerService) Transfer(ctx context.Context, from, to int64, amount, fee decimal.Decimal) (*TransferResult, error) {
	if err := positive(amount, "转账金额"); err != nil {
		return nil, err
	}
	if fee.IsNegative() || fee.GreaterThan(amount) || !fee.Equal(fee.Round(2)) {
		return nil, errs.Invalid("手续费必须在 0 和转账金额之间")
	}
	if from == to {
		return nil, errs.ErrSameAccount
	}

	// 显示名可能要查媒体服务器，必须在事务外解析
	fromName := s.identity.DisplayName(ctx, from)
	toName := s.identity.DisplayName(ctx, to)

	refNo := idgen.GenerateRefNo("TRF")
	received := amount.Sub(fee)
	result := &TransferResult{RefNo: refNo, Received: received}

	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		first, second := from, to
		if second < first {
			first, second = second, first
		}
		locked := make(map[int64]*model.Account, 2)
		for _, id := range []int64{first, second} {
			account, err := tx.GetAccountForUpdate(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = account
		}

		src, dst := locked[from], locked[to]
		if _, err := post(ctx, tx, src, entry{
			Amount: amount.Neg(),
			Type:   model.TxTypeTransferOut,
			RefNo:  refNo + "-OUT",
			Remark: fmt.Sprintf("转账给 %s，手续费 %s", toName, fee.StringFixed(2)),
		}); err != nil {
			return err
		}
		if received.IsPositive() {
			if _, err := post(ctx, tx, dst, entry{
				Amount: received,
				Type:   model.TxTypeTransferIn,
				RefNo:  refNo + "-IN",
				Remark: fmt.Sprintf("来自 %s 的转账", fromName),
			}); err != nil {
				return err
			}
		}
		result.FromBalance = src.Credits
		result.ToBalance = dst.Credits
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("转账成功: refNo=%s, from=%d, to=%d, amount=%s, fee=%s", refNo, from, to, amount, fee)
	return result, nil
}

// RecordDonation 记录捐赠：累计捐赠金额，并按 economy.donation_ratio 折算积分入账
//
// requestID 由支付回调提供，重复回调只入账一次
func (s *LedgerService) RecordDonation(ctx context.Context, requestID string, userID int64, amount decimal.Decimal) (*model.Account, error) {
	if requestID == "" {
		return nil, errs.Invalid("request_id 不能为空")
	}
	if err := positive(amount, "捐赠金额"); err != nil {
		return nil, err
	}
	credits := amount.Mul(config.Amount(s.cfg.Economy.DonationRatio)).Round(2)
	refNo := "DON-" + requestID

	var account *model.Account
	record := func(ctx context.Context, tx store.Store) error {
		prior, err := tx.GetTransactionByRef(ctx, refNo)
		if err != nil {
			return err
		}
		if prior != nil && prior.UserID != userID {
			return fmt.Errorf("%w: 捐赠单号 %s 已记到其他用户", errs.ErrDuplicate, requestID)
		}
		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		account = acc
		if prior != nil {
			return nil
		}

		acc.DonationTotal = acc.DonationTotal.Add(amount).Round(2)
		_, err = post(ctx, tx, acc, entry{
			Amount: credits,
			Type:   model.TxTypeDonation,
			RefNo:  refNo,
			Remark: fmt.Sprintf("捐赠 %s 折算积分", amount.StringFixed(2)),
		})
		return err
	}

	err := s.inTx(ctx, record)
	if errors.Is(err, errs.ErrDuplicate) {
		// 同一回调并发到达，另一方已入账；重跑一次按重复回调处理
		err = s.inTx(ctx, record)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.ListTransactions(ctx, userID, page, pageSize)
}
