package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/economy"
	"mediacredits/internal/errs"
	"mediacredits/internal/model"
	"mediacredits/internal/store"

	"github.com/shopspring/decimal"
)

// AccessService 受限媒体库解锁/锁回与高级线路
//
// 【关键点】媒体服务器调用一律放在事务提交之后：
//
//	解锁：事务内扣费并标记 unlocked -> 提交 -> 调媒体服务器开权限
//	      开权限失败 -> 再开一个事务退回全额并恢复 locked（补偿）
//	锁回：事务内按衰减退款并标记 locked -> 提交 -> 调媒体服务器收权限
//	      收权限失败 -> 写一条运营通知，由人工处理
type AccessService struct {
	runner
	cfg   *config.Config
	media MediaDirectory
	now   func() time.Time
}

func NewAccessService(st store.Store, cfg *config.Config, media MediaDirectory) *AccessService {
	return &AccessService{
		runner: newRunner(st, &cfg.Economy),
		cfg:    cfg,
		media:  media,
		now:    time.Now,
	}
}

// UnlockResult 解锁结果
type UnlockResult struct {
	Account *model.Account  `json:"account"`
	Cost    decimal.Decimal `json:"cost"`
}

func (s *AccessService) Unlock(ctx context.Context, userID int64) (*UnlockResult, error) {
	cost := config.Amount(s.cfg.Economy.UnlockCost)
	// datetime(3) 只保留毫秒，写库前先截断，补偿时才能和库里的值对上
	now := s.now().Truncate(time.Millisecond)
	refNo := fmt.Sprintf("UNL-%d-%d", userID, now.UnixNano())

	var account *model.Account
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if acc.UnlockState == model.UnlockStateUnlocked {
			return errs.ErrAlreadyUnlocked
		}

		acc.UnlockState = model.UnlockStateUnlocked
		acc.UnlockTime = &now
		if _, err := post(ctx, tx, acc, entry{
			Amount: cost.Neg(),
			Type:   model.TxTypeUnlock,
			RefNo:  refNo,
			Remark: "解锁受限媒体库",
		}); err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.grant(ctx, account); err != nil {
		log.Printf("[AccessService] 开通媒体库失败，退回解锁费用: userID=%d, err=%v", userID, err)
		if compErr := s.compensateUnlock(ctx, userID, now, cost, refNo); compErr != nil {
			log.Printf("[AccessService] 解锁补偿失败: userID=%d, refNo=%s, err=%v", userID, refNo, compErr)
			return nil, fmt.Errorf("开通媒体库失败且补偿失败: %w", compErr)
		}
		return nil, fmt.Errorf("开通媒体库失败: %w", err)
	}

	log.Printf("媒体库解锁成功: userID=%d, cost=%s", userID, cost)
	return &UnlockResult{Account: account, Cost: cost}, nil
}

func (s *AccessService) grant(ctx context.Context, account *model.Account) error {
	server, err := s.media.For(account.ServiceTag)
	if err != nil {
		return err
	}
	return server.AddLibraryAccess(ctx, account.ExternalID)
}

// compensateUnlock 解锁后开权限失败，全额退回并恢复 locked
//
// 只处理仍是本次解锁产生的状态：扣费流水 refNo 存在、unlock_time 按毫秒一致，
// refNo+"-R" 保证只退一次
func (s *AccessService) compensateUnlock(ctx context.Context, userID int64, unlockedAt time.Time, cost decimal.Decimal, refNo string) error {
	return s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		prior, err := tx.GetTransactionByRef(ctx, refNo+"-R")
		if err != nil {
			return err
		}
		if prior != nil {
			return nil
		}
		charge, err := tx.GetTransactionByRef(ctx, refNo)
		if err != nil {
			return err
		}
		if charge == nil || charge.UserID != userID {
			return nil
		}

		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if acc.UnlockState != model.UnlockStateUnlocked || acc.UnlockTime == nil || !sameMillisecond(*acc.UnlockTime, unlockedAt) {
			return nil
		}

		acc.UnlockState = model.UnlockStateLocked
		acc.UnlockTime = nil
		if _, err := post(ctx, tx, acc, entry{
			Amount: cost,
			Type:   model.TxTypeLockRefund,
			RefNo:  refNo + "-R",
			Remark: "开通媒体库失败，全额退回",
		}); err != nil {
			return err
		}
		return notify(ctx, tx, s.cfg.Kafka.Topic.Operator, fmt.Sprintf("%d", userID), map[string]interface{}{
			"event":   model.EventUnlockCompensate,
			"user_id": userID,
			"refund":  cost.StringFixed(2),
		})
	})
}

func sameMillisecond(a, b time.Time) bool {
	return a.Truncate(time.Millisecond).Equal(b.Truncate(time.Millisecond))
}

// LockResult 锁回结果
type LockResult struct {
	Account *model.Account  `json:"account"`
	Refund  decimal.Decimal `json:"refund"`
}

// Lock 锁回媒体库，按解锁时长衰减退款
func (s *AccessService) Lock(ctx context.Context, userID int64) (*LockResult, error) {
	base := config.Amount(s.cfg.Economy.UnlockCost)
	now := s.now()

	var (
		account *model.Account
		refund  decimal.Decimal
	)
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if acc.UnlockState != model.UnlockStateUnlocked {
			return errs.ErrAlreadyLocked
		}

		refund = economy.Decay(acc.UnlockTime, base, now)
		unlockedAt := acc.UnlockTime
		acc.UnlockState = model.UnlockStateLocked
		acc.UnlockTime = nil

		if refund.IsPositive() {
			if _, err := post(ctx, tx, acc, entry{
				Amount: refund,
				Type:   model.TxTypeLockRefund,
				RefNo:  fmt.Sprintf("LCK-%d-%d", userID, unlockedAt.UnixNano()),
				Remark: fmt.Sprintf("锁回媒体库，已解锁 %s", now.Sub(*unlockedAt).Round(time.Minute)),
			}); err != nil {
				return err
			}
		} else if err := tx.UpdateAccount(ctx, acc, acc.Version); err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.revoke(ctx, account); err != nil {
		log.Printf("[AccessService] 收回媒体库权限失败: userID=%d, err=%v", userID, err)
		s.reportRevokeFailure(ctx, userID, err)
	}

	log.Printf("媒体库已锁回: userID=%d, refund=%s", userID, refund)
	return &LockResult{Account: account, Refund: refund}, nil
}

func (s *AccessService) revoke(ctx context.Context, account *model.Account) error {
	server, err := s.media.For(account.ServiceTag)
	if err != nil {
		return err
	}
	return server.RemoveLibraryAccess(ctx, account.ExternalID)
}

func (s *AccessService) reportRevokeFailure(ctx context.Context, userID int64, cause error) {
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		return notify(ctx, tx, s.cfg.Kafka.Topic.Operator, fmt.Sprintf("%d", userID), map[string]interface{}{
			"event":   model.EventRevokeFailed,
			"user_id": userID,
			"error":   cause.Error(),
			"action":  "revoke_library_access",
		})
	})
	if err != nil {
		log.Printf("[AccessService] 写入运营通知失败: userID=%d, err=%v", userID, err)
	}
}

// BuyPremium 购买高级线路，已有会员时在原到期时间上顺延
func (s *AccessService) BuyPremium(ctx context.Context, userID int64, days int) (*model.Account, error) {
	if days <= 0 || days > 365 {
		return nil, errs.Invalid("购买天数必须在 1-365 之间")
	}
	cost := config.Amount(s.cfg.Economy.PremiumDailyPrice).Mul(decimal.NewFromInt(int64(days)))
	now := s.now()

	var account *model.Account
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		acc.PremiumExpiry = extendPremium(acc.PremiumExpiry, now, days)
		if _, err := post(ctx, tx, acc, entry{
			Amount: cost.Neg(),
			Type:   model.TxTypePremium,
			Remark: fmt.Sprintf("购买高级线路 %d 天", days),
		}); err != nil {
			return err
		}
		account = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func extendPremium(current *time.Time, now time.Time, days int) *time.Time {
	start := now
	if current != nil && current.After(now) {
		start = *current
	}
	expiry := start.Add(time.Duration(days) * 24 * time.Hour)
	return &expiry
}

// ExpirePremium 清除已过期的高级会员并发送通知，未过期或已清除时返回 false
func (s *AccessService) ExpirePremium(ctx context.Context, userID int64) (bool, error) {
	now := s.now()
	cleared := false
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		cleared = false
		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if acc.PremiumExpiry == nil || acc.PremiumExpiry.After(now) {
			return nil
		}

		expiredAt := *acc.PremiumExpiry
		acc.PremiumEnded = &expiredAt
		acc.PremiumExpiry = nil
		if err := tx.UpdateAccount(ctx, acc, acc.Version); err != nil {
			return err
		}
		cleared = true
		return notify(ctx, tx, s.cfg.Kafka.Topic.Notify, fmt.Sprintf("%d", userID), map[string]interface{}{
			"event":      model.EventPremiumExpired,
			"user_id":    userID,
			"expired_at": expiredAt.Format(time.RFC3339),
		})
	})
	return cleared, err
}

// ListLapsedPremium 高级会员已到期但尚未清除的账户，按到期时间升序
func (s *AccessService) ListLapsedPremium(ctx context.Context, limit int) ([]*model.Account, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.ListPremiumExpired(ctx, s.now(), limit)
}
