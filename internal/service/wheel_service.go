package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/economy"
	"mediacredits/internal/errs"
	"mediacredits/internal/infrastructure/lock"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
	"mediacredits/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WheelService 幸运转盘
type WheelService struct {
	runner
	cfg         *config.Config
	roller      economy.Roller
	redisClient *redis.Client
	now         func() time.Time
}

func NewWheelService(st store.Store, cfg *config.Config, roller economy.Roller, redisClient *redis.Client) *WheelService {
	if roller == nil {
		roller = economy.NewCryptoRoller()
	}
	return &WheelService{
		runner:      newRunner(st, &cfg.Economy),
		cfg:         cfg,
		roller:      roller,
		redisClient: redisClient,
		now:         time.Now,
	}
}

// WheelConfigView 配置本身加上保底生效后的概率
//
// 开启保底后实际中奖概率与配置值不同，对用户展示的应该是 Effective
type WheelConfigView struct {
	Config    *model.WheelConfig `json:"config"`
	Effective []model.WheelItem  `json:"effective"`
}

func protectionOf(c *model.WheelConfig) economy.Protection {
	return economy.Protection{
		Enabled:   c.ProtectionEnabled,
		Threshold: c.ProtectionThreshold,
		Factor:    c.ProtectionFactor,
	}
}

func (s *WheelService) GetWheelConfig(ctx context.Context) (*WheelConfigView, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()

	c, err := s.store.GetWheelConfig(ctx)
	if err != nil {
		return nil, err
	}
	selector, err := economy.NewSelector(c.Items, protectionOf(c))
	if err != nil {
		return nil, err
	}
	return &WheelConfigView{Config: c, Effective: selector.EffectiveProbabilities()}, nil
}

// ProtectionSetting 保底设置，为空时使用 wheel.* 配置项的默认值
type ProtectionSetting struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Factor    float64 `json:"factor"`
}

type SetWheelConfigRequest struct {
	CostCredits        decimal.Decimal    `json:"cost_credits"`
	MinCreditsRequired decimal.Decimal    `json:"min_credits_required"`
	Items              []model.WheelItem  `json:"items"`
	Protection         *ProtectionSetting `json:"protection"`
}

// SetWheelConfig 整体替换转盘配置，概率之和必须在 100±0.01 之内
func (s *WheelService) SetWheelConfig(ctx context.Context, req *SetWheelConfigRequest) (*WheelConfigView, error) {
	if err := economy.ValidateWheelItems(req.Items); err != nil {
		return nil, err
	}
	if req.CostCredits.IsNegative() || req.MinCreditsRequired.IsNegative() {
		return nil, fmt.Errorf("%w: 门票和最低余额不能为负", errs.ErrConfigInvalid)
	}

	p := ProtectionSetting{
		Enabled:   s.cfg.Wheel.ProtectionEnabled,
		Threshold: s.cfg.Wheel.ProtectionThreshold,
		Factor:    s.cfg.Wheel.ProtectionFactor,
	}
	if req.Protection != nil {
		p = *req.Protection
	}
	if p.Enabled && (p.Factor <= 0 || p.Threshold <= 0) {
		return nil, fmt.Errorf("%w: 保底倍数和阈值必须大于0", errs.ErrConfigInvalid)
	}

	c := &model.WheelConfig{
		ID:                  model.ActiveWheelConfigID,
		CostCredits:         req.CostCredits.Round(2),
		MinCreditsRequired:  req.MinCreditsRequired.Round(2),
		Items:               datatypes.JSONSlice[model.WheelItem](req.Items),
		ProtectionEnabled:   p.Enabled,
		ProtectionThreshold: p.Threshold,
		ProtectionFactor:    p.Factor,
	}
	selector, err := economy.NewSelector(c.Items, protectionOf(c))
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.SaveWheelConfig(ctx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("保存转盘配置失败: %w", err)
	}

	log.Printf("转盘配置已更新: items=%d, cost=%s, protection=%v", len(c.Items), c.CostCredits, p.Enabled)
	return &WheelConfigView{Config: c, Effective: selector.EffectiveProbabilities()}, nil
}

// SpinResult 抽奖结果
type SpinResult struct {
	SpinNo        string          `json:"spin_no"`
	Item          string          `json:"item"`
	Prize         string          `json:"prize"`
	Cost          decimal.Decimal `json:"cost"`
	CreditsDelta  decimal.Decimal `json:"credits_delta"`
	Balance       decimal.Decimal `json:"balance"`
	PremiumExpiry *time.Time      `json:"premium_expiry,omitempty"`
	InviteCode    string          `json:"invite_code,omitempty"`
}

// Spin 抽奖
//
//  1. 余额 >= 最低要求，否则 ErrInsufficientFunds
//  2. 无条件扣门票
//  3. 按（保底后的）权重选奖项
//  4. 解析奖项效果：+N/-N、翻倍/减半（基于扣门票后的余额）、谢谢参与、高级会员N天、邀请码
//  5. 入账，余额最低兜底到 0
//  6. 追加抽奖记录
//
// 以上全部在一个事务内完成，失败时不会出现"扣了门票没有奖励"
func (s *WheelService) Spin(ctx context.Context, userID int64) (*SpinResult, error) {
	if s.redisClient != nil {
		spinLock := lock.NewSpinLock(s.redisClient, userID, uuid.NewString())
		if err := spinLock.Lock(ctx, 50*time.Millisecond, 20); err != nil {
			return nil, fmt.Errorf("%w: 抽奖进行中，请稍后重试", errs.ErrConcurrentConflict)
		}
		defer spinLock.Unlock(context.Background())
	}

	// 随机数在事务外只取一次，冲突重试不会重新抽
	roll := s.roller.Float64()

	var result *SpinResult
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		wheel, err := tx.GetWheelConfig(ctx)
		if err != nil {
			return err
		}
		selector, err := economy.NewSelector(wheel.Items, protectionOf(wheel))
		if err != nil {
			return err
		}

		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		required := decimal.Max(wheel.MinCreditsRequired, wheel.CostCredits)
		if acc.Credits.LessThan(required) {
			return fmt.Errorf("%w: 抽奖至少需要 %s 积分", errs.ErrInsufficientFunds, required.StringFixed(2))
		}

		spinNo := idgen.GenerateSpinNo()
		if wheel.CostCredits.IsPositive() {
			if _, err := post(ctx, tx, acc, entry{
				Amount: wheel.CostCredits.Neg(),
				Type:   model.TxTypeWheelCost,
				RefNo:  spinNo + "-C",
				Remark: "幸运转盘门票",
			}); err != nil {
				return err
			}
		}

		item := selector.Pick(roll)
		prize := economy.ParsePrize(item.Name)
		delta := prize.Delta(acc.Credits)
		if acc.Credits.Add(delta).IsNegative() {
			delta = acc.Credits.Neg()
		}

		r := &SpinResult{
			SpinNo: spinNo,
			Item:   item.Name,
			Prize:  prize.Kind.String(),
			Cost:   wheel.CostCredits,
		}

		premiumChanged := false
		if prize.Kind == economy.PrizePremium {
			acc.PremiumExpiry = extendPremium(acc.PremiumExpiry, s.now(), prize.Days)
			premiumChanged = true
		}

		if !delta.IsZero() {
			if _, err := post(ctx, tx, acc, entry{
				Amount: delta,
				Type:   model.TxTypeWheelPrize,
				RefNo:  spinNo + "-P",
				Remark: "幸运转盘: " + item.Name,
			}); err != nil {
				return err
			}
		} else if premiumChanged {
			if err := tx.UpdateAccount(ctx, acc, acc.Version); err != nil {
				return err
			}
		}

		if prize.Kind == economy.PrizeInvite {
			code := &model.InvitationCode{Code: idgen.GenerateInviteCode(), Owner: userID}
			if err := tx.CreateInviteCode(ctx, code); err != nil {
				return fmt.Errorf("生成邀请码失败: %w", err)
			}
			r.InviteCode = code.Code
		}

		if err := tx.CreateWheelSpin(ctx, &model.WheelSpin{
			SpinNo:       spinNo,
			UserID:       userID,
			ItemName:     item.Name,
			Cost:         wheel.CostCredits,
			CreditsDelta: delta,
			BalanceAfter: acc.Credits,
			Roll:         roll,
		}); err != nil {
			return fmt.Errorf("记录抽奖失败: %w", err)
		}

		r.CreditsDelta = delta
		r.Balance = acc.Credits
		r.PremiumExpiry = acc.PremiumExpiry
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("抽奖完成: userID=%d, spinNo=%s, item=%s, delta=%s, balance=%s",
		userID, result.SpinNo, result.Item, result.CreditsDelta, result.Balance)
	return result, nil
}

// ItemStat 奖项统计：配置概率、生效概率、实际中奖次数
type ItemStat struct {
	Name       string  `json:"name"`
	Configured float64 `json:"configured"`
	Effective  float64 `json:"effective"`
	Count      int64   `json:"count"`
}

// Stats 汇总当前配置下每个奖项的中奖次数；已从配置中移除的奖项排在最后，概率为 0
func (s *WheelService) Stats(ctx context.Context) ([]ItemStat, error) {
	view, err := s.GetWheelConfig(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.read(ctx)
	defer cancel()
	counts, err := s.store.CountWheelSpinsByItem(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int64, len(counts))
	for _, c := range counts {
		byName[c.ItemName] = c.Count
	}

	effective := make(map[string]float64, len(view.Effective))
	for _, it := range view.Effective {
		effective[it.Name] = it.Probability
	}

	stats := make([]ItemStat, 0, len(view.Config.Items)+len(counts))
	seen := make(map[string]bool, len(view.Config.Items))
	for _, it := range view.Config.Items {
		seen[it.Name] = true
		stats = append(stats, ItemStat{
			Name:       it.Name,
			Configured: it.Probability,
			Effective:  effective[it.Name],
			Count:      byName[it.Name],
		})
	}
	for _, c := range counts {
		if !seen[c.ItemName] {
			stats = append(stats, ItemStat{Name: c.ItemName, Count: c.Count})
		}
	}
	return stats, nil
}

func (s *WheelService) RecentSpins(ctx context.Context, userID int64, limit int) ([]*model.WheelSpin, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.ListWheelSpins(ctx, userID, limit)
}
