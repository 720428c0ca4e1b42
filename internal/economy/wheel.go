package economy

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"
)

// ProbabilityTolerance 概率总和允许的误差
const ProbabilityTolerance = 0.01

// ValidateWheelItems 校验转盘配置：名称非空且唯一，单项概率 (0,100]，总和 100±0.01
func ValidateWheelItems(items []model.WheelItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: 转盘至少需要一个奖项", errs.ErrConfigInvalid)
	}
	seen := make(map[string]struct{}, len(items))
	sum := 0.0
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return fmt.Errorf("%w: 奖项名称不能为空", errs.ErrConfigInvalid)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: 奖项名称重复: %s", errs.ErrConfigInvalid, name)
		}
		seen[name] = struct{}{}
		if it.Probability <= 0 || it.Probability > 100 || math.IsNaN(it.Probability) {
			return fmt.Errorf("%w: 奖项 %s 概率必须在 (0,100] 之间", errs.ErrConfigInvalid, name)
		}
		sum += it.Probability
	}
	if math.Abs(sum-100) > ProbabilityTolerance {
		return fmt.Errorf("%w: 概率总和为 %.4f，应为 100", errs.ErrConfigInvalid, sum)
	}
	return nil
}

// ============================================================================
// 加权随机抽取
// ============================================================================
//
// 【算法】累积权重 + 二分查找
//
//	权重 [50, 30, 20] -> 累积 [50, 80, 100]
//	roll ∈ [0,1) 乘以总权重得到落点 x，取第一个 累积值 > x 的下标
//
// 【保底模式】
//
// 开启后，配置概率严格小于 Threshold 的稀有奖项权重乘以 Factor 再归一化。
// 这会改变用户实际看到的中奖概率，EffectiveProbabilities 返回的就是
// 生效后的概率，对外展示和统计检验都应以它为准，而不是配置值。
// ============================================================================

// Protection 稀有奖项保底参数
type Protection struct {
	Enabled   bool
	Threshold float64 // 配置概率 < Threshold 视为稀有，等于不算
	Factor    float64 // 稀有奖项权重倍数
}

// Selector 加权选择器，构造后只读，可并发使用
type Selector struct {
	items      []model.WheelItem
	cumulative []float64
	total      float64
}

// NewSelector 构造选择器，概率 <= 0 的奖项被排除
func NewSelector(items []model.WheelItem, p Protection) (*Selector, error) {
	s := &Selector{}
	for _, it := range items {
		if it.Probability <= 0 {
			continue
		}
		w := it.Probability
		if p.Enabled && p.Factor > 0 && it.Probability < p.Threshold {
			w *= p.Factor
		}
		s.total += w
		s.items = append(s.items, it)
		s.cumulative = append(s.cumulative, s.total)
	}
	if len(s.items) == 0 {
		return nil, fmt.Errorf("%w: 没有可抽取的奖项", errs.ErrConfigInvalid)
	}
	return s, nil
}

// EffectiveProbabilities 生效概率（百分比），与 Items 顺序一致
func (s *Selector) EffectiveProbabilities() []model.WheelItem {
	out := make([]model.WheelItem, len(s.items))
	prev := 0.0
	for i, it := range s.items {
		out[i] = model.WheelItem{
			Name:        it.Name,
			Probability: (s.cumulative[i] - prev) / s.total * 100,
		}
		prev = s.cumulative[i]
	}
	return out
}

// Pick 根据 [0,1) 区间的 roll 选出奖项
func (s *Selector) Pick(roll float64) model.WheelItem {
	if roll < 0 {
		roll = 0
	}
	x := roll * s.total
	i := sort.Search(len(s.cumulative), func(i int) bool { return s.cumulative[i] > x })
	if i >= len(s.items) {
		i = len(s.items) - 1
	}
	return s.items[i]
}

// Roller 随机数来源，返回 [0,1)
type Roller interface {
	Float64() float64
}

// CryptoRoller 以 crypto/rand 做种子的 ChaCha8 随机源，并发安全
type CryptoRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewCryptoRoller() *CryptoRoller {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand 失败时退回到运行时随机源
		binary.LittleEndian.PutUint64(seed[:8], rand.Uint64())
		binary.LittleEndian.PutUint64(seed[8:16], rand.Uint64())
	}
	return &CryptoRoller{rng: rand.New(rand.NewChaCha8(seed))}
}

func (r *CryptoRoller) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}
