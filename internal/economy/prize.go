package economy

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type PrizeKind int

const (
	PrizeNothing PrizeKind = iota
	PrizeFlat
	PrizeDouble
	PrizeHalve
	PrizePremium
	PrizeInvite
)

func (k PrizeKind) String() string {
	switch k {
	case PrizeFlat:
		return "flat"
	case PrizeDouble:
		return "double"
	case PrizeHalve:
		return "halve"
	case PrizePremium:
		return "premium"
	case PrizeInvite:
		return "invite"
	default:
		return "nothing"
	}
}

// Prize 奖项名称解析出的效果
type Prize struct {
	Kind   PrizeKind
	Amount decimal.Decimal // PrizeFlat 的固定增减
	Days   int             // PrizePremium 的天数
}

var (
	premiumPattern = regexp.MustCompile(`(?i)(?:premium[\s_-]*(\d+)[\s_-]*days?|高级会员\s*(\d+)\s*天)`)
	flatPattern    = regexp.MustCompile(`([+-])\s*(\d+(?:\.\d{1,2})?)\s*$`)

	inviteKeywords  = []string{"invite", "邀请码"}
	doubleKeywords  = []string{"double", "翻倍"}
	halveKeywords   = []string{"halve", "减半"}
	nothingKeywords = []string{"nothing", "谢谢参与", "未中奖"}
)

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ParsePrize 从奖项名称解析效果
//
//	"积分 +50"            -> 固定 +50
//	"扣分 -20"            -> 固定 -20
//	"double" / "翻倍"      -> 增加当前余额（扣完门票后的余额）
//	"halve" / "减半"       -> 扣掉当前余额的一半
//	"premium-7-days"      -> 延长高级会员 7 天，积分不变
//	"invite" / "邀请码"    -> 发放一个邀请码，积分不变
//	"nothing" / 无法识别   -> 无效果
func ParsePrize(name string) Prize {
	lower := strings.ToLower(strings.TrimSpace(name))

	if m := premiumPattern.FindStringSubmatch(lower); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			return Prize{Kind: PrizePremium, Days: days}
		}
	}
	switch {
	case containsAny(lower, inviteKeywords):
		return Prize{Kind: PrizeInvite}
	case containsAny(lower, doubleKeywords):
		return Prize{Kind: PrizeDouble}
	case containsAny(lower, halveKeywords):
		return Prize{Kind: PrizeHalve}
	case containsAny(lower, nothingKeywords):
		return Prize{Kind: PrizeNothing}
	}
	if m := flatPattern.FindStringSubmatch(lower); m != nil {
		amount := decimal.RequireFromString(m[2])
		if m[1] == "-" {
			amount = amount.Neg()
		}
		return Prize{Kind: PrizeFlat, Amount: amount}
	}
	return Prize{Kind: PrizeNothing}
}

// Delta 计算奖项的积分变化，balance 为扣除门票后的余额
//
// 返回值可能让余额变负，由调用方在入账时兜底到 0
func (p Prize) Delta(balance decimal.Decimal) decimal.Decimal {
	switch p.Kind {
	case PrizeFlat:
		return p.Amount.Round(2)
	case PrizeDouble:
		return balance.Round(2)
	case PrizeHalve:
		return balance.Div(decimal.NewFromInt(2)).Round(2).Neg()
	default:
		return decimal.Zero
	}
}
