package economy

import "github.com/shopspring/decimal"

// TierBytes 一个计费档位 10GB（按 1024^3 计）
const TierBytes int64 = 10 << 30

// TrafficCost 超出日额度的流量费用
//
// 不足一档按一档收：超出 1 字节也收一档
func TrafficCost(usageBytes, allowanceBytes int64, ratePer10GB decimal.Decimal) decimal.Decimal {
	excess := usageBytes - allowanceBytes
	if excess <= 0 || !ratePer10GB.IsPositive() {
		return decimal.Zero
	}
	tiers := excess / TierBytes
	if excess%TierBytes != 0 {
		tiers++
	}
	return ratePer10GB.Mul(decimal.NewFromInt(tiers)).Round(2)
}

// Allowance 按是否高级会员选择日额度
func Allowance(premium bool, normalBytes, premiumBytes int64) int64 {
	if premium {
		return premiumBytes
	}
	return normalBytes
}
