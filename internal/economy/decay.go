// Package economy 积分经济里的纯计算：退款衰减、超额流量计费、转盘加权抽取与奖项解析
//
// 本包的函数不访问存储、不返回错误，调用方拿结果去走账本
package economy

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	day = 24 * time.Hour
)

type decayBand struct {
	upTo     time.Duration
	fraction decimal.Decimal
}

// 区间上界是闭区间：恰好 24h 仍按 0.9 退
var decayBands = []decayBand{
	{upTo: day, fraction: decimal.RequireFromString("0.9")},
	{upTo: 7 * day, fraction: decimal.RequireFromString("0.7")},
	{upTo: 30 * day, fraction: decimal.RequireFromString("0.5")},
}

// Decay 计算锁回媒体库时的退款
//
//	elapsed <= 24h       -> 0.9 * baseCost
//	24h < elapsed <= 7d  -> 0.7 * baseCost
//	7d < elapsed <= 30d  -> 0.5 * baseCost
//	elapsed > 30d 或未解锁 -> 0
//
// 时钟回拨导致 elapsed 为负时按最优惠档处理
func Decay(unlockTime *time.Time, baseCost decimal.Decimal, now time.Time) decimal.Decimal {
	if unlockTime == nil || !baseCost.IsPositive() {
		return decimal.Zero
	}
	elapsed := now.Sub(*unlockTime)
	for _, band := range decayBands {
		if elapsed <= band.upTo {
			return baseCost.Mul(band.fraction).Round(2)
		}
	}
	return decimal.Zero
}
