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

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
)

// TrafficService 超额流量计费
//
// 流量记录只追加；每个用户每天只计费一次，用流水 ref_no = TRAFFIC-<user>-<date> 保证
type TrafficService struct {
	runner
	cfg *config.Config
	now func() time.Time
}

func NewTrafficService(st store.Store, cfg *config.Config) *TrafficService {
	return &TrafficService{
		runner: newRunner(st, &cfg.Economy),
		cfg:    cfg,
		now:    time.Now,
	}
}

type UsageRecord struct {
	UserID    int64  `json:"user_id" binding:"required"`
	Service   string `json:"service" binding:"required"`
	Date      string `json:"date" binding:"required"`
	BytesUsed int64  `json:"bytes_used"`
	Premium   bool   `json:"premium"`
}

func (s *TrafficService) RecordUsage(ctx context.Context, rec *UsageRecord) error {
	if rec.BytesUsed < 0 {
		return errs.Invalid("bytes_used 不能为负")
	}
	if rec.Service != model.ServicePlex && rec.Service != model.ServiceEmby {
		return errs.Invalid("不支持的服务类型: %q", rec.Service)
	}
	if _, err := time.Parse(model.DateLayout, rec.Date); err != nil {
		return errs.Invalid("日期格式应为 %s", model.DateLayout)
	}

	return s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.CreateTrafficUsage(ctx, &model.TrafficUsage{
			UserID:      rec.UserID,
			Service:     rec.Service,
			Date:        rec.Date,
			BytesUsed:   rec.BytesUsed,
			PremiumFlag: rec.Premium,
		})
	})
}

// BillResult 单用户单日计费结果
//
// 余额不足时只扣到 0，Shortfall 记录未收回的部分
type BillResult struct {
	UserID         int64           `json:"user_id"`
	Date           string          `json:"date"`
	UsageBytes     int64           `json:"usage_bytes"`
	AllowanceBytes int64           `json:"allowance_bytes"`
	Cost           decimal.Decimal `json:"cost"`
	Charged        decimal.Decimal `json:"charged"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	AlreadyBilled  bool            `json:"already_billed"`
}

// endOfDay 计费日最后一刻，date 已在 aggregate 中校验过格式
func endOfDay(date string, loc *time.Location) time.Time {
	day, _ := time.ParseInLocation(model.DateLayout, date, loc)
	return day.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func trafficRef(userID int64, date string) string {
	return fmt.Sprintf("TRAFFIC-%d-%s", userID, date)
}

// BillDay 计算并扣除某用户某天的超额流量费用
func (s *TrafficService) BillDay(ctx context.Context, userID int64, date string) (*BillResult, error) {
	aggs, err := s.aggregate(ctx, date)
	if err != nil {
		return nil, err
	}
	for _, agg := range aggs {
		if agg.UserID == userID {
			return s.bill(ctx, agg)
		}
	}
	return &BillResult{UserID: userID, Date: date, Cost: decimal.Zero, Charged: decimal.Zero, Shortfall: decimal.Zero}, nil
}

func (s *TrafficService) aggregate(ctx context.Context, date string) ([]model.TrafficAggregate, error) {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, errs.Invalid("日期格式应为 %s", model.DateLayout)
	}
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.AggregateTrafficUsage(ctx, date)
}

func (s *TrafficService) bill(ctx context.Context, agg model.TrafficAggregate) (*BillResult, error) {
	rate := config.Amount(s.cfg.Economy.TrafficRatePer10GB)
	refNo := trafficRef(agg.UserID, agg.Date)

	var result *BillResult
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		acc, err := tx.GetAccountForUpdate(ctx, agg.UserID)
		if err != nil {
			return err
		}

		// 按计费日当天结束时是否仍是会员判断，隔夜到期（哪怕已被清除）的会员昨天的流量仍按会员额度算
		premium := agg.Premium || acc.PremiumAt(endOfDay(agg.Date, s.now().Location()))
		allowance := s.cfg.Economy.AllowanceBytes(premium)
		cost := economy.TrafficCost(agg.BytesUsed, allowance, rate)

		r := &BillResult{
			UserID:         agg.UserID,
			Date:           agg.Date,
			UsageBytes:     agg.BytesUsed,
			AllowanceBytes: allowance,
			Cost:           cost,
			Charged:        decimal.Zero,
			Shortfall:      decimal.Zero,
		}

		prior, err := tx.GetTransactionByRef(ctx, refNo)
		if err != nil {
			return err
		}
		if prior != nil {
			r.AlreadyBilled = true
			r.Charged = prior.Amount.Neg()
			r.Shortfall = cost.Sub(r.Charged)
			result = r
			return nil
		}
		if !cost.IsPositive() {
			result = r
			return nil
		}

		r.Charged = decimal.Min(cost, acc.Credits)
		r.Shortfall = cost.Sub(r.Charged)
		remark := fmt.Sprintf("%s 超额流量 %.2fGB", agg.Date, float64(agg.BytesUsed-allowance)/float64(config.GB))
		if r.Shortfall.IsPositive() {
			remark += fmt.Sprintf("，欠费 %s", r.Shortfall.StringFixed(2))
		}
		// 即使一分没扣到也写流水，占住 ref_no 防止重复计费
		if _, err := post(ctx, tx, acc, entry{
			Amount: r.Charged.Neg(),
			Type:   model.TxTypeTraffic,
			RefNo:  refNo,
			Remark: remark,
		}); err != nil {
			return err
		}

		if r.Shortfall.IsPositive() {
			if err := notify(ctx, tx, s.cfg.Kafka.Topic.Operator, refNo, map[string]interface{}{
				"event":     model.EventTrafficShortfall,
				"user_id":   agg.UserID,
				"date":      agg.Date,
				"cost":      cost.StringFixed(2),
				"shortfall": r.Shortfall.StringFixed(2),
			}); err != nil {
				return err
			}
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BillReport 全量计费汇总
type BillReport struct {
	Date          string          `json:"date"`
	Users         int             `json:"users"`
	Charged       int             `json:"charged"`
	AlreadyBilled int             `json:"already_billed"`
	Total         decimal.Decimal `json:"total"`
	Shortfall     decimal.Decimal `json:"shortfall"`
	Failed        int             `json:"failed"`
	Err           error           `json:"-"`
}

// BillAll 对某天有流量记录的所有用户计费，单个用户失败不影响其他用户
func (s *TrafficService) BillAll(ctx context.Context, date string) (*BillReport, error) {
	aggs, err := s.aggregate(ctx, date)
	if err != nil {
		return nil, err
	}

	report := &BillReport{Date: date, Users: len(aggs), Total: decimal.Zero, Shortfall: decimal.Zero}
	var result *multierror.Error
	for _, agg := range aggs {
		r, err := s.bill(ctx, agg)
		if err != nil {
			report.Failed++
			result = multierror.Append(result, fmt.Errorf("user %d: %w", agg.UserID, err))
			continue
		}
		if r.AlreadyBilled {
			report.AlreadyBilled++
			continue
		}
		if r.Cost.IsPositive() {
			report.Charged++
			report.Total = report.Total.Add(r.Charged)
			report.Shortfall = report.Shortfall.Add(r.Shortfall)
		}
	}
	report.Err = result.ErrorOrNil()

	log.Printf("[TrafficService] %s 流量计费完成: users=%d, charged=%d, total=%s, shortfall=%s, failed=%d",
		date, report.Users, report.Charged, report.Total, report.Shortfall, report.Failed)
	return report, nil
}
