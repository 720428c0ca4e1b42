package job

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/infrastructure/lock"
	"mediacredits/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// ============================================================================
// 到期扫描
// ============================================================================
//
// 每个 tick：
//  1. 结算 end_time 已到、仍为 active 的拍卖（与管理员"立即结束"走同一个 Settle）
//  2. 清除已过期的高级会员并发通知
//
// 【单飞】同一进程内上一轮没跑完，新的 tick 直接跳过而不是排队；
// 多副本部署时再用 Redis 锁保证同一时刻只有一个实例在扫。
// 单个拍卖/账户失败只记入报告，不影响同一轮里的其他条目。
// ============================================================================

// SweepReport 一轮扫描的结果
type SweepReport struct {
	Skipped         bool
	AuctionsSettled int
	AuctionsFailed  int
	PremiumsCleared int
	PremiumsFailed  int
	Err             error
}

type ExpirySweepJob struct {
	auctions    *service.AuctionService
	access      *service.AccessService
	redisClient *redis.Client
	instanceID  string
	running     atomic.Bool
	stopCh      chan struct{}
	interval    time.Duration
	lockTTL     time.Duration
	batchSize   int
}

// NewExpirySweepJob redisClient 为空时只做进程内单飞
func NewExpirySweepJob(auctions *service.AuctionService, access *service.AccessService, redisClient *redis.Client, cfg *config.Config) *ExpirySweepJob {
	interval := cfg.Scheduler.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	lockTTL := cfg.Scheduler.LockTTL
	if lockTTL <= 0 || lockTTL > interval {
		lockTTL = interval
	}
	batchSize := cfg.Scheduler.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirySweepJob{
		auctions:    auctions,
		access:      access,
		redisClient: redisClient,
		instanceID:  uuid.NewString(),
		stopCh:      make(chan struct{}),
		interval:    interval,
		lockTTL:     lockTTL,
		batchSize:   batchSize,
	}
}

func (j *ExpirySweepJob) Start(ctx context.Context) {
	log.Printf("[ExpirySweepJob] 到期扫描任务启动: interval=%s, instance=%s", j.interval, j.instanceID)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpirySweepJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpirySweepJob] 任务停止")
			return
		case <-ticker.C:
			// 放到独立 goroutine，慢的一轮不会堵住 ticker，下一轮由 running 标记跳过
			go j.RunOnce(ctx)
		}
	}
}

func (j *ExpirySweepJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一轮扫描
func (j *ExpirySweepJob) RunOnce(ctx context.Context) *SweepReport {
	if !j.running.CompareAndSwap(false, true) {
		log.Println("[ExpirySweepJob] 上一轮扫描尚未结束，跳过")
		return &SweepReport{Skipped: true}
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, j.interval)
	defer cancel()

	if j.redisClient != nil {
		sweepLock := lock.NewSweepLock(j.redisClient, j.instanceID, j.lockTTL)
		ok, err := sweepLock.TryLock(ctx)
		if err != nil {
			log.Printf("[ExpirySweepJob] 获取扫描锁失败: %v", err)
			return &SweepReport{Skipped: true, Err: err}
		}
		if !ok {
			return &SweepReport{Skipped: true}
		}
		defer sweepLock.Unlock(context.Background())
	}

	report := &SweepReport{}
	var result *multierror.Error

	expired, err := j.auctions.ListExpired(ctx, j.batchSize)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("查询到期拍卖: %w", err))
	}
	for _, auction := range expired {
		if _, err := j.auctions.Settle(ctx, auction.ID); err != nil {
			report.AuctionsFailed++
			result = multierror.Append(result, fmt.Errorf("auction %d: %w", auction.ID, err))
			continue
		}
		report.AuctionsSettled++
	}

	lapsed, err := j.access.ListLapsedPremium(ctx, j.batchSize)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("查询过期会员: %w", err))
	}
	for _, account := range lapsed {
		cleared, err := j.access.ExpirePremium(ctx, account.UserID)
		if err != nil {
			report.PremiumsFailed++
			result = multierror.Append(result, fmt.Errorf("user %d: %w", account.UserID, err))
			continue
		}
		if cleared {
			report.PremiumsCleared++
		}
	}

	report.Err = result.ErrorOrNil()
	if report.AuctionsSettled+report.AuctionsFailed+report.PremiumsCleared+report.PremiumsFailed > 0 {
		log.Printf("[ExpirySweepJob] 本轮结算拍卖 %d 个（失败 %d），清除会员 %d 个（失败 %d）",
			report.AuctionsSettled, report.AuctionsFailed, report.PremiumsCleared, report.PremiumsFailed)
	}
	if report.Err != nil {
		log.Printf("[ExpirySweepJob] 本轮存在失败条目: %v", report.Err)
	}
	return report
}
