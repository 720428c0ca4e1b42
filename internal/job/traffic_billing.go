package job

import (
	"context"
	"log"
	"sync"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/model"
	"mediacredits/internal/service"
)

// TrafficBillingJob 每天 traffic_billing_hour 点之后对前一天的流量计费一次
//
// 多副本同时计费也没关系：每个用户每天的扣费由流水 ref_no 保证只发生一次
type TrafficBillingJob struct {
	traffic  *service.TrafficService
	hour     int
	now      func() time.Time
	stopCh   chan struct{}
	interval time.Duration

	mu         sync.Mutex
	lastBilled string
	failures   int
}

// maxBillingRounds 某天有用户一直失败时最多重跑的轮数
const maxBillingRounds = 3

func NewTrafficBillingJob(traffic *service.TrafficService, cfg *config.Config) *TrafficBillingJob {
	hour := cfg.Economy.TrafficBillingHour
	if hour < 0 || hour > 23 {
		hour = 2
	}
	return &TrafficBillingJob{
		traffic:  traffic,
		hour:     hour,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		interval: time.Minute,
	}
}

func (j *TrafficBillingJob) Start(ctx context.Context) {
	log.Printf("[TrafficBillingJob] 流量计费任务启动: 每天 %02d:00 之后计费前一天", j.hour)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[TrafficBillingJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[TrafficBillingJob] 任务停止")
			return
		case <-ticker.C:
			j.Tick(ctx)
		}
	}
}

func (j *TrafficBillingJob) Stop() {
	close(j.stopCh)
}

// Tick 到点且前一天还没计费时执行计费，返回本次是否执行
func (j *TrafficBillingJob) Tick(ctx context.Context) bool {
	now := j.now()
	if now.Hour() < j.hour {
		return false
	}
	date := now.AddDate(0, 0, -1).Format(model.DateLayout)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastBilled == date {
		return false
	}

	report, err := j.traffic.BillAll(ctx, date)
	if err != nil {
		log.Printf("[TrafficBillingJob] %s 计费失败: %v", date, err)
		return false
	}
	if report.Err != nil {
		// 部分用户失败时下一分钟重跑，已扣过的用户会被跳过
		j.failures++
		log.Printf("[TrafficBillingJob] %s 有 %d 个用户计费失败(第 %d 轮): %v", date, report.Failed, j.failures, report.Err)
		if j.failures < maxBillingRounds {
			return true
		}
	}
	j.lastBilled = date
	j.failures = 0
	return true
}
