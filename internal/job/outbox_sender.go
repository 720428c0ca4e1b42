package job

import (
	"context"
	"log"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
)

// Publisher 消息投递方，mq.Producer 实现它
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 把本地消息表里的待投递消息发到 Kafka
//
// 业务事务只负责写 outbox 行，这里负责至少一次投递：
// 发送成功 -> SENT；失败 -> retry_count+1，达到上限 -> FAILED 不再重试
type OutboxSender struct {
	store     store.Store
	publisher Publisher
	maxRetry  int
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewOutboxSender(st store.Store, publisher Publisher, cfg *config.Config) *OutboxSender {
	maxRetry := cfg.Economy.OutboxMaxRetryCount
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &OutboxSender{
		store:     st,
		publisher: publisher,
		maxRetry:  maxRetry,
		stopCh:    make(chan struct{}),
		interval:  500 * time.Millisecond,
		batchSize: 100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.ProcessOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessOnce 投递一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessOnce(ctx context.Context) int {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.store.UpdateOutboxStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			// 状态没改成功下一轮会重发，消费方按 message_key 去重
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		}
		return true
	}

	log.Printf("[OutboxSender] 消息发送失败: id=%d, topic=%s, err=%v", msg.ID, msg.Topic, err)

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.store.MarkOutboxFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		return false
	}
	if err := s.store.IncrementOutboxRetry(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}
	return false
}
