package job

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/infrastructure/mq"
	"mediacredits/internal/model"
	"mediacredits/internal/store/memory"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{Notify: "credits.notify", Operator: "credits.operator"},
		},
		Economy: config.EconomyConfig{
			UnlockCost:          "100",
			PremiumDailyPrice:   "10",
			InvitePrice:         "500",
			DonationRatio:       "10",
			TrafficAllowanceGB:  30,
			PremiumAllowanceGB:  100,
			TrafficRatePer10GB:  "5",
			StoreTimeout:        time.Second,
			MaxConflictRetries:  3,
			TrafficBillingHour:  2,
			OutboxMaxRetryCount: 2,
		},
		Scheduler: config.SchedulerConfig{
			SweepInterval: 5 * time.Second,
			BatchSize:     50,
			LockTTL:       5 * time.Second,
		},
	}
}

func addOutbox(t *testing.T, st *memory.Store, key string) {
	t.Helper()
	require.NoError(t, st.CreateOutboxMessage(context.Background(), &model.OutboxMessage{
		MessageKey: key,
		Topic:      "credits.notify",
		Payload:    fmt.Sprintf(`{"event":"premium.expired","user_id":%s}`, key),
		Status:     model.OutboxStatusPending,
	}))
}

func TestOutboxSender_PublishesPending(t *testing.T) {
	st := memory.New()
	addOutbox(t, st, "1")
	addOutbox(t, st, "2")

	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 2; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var payload map[string]interface{}
			if err := json.Unmarshal(val, &payload); err != nil {
				return err
			}
			if payload["event"] != model.EventPremiumExpired {
				return fmt.Errorf("unexpected event %v", payload["event"])
			}
			return nil
		})
	}

	sender := NewOutboxSender(st, mq.WrapProducer(producer), testConfig())
	assert.Equal(t, 2, sender.ProcessOnce(context.Background()))

	pending, err := st.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 已发送的消息不会再发
	assert.Equal(t, 0, sender.ProcessOnce(context.Background()))
	require.NoError(t, producer.Close())
}

func TestOutboxSender_RetriesThenFails(t *testing.T) {
	st := memory.New()
	addOutbox(t, st, "1")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sender := NewOutboxSender(st, mq.WrapProducer(producer), testConfig())

	assert.Equal(t, 0, sender.ProcessOnce(context.Background()))
	pending, err := st.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	assert.Equal(t, 0, sender.ProcessOnce(context.Background()))
	pending, err = st.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "message is parked as FAILED after max retries")

	// FAILED 的消息不再投递，mock 没有多余的期望
	assert.Equal(t, 0, sender.ProcessOnce(context.Background()))
	require.NoError(t, producer.Close())
}

func TestOutboxSender_StartStop(t *testing.T) {
	st := memory.New()
	addOutbox(t, st, "1")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()

	sender := NewOutboxSender(st, mq.WrapProducer(producer), testConfig())
	sender.interval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		pending, err := st.GetPendingMessages(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)

	sender.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
	require.NoError(t, producer.Close())
}
