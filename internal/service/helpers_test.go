package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/errs"
	"mediacredits/internal/mediaserver"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
	"mediacredits/internal/store/memory"

	"github.com/shopspring/decimal"
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
			OutboxMaxRetryCount: 5,
		},
		Wheel: config.WheelConfig{ProtectionThreshold: 5, ProtectionFactor: 1.5},
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fixedClock 可手动拨动的时钟
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(dur)
	c.mu.Unlock()
}

// seedAccount 创建账户并直接写入余额
func seedAccount(t *testing.T, st store.Store, userID int64, credits string) *model.Account {
	t.Helper()
	acc := &model.Account{
		UserID:      userID,
		ServiceTag:  model.ServicePlex,
		ExternalID:  fmt.Sprintf("ext-%d", userID),
		Credits:     d(credits),
		UnlockState: model.UnlockStateLocked,
	}
	require.NoError(t, st.CreateAccount(context.Background(), acc))
	return acc
}

func balanceOf(t *testing.T, st store.Store, userID int64) decimal.Decimal {
	t.Helper()
	acc, err := st.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return acc.Credits
}

func journal(t *testing.T, st store.Store, userID int64) []*model.CreditTransaction {
	t.Helper()
	list, _, err := st.ListTransactions(context.Background(), userID, 1, 1000)
	require.NoError(t, err)
	return list
}

func pendingEvents(t *testing.T, st store.Store) []*model.OutboxMessage {
	t.Helper()
	msgs, err := st.GetPendingMessages(context.Background(), 1000)
	require.NoError(t, err)
	return msgs
}

// fakeServer 记录调用的媒体服务器
type fakeServer struct {
	mu        sync.Mutex
	granted   map[string]bool
	names     map[string]string
	addErr    error
	removeErr error
	nameCalls int
}

func newFakeServer() *fakeServer {
	return &fakeServer{granted: map[string]bool{}, names: map[string]string{}}
}

func (f *fakeServer) AddLibraryAccess(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.granted[id] = true
	return nil
}

func (f *fakeServer) RemoveLibraryAccess(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.granted, id)
	return nil
}

func (f *fakeServer) GetUsername(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls++
	name, ok := f.names[id]
	if !ok {
		return "", errors.New("unknown user")
	}
	return name, nil
}

func (f *fakeServer) hasAccess(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.granted[id]
}

func registryWith(s mediaserver.Server) *mediaserver.Registry {
	return mediaserver.NewRegistry(map[string]mediaserver.Server{
		model.ServicePlex: s,
		model.ServiceEmby: s,
	})
}

// flakyStore 前 failures 次 WithTx 直接返回乐观锁冲突
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errs.ErrConcurrentConflict
	}
	return f.Store.WithTx(ctx, fn)
}

func newMemory() *memory.Store {
	return memory.New()
}
