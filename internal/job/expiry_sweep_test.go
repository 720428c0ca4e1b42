package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mediacredits/internal/errs"
	"mediacredits/internal/infrastructure/lock"
	"mediacredits/internal/model"
	"mediacredits/internal/service"
	"mediacredits/internal/store"
	"mediacredits/internal/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createAccount(t *testing.T, st store.Store, userID int64, credits string, premiumExpiry *time.Time) {
	t.Helper()
	require.NoError(t, st.CreateAccount(context.Background(), &model.Account{
		UserID:        userID,
		ServiceTag:    model.ServicePlex,
		ExternalID:    fmt.Sprintf("ext-%d", userID),
		Credits:       decimal.RequireFromString(credits),
		UnlockState:   model.UnlockStateLocked,
		PremiumExpiry: premiumExpiry,
	}))
}

func ptrTime(t time.Time) *time.Time { return &t }

func newSweep(t *testing.T, st store.Store, client *redis.Client) (*ExpirySweepJob, *service.AuctionService) {
	t.Helper()
	cfg := testConfig()
	auctions := service.NewAuctionService(st, cfg, nil, nil)
	access := service.NewAccessService(st, cfg, nil)
	return NewExpirySweepJob(auctions, access, client, cfg), auctions
}

// endingAuction 创建一个很快到期的拍卖，并由 bidder 出价
func endingAuction(t *testing.T, auctions *service.AuctionService, bidder int64, amount string) *model.Auction {
	t.Helper()
	a, err := auctions.CreateAuction(context.Background(), &service.CreateAuctionRequest{
		Title:         "年度会员",
		StartingPrice: decimal.RequireFromString("1"),
		EndTime:       time.Now().Add(40 * time.Millisecond),
		CreatedBy:     999,
	})
	require.NoError(t, err)
	_, err = auctions.PlaceBid(context.Background(), a.ID, bidder, decimal.RequireFromString(amount))
	require.NoError(t, err)
	return a
}

func TestExpirySweep_SettlesAndClears(t *testing.T) {
	st := memory.New()
	createAccount(t, st, 1, "500", nil)
	createAccount(t, st, 2, "0", ptrTime(time.Now().Add(-time.Minute)))
	createAccount(t, st, 3, "0", ptrTime(time.Now().Add(time.Hour)))

	job, auctions := newSweep(t, st, nil)
	expiring := endingAuction(t, auctions, 1, "120")
	longRunning, err := auctions.CreateAuction(context.Background(), &service.CreateAuctionRequest{
		Title:         "长期拍卖",
		StartingPrice: decimal.RequireFromString("1"),
		EndTime:       time.Now().Add(time.Hour),
		CreatedBy:     999,
	})
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)

	report := job.RunOnce(context.Background())
	require.NoError(t, report.Err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.AuctionsSettled)
	assert.Equal(t, 1, report.PremiumsCleared)

	settled, err := auctions.GetAuction(context.Background(), expiring.ID)
	require.NoError(t, err)
	assert.False(t, settled.IsActive)
	assert.Equal(t, model.SettleReasonExpired, settled.SettleReason)
	assert.True(t, settled.CreditsReduced)

	still, err := auctions.GetAuction(context.Background(), longRunning.ID)
	require.NoError(t, err)
	assert.True(t, still.IsActive)

	acc, err := st.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, acc.Credits.Equal(decimal.RequireFromString("380")))

	acc, err = st.GetAccount(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, acc.PremiumExpiry)
	acc, err = st.GetAccount(context.Background(), 3)
	require.NoError(t, err)
	assert.NotNil(t, acc.PremiumExpiry)

	// 第二轮没有可处理的条目
	report = job.RunOnce(context.Background())
	require.NoError(t, report.Err)
	assert.Zero(t, report.AuctionsSettled)
	assert.Zero(t, report.PremiumsCleared)
}

func TestExpirySweep_SkipsWhenBusy(t *testing.T) {
	job, _ := newSweep(t, memory.New(), nil)
	job.running.Store(true)

	report := job.RunOnce(context.Background())
	assert.True(t, report.Skipped)

	job.running.Store(false)
	report = job.RunOnce(context.Background())
	assert.False(t, report.Skipped)
}

func TestExpirySweep_RedisSingleFlight(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := memory.New()
	createAccount(t, st, 2, "0", ptrTime(time.Now().Add(-time.Minute)))
	job, _ := newSweep(t, st, client)

	other := lock.NewSweepLock(client, "other-replica", time.Minute)
	ok, err := other.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	report := job.RunOnce(context.Background())
	assert.True(t, report.Skipped)
	assert.Zero(t, report.PremiumsCleared)

	require.NoError(t, other.Unlock(context.Background()))
	report = job.RunOnce(context.Background())
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.PremiumsCleared)
	assert.False(t, mr.Exists(other.Key()), "sweep lock released after the tick")
}

// brokenAccountStore 对指定用户的加锁读取总是失败
type brokenAccountStore struct {
	store.Store
	userID int64
}

func (s *brokenAccountStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(&brokenAccountStore{Store: tx, userID: s.userID})
	})
}

func (s *brokenAccountStore) GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error) {
	if userID == s.userID {
		return nil, fmt.Errorf("%w: injected", errs.ErrStoreUnavailable)
	}
	return s.Store.GetAccountForUpdate(ctx, userID)
}

func TestExpirySweep_IsolatesFailures(t *testing.T) {
	mem := memory.New()
	createAccount(t, mem, 2, "0", ptrTime(time.Now().Add(-2*time.Minute)))
	createAccount(t, mem, 3, "0", ptrTime(time.Now().Add(-time.Minute)))

	job, _ := newSweep(t, &brokenAccountStore{Store: mem, userID: 2}, nil)
	report := job.RunOnce(context.Background())
	assert.Equal(t, 1, report.PremiumsFailed)
	assert.Equal(t, 1, report.PremiumsCleared)
	require.Error(t, report.Err)
	assert.ErrorIs(t, report.Err, errs.ErrStoreUnavailable)

	acc, err := mem.GetAccount(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, acc.PremiumExpiry)
}

func TestExpirySweep_NotificationsReachKafka(t *testing.T) {
	st := memory.New()
	createAccount(t, st, 2, "0", ptrTime(time.Now().Add(-time.Minute)))
	job, _ := newSweep(t, st, nil)

	report := job.RunOnce(context.Background())
	require.NoError(t, report.Err)

	pending, err := st.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "credits.notify", pending[0].Topic)
	assert.Equal(t, "2", pending[0].MessageKey)
	assert.Contains(t, pending[0].Payload, model.EventPremiumExpired)
}
