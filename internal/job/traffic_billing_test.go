package job

import (
	"context"
	"testing"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/model"
	"mediacredits/internal/service"
	"mediacredits/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBilling(t *testing.T) (*TrafficBillingJob, *service.TrafficService, *memory.Store, *time.Time) {
	t.Helper()
	st := memory.New()
	traffic := service.NewTrafficService(st, testConfig())
	job := NewTrafficBillingJob(traffic, testConfig())
	now := time.Date(2024, 5, 2, 1, 30, 0, 0, time.Local)
	job.now = func() time.Time { return now }
	return job, traffic, st, &now
}

func usage(t *testing.T, traffic *service.TrafficService, userID int64, gb int64) {
	t.Helper()
	require.NoError(t, traffic.RecordUsage(context.Background(), &service.UsageRecord{
		UserID:    userID,
		Service:   model.ServiceEmby,
		Date:      "2024-05-01",
		BytesUsed: gb * config.GB,
	}))
}

func TestTrafficBilling_RunsOncePerDayAfterHour(t *testing.T) {
	job, traffic, st, now := newBilling(t)
	createAccount(t, st, 1, "100", nil)
	usage(t, traffic, 1, 35)

	assert.False(t, job.Tick(context.Background()), "before billing hour")
	acc, err := st.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, acc.Credits.Equal(decimal.RequireFromString("100")))

	*now = now.Add(time.Hour)
	assert.True(t, job.Tick(context.Background()))
	acc, err = st.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, acc.Credits.Equal(decimal.RequireFromString("95")))

	*now = now.Add(time.Hour)
	assert.False(t, job.Tick(context.Background()), "already billed today")

	// 换一个实例重跑也不会重复扣费
	other := NewTrafficBillingJob(traffic, testConfig())
	other.now = job.now
	assert.True(t, other.Tick(context.Background()))
	acc, err = st.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, acc.Credits.Equal(decimal.RequireFromString("95")))
}

func TestTrafficBilling_GivesUpAfterRepeatedFailures(t *testing.T) {
	job, traffic, st, now := newBilling(t)
	*now = now.Add(2 * time.Hour)
	createAccount(t, st, 1, "100", nil)
	usage(t, traffic, 1, 35)
	usage(t, traffic, 7, 35) // 没有账户

	for i := 0; i < maxBillingRounds; i++ {
		assert.True(t, job.Tick(context.Background()), "round %d", i)
	}
	assert.False(t, job.Tick(context.Background()))

	acc, err := st.GetAccount(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, acc.Credits.Equal(decimal.RequireFromString("95")))
}
