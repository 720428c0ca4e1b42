package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"
	"mediacredits/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s *Store, userID int64, credits string) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), &model.Account{
		UserID:     userID,
		ServiceTag: model.ServicePlex,
		Credits:    decimal.RequireFromString(credits),
	}))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New()
	seed(t, s, 1, "100")
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Store) error {
		acc, err := tx.GetAccountForUpdate(ctx, 1)
		require.NoError(t, err)
		acc.Credits = decimal.Zero
		require.NoError(t, tx.UpdateAccount(ctx, acc, acc.Version))
		require.NoError(t, tx.CreateTransaction(ctx, &model.CreditTransaction{UserID: 1, RefNo: "R-1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	acc, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acc.Credits.Equal(decimal.RequireFromString("100")))
	prior, err := s.GetTransactionByRef(ctx, "R-1")
	require.NoError(t, err)
	assert.Nil(t, prior, "journal row discarded with the tx")
}

func TestUpdateAccount_VersionConflict(t *testing.T) {
	s := New()
	seed(t, s, 1, "10")
	ctx := context.Background()

	stale, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)
	fresh, err := s.GetAccount(ctx, 1)
	require.NoError(t, err)

	fresh.Credits = decimal.RequireFromString("5")
	require.NoError(t, s.UpdateAccount(ctx, fresh, fresh.Version))
	assert.Equal(t, 1, fresh.Version)

	stale.Credits = decimal.RequireFromString("20")
	assert.ErrorIs(t, s.UpdateAccount(ctx, stale, stale.Version), errs.ErrConcurrentConflict)
}

func TestDuplicates(t *testing.T) {
	s := New()
	seed(t, s, 1, "0")
	ctx := context.Background()

	assert.ErrorIs(t, s.CreateAccount(ctx, &model.Account{UserID: 1}), errs.ErrDuplicate)

	require.NoError(t, s.CreateTransaction(ctx, &model.CreditTransaction{UserID: 1, RefNo: "AUC-1"}))
	assert.ErrorIs(t, s.CreateTransaction(ctx, &model.CreditTransaction{UserID: 1, RefNo: "AUC-1"}), errs.ErrInvalidState)

	require.NoError(t, s.CreateInviteCode(ctx, &model.InvitationCode{Code: "ABC", Owner: 1}))
	require.NoError(t, s.MarkInviteCodeUsed(ctx, "ABC", 2, time.Now()))
	assert.ErrorIs(t, s.MarkInviteCodeUsed(ctx, "ABC", 3, time.Now()), errs.ErrInviteUsed)
}

func TestCancelledContextIsStoreUnavailable(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetAccount(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrStoreUnavailable)
	assert.ErrorIs(t, s.WithTx(ctx, func(store.Store) error { return nil }), errs.ErrStoreUnavailable)
}

func TestOutboxLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, key := range []string{"1", "2"} {
		require.NoError(t, s.CreateOutboxMessage(ctx, &model.OutboxMessage{
			MessageKey: key, Topic: "credits.notify", Payload: "{}", Status: model.OutboxStatusPending,
		}))
	}

	pending, err := s.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.UpdateOutboxStatus(ctx, pending[0].ID, model.OutboxStatusSent))
	require.NoError(t, s.IncrementOutboxRetry(ctx, pending[1].ID))
	require.NoError(t, s.MarkOutboxFailed(ctx, pending[1].ID))

	pending, err = s.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
