package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"
	"mediacredits/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	return NewStore(db), mock
}

func TestTranslateErr(t *testing.T) {
	plain := errors.New("syntax error")

	cases := []struct {
		name     string
		err      error
		notFound error
		want     error
	}{
		{"nil", nil, nil, nil},
		{"not found", gorm.ErrRecordNotFound, errs.ErrAccountNotFound, errs.ErrAccountNotFound},
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, nil, errs.ErrConcurrentConflict},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout"}, nil, errs.ErrConcurrentConflict},
		{"duplicate entry", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, nil, errs.ErrDuplicate},
		{"bad conn", driver.ErrBadConn, nil, errs.ErrStoreUnavailable},
		{"invalid conn", mysql.ErrInvalidConn, nil, errs.ErrStoreUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), nil, errs.ErrStoreUnavailable},
		{"already classified", errs.ErrInsufficientFunds, nil, errs.ErrInsufficientFunds},
		{"unknown", plain, nil, plain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translateErr(tc.err, tc.notFound)
			if tc.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tc.want)
		})
	}

	// 未知 MySQL 错误码不归类
	got := translateErr(&mysql.MySQLError{Number: 1146}, nil)
	assert.False(t, errors.Is(got, errs.ErrConcurrentConflict))
	assert.False(t, errors.Is(got, errs.ErrInvalidState))
}

var updateAccountSQL = "UPDATE `account` SET .* WHERE user_id = \\? AND version = \\?"

func TestUpdateAccount_VersionCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("applied", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectExec(updateAccountSQL).WillReturnResult(sqlmock.NewResult(0, 1))

		acc := &model.Account{UserID: 7, Credits: decimal.NewFromInt(30), Version: 3}
		require.NoError(t, st.UpdateAccount(ctx, acc, 3))
		assert.Equal(t, 4, acc.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectExec(updateAccountSQL).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "version"}).AddRow(1, 7, 4))

		acc := &model.Account{UserID: 7, Version: 3}
		assert.ErrorIs(t, st.UpdateAccount(ctx, acc, 3), errs.ErrConcurrentConflict)
		assert.Equal(t, 3, acc.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("account gone", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectExec(updateAccountSQL).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT \\* FROM `account` WHERE user_id = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}))

		err := st.UpdateAccount(ctx, &model.Account{UserID: 7}, 0)
		assert.ErrorIs(t, err, errs.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectExec(updateAccountSQL).WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})

		err := st.UpdateAccount(ctx, &model.Account{UserID: 7}, 0)
		assert.ErrorIs(t, err, errs.ErrConcurrentConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateAuction_ActiveGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("bid keeps is_active condition", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectExec("UPDATE `auction` SET .* WHERE .*version = \\?.*is_active = \\?").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT \\* FROM `auction` WHERE `auction`.`id` = \\?").
			WillReturnRows(sqlmock.NewRows([]string{"id", "is_active", "version"}).AddRow(5, false, 2))

		auction := &model.Auction{ID: 5, IsActive: true, CurrentPrice: decimal.NewFromInt(120), Version: 1}
		assert.ErrorIs(t, st.UpdateAuction(ctx, auction, 1), errs.ErrConcurrentConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settle matches on version only", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectExec("UPDATE `auction` SET .* WHERE id = \\? AND version = \\?$").
			WillReturnResult(sqlmock.NewResult(0, 1))

		auction := &model.Auction{ID: 5, IsActive: false, Version: 2}
		require.NoError(t, st.UpdateAuction(ctx, auction, 2))
		assert.Equal(t, 3, auction.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListBids_Ordering(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE auction_id = ? ORDER BY amount DESC,timestamp ASC,id ASC")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "auction_id", "bidder_id", "amount"}).
			AddRow(3, 5, 2, "125.00").
			AddRow(2, 5, 3, "120.00"))

	bids, err := st.ListBids(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Amount.Equal(decimal.NewFromInt(125)))
	assert.Equal(t, int64(2), bids[0].BidderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_DuplicateRollsBack(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `account`").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'user_id'"})
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx store.Store) error {
		return tx.CreateAccount(context.Background(), &model.Account{UserID: 7, ServiceTag: model.ServicePlex})
	})
	assert.ErrorIs(t, err, errs.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
