package service

import (
	"context"
	"strings"
	"testing"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyInviteCode(t *testing.T) {
	st := newMemory()
	svc := NewInviteService(st, testConfig())
	seedAccount(t, st, 1, "1200")

	code, err := svc.BuyInviteCode(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, code.Code, 16)
	assert.Equal(t, int64(1), code.Owner)
	assert.False(t, code.IsUsed)
	assert.True(t, balanceOf(t, st, 1).Equal(d("700")))

	rows := journal(t, st, 1)
	require.Len(t, rows, 1)
	assert.Equal(t, model.TxTypeInvite, rows[0].Type)
	assert.Equal(t, "INV-"+code.Code, rows[0].RefNo)

	_, err = svc.BuyInviteCode(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.BuyInviteCode(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.True(t, balanceOf(t, st, 1).Equal(d("200")))

	codes, err := svc.ListInviteCodes(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, codes, 2)
}

func TestRedeemInviteCode(t *testing.T) {
	st := newMemory()
	clock := newClock()
	svc := NewInviteService(st, testConfig())
	svc.now = clock.Now
	seedAccount(t, st, 1, "500")
	ctx := context.Background()

	code, err := svc.BuyInviteCode(ctx, 1)
	require.NoError(t, err)

	// 大小写和空白不敏感
	redeemed, err := svc.RedeemInviteCode(ctx, "  "+strings.ToLower(code.Code)+" ", 42)
	require.NoError(t, err)
	assert.True(t, redeemed.IsUsed)
	require.NotNil(t, redeemed.UsedBy)
	assert.Equal(t, int64(42), *redeemed.UsedBy)
	require.NotNil(t, redeemed.UsedAt)
	assert.True(t, redeemed.UsedAt.Equal(clock.Now()))

	// 同一用户重复兑换视为成功
	again, err := svc.RedeemInviteCode(ctx, code.Code, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), *again.UsedBy)

	_, err = svc.RedeemInviteCode(ctx, code.Code, 43)
	assert.ErrorIs(t, err, errs.ErrInviteUsed)

	_, err = svc.RedeemInviteCode(ctx, "NOPE", 43)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.RedeemInviteCode(ctx, " ", 43)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	// 兑换不影响购买者余额
	assert.True(t, balanceOf(t, st, 1).IsZero())
}
