package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"mediacredits/internal/config"
	"mediacredits/internal/errs"
	"mediacredits/internal/model"
	"mediacredits/internal/store"
	"mediacredits/pkg/idgen"
)

// InviteService 积分换邀请码
//
// 换码是单向扣款，不退；兑换只把 is_used 从 false 改成 true，
// 同一用户重复兑换同一个码视为成功（幂等），其他人再兑换返回 ErrInviteUsed
type InviteService struct {
	runner
	cfg *config.Config
	now func() time.Time
}

func NewInviteService(st store.Store, cfg *config.Config) *InviteService {
	return &InviteService{
		runner: newRunner(st, &cfg.Economy),
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *InviteService) BuyInviteCode(ctx context.Context, userID int64) (*model.InvitationCode, error) {
	price := config.Amount(s.cfg.Economy.InvitePrice)

	var code *model.InvitationCode
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		acc, err := tx.GetAccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		c := &model.InvitationCode{Code: idgen.GenerateInviteCode(), Owner: userID}
		if _, err := post(ctx, tx, acc, entry{
			Amount: price.Neg(),
			Type:   model.TxTypeInvite,
			RefNo:  "INV-" + c.Code,
			Remark: "兑换邀请码",
		}); err != nil {
			return err
		}
		if err := tx.CreateInviteCode(ctx, c); err != nil {
			return fmt.Errorf("生成邀请码失败: %w", err)
		}
		code = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("邀请码已生成: owner=%d, code=%s, price=%s", userID, code.Code, price)
	return code, nil
}

func (s *InviteService) RedeemInviteCode(ctx context.Context, code string, userID int64) (*model.InvitationCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errs.Invalid("邀请码不能为空")
	}

	var redeemed *model.InvitationCode
	err := s.inTx(ctx, func(ctx context.Context, tx store.Store) error {
		inv, err := tx.GetInviteCode(ctx, code)
		if err != nil {
			return err
		}
		if inv.IsUsed {
			if inv.UsedBy != nil && *inv.UsedBy == userID {
				redeemed = inv
				return nil
			}
			return errs.ErrInviteUsed
		}

		now := s.now()
		if err := tx.MarkInviteCodeUsed(ctx, code, userID, now); err != nil {
			return err
		}
		inv.IsUsed = true
		inv.UsedBy = &userID
		inv.UsedAt = &now
		redeemed = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

func (s *InviteService) ListInviteCodes(ctx context.Context, owner int64) ([]*model.InvitationCode, error) {
	ctx, cancel := s.read(ctx)
	defer cancel()
	return s.store.ListInviteCodes(ctx, owner)
}
