package repository

import (
	"context"
	"time"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"

	"gorm.io/gorm"
)

type InviteRepository struct {
	db *gorm.DB
}

func NewInviteRepository(db *gorm.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

func (r *InviteRepository) CreateInviteCode(ctx context.Context, code *model.InvitationCode) error {
	return translateErr(r.db.WithContext(ctx).Create(code).Error, nil)
}

func (r *InviteRepository) GetInviteCode(ctx context.Context, code string) (*model.InvitationCode, error) {
	var inv model.InvitationCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&inv).Error; err != nil {
		return nil, translateErr(err, errs.ErrInviteNotFound)
	}
	return &inv, nil
}

// MarkInviteCodeUsed 条件更新 is_used=false -> true，重复使用返回 ErrInviteUsed
func (r *InviteRepository) MarkInviteCodeUsed(ctx context.Context, code string, usedBy int64, usedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.InvitationCode{}).
		Where("code = ? AND is_used = ?", code, false).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_by": usedBy,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return translateErr(result.Error, nil)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetInviteCode(ctx, code); err != nil {
			return err
		}
		return errs.ErrInviteUsed
	}
	return nil
}

func (r *InviteRepository) ListInviteCodes(ctx context.Context, owner int64) ([]*model.InvitationCode, error) {
	var codes []*model.InvitationCode
	err := r.db.WithContext(ctx).Where("owner = ?", owner).Order("id ASC").Find(&codes).Error
	return codes, translateErr(err, nil)
}
