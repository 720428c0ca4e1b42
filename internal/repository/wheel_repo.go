package repository

import (
	"context"
	"fmt"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"

	"gorm.io/gorm"
)

type WheelRepository struct {
	db *gorm.DB
}

func NewWheelRepository(db *gorm.DB) *WheelRepository {
	return &WheelRepository{db: db}
}

func (r *WheelRepository) GetWheelConfig(ctx context.Context) (*model.WheelConfig, error) {
	var cfg model.WheelConfig
	err := r.db.WithContext(ctx).First(&cfg, model.ActiveWheelConfigID).Error
	if err != nil {
		return nil, translateErr(err, fmt.Errorf("转盘配置%w", errs.ErrNotFound))
	}
	return &cfg, nil
}

// SaveWheelConfig 整体覆盖生效配置（按主键 upsert）
func (r *WheelRepository) SaveWheelConfig(ctx context.Context, cfg *model.WheelConfig) error {
	cfg.ID = model.ActiveWheelConfigID
	return translateErr(r.db.WithContext(ctx).Save(cfg).Error, nil)
}

func (r *WheelRepository) CreateWheelSpin(ctx context.Context, spin *model.WheelSpin) error {
	return translateErr(r.db.WithContext(ctx).Create(spin).Error, nil)
}

func (r *WheelRepository) ListWheelSpins(ctx context.Context, userID int64, limit int) ([]*model.WheelSpin, error) {
	var spins []*model.WheelSpin
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&spins).Error
	return spins, translateErr(err, nil)
}

func (r *WheelRepository) CountWheelSpinsByItem(ctx context.Context) ([]model.WheelItemStat, error) {
	var stats []model.WheelItemStat
	err := r.db.WithContext(ctx).
		Model(&model.WheelSpin{}).
		Select("item_name, COUNT(*) AS count").
		Group("item_name").
		Order("item_name").
		Scan(&stats).Error
	return stats, translateErr(err, nil)
}
