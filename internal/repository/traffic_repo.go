package repository

import (
	"context"

	"mediacredits/internal/model"

	"gorm.io/gorm"
)

type TrafficRepository struct {
	db *gorm.DB
}

func NewTrafficRepository(db *gorm.DB) *TrafficRepository {
	return &TrafficRepository{db: db}
}

func (r *TrafficRepository) CreateTrafficUsage(ctx context.Context, usage *model.TrafficUsage) error {
	return translateErr(r.db.WithContext(ctx).Create(usage).Error, nil)
}

// AggregateTrafficUsage 按用户汇总某天的流量；任一服务标记了高级会员即按高级额度计
func (r *TrafficRepository) AggregateTrafficUsage(ctx context.Context, date string) ([]model.TrafficAggregate, error) {
	var out []model.TrafficAggregate
	err := r.db.WithContext(ctx).
		Model(&model.TrafficUsage{}).
		Select("user_id, date, SUM(bytes_used) AS bytes_used, MAX(premium_flag) AS premium").
		Where("date = ?", date).
		Group("user_id, date").
		Order("user_id").
		Scan(&out).Error
	return out, translateErr(err, nil)
}
