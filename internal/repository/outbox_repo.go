package repository

import (
	"context"

	"mediacredits/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) CreateOutboxMessage(ctx context.Context, msg *model.OutboxMessage) error {
	return translateErr(r.db.WithContext(ctx).Create(msg).Error, nil)
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, translateErr(err, nil)
}

func (r *OutboxRepository) UpdateOutboxStatus(ctx context.Context, id int64, status string) error {
	return translateErr(r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", status).Error, nil)
}

func (r *OutboxRepository) IncrementOutboxRetry(ctx context.Context, id int64) error {
	return translateErr(r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error, nil)
}

func (r *OutboxRepository) MarkOutboxFailed(ctx context.Context, id int64) error {
	return translateErr(r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error, nil)
}
