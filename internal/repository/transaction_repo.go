package repository

import (
	"context"
	"errors"

	"mediacredits/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) CreateTransaction(ctx context.Context, trans *model.CreditTransaction) error {
	return translateErr(r.db.WithContext(ctx).Create(trans).Error, nil)
}

// GetTransactionByRef 不存在时返回 nil, nil，便于做幂等判断
func (r *TransactionRepository) GetTransactionByRef(ctx context.Context, refNo string) (*model.CreditTransaction, error) {
	var trans model.CreditTransaction
	err := r.db.WithContext(ctx).Where("ref_no = ?", refNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateErr(err, nil)
	}
	return &trans, nil
}

func (r *TransactionRepository) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translateErr(err, nil)
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, translateErr(err, nil)
}
