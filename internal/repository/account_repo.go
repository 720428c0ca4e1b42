package repository

import (
	"context"
	"time"

	"mediacredits/internal/errs"
	"mediacredits/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, account *model.Account) error {
	if account.UnlockState == "" {
		account.UnlockState = model.UnlockStateLocked
	}
	return translateErr(r.db.WithContext(ctx).Create(account).Error, nil)
}

func (r *AccountRepository) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		return nil, translateErr(err, errs.ErrAccountNotFound)
	}
	return &account, nil
}

// GetAccountForUpdate SELECT ... FOR UPDATE，只在事务内有意义
func (r *AccountRepository) GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		return nil, translateErr(err, errs.ErrAccountNotFound)
	}
	return &account, nil
}

// UpdateAccount 乐观锁更新
//
// 【关键点】WHERE 里带上读到的 version，更新成功 version+1；
// 影响行数为 0 说明期间有人改过，返回 ErrConcurrentConflict 让上层拿新数据重试
func (r *AccountRepository) UpdateAccount(ctx context.Context, account *model.Account, expectedVersion int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", account.UserID, expectedVersion).
		Updates(map[string]interface{}{
			"service_tag":    account.ServiceTag,
			"external_id":    account.ExternalID,
			"credits":        account.Credits,
			"donation_total": account.DonationTotal,
			"premium_expiry": account.PremiumExpiry,
			"premium_ended":  account.PremiumEnded,
			"unlock_state":   account.UnlockState,
			"unlock_time":    account.UnlockTime,
			"version":        expectedVersion + 1,
		})

	if result.Error != nil {
		return translateErr(result.Error, nil)
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetAccount(ctx, account.UserID); err != nil {
			return err
		}
		return errs.ErrConcurrentConflict
	}

	account.Version = expectedVersion + 1
	return nil
}

func (r *AccountRepository) ListPremiumExpired(ctx context.Context, now time.Time, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("premium_expiry IS NOT NULL AND premium_expiry <= ?", now).
		Order("premium_expiry ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, translateErr(err, nil)
}
