package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

// AccountRepository 每用户一行的计费账户，用于串行化同一用户的写操作
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) WithTx(tx *gorm.DB) *AccountRepository {
	return &AccountRepository{db: tx}
}

// Lock 确保账户行存在并加写锁，必须在事务中调用
func (r *AccountRepository) Lock(ctx context.Context, userID int64) (*model.BillingAccount, error) {
	acc := model.BillingAccount{UserID: userID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&acc).Error
	if err != nil {
		return nil, err
	}

	var locked model.BillingAccount
	err = r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&locked).Error
	if err != nil {
		return nil, err
	}
	return &locked, nil
}

// MarkTrialUsed 标记已领取试用，返回 false 表示之前已领取
func (r *AccountRepository) MarkTrialUsed(ctx context.Context, userID int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.BillingAccount{}).
		Where("user_id = ? AND trial_used = ?", userID, false).
		Update("trial_used", true)
	return result.RowsAffected == 1, result.Error
}

func (r *AccountRepository) Get(ctx context.Context, userID int64) (*model.BillingAccount, error) {
	var acc model.BillingAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
