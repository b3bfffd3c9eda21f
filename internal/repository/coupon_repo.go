package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) WithTx(tx *gorm.DB) *CouponRepository {
	return &CouponRepository{db: tx}
}

// Used 已使用次数
func (r *CouponRepository) Used(ctx context.Context, code string) (int, error) {
	var usage model.CouponUsage
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return usage.UsedCount, nil
}

// TryIncrement 在上限内原子地 +1；maxUses 为 0 表示不限
func (r *CouponRepository) TryIncrement(ctx context.Context, code string, maxUses int) (bool, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CouponUsage{Code: code}).Error
	if err != nil {
		return false, err
	}

	query := r.db.WithContext(ctx).Model(&model.CouponUsage{}).Where("code = ?", code)
	if maxUses > 0 {
		query = query.Where("used_count < ?", maxUses)
	}
	result := query.Update("used_count", gorm.Expr("used_count + 1"))
	return result.RowsAffected == 1, result.Error
}

// Release 归还一次使用
func (r *CouponRepository) Release(ctx context.Context, code string) error {
	return r.db.WithContext(ctx).Model(&model.CouponUsage{}).
		Where("code = ? AND used_count > 0", code).
		Update("used_count", gorm.Expr("used_count - 1")).Error
}
