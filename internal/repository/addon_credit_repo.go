package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
)

// ErrCreditContended 多次重试仍被并发请求抢占
var ErrCreditContended = errors.New("加购额度竞争激烈，请重试")

const maxCreditAttempts = 8

type AddonCreditRepository struct {
	db *gorm.DB
}

func NewAddonCreditRepository(db *gorm.DB) *AddonCreditRepository {
	return &AddonCreditRepository{db: db}
}

func (r *AddonCreditRepository) WithTx(tx *gorm.DB) *AddonCreditRepository {
	return &AddonCreditRepository{db: tx}
}

func (r *AddonCreditRepository) Create(ctx context.Context, credit *model.AddonCredit) error {
	return r.db.WithContext(ctx).Create(credit).Error
}

// ConsumeOne 按最早创建顺序扣减一条剩余额度
// 返回 false 表示该类型没有剩余额度
func (r *AddonCreditRepository) ConsumeOne(ctx context.Context, userID int64, kind model.EntitlementKind) (bool, error) {
	for attempt := 0; attempt < maxCreditAttempts; attempt++ {
		var credit model.AddonCredit
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND kind = ? AND quantity_remaining > 0", userID, kind).
			Order("created_at ASC, id ASC").
			First(&credit).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		// 条件扣减，被并发抢占时换下一条
		result := r.db.WithContext(ctx).Model(&model.AddonCredit{}).
			Where("id = ? AND quantity_remaining > 0", credit.ID).
			Update("quantity_remaining", gorm.Expr("quantity_remaining - 1"))
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected == 1 {
			return true, nil
		}
	}
	return false, ErrCreditContended
}

// SumRemaining 某类型剩余加购额度总和
func (r *AddonCreditRepository) SumRemaining(ctx context.Context, userID int64, kind model.EntitlementKind) (int, error) {
	var total int
	err := r.db.WithContext(ctx).Model(&model.AddonCredit{}).
		Select("COALESCE(SUM(quantity_remaining), 0)").
		Where("user_id = ? AND kind = ?", userID, kind).
		Scan(&total).Error
	return total, err
}

// RemainingByKind 各类型剩余加购额度
func (r *AddonCreditRepository) RemainingByKind(ctx context.Context, userID int64) (map[model.EntitlementKind]int, error) {
	var rows []struct {
		Kind  model.EntitlementKind
		Total int
	}
	err := r.db.WithContext(ctx).Model(&model.AddonCredit{}).
		Select("kind, COALESCE(SUM(quantity_remaining), 0) AS total").
		Where("user_id = ?", userID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[model.EntitlementKind]int, len(model.AllKinds))
	for _, row := range rows {
		out[row.Kind] = row.Total
	}
	return out, nil
}

func (r *AddonCreditRepository) ListByPayment(ctx context.Context, paymentID int64) ([]*model.AddonCredit, error) {
	var credits []*model.AddonCredit
	err := r.db.WithContext(ctx).
		Where("payment_transaction_id = ?", paymentID).
		Order("id ASC").
		Find(&credits).Error
	return credits, err
}
