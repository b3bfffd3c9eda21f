package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) WithTx(tx *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

func (r *PaymentRepository) Create(ctx context.Context, p *model.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	var p model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*model.PaymentTransaction, error) {
	var p model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByIdempotencyKey 按用户 + 幂等键查找
func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*model.PaymentTransaction, error) {
	var p model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetOrderID 仅在尚未记录订单号时写入，返回是否写入成功
func (r *PaymentRepository) SetOrderID(ctx context.Context, id int64, orderID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ? AND status = ? AND (order_id = '' OR order_id IS NULL)", id, model.PaymentPending).
		Update("order_id", orderID)
	return result.RowsAffected == 1, result.Error
}

// MarkSuccess pending -> success，只会成功一次
func (r *PaymentRepository) MarkSuccess(ctx context.Context, id int64, paymentID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, model.PaymentPending).
		Updates(map[string]interface{}{
			"status":     model.PaymentSuccess,
			"payment_id": paymentID,
		})
	return result.RowsAffected == 1, result.Error
}

// MarkFailed pending -> failed，只会成功一次
func (r *PaymentRepository) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	if len(reason) > 255 {
		reason = reason[:255]
	}
	result := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, model.PaymentPending).
		Updates(map[string]interface{}{
			"status":         model.PaymentFailed,
			"failure_reason": reason,
		})
	return result.RowsAffected == 1, result.Error
}

// ClaimActivation 抢占权益发放，成功交易只能发放一次
func (r *PaymentRepository) ClaimActivation(ctx context.Context, id int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ? AND status = ? AND activated_at IS NULL", id, model.PaymentSuccess).
		Update("activated_at", now)
	return result.RowsAffected == 1, result.Error
}

func (r *PaymentRepository) LinkSubscription(ctx context.Context, id, subscriptionID int64) error {
	return r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).
		Where("id = ?", id).
		Update("subscription_id", subscriptionID).Error
}

// ListStalePending 超过 before 仍未完成的交易，用于对账
func (r *PaymentRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.PaymentTransaction, error) {
	var ps []*model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.PaymentPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&ps).Error
	return ps, err
}

// ListUnactivated 已成功、未发放且没有补偿任务的交易，updated_at 早于 before
func (r *PaymentRepository) ListUnactivated(ctx context.Context, before time.Time, limit int) ([]*model.PaymentTransaction, error) {
	tasks := r.db.Model(&model.ReconciliationTask{}).Select("payment_transaction_id")

	var ps []*model.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND activated_at IS NULL AND updated_at < ?", model.PaymentSuccess, before).
		Where("id NOT IN (?)", tasks).
		Order("id ASC").
		Limit(limit).
		Find(&ps).Error
	return ps, err
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentTransaction, int64, error) {
	var ps []*model.PaymentTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&ps).Error
	return ps, total, err
}
