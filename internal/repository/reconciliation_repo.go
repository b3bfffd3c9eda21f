package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

type ReconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) WithTx(tx *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: tx}
}

// Enqueue 为交易登记补偿任务，同一交易只登记一次
func (r *ReconciliationRepository) Enqueue(ctx context.Context, task *model.ReconciliationTask) (bool, error) {
	if task.Status == "" {
		task.Status = model.ReconcilePending
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_transaction_id"}},
			DoNothing: true,
		}).
		Create(task)
	return result.RowsAffected == 1, result.Error
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id int64) (*model.ReconciliationTask, error) {
	var task model.ReconciliationTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *ReconciliationRepository) GetByPayment(ctx context.Context, paymentID int64) (*model.ReconciliationTask, error) {
	var task model.ReconciliationTask
	err := r.db.WithContext(ctx).Where("payment_transaction_id = ?", paymentID).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListDue 到期待重试的任务
func (r *ReconciliationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ReconciliationTask, error) {
	var tasks []*model.ReconciliationTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", model.ReconcilePending, now).
		Order("next_attempt_at ASC, id ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// RecordAttempt 记录一次失败的尝试
func (r *ReconciliationRepository) RecordAttempt(ctx context.Context, id int64, lastErr string, next time.Time) error {
	return r.db.WithContext(ctx).Model(&model.ReconciliationTask{}).
		Where("id = ? AND status = ?", id, model.ReconcilePending).
		Updates(map[string]interface{}{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      lastErr,
			"next_attempt_at": next,
		}).Error
}

func (r *ReconciliationRepository) MarkResolved(ctx context.Context, id int64, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.ReconciliationTask{}).
		Where("id = ? AND status = ?", id, model.ReconcilePending).
		Updates(map[string]interface{}{
			"status":      model.ReconcileResolved,
			"resolved_at": now,
			"attempts":    gorm.Expr("attempts + 1"),
		}).Error
}

func (r *ReconciliationRepository) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	return r.db.WithContext(ctx).Model(&model.ReconciliationTask{}).
		Where("id = ? AND status = ?", id, model.ReconcilePending).
		Updates(map[string]interface{}{
			"status":     model.ReconcileFailed,
			"last_error": lastErr,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

func (r *ReconciliationRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ReconciliationTask{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
