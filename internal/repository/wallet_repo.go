package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) WithTx(tx *gorm.DB) *WalletRepository {
	return &WalletRepository{db: tx}
}

func (r *WalletRepository) Create(ctx context.Context, tx *model.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

// Balance 已完成流水之和
func (r *WalletRepository) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND status = ?", userID, model.WalletCompleted).
		Scan(&balance).Error
	return balance, err
}

// Available 可用余额：已完成流水之和减去待定扣款
func (r *WalletRepository) Available(ctx context.Context, userID int64) (int64, error) {
	var available int64
	err := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND (status = ? OR (status = ? AND amount < 0))",
			userID, model.WalletCompleted, model.WalletPending).
		Scan(&available).Error
	return available, err
}

// GetByRef 按引用查找流水
func (r *WalletRepository) GetByRef(ctx context.Context, userID int64, ref string) (*model.WalletTransaction, error) {
	var tx model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND transaction_ref = ?", userID, ref).
		Order("id DESC").
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// TransitionPending 将 pending 流水转为终态，返回受影响行数
func (r *WalletRepository) TransitionPending(ctx context.Context, userID int64, ref, status string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).
		Where("user_id = ? AND transaction_ref = ? AND status = ?", userID, ref, model.WalletPending).
		Update("status", status)
	return result.RowsAffected, result.Error
}

func (r *WalletRepository) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var txs []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&txs).Error
	return txs, total, err
}
