package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *SubscriptionRepository) WithTx(tx *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindActive 查找用户当前有效的订阅（最新一条）
func (r *SubscriptionRepository) FindActive(ctx context.Context, userID int64, now time.Time) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.activeQuery(ctx, userID, now).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindActiveForUpdate 同 FindActive，并对该行加写锁
func (r *SubscriptionRepository) FindActiveForUpdate(ctx context.Context, userID int64, now time.Time) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.activeQuery(ctx, userID, now).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) activeQuery(ctx context.Context, userID int64, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND end_date > ?", userID, model.SubscriptionActive, now).
		Order("created_at DESC, id DESC")
}

// IncrementUsage 条件更新：仅当订阅有效且额度未用完（或不限）时 used + 1
// 返回 false 表示额度已用完或订阅已失效
func (r *SubscriptionRepository) IncrementUsage(ctx context.Context, id int64, kind model.EntitlementKind, now time.Time) (bool, error) {
	used, total := kind.Columns()
	result := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND status = ? AND end_date > ?", id, model.SubscriptionActive, now).
		Where(fmt.Sprintf("(%s = ? OR %s < %s)", total, used, total), model.Unlimited).
		Update(used, gorm.Expr(used+" + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ConsumeUsage 在同一事务内条件自增并读回该行，返回 nil 表示额度已用完或订阅已失效
// 更新后的行在事务提交前保持锁定，读到的 used 即本次自增的结果
func (r *SubscriptionRepository) ConsumeUsage(ctx context.Context, id int64, kind model.EntitlementKind, now time.Time) (*model.Subscription, error) {
	var updated *model.Subscription
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := r.WithTx(tx)
		ok, err := repo.IncrementUsage(ctx, id, kind, now)
		if err != nil || !ok {
			return err
		}
		updated, err = repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close 将仍为 active 的订阅转为终态
func (r *SubscriptionRepository) Close(ctx context.Context, id int64, status string, supersededBy *int64) (bool, error) {
	fields := map[string]interface{}{"status": status}
	if supersededBy != nil {
		fields["superseded_by"] = *supersededBy
	}
	result := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND status = ?", id, model.SubscriptionActive).
		Updates(fields)
	return result.RowsAffected == 1, result.Error
}

// ExpireDue 将已过期的 active 订阅标记为 expired
func (r *SubscriptionRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("status = ? AND end_date <= ?", model.SubscriptionActive, now).
		Update("status", model.SubscriptionExpired)
	return result.RowsAffected, result.Error
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&subs).Error
	return subs, err
}

// CountActive 用户 active 状态的订阅数
func (r *SubscriptionRepository) CountActive(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("user_id = ? AND status = ?", userID, model.SubscriptionActive).
		Count(&count).Error
	return count, err
}
