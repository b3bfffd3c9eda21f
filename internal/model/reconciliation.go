package model

import (
	"time"
)

const (
	ReconcilePending  = "pending"
	ReconcileResolved = "resolved"
	ReconcileFailed   = "failed"
)

// ReconciliationTask 支付成功但权益发放失败时的补偿任务
type ReconciliationTask struct {
	ID                   int64      `gorm:"primaryKey" json:"id"`
	PaymentTransactionID int64      `gorm:"not null;uniqueIndex" json:"payment_transaction_id"`
	UserID               int64      `gorm:"not null;index" json:"user_id"`
	Status               string     `gorm:"size:20;default:pending;index" json:"status"` // pending, resolved, failed
	Attempts             int        `gorm:"not null;default:0" json:"attempts"`
	LastError            string     `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt        time.Time  `gorm:"index" json:"next_attempt_at"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (ReconciliationTask) TableName() string {
	return "reconciliation_tasks"
}
