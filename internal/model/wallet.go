package model

import (
	"time"
)

const (
	WalletPending   = "pending"
	WalletCompleted = "completed"
	WalletFailed    = "failed"
)

// 钱包流水类型
const (
	WalletTypePurchaseUse  = "purchase_use"
	WalletTypeCredit       = "credit"
	WalletTypeCompensation = "compensation"
)

// WalletTransaction 钱包流水，只追加；金额单位为最小货币单位，正数入账、负数扣款
type WalletTransaction struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	UserID         int64     `gorm:"not null;index:idx_wallet_user_status" json:"user_id"`
	Type           string    `gorm:"size:30;not null" json:"type"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Status         string    `gorm:"size:20;not null;index:idx_wallet_user_status" json:"status"` // pending, completed, failed
	TransactionRef string    `gorm:"size:100;index" json:"transaction_ref"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}

// BillingAccount 每个用户一行，作为计费相关写操作的行锁
type BillingAccount struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	TrialUsed bool      `gorm:"not null;default:false" json:"trial_used"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BillingAccount) TableName() string {
	return "billing_accounts"
}
