package model

import (
	"time"
)

// AddonCredit 加购的权益额度，独立于订阅
type AddonCredit struct {
	ID                   int64           `gorm:"primaryKey" json:"id"`
	UserID               int64           `gorm:"not null;index:idx_addon_user_kind" json:"user_id"`
	Kind                 EntitlementKind `gorm:"size:30;not null;index:idx_addon_user_kind" json:"kind"`
	AddOnID              string          `gorm:"size:60;not null" json:"addon_id"`
	QuantityPurchased    int             `gorm:"not null" json:"quantity_purchased"`
	QuantityRemaining    int             `gorm:"not null" json:"quantity_remaining"`
	PaymentTransactionID int64           `gorm:"not null;index" json:"payment_transaction_id"`
	CreatedAt            time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (AddonCredit) TableName() string {
	return "user_addon_credits"
}
