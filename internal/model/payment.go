package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	PaymentPending = "pending"
	PaymentSuccess = "success"
	PaymentFailed  = "failed"
)

// 购买类型
const (
	PurchasePlan           = "plan"
	PurchasePlanWithAddOns = "plan_with_addons"
	PurchaseAddOnOnly      = "addon_only"
)

// 免费激活路径使用的占位网关 ID
const (
	FreeActivationPaymentID = "FREE_PLAN_ACTIVATION"
	FreeActivationOrderID   = "FREE_PLAN_ORDER"
)

// AddOnSelection 加购项 ID -> 购买份数，JSON 存储
type AddOnSelection map[string]int

func (s AddOnSelection) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *AddOnSelection) Scan(value interface{}) error {
	if value == nil {
		*s = AddOnSelection{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported addon selection type %T", value)
	}
	if len(raw) == 0 {
		*s = AddOnSelection{}
		return nil
	}
	return json.Unmarshal(raw, s)
}

// IDs 返回排序后的加购项 ID
func (s AddOnSelection) IDs() []string {
	ids := make([]string, 0, len(s))
	for id, qty := range s {
		if qty > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Empty 是否没有任何有效加购
func (s AddOnSelection) Empty() bool {
	return len(s.IDs()) == 0
}

// PaymentTransaction 一次购买尝试；金额单位为最小货币单位
type PaymentTransaction struct {
	ID               int64          `gorm:"primaryKey" json:"id"`
	UserID           int64          `gorm:"not null;index;uniqueIndex:idx_payment_idempotency" json:"user_id"`
	PlanID           *string        `gorm:"size:50" json:"plan_id,omitempty"`
	PurchaseType     string         `gorm:"size:20;not null" json:"purchase_type"`
	Status           string         `gorm:"size:20;default:pending;index" json:"status"` // pending, success, failed
	Currency         string         `gorm:"size:10;not null" json:"currency"`
	PlanAmount       int64          `gorm:"not null;default:0" json:"plan_amount"`
	AddOnsTotal      int64          `gorm:"column:addons_total;not null;default:0" json:"addons_total"`
	GrossAmount      int64          `gorm:"not null;default:0" json:"gross_amount"`
	DiscountAmount   int64          `gorm:"not null;default:0" json:"discount_amount"`
	WalletDeduction  int64          `gorm:"column:wallet_deduction_amount;not null;default:0" json:"wallet_deduction_amount"`
	FinalAmount      int64          `gorm:"not null;default:0" json:"final_amount"`
	CouponCode       *string        `gorm:"size:50" json:"coupon_code,omitempty"`
	AddOns           AddOnSelection `gorm:"column:addons;type:text" json:"addons,omitempty"`
	IdempotencyKey   *string        `gorm:"size:100;uniqueIndex:idx_payment_idempotency" json:"-"`
	GatewayOrderID   string         `gorm:"column:order_id;size:100;index" json:"order_id,omitempty"`
	GatewayPaymentID string         `gorm:"column:payment_id;size:100" json:"payment_id,omitempty"`
	SubscriptionID   *int64         `json:"subscription_id,omitempty"`
	FailureReason    string         `gorm:"size:255" json:"failure_reason,omitempty"`
	ActivatedAt      *time.Time     `json:"activated_at,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// PlanIDValue 计划 ID，没有时返回空串
func (p *PaymentTransaction) PlanIDValue() string {
	if p.PlanID == nil {
		return ""
	}
	return *p.PlanID
}

// CouponValue 优惠码，没有时返回空串
func (p *PaymentTransaction) CouponValue() string {
	if p.CouponCode == nil {
		return ""
	}
	return *p.CouponCode
}

// WalletRef 钱包预留流水关联的引用
func (p *PaymentTransaction) WalletRef() string {
	return fmt.Sprintf("payment_%d", p.ID)
}
