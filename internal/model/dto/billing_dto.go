package dto

import (
	"time"

	"github.com/qs3c/billing_server/internal/model"
)

// QuoteRequest 报价请求，金额均为最小货币单位
type QuoteRequest struct {
	PlanID     string         `json:"plan_id"`
	AddOns     map[string]int `json:"addons"`
	CouponCode string         `json:"coupon_code"`
	UseWallet  bool           `json:"use_wallet"`
}

// CheckoutRequest 下单请求；幂等键也可通过 Idempotency-Key 请求头传入
type CheckoutRequest struct {
	QuoteRequest
	IdempotencyKey string `json:"idempotency_key" binding:"max=100"`
}

// QuoteInfo 价格明细
type QuoteInfo struct {
	PlanID          string `json:"plan_id,omitempty"`
	PurchaseType    string `json:"purchase_type"`
	Currency        string `json:"currency"`
	PlanPrice       int64  `json:"plan_price"`
	CouponCode      string `json:"coupon_code,omitempty"`
	Discount        int64  `json:"discount"`
	PlanAfterCoupon int64  `json:"plan_after_coupon"`
	WalletAvailable int64  `json:"wallet_available"`
	WalletDeduction int64  `json:"wallet_deduction"`
	AddOnsTotal     int64  `json:"addons_total"`
	GrossAmount     int64  `json:"gross_amount"`
	GrandTotal      int64  `json:"grand_total"`
}

// OrderInfo 前端拉起网关支付所需信息
type OrderInfo struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

// CheckoutResponse 下单响应
type CheckoutResponse struct {
	TransactionID  int64      `json:"transaction_id"`
	Status         string     `json:"status"`
	Quote          *QuoteInfo `json:"quote"`
	Order          *OrderInfo `json:"order,omitempty"`
	FreeActivated  bool       `json:"free_activated"`
	SubscriptionID *int64     `json:"subscription_id,omitempty"`
	Replayed       bool       `json:"replayed,omitempty"`
}

// VerifyRequest 网关支付回调
type VerifyRequest struct {
	TransactionID int64  `json:"transaction_id" binding:"required"`
	OrderID       string `json:"razorpay_order_id" binding:"required"`
	PaymentID     string `json:"razorpay_payment_id" binding:"required"`
	Signature     string `json:"razorpay_signature" binding:"required"`
}

// VerifyResponse 回调处理结果
type VerifyResponse struct {
	TransactionID        int64  `json:"transaction_id"`
	Status               string `json:"status"`
	SubscriptionID       *int64 `json:"subscription_id,omitempty"`
	AlreadyVerified      bool   `json:"already_verified"`
	ReconciliationQueued bool   `json:"reconciliation_queued"`
}

// CouponPreviewRequest 优惠码校验请求
type CouponPreviewRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// ConsumeRequest 消耗权益请求
type ConsumeRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// WalletBalanceResponse 钱包余额
type WalletBalanceResponse struct {
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
	Currency  string `json:"currency"`
}

// PlanInfo 计划信息
type PlanInfo struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Price         int64              `json:"price"`
	ValidityHours int                `json:"validity_hours"`
	Entitlements  model.Entitlements `json:"entitlements"`
	Tag           string             `json:"tag,omitempty"`
	Popular       bool               `json:"popular,omitempty"`
}

// AddOnInfo 加购项信息
type AddOnInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Kind     string `json:"kind"`
	Quantity int    `json:"quantity"`
}

// CatalogResponse 目录
type CatalogResponse struct {
	Currency string      `json:"currency"`
	Plans    []PlanInfo  `json:"plans"`
	AddOns   []AddOnInfo `json:"addons"`
}

// TransactionInfo 支付记录（列表项）
type TransactionInfo struct {
	ID              int64      `json:"id"`
	PlanID          string     `json:"plan_id,omitempty"`
	PurchaseType    string     `json:"purchase_type"`
	Status          string     `json:"status"`
	Currency        string     `json:"currency"`
	GrossAmount     int64      `json:"gross_amount"`
	DiscountAmount  int64      `json:"discount_amount"`
	WalletDeduction int64      `json:"wallet_deduction_amount"`
	FinalAmount     int64      `json:"final_amount"`
	CouponCode      string     `json:"coupon_code,omitempty"`
	OrderID         string     `json:"order_id,omitempty"`
	SubscriptionID  *int64     `json:"subscription_id,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NewTransactionInfo 由支付记录构建
func NewTransactionInfo(p *model.PaymentTransaction) TransactionInfo {
	return TransactionInfo{
		ID:              p.ID,
		PlanID:          p.PlanIDValue(),
		PurchaseType:    p.PurchaseType,
		Status:          p.Status,
		Currency:        p.Currency,
		GrossAmount:     p.GrossAmount,
		DiscountAmount:  p.DiscountAmount,
		WalletDeduction: p.WalletDeduction,
		FinalAmount:     p.FinalAmount,
		CouponCode:      p.CouponValue(),
		OrderID:         p.GatewayOrderID,
		SubscriptionID:  p.SubscriptionID,
		FailureReason:   p.FailureReason,
		ActivatedAt:     p.ActivatedAt,
		CreatedAt:       p.CreatedAt,
	}
}
