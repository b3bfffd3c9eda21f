package service

import (
	"errors"
	"fmt"

	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
)

// 校验错误
var (
	ErrCouponNotFound       = errors.New("优惠码无效")
	ErrCouponNotApplicable  = errors.New("优惠码不适用于该计划")
	ErrCouponExhausted      = errors.New("优惠码已达使用上限")
	ErrNoActiveSubscription = errors.New("没有有效的订阅")
	ErrTrialNotEligible     = errors.New("不满足免费试用条件")
	ErrEmptyPurchase        = errors.New("未选择计划或加购项")
	ErrUnknownKind          = errors.New("未知的权益类型")
	ErrInvalidAmount        = errors.New("金额无效")
	ErrPaymentNotFound      = errors.New("支付记录不存在")
	ErrPaymentNotPending    = errors.New("支付已结束")
	ErrOrderMismatch        = errors.New("订单与支付记录不匹配")
)

// 额度错误
var ErrEntitlementExhausted = errors.New("权益已用完")

// ErrActivationInterrupted 支付已成功但发放在中途中断，未留下补偿任务
var ErrActivationInterrupted = errors.New("支付成功但权益未发放")

// 网关错误
var ErrSignatureMismatch = errors.New("支付签名校验失败")

// 错误分类
const (
	CategoryConfiguration  = "configuration"
	CategoryValidation     = "validation"
	CategoryExhaustion     = "exhaustion"
	CategoryGateway        = "gateway"
	CategoryReconciliation = "reconciliation"
	CategoryInternal       = "internal"
)

// GatewayError 网关调用失败；Retryable 表示用户可以直接重试
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ReconciliationError 支付已成功但权益发放失败
type ReconciliationError struct {
	TransactionID int64
	Err           error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation required for payment %d: %v", e.TransactionID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// Category 返回错误所属分类
func Category(err error) string {
	if err == nil {
		return ""
	}

	var recErr *ReconciliationError
	if errors.As(err, &recErr) {
		return CategoryReconciliation
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) || errors.Is(err, ErrSignatureMismatch) {
		return CategoryGateway
	}

	switch {
	case errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, catalog.ErrAddOnNotFound),
		errors.Is(err, catalog.ErrInvalidEntry):
		return CategoryConfiguration
	case errors.Is(err, ErrEntitlementExhausted):
		return CategoryExhaustion
	case errors.Is(err, ErrCouponNotFound),
		errors.Is(err, ErrCouponNotApplicable),
		errors.Is(err, ErrCouponExhausted),
		errors.Is(err, ErrNoActiveSubscription),
		errors.Is(err, ErrTrialNotEligible),
		errors.Is(err, ErrEmptyPurchase),
		errors.Is(err, ErrUnknownKind),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrPaymentNotPending),
		errors.Is(err, ErrOrderMismatch),
		errors.Is(err, catalog.ErrInvalidUnits):
		return CategoryValidation
	}
	return CategoryInternal
}

// ReasonCode 前端展示用的原因码
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCouponNotApplicable):
		return "not_applicable"
	case errors.Is(err, ErrCouponNotFound):
		return "invalid_coupon"
	case errors.Is(err, ErrCouponExhausted):
		return "coupon_exhausted"
	case errors.Is(err, ErrTrialNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrNoActiveSubscription):
		return "no_subscription"
	case errors.Is(err, ErrEntitlementExhausted):
		return "exhausted"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, gateway.ErrTimeout):
		return "gateway_timeout"
	case errors.Is(err, ErrEmptyPurchase):
		return "empty_purchase"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, catalog.ErrInvalidUnits), errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrPaymentNotFound):
		return "payment_not_found"
	case errors.Is(err, ErrPaymentNotPending):
		return "payment_closed"
	case errors.Is(err, ErrOrderMismatch):
		return "order_mismatch"
	}

	switch Category(err) {
	case CategoryGateway:
		return "gateway_error"
	case CategoryConfiguration:
		return "configuration_error"
	case CategoryReconciliation:
		return "reconciliation_pending"
	}
	return "internal_error"
}

// IsRetryable 网关错误是否可由用户重试
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}
