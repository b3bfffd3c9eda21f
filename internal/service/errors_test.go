package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
)

func TestCategoryAndReasonCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category string
		reason   string
	}{
		{"nil", nil, "", ""},
		{"unknown plan", fmt.Errorf("checkout: %w", catalog.ErrPlanNotFound), CategoryConfiguration, "configuration_error"},
		{"unknown addon", catalog.ErrAddOnNotFound, CategoryConfiguration, "configuration_error"},
		{"not applicable", ErrCouponNotApplicable, CategoryValidation, "not_applicable"},
		{"invalid coupon", ErrCouponNotFound, CategoryValidation, "invalid_coupon"},
		{"coupon cap", ErrCouponExhausted, CategoryValidation, "coupon_exhausted"},
		{"no subscription", ErrNoActiveSubscription, CategoryValidation, "no_subscription"},
		{"exhausted", ErrEntitlementExhausted, CategoryExhaustion, "exhausted"},
		{"signature", ErrSignatureMismatch, CategoryGateway, "signature_mismatch"},
		{"gateway timeout", &GatewayError{Op: "create_order", Retryable: true, Err: gateway.ErrTimeout}, CategoryGateway, "gateway_timeout"},
		{"gateway other", &GatewayError{Op: "create_order", Err: errors.New("boom")}, CategoryGateway, "gateway_error"},
		{"reconciliation", &ReconciliationError{TransactionID: 7, Err: catalog.ErrPlanNotFound}, CategoryReconciliation, "reconciliation_pending"},
		{"internal", errors.New("db down"), CategoryInternal, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, Category(tt.err))
			assert.Equal(t, tt.reason, ReasonCode(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", &GatewayError{Retryable: true, Err: gateway.ErrTimeout})))
	assert.False(t, IsRetryable(&GatewayError{Err: errors.New("rejected")}))
	assert.False(t, IsRetryable(ErrCouponNotFound))
}
