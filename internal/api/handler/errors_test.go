package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/service"
)

func TestRenderServiceError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      int
		reason    string
		retryable bool
	}{
		{"config", fmt.Errorf("activate: %w", catalog.ErrPlanNotFound), http.StatusInternalServerError, response.CodeConfigError, "", false},
		{"gateway timeout", &service.GatewayError{Op: "create_order", Retryable: true, Err: gateway.ErrTimeout}, http.StatusOK, response.CodeGatewayError, "gateway_timeout", true},
		{"gateway rejected", &service.GatewayError{Op: "create_order", Err: errors.New("bad request")}, http.StatusOK, response.CodeGatewayError, "gateway_error", false},
		{"reconciliation", &service.ReconciliationError{TransactionID: 7, Err: errors.New("boom")}, http.StatusOK, response.CodePaymentProcessing, "reconciliation_pending", false},
		{"exhausted", service.ErrEntitlementExhausted, http.StatusOK, response.CodeEntitlementExhausted, "exhausted", false},
		{"coupon exhausted", service.ErrCouponExhausted, http.StatusOK, response.CodeCouponRejected, "coupon_exhausted", false},
		{"payment closed", service.ErrPaymentNotPending, http.StatusOK, response.CodeDuplicateAction, "payment_closed", false},
		{"order mismatch", service.ErrOrderMismatch, http.StatusOK, response.CodePermissionDenied, "order_mismatch", false},
		{"internal", context.Canceled, http.StatusOK, response.CodeServerError, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/err", func(c *gin.Context) {
				renderServiceError(c, tt.err)
			})

			w := performRequest(router, "GET", "/err", nil)
			resp := parseResponse(t, w)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, resp.Code)
			if tt.reason == "" {
				assert.Nil(t, resp.Data)
				return
			}
			data := dataMap(t, resp)
			assert.Equal(t, tt.reason, data["reason"])
			assert.Equal(t, tt.retryable, data["retryable"])
		})
	}
}

func TestRenderServiceError_NotFound(t *testing.T) {
	router := gin.New()
	router.GET("/err", func(c *gin.Context) {
		renderServiceError(c, service.ErrPaymentNotFound)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/err", nil))

	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeResourceNotFound, resp.Code)
	assert.Equal(t, "支付记录不存在", resp.Message)
}
