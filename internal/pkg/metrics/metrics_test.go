package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewNop()

	m.Consume("optimization", "subscription", "ok")
	m.Consume("optimization", "subscription", "ok")
	m.Coupon("FIRST500", "rejected")
	m.Payment("success")
	m.Reconciliation("queued")
	m.ObserveGateway("create_order", time.Now(), errors.New("x"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ConsumeTotal.WithLabelValues("optimization", "subscription", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CouponTotal.WithLabelValues("FIRST500", "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsTotal.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayDuration))
}

func TestMetrics_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewNop()
	m.Payment("failed")

	r := gin.New()
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `billing_payments_total{outcome="failed"} 1`))
}
