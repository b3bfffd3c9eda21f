package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/api/middleware"
	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/repository"
	"github.com/qs3c/billing_server/internal/service"
	"github.com/qs3c/billing_server/internal/testutil"
)

const testGatewaySecret = "handler_gateway_secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testContext struct {
	DB       *gorm.DB
	Gateway  *gateway.Fake
	Billing  *BillingHandler
	Usage    *UsageHandler
	Wallet   *WalletHandler
	Catalog  *CatalogHandler
	WalletSv *service.WalletService
}

func setupHandlers(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			KeyID:          "rzp_test_fake",
			KeySecret:      testGatewaySecret,
			Currency:       "INR",
			TimeoutSeconds: 1,
			ReceiptPrefix:  "txn_",
		},
		Billing: config.BillingConfig{
			SubscriptionPolicy:   config.PolicyMerge,
			MaxReconcileAttempts: 3,
			TrialPlanID:          "lite_check",
		},
	}

	cat := catalog.Default()
	coupons, err := catalog.NewCouponTable(catalog.DefaultCoupons())
	require.NoError(t, err)

	m := metrics.NewNop()
	subRepo := repository.NewSubscriptionRepository(db)
	addonRepo := repository.NewAddonCreditRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	reconRepo := repository.NewReconciliationRepository(db)

	gw := gateway.NewFake(testGatewaySecret)
	usage := service.NewUsageService(subRepo, addonRepo, m)
	wallet := service.NewWalletService(db, walletRepo, accountRepo)
	couponService := service.NewCouponService(cat, coupons, couponRepo, m)
	activation := service.NewActivationService(db, cat, paymentRepo, subRepo, addonRepo, accountRepo, wallet, cfg.Billing)
	reconciler := service.NewReconciliationService(reconRepo, paymentRepo, activation, nil, nil, m, cfg.Billing)
	payments := service.NewPaymentService(
		db, cat, paymentRepo, subRepo, accountRepo, walletRepo,
		wallet, couponService, activation, reconciler,
		gw, nil, m, cfg,
	)

	return &testContext{
		DB:       db,
		Gateway:  gw,
		Billing:  NewBillingHandler(payments, couponService),
		Usage:    NewUsageHandler(usage),
		Wallet:   NewWalletHandler(wallet, cat.Currency()),
		Catalog:  NewCatalogHandler(cat),
		WalletSv: wallet,
	}
}

func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func performRequest(r http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "response data is %T", resp.Data)
	return data
}
