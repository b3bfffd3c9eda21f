package service

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/repository"
	"github.com/qs3c/billing_server/internal/testutil"
)

const testGatewaySecret = "test_gateway_secret"

type recordingQueue struct {
	mu   sync.Mutex
	msgs []*queue.ReconcileMessage
}

func (q *recordingQueue) Push(_ context.Context, msg *queue.ReconcileMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *recordingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*pubsub.BillingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt *pubsub.BillingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type billingFixture struct {
	db         *gorm.DB
	cfg        *config.Config
	catalog    *catalog.Catalog
	gateway    *gateway.Fake
	queue      *recordingQueue
	events     *recordingPublisher
	usage      *UsageService
	wallet     *WalletService
	coupons    *CouponService
	activation *ActivationService
	reconciler *ReconciliationService
	payments   *PaymentService
	couponRepo *repository.CouponRepository
	subRepo    *repository.SubscriptionRepository
	addonRepo  *repository.AddonCreditRepository
}

func testConfig() *config.Config {
	return &config.Config{
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
}

func setupBilling(t *testing.T, opts ...func(*config.Config)) *billingFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newBillingFixture(t, db, catalog.Default(), cfg)
}

// newBillingFixture 在已有数据库上组装服务，可替换目录
func newBillingFixture(t *testing.T, db *gorm.DB, cat *catalog.Catalog, cfg *config.Config) *billingFixture {
	t.Helper()

	coupons, err := catalog.NewCouponTable(catalog.DefaultCoupons())
	if err != nil {
		t.Fatalf("Failed to build coupon table: %v", err)
	}

	m := metrics.NewNop()
	subRepo := repository.NewSubscriptionRepository(db)
	addonRepo := repository.NewAddonCreditRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	reconRepo := repository.NewReconciliationRepository(db)

	f := &billingFixture{
		db:         db,
		cfg:        cfg,
		catalog:    cat,
		gateway:    gateway.NewFake(testGatewaySecret),
		queue:      &recordingQueue{},
		events:     &recordingPublisher{},
		couponRepo: couponRepo,
		subRepo:    subRepo,
		addonRepo:  addonRepo,
	}
	f.usage = NewUsageService(subRepo, addonRepo, m)
	f.wallet = NewWalletService(db, walletRepo, accountRepo)
	f.coupons = NewCouponService(cat, coupons, couponRepo, m)
	f.activation = NewActivationService(db, cat, paymentRepo, subRepo, addonRepo, accountRepo, f.wallet, cfg.Billing)
	f.reconciler = NewReconciliationService(reconRepo, paymentRepo, f.activation, f.queue, f.events, m, cfg.Billing)
	f.payments = NewPaymentService(
		db, cat, paymentRepo, subRepo, accountRepo, walletRepo,
		f.wallet, f.coupons, f.activation, f.reconciler,
		f.gateway, f.events, m, cfg,
	)
	return f
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
