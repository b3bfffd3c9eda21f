package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/repository"
	"github.com/qs3c/billing_server/internal/testutil"
)

// verifyUnknownPlan 模拟支付成功但目录缺少该计划，发放失败
func verifyUnknownPlan(t *testing.T, f *billingFixture) (*model.PaymentTransaction, *VerifyResult) {
	t.Helper()
	p := testutil.TestPayment(t, f.db, 1, withPlanID("ghost_plan"), testutil.WithOrderID("order_ghost"))

	res, err := f.payments.Verify(context.Background(), 1, VerifyRequest{
		TransactionID: p.ID,
		OrderID:       "order_ghost",
		PaymentID:     "pay_ghost",
		Signature:     gateway.Sign(testGatewaySecret, "order_ghost", "pay_ghost"),
	})
	require.NoError(t, err)
	return p, res
}

func catalogWithGhostPlan(t *testing.T) *catalog.Catalog {
	t.Helper()
	plans := append(catalog.DefaultPlans(), catalog.Plan{
		ID:           "ghost_plan",
		Name:         "Ghost",
		Price:        49900,
		Validity:     24 * time.Hour,
		Entitlements: model.Entitlements{Optimizations: 3},
	})
	cat, err := catalog.New(catalog.DefaultCurrency, plans, catalog.DefaultAddOns())
	require.NoError(t, err)
	return cat
}

func TestReconciliation_QueuedOnActivationFailure(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()

	p, res := verifyUnknownPlan(t, f)
	assert.True(t, res.ReconciliationQueued)
	assert.Nil(t, res.Activation)
	assert.Equal(t, model.PaymentSuccess, res.Transaction.Status)

	assert.Equal(t, 1, f.queue.Len())
	assert.Contains(t, f.events.Types(), pubsub.EventReconciliationQueued)

	task, err := repository.NewReconciliationRepository(f.db).GetByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReconcilePending, task.Status)
	assert.Contains(t, task.LastError, "ghost_plan")

	// 重复回调不会重复登记
	again, err := f.payments.Verify(ctx, 1, VerifyRequest{
		TransactionID: p.ID,
		OrderID:       "order_ghost",
		PaymentID:     "pay_ghost",
		Signature:     gateway.Sign(testGatewaySecret, "order_ghost", "pay_ghost"),
	})
	require.NoError(t, err)
	assert.True(t, again.AlreadyVerified)
	assert.True(t, again.ReconciliationQueued)
	assert.Equal(t, 1, f.queue.Len())
}

func TestReconciliation_ProcessResolves(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()
	p, _ := verifyUnknownPlan(t, f)

	fixed := newBillingFixture(t, f.db, catalogWithGhostPlan(t), f.cfg)
	task, err := repository.NewReconciliationRepository(f.db).GetByPayment(ctx, p.ID)
	require.NoError(t, err)

	require.NoError(t, fixed.reconciler.Process(ctx, task.ID))

	task, err = repository.NewReconciliationRepository(f.db).GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReconcileResolved, task.Status)
	assert.NotNil(t, task.ResolvedAt)

	sub, err := f.subRepo.FindActive(ctx, 1, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "ghost_plan", sub.PlanID)
	assert.Contains(t, fixed.events.Types(), pubsub.EventReconciliationResolved)

	// 已解决的任务再次处理无副作用
	require.NoError(t, fixed.reconciler.Process(ctx, task.ID))
	assert.Equal(t, int64(1), countRows(t, f, &model.Subscription{}, "user_id = ?", 1))
}

func TestReconciliation_GivesUpAfterMaxAttempts(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()
	p, _ := verifyUnknownPlan(t, f)
	repo := repository.NewReconciliationRepository(f.db)
	task, err := repo.GetByPayment(ctx, p.ID)
	require.NoError(t, err)

	for i := 1; i < f.cfg.Billing.MaxReconcileAttempts; i++ {
		err := f.reconciler.Process(ctx, task.ID)
		var recErr *ReconciliationError
		require.True(t, errors.As(err, &recErr))
		assert.Equal(t, p.ID, recErr.TransactionID)

		current, err := repo.GetByID(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ReconcilePending, current.Status)
		assert.Equal(t, i, current.Attempts)
		assert.True(t, current.NextAttemptAt.After(time.Now().UTC()))
	}

	err = f.reconciler.Process(ctx, task.ID)
	assert.Equal(t, CategoryReconciliation, Category(err))

	current, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReconcileFailed, current.Status)
	assert.Equal(t, f.cfg.Billing.MaxReconcileAttempts, current.Attempts)

	pending, err := f.reconciler.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestReconciliation_RunDueAndRescan(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()
	verifyUnknownPlan(t, f)

	n, err := f.reconciler.RescanDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.queue.Len())

	fixed := newBillingFixture(t, f.db, catalogWithGhostPlan(t), f.cfg)
	resolved, failed, err := fixed.reconciler.RunDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 0, failed)

	n, err = fixed.reconciler.RescanDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// interruptedPayment 支付已转为 success，但发放与登记任务都没有发生
func interruptedPayment(t *testing.T, f *billingFixture, age time.Duration) *model.PaymentTransaction {
	t.Helper()
	ctx := context.Background()
	res := checkoutWithOrder(t, f, 1, CheckoutRequest{PlanID: "lite_check"})

	ok, err := repository.NewPaymentRepository(f.db).MarkSuccess(ctx, res.Transaction.ID, "pay_cut")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.db.Model(&model.PaymentTransaction{}).
		Where("id = ?", res.Transaction.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-age)).Error)
	return res.Transaction
}

func TestReconciliation_RunDueAdoptsInterruptedActivation(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()
	p := interruptedPayment(t, f, time.Hour)

	resolved, failed, err := f.reconciler.RunDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 0, failed)

	task, err := repository.NewReconciliationRepository(f.db).GetByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReconcileResolved, task.Status)
	assert.Contains(t, task.LastError, ErrActivationInterrupted.Error())
	assert.Equal(t, int64(1), countRows(t, f, &model.Subscription{}, "user_id = ? AND plan_id = ?", 1, "lite_check"))

	// 已接管的支付不会再次登记
	n, err := f.reconciler.AdoptUnactivated(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReconciliation_RescanAdoptsAfterGrace(t *testing.T) {
	f := setupBilling(t)
	ctx := context.Background()
	recent := interruptedPayment(t, f, time.Second)

	n, err := f.reconciler.RescanDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, f.queue.Len())

	require.NoError(t, f.db.Model(&model.PaymentTransaction{}).
		Where("id = ?", recent.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-time.Hour)).Error)

	n, err = f.reconciler.RescanDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.queue.Len())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoff(1))
	assert.Equal(t, time.Minute, backoff(2))
	assert.Equal(t, 4*time.Minute, backoff(4))
	assert.Equal(t, time.Hour, backoff(20))
}
