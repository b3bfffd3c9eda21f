package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/testutil"
)

func TestPaymentRepository_MarkSuccessOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := testutil.TestPayment(t, db, 1, testutil.WithOrderID("order_1"))

	ok, err := repo.MarkSuccess(ctx, p.ID, "pay_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkSuccess(ctx, p.ID, "pay_2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkFailed(ctx, p.ID, "late failure")
	require.NoError(t, err)
	assert.False(t, ok, "terminal status is immutable")

	found, err := repo.GetByOrderID(ctx, "order_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSuccess, found.Status)
	assert.Equal(t, "pay_1", found.GatewayPaymentID)
}

func TestPaymentRepository_ClaimActivation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := testutil.TestPayment(t, db, 1)
	ok, err := repo.ClaimActivation(ctx, pending.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "pending payment cannot be activated")

	paid := testutil.TestPayment(t, db, 1, testutil.WithPaymentStatus(model.PaymentSuccess))
	ok, err = repo.ClaimActivation(ctx, paid.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimActivation(ctx, paid.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPaymentRepository_SetOrderID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	ctx := context.Background()

	p := testutil.TestPayment(t, db, 1)

	ok, err := repo.SetOrderID(ctx, p.ID, "order_a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetOrderID(ctx, p.ID, "order_b")
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "order_a", found.GatewayOrderID)
}

func TestPaymentRepository_IdempotencyKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	ctx := context.Background()

	key := "checkout-123"
	p := testutil.TestPayment(t, db, 1, func(p *model.PaymentTransaction) { p.IdempotencyKey = &key })

	found, err := repo.GetByIdempotencyKey(ctx, 1, key)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = repo.GetByIdempotencyKey(ctx, 2, key)
	assert.Error(t, err)

	// 同一用户同一幂等键只能有一条
	dup := &model.PaymentTransaction{
		UserID: 1, PurchaseType: model.PurchasePlan, Status: model.PaymentPending,
		Currency: "INR", IdempotencyKey: &key, AddOns: model.AddOnSelection{},
	}
	assert.Error(t, repo.Create(ctx, dup))
}

func TestPaymentRepository_AddOnsRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewPaymentRepository(db)
	p := testutil.TestPayment(t, db, 1, func(p *model.PaymentTransaction) {
		p.AddOns = model.AddOnSelection{"linkedin_messages_50": 2}
		p.PurchaseType = model.PurchasePlanWithAddOns
	})

	found, err := repo.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, found.AddOns["linkedin_messages_50"])
	assert.Equal(t, []string{"linkedin_messages_50"}, found.AddOns.IDs())
}
