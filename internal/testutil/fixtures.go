package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
)

// TestSubscription 创建测试订阅，默认 smart_apply_pack 额度、一年有效
func TestSubscription(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	now := time.Now().UTC()
	sub := &model.Subscription{
		UserID:    userID,
		PlanID:    "smart_apply_pack",
		Status:    model.SubscriptionActive,
		StartDate: now,
		EndDate:   now.Add(365 * 24 * time.Hour),
	}
	sub.SetTotals(model.Entitlements{
		Optimizations:    10,
		ScoreChecks:      10,
		LinkedInMessages: 50,
		GuidedBuilds:     1,
	})

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return sub
}

// WithPlan 设置计划 ID 与额度
func WithPlan(planID string, totals model.Entitlements) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PlanID = planID
		s.SetTotals(totals)
	}
}

// WithTotal 设置单项额度
func WithTotal(kind model.EntitlementKind, total int) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.SetTotals(s.Totals().With(kind, total))
	}
}

// WithUsed 设置已用次数
func WithUsed(kind model.EntitlementKind, used int) func(*model.Subscription) {
	return func(s *model.Subscription) {
		switch kind {
		case model.KindOptimization:
			s.OptimizationsUsed = used
		case model.KindScoreCheck:
			s.ScoreChecksUsed = used
		case model.KindLinkedInMessage:
			s.LinkedInMessagesUsed = used
		case model.KindGuidedBuild:
			s.GuidedBuildsUsed = used
		}
	}
}

// WithStatus 设置订阅状态
func WithStatus(status string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
	}
}

// WithEndDate 设置到期时间
func WithEndDate(end time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.EndDate = end
	}
}

// TestAddonCredit 创建加购额度
func TestAddonCredit(t *testing.T, db *gorm.DB, userID int64, kind model.EntitlementKind, remaining int) *model.AddonCredit {
	t.Helper()

	credit := &model.AddonCredit{
		UserID:               userID,
		Kind:                 kind,
		AddOnID:              fmt.Sprintf("test_%s", kind),
		QuantityPurchased:    remaining,
		QuantityRemaining:    remaining,
		PaymentTransactionID: time.Now().UnixNano(),
	}
	if err := db.Create(credit).Error; err != nil {
		t.Fatalf("Failed to create test addon credit: %v", err)
	}
	return credit
}

// TestWalletCredit 写入一笔已完成的钱包入账
func TestWalletCredit(t *testing.T, db *gorm.DB, userID int64, amount int64) *model.WalletTransaction {
	t.Helper()

	tx := &model.WalletTransaction{
		UserID:         userID,
		Type:           model.WalletTypeCredit,
		Amount:         amount,
		Status:         model.WalletCompleted,
		TransactionRef: fmt.Sprintf("test_credit_%d", time.Now().UnixNano()),
	}
	if err := db.Create(tx).Error; err != nil {
		t.Fatalf("Failed to create test wallet credit: %v", err)
	}
	return tx
}

// TestPayment 创建待支付交易
func TestPayment(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.PaymentTransaction)) *model.PaymentTransaction {
	t.Helper()

	planID := "smart_apply_pack"
	p := &model.PaymentTransaction{
		UserID:       userID,
		PlanID:       &planID,
		PurchaseType: model.PurchasePlan,
		Status:       model.PaymentPending,
		Currency:     "INR",
		PlanAmount:   49900,
		GrossAmount:  49900,
		FinalAmount:  49900,
		AddOns:       model.AddOnSelection{},
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create test payment: %v", err)
	}
	return p
}

// WithOrderID 设置网关订单号
func WithOrderID(orderID string) func(*model.PaymentTransaction) {
	return func(p *model.PaymentTransaction) {
		p.GatewayOrderID = orderID
	}
}

// WithPaymentStatus 设置交易状态
func WithPaymentStatus(status string) func(*model.PaymentTransaction) {
	return func(p *model.PaymentTransaction) {
		p.Status = status
	}
}
