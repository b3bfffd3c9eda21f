package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/repository"
)

// ActivationResult 一次权益发放的结果
type ActivationResult struct {
	PaymentTransactionID int64                `json:"payment_transaction_id"`
	Subscription         *model.Subscription  `json:"subscription,omitempty"`
	Credits              []*model.AddonCredit `json:"credits,omitempty"`
	Superseded           *model.Subscription  `json:"-"`
	AlreadyActivated     bool                 `json:"already_activated"`
}

// ActivationService 支付成功后发放订阅与加购额度
type ActivationService struct {
	db          *gorm.DB
	catalog     *catalog.Catalog
	paymentRepo *repository.PaymentRepository
	subRepo     *repository.SubscriptionRepository
	addonRepo   *repository.AddonCreditRepository
	accountRepo *repository.AccountRepository
	wallet      *WalletService
	policy      string
	now         func() time.Time
}

func NewActivationService(
	db *gorm.DB,
	cat *catalog.Catalog,
	paymentRepo *repository.PaymentRepository,
	subRepo *repository.SubscriptionRepository,
	addonRepo *repository.AddonCreditRepository,
	accountRepo *repository.AccountRepository,
	wallet *WalletService,
	cfg config.BillingConfig,
) *ActivationService {
	return &ActivationService{
		db:          db,
		catalog:     cat,
		paymentRepo: paymentRepo,
		subRepo:     subRepo,
		addonRepo:   addonRepo,
		accountRepo: accountRepo,
		wallet:      wallet,
		policy:      cfg.Policy(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Activate 为成功的支付发放权益；同一笔支付重复调用不会重复发放
func (s *ActivationService) Activate(ctx context.Context, paymentID int64) (*ActivationResult, error) {
	var result *ActivationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.activateTx(ctx, tx, paymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// activateTx 在调用方事务中发放权益，任一步失败整体回滚
func (s *ActivationService) activateTx(ctx context.Context, tx *gorm.DB, paymentID int64) (*ActivationResult, error) {
	now := s.now()
	payments := s.paymentRepo.WithTx(tx)

	payment, err := payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	claimed, err := payments.ClaimActivation(ctx, paymentID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return s.existingActivation(ctx, tx, payment)
	}

	if _, err := s.accountRepo.WithTx(tx).Lock(ctx, payment.UserID); err != nil {
		return nil, err
	}

	result := &ActivationResult{PaymentTransactionID: payment.ID}

	// (a) 加购额度
	grants, _, err := s.catalog.ResolveAddOns(payment.AddOns)
	if err != nil {
		return nil, err
	}
	credits := s.addonRepo.WithTx(tx)
	for _, g := range grants {
		if g.Quantity <= 0 {
			continue
		}
		credit := &model.AddonCredit{
			UserID:               payment.UserID,
			Kind:                 g.AddOn.Kind,
			AddOnID:              g.AddOn.ID,
			QuantityPurchased:    g.Quantity,
			QuantityRemaining:    g.Quantity,
			PaymentTransactionID: payment.ID,
		}
		if err := credits.Create(ctx, credit); err != nil {
			return nil, fmt.Errorf("create addon credit %s: %w", g.AddOn.ID, err)
		}
		result.Credits = append(result.Credits, credit)
	}

	// (b)(c) 订阅
	if planID := payment.PlanIDValue(); planID != "" && planID != catalog.AddOnOnlyPlanID {
		plan, err := s.catalog.PlanByID(planID)
		if err != nil {
			return nil, err
		}
		sub, prev, err := s.grantPlan(ctx, tx, payment, plan, now)
		if err != nil {
			return nil, err
		}
		result.Subscription = sub
		result.Superseded = prev
	}

	// (d) 钱包预留转为扣款
	if payment.WalletDeduction > 0 {
		if err := s.wallet.settleHold(ctx, tx, payment.UserID, payment.WalletRef()); err != nil {
			return nil, err
		}
	}

	// (e) 关联订阅
	if result.Subscription != nil {
		if err := payments.LinkSubscription(ctx, payment.ID, result.Subscription.ID); err != nil {
			return nil, err
		}
	}

	ev := logging.Ctx(ctx).Info().
		Int64("user_id", payment.UserID).
		Int64("payment_transaction_id", payment.ID).
		Int("credits", len(result.Credits))
	if result.Subscription != nil {
		ev = ev.Int64("subscription_id", result.Subscription.ID).Str("plan_id", result.Subscription.PlanID)
	}
	ev.Msg("entitlements activated")

	return result, nil
}

// grantPlan 创建新订阅并按策略处理之前的有效订阅
func (s *ActivationService) grantPlan(
	ctx context.Context,
	tx *gorm.DB,
	payment *model.PaymentTransaction,
	plan catalog.Plan,
	now time.Time,
) (*model.Subscription, *model.Subscription, error) {
	subs := s.subRepo.WithTx(tx)

	if _, err := subs.ExpireDue(ctx, now); err != nil {
		return nil, nil, err
	}
	prev, err := subs.FindActiveForUpdate(ctx, payment.UserID, now)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
		prev = nil
	}

	sub := &model.Subscription{
		UserID:               payment.UserID,
		PlanID:               plan.ID,
		Status:               model.SubscriptionActive,
		StartDate:            now,
		EndDate:              now.Add(plan.Validity),
		PaymentTransactionID: &payment.ID,
		CouponUsed:           payment.CouponValue(),
	}
	sub.SetTotals(plan.Entitlements)

	if prev != nil && s.policy == config.PolicyMerge {
		sub.SetTotals(mergeTotals(plan.Entitlements, prev))
		if prev.EndDate.After(sub.EndDate) {
			sub.EndDate = prev.EndDate
		}
	}

	if err := subs.Create(ctx, sub); err != nil {
		return nil, nil, err
	}

	if prev != nil {
		closed, err := subs.Close(ctx, prev.ID, model.SubscriptionCancelled, &sub.ID)
		if err != nil {
			return nil, nil, err
		}
		if !closed {
			return nil, nil, fmt.Errorf("subscription %d changed during activation", prev.ID)
		}
		if s.policy == config.PolicySupersede {
			logging.Ctx(ctx).Info().
				Int64("user_id", payment.UserID).
				Int64("subscription_id", prev.ID).
				Int64("superseded_by", sub.ID).
				Msg("previous subscription superseded, remaining credits forfeited")
		}
	}
	return sub, prev, nil
}

// mergeTotals 新计划总量加上旧订阅的剩余；任一方不限则不限
func mergeTotals(plan model.Entitlements, prev *model.Subscription) model.Entitlements {
	merged := plan
	for _, k := range model.AllKinds {
		total := plan.Of(k)
		left := prev.Remaining(k)
		if total == model.Unlimited || left == model.Unlimited {
			merged = merged.With(k, model.Unlimited)
			continue
		}
		merged = merged.With(k, total+left)
	}
	return merged
}

// existingActivation 已发放或尚不可发放的支付
func (s *ActivationService) existingActivation(ctx context.Context, tx *gorm.DB, payment *model.PaymentTransaction) (*ActivationResult, error) {
	if payment.Status != model.PaymentSuccess {
		return nil, fmt.Errorf("%w: payment %d is %s", ErrPaymentNotPending, payment.ID, payment.Status)
	}

	result := &ActivationResult{PaymentTransactionID: payment.ID, AlreadyActivated: true}
	if payment.SubscriptionID != nil {
		sub, err := s.subRepo.WithTx(tx).GetByID(ctx, *payment.SubscriptionID)
		if err != nil {
			return nil, err
		}
		result.Subscription = sub
	}
	credits, err := s.addonRepo.WithTx(tx).ListByPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	result.Credits = credits
	return result, nil
}
