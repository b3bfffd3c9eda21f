package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/repository"
)

// TrialCouponCode 免费试用记录在支付行上的标记
const TrialCouponCode = "free_trial"

// 失败原因
const (
	ReasonUserCancelled = "user_cancelled"
	ReasonGatewayFailed = "gateway_failed"
	ReasonOrderExpired  = "order_not_created"
	ReasonOrderUnpaid   = "order_abandoned"
)

// CheckoutRequest 下单请求；PlanID 为空或 addon_only_purchase 表示只买加购项
type CheckoutRequest struct {
	PlanID         string
	AddOns         model.AddOnSelection
	CouponCode     string
	UseWallet      bool
	IdempotencyKey string
}

// Quote 服务端计算的价格明细，金额为最小货币单位
type Quote struct {
	PlanID          string `json:"plan_id"`
	PurchaseType    string `json:"purchase_type"`
	Currency        string `json:"currency"`
	PlanPrice       int64  `json:"plan_price"`
	CouponCode      string `json:"coupon_code,omitempty"`
	Discount        int64  `json:"discount"`
	PlanAfterCoupon int64  `json:"plan_after_coupon"`
	WalletAvailable int64  `json:"wallet_available"`
	WalletDeduction int64  `json:"wallet_deduction"`
	AddOnsTotal     int64  `json:"addons_total"`
	GrossAmount     int64  `json:"gross_amount"`
	GrandTotal      int64  `json:"grand_total"`
}

// CheckoutResult 下单结果；免费路径下 Order 为空且 Activation 有值
type CheckoutResult struct {
	Transaction   *model.PaymentTransaction `json:"transaction"`
	Quote         *Quote                    `json:"quote"`
	Order         *gateway.Order            `json:"order,omitempty"`
	FreeActivated bool                      `json:"free_activated"`
	Activation    *ActivationResult         `json:"activation,omitempty"`
	Replayed      bool                      `json:"replayed"`
}

// VerifyRequest 网关支付回调
type VerifyRequest struct {
	TransactionID int64
	OrderID       string
	PaymentID     string
	Signature     string
}

// VerifyResult 回调处理结果
type VerifyResult struct {
	Transaction          *model.PaymentTransaction `json:"transaction"`
	Activation           *ActivationResult         `json:"activation,omitempty"`
	AlreadyVerified      bool                      `json:"already_verified"`
	ReconciliationQueued bool                      `json:"reconciliation_queued"`
}

// PaymentService 购买流程：报价、下单、回调校验、取消
type PaymentService struct {
	db          *gorm.DB
	catalog     *catalog.Catalog
	paymentRepo *repository.PaymentRepository
	subRepo     *repository.SubscriptionRepository
	accountRepo *repository.AccountRepository
	walletRepo  *repository.WalletRepository
	wallet      *WalletService
	coupons     *CouponService
	activation  *ActivationService
	reconciler  *ReconciliationService
	gateway     gateway.Gateway
	publisher   EventPublisher
	metrics     *metrics.Metrics
	gwConfig    config.GatewayConfig
	trialPlanID string
	now         func() time.Time
}

func NewPaymentService(
	db *gorm.DB,
	cat *catalog.Catalog,
	paymentRepo *repository.PaymentRepository,
	subRepo *repository.SubscriptionRepository,
	accountRepo *repository.AccountRepository,
	walletRepo *repository.WalletRepository,
	wallet *WalletService,
	coupons *CouponService,
	activation *ActivationService,
	reconciler *ReconciliationService,
	gw gateway.Gateway,
	publisher EventPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
) *PaymentService {
	trialPlanID := cfg.Billing.TrialPlanID
	if trialPlanID == "" {
		trialPlanID = "lite_check"
	}
	return &PaymentService{
		db:          db,
		catalog:     cat,
		paymentRepo: paymentRepo,
		subRepo:     subRepo,
		accountRepo: accountRepo,
		walletRepo:  walletRepo,
		wallet:      wallet,
		coupons:     coupons,
		activation:  activation,
		reconciler:  reconciler,
		gateway:     gw,
		publisher:   publisher,
		metrics:     m,
		gwConfig:    cfg.Gateway,
		trialPlanID: trialPlanID,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// price 计算价格：grand = max(0, 计划折后价 - 钱包抵扣) + 加购总价
func (s *PaymentService) price(req CheckoutRequest, coupon *CouponResult, walletAvailable int64) (*Quote, error) {
	planID := req.PlanID
	if planID == catalog.AddOnOnlyPlanID {
		planID = ""
	}
	if planID == "" && req.AddOns.Empty() {
		return nil, ErrEmptyPurchase
	}

	q := &Quote{
		PlanID:   planID,
		Currency: s.catalog.Currency(),
	}

	if planID != "" {
		plan, err := s.catalog.PlanByID(planID)
		if err != nil {
			return nil, err
		}
		q.PlanPrice = plan.Price
	}

	_, addOnsTotal, err := s.catalog.ResolveAddOns(req.AddOns)
	if err != nil {
		return nil, err
	}
	q.AddOnsTotal = addOnsTotal

	switch {
	case planID == "":
		q.PurchaseType = model.PurchaseAddOnOnly
	case req.AddOns.Empty():
		q.PurchaseType = model.PurchasePlan
	default:
		q.PurchaseType = model.PurchasePlanWithAddOns
	}

	q.PlanAfterCoupon = q.PlanPrice
	if coupon != nil {
		q.CouponCode = coupon.Code
		q.Discount = coupon.Discount
		q.PlanAfterCoupon = coupon.FinalAmount
	}

	if walletAvailable < 0 {
		walletAvailable = 0
	}
	if req.UseWallet {
		q.WalletAvailable = walletAvailable
		q.WalletDeduction = walletAvailable
		if q.PlanAfterCoupon < q.WalletDeduction {
			q.WalletDeduction = q.PlanAfterCoupon
		}
	}

	q.GrossAmount = q.PlanPrice + q.AddOnsTotal
	payablePlan := q.PlanAfterCoupon - q.WalletDeduction
	if payablePlan < 0 {
		payablePlan = 0
	}
	q.GrandTotal = payablePlan + q.AddOnsTotal
	return q, nil
}

// Quote 只读报价，不占用优惠码次数，也不预留钱包
func (s *PaymentService) Quote(ctx context.Context, userID int64, req CheckoutRequest) (*Quote, error) {
	var coupon *CouponResult
	if req.CouponCode != "" {
		var err error
		coupon, err = s.coupons.Preview(ctx, req.PlanID, req.CouponCode)
		if err != nil {
			return nil, err
		}
	}

	var available int64
	if req.UseWallet {
		var err error
		available, err = s.wallet.Available(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	return s.price(req, coupon, available)
}

// Checkout 创建支付记录并向网关下单；应付为 0 时直接发放权益
// 网关出错时返回的 result 仍包含已创建的 pending 支付记录，可用 RetryOrder 重试
func (s *PaymentService) Checkout(ctx context.Context, userID int64, req CheckoutRequest) (*CheckoutResult, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.paymentRepo.GetByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err == nil {
			return s.replay(ctx, existing)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	// 先做无副作用的校验
	if _, err := s.price(CheckoutRequest{PlanID: req.PlanID, AddOns: req.AddOns}, nil, 0); err != nil {
		s.logRejected(ctx, userID, err)
		return nil, err
	}

	result := &CheckoutResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accountRepo.WithTx(tx).Lock(ctx, userID); err != nil {
			return err
		}

		var coupon *CouponResult
		if req.CouponCode != "" {
			var err error
			coupon, err = s.coupons.applyTx(ctx, tx, req.PlanID, req.CouponCode, userID)
			if err != nil {
				return err
			}
		}

		var available int64
		if req.UseWallet {
			var err error
			available, err = s.walletRepo.WithTx(tx).Available(ctx, userID)
			if err != nil {
				return err
			}
		}

		q, err := s.price(req, coupon, available)
		if err != nil {
			return err
		}
		result.Quote = q

		payment := newPayment(userID, q, req)
		payments := s.paymentRepo.WithTx(tx)
		if err := payments.Create(ctx, payment); err != nil {
			return err
		}

		if q.WalletDeduction > 0 {
			reserved, err := s.wallet.reserveLocked(ctx, tx, userID, q.WalletDeduction, payment.WalletRef())
			if err != nil {
				return err
			}
			if reserved != q.WalletDeduction {
				return fmt.Errorf("wallet reserved %d, expected %d", reserved, q.WalletDeduction)
			}
		}

		if q.GrandTotal == 0 {
			if _, err := payments.SetOrderID(ctx, payment.ID, model.FreeActivationOrderID); err != nil {
				return err
			}
			if _, err := payments.MarkSuccess(ctx, payment.ID, model.FreeActivationPaymentID); err != nil {
				return err
			}
			activation, err := s.activation.activateTx(ctx, tx, payment.ID)
			if err != nil {
				return err
			}
			result.FreeActivated = true
			result.Activation = activation
		}

		payment, err = payments.GetByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		result.Transaction = payment
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" {
			// 并发的相同幂等键：返回先提交的那次
			if existing, lookupErr := s.paymentRepo.GetByIdempotencyKey(ctx, userID, req.IdempotencyKey); lookupErr == nil {
				return s.replay(ctx, existing)
			}
		}
		s.logRejected(ctx, userID, err)
		return nil, err
	}

	payment := result.Transaction
	if result.FreeActivated {
		s.metrics.Payment("free")
		s.publishActivated(ctx, payment, result.Activation)
		return result, nil
	}

	order, err := s.createOrder(ctx, payment)
	if err != nil {
		return result, err
	}
	result.Order = order
	result.Transaction.GatewayOrderID = order.ID
	s.metrics.Payment("order_created")
	return result, nil
}

func newPayment(userID int64, q *Quote, req CheckoutRequest) *model.PaymentTransaction {
	p := &model.PaymentTransaction{
		UserID:          userID,
		PurchaseType:    q.PurchaseType,
		Status:          model.PaymentPending,
		Currency:        q.Currency,
		PlanAmount:      q.PlanPrice,
		AddOnsTotal:     q.AddOnsTotal,
		GrossAmount:     q.GrossAmount,
		DiscountAmount:  q.Discount,
		WalletDeduction: q.WalletDeduction,
		FinalAmount:     q.GrandTotal,
		AddOns:          model.AddOnSelection{},
	}
	if q.PlanID != "" {
		planID := q.PlanID
		p.PlanID = &planID
	}
	if q.CouponCode != "" {
		code := q.CouponCode
		p.CouponCode = &code
	}
	for _, id := range req.AddOns.IDs() {
		p.AddOns[id] = req.AddOns[id]
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		p.IdempotencyKey = &key
	}
	return p
}

// replay 相同幂等键的重复下单
func (s *PaymentService) replay(ctx context.Context, payment *model.PaymentTransaction) (*CheckoutResult, error) {
	result := &CheckoutResult{
		Transaction: payment,
		Quote:       quoteFromPayment(payment),
		Replayed:    true,
	}
	if payment.GatewayOrderID == model.FreeActivationOrderID {
		result.FreeActivated = true
		return result, nil
	}
	if payment.Status != model.PaymentPending {
		return result, nil
	}
	order, err := s.createOrder(ctx, payment)
	if err != nil {
		return result, err
	}
	result.Order = order
	return result, nil
}

func quoteFromPayment(p *model.PaymentTransaction) *Quote {
	return &Quote{
		PlanID:          p.PlanIDValue(),
		PurchaseType:    p.PurchaseType,
		Currency:        p.Currency,
		PlanPrice:       p.PlanAmount,
		CouponCode:      p.CouponValue(),
		Discount:        p.DiscountAmount,
		PlanAfterCoupon: p.PlanAmount - p.DiscountAmount,
		WalletDeduction: p.WalletDeduction,
		AddOnsTotal:     p.AddOnsTotal,
		GrossAmount:     p.GrossAmount,
		GrandTotal:      p.FinalAmount,
	}
}

// RetryOrder 为 pending 的支付重新获取网关订单，已有订单时直接返回
func (s *PaymentService) RetryOrder(ctx context.Context, userID, transactionID int64) (*CheckoutResult, error) {
	payment, err := s.ownedPayment(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentPending {
		return nil, ErrPaymentNotPending
	}

	result := &CheckoutResult{Transaction: payment, Quote: quoteFromPayment(payment)}
	order, err := s.createOrder(ctx, payment)
	if err != nil {
		return result, err
	}
	result.Order = order
	result.Transaction.GatewayOrderID = order.ID
	return result, nil
}

// createOrder 向网关下单，receipt 由支付记录 ID 生成；网关实现先按 receipt 查找已有订单
func (s *PaymentService) createOrder(ctx context.Context, payment *model.PaymentTransaction) (*gateway.Order, error) {
	if payment.GatewayOrderID != "" {
		return &gateway.Order{
			ID:       payment.GatewayOrderID,
			Amount:   payment.FinalAmount,
			Currency: payment.Currency,
			KeyID:    s.gwConfig.KeyID,
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.gwConfig.Timeout())
	defer cancel()

	start := time.Now()
	order, err := s.gateway.CreateOrder(callCtx, gateway.OrderRequest{
		Amount:   payment.FinalAmount,
		Currency: payment.Currency,
		Receipt:  s.gwConfig.ReceiptPrefix + strconv.FormatInt(payment.ID, 10),
		Notes: map[string]string{
			"user_id":       strconv.FormatInt(payment.UserID, 10),
			"purchase_type": payment.PurchaseType,
		},
	})
	s.metrics.ObserveGateway("create_order", start, err)
	if err != nil {
		retryable := errors.Is(err, gateway.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
		logging.Ctx(ctx).Warn().
			Err(err).
			Int64("payment_transaction_id", payment.ID).
			Bool("retryable", retryable).
			Msg("gateway order creation failed, payment left pending")
		s.metrics.Payment("gateway_error")
		return nil, &GatewayError{Op: "create_order", Retryable: retryable, Err: err}
	}

	stored, err := s.paymentRepo.SetOrderID(ctx, payment.ID, order.ID)
	if err != nil {
		return nil, err
	}
	if !stored {
		current, err := s.paymentRepo.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		if current.GatewayOrderID != "" && current.GatewayOrderID != order.ID {
			order = &gateway.Order{
				ID:       current.GatewayOrderID,
				Amount:   current.FinalAmount,
				Currency: current.Currency,
				KeyID:    order.KeyID,
			}
		}
	}
	return order, nil
}

// Verify 处理支付回调：先校验签名，再将 pending 转为 success 并发放权益
func (s *PaymentService) Verify(ctx context.Context, userID int64, req VerifyRequest) (*VerifyResult, error) {
	if !s.gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		s.metrics.Payment("signature_mismatch")
		logging.Ctx(ctx).Warn().
			Int64("user_id", userID).
			Int64("payment_transaction_id", req.TransactionID).
			Str("order_id", req.OrderID).
			Msg("payment signature mismatch")
		return nil, ErrSignatureMismatch
	}

	payment, err := s.ownedPayment(ctx, userID, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if payment.GatewayOrderID != req.OrderID {
		return nil, ErrOrderMismatch
	}

	switch payment.Status {
	case model.PaymentFailed:
		logging.Alert(ctx).
			Int64("user_id", userID).
			Int64("payment_transaction_id", payment.ID).
			Str("payment_id", req.PaymentID).
			Msg("payment captured for a failed transaction")
		return nil, ErrPaymentNotPending
	case model.PaymentSuccess:
		return s.alreadyVerified(ctx, payment, req.PaymentID)
	}

	ok, err := s.paymentRepo.MarkSuccess(ctx, payment.ID, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.paymentRepo.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != model.PaymentSuccess {
			return nil, ErrPaymentNotPending
		}
		return s.alreadyVerified(ctx, current, req.PaymentID)
	}

	return s.settle(ctx, payment, req.PaymentID)
}

// settle 支付已转为 success 后发放权益，发放失败时登记补偿任务
func (s *PaymentService) settle(ctx context.Context, payment *model.PaymentTransaction, paymentID string) (*VerifyResult, error) {
	result := &VerifyResult{}
	activation, actErr := s.activation.Activate(ctx, payment.ID)
	if actErr != nil {
		payment.Status = model.PaymentSuccess
		payment.GatewayPaymentID = paymentID
		if _, err := s.reconciler.Enqueue(ctx, payment, actErr); err != nil {
			logging.Alert(ctx).Err(err).Int64("payment_transaction_id", payment.ID).Msg("failed to queue reconciliation")
			return nil, &ReconciliationError{TransactionID: payment.ID, Err: actErr}
		}
		s.metrics.Payment("reconciliation")
		result.ReconciliationQueued = true
	} else {
		result.Activation = activation
		s.metrics.Payment("success")
	}

	current, err := s.paymentRepo.GetByID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	result.Transaction = current
	if activation != nil && !activation.AlreadyActivated {
		s.publishActivated(ctx, current, activation)
	}
	return result, nil
}

// alreadyVerified 重复回调；上次回调在发放前中断时补做发放
func (s *PaymentService) alreadyVerified(ctx context.Context, payment *model.PaymentTransaction, paymentID string) (*VerifyResult, error) {
	if payment.GatewayPaymentID != paymentID {
		logging.Ctx(ctx).Warn().
			Int64("payment_transaction_id", payment.ID).
			Str("payment_id", paymentID).
			Str("recorded_payment_id", payment.GatewayPaymentID).
			Msg("second payment for an already verified order")
		return nil, ErrPaymentNotPending
	}
	s.metrics.Payment("duplicate_verify")

	if payment.ActivatedAt == nil {
		logging.Ctx(ctx).Warn().
			Int64("payment_transaction_id", payment.ID).
			Msg("verified payment has no activation, settling again")
		result, err := s.settle(ctx, payment, paymentID)
		if err != nil {
			return nil, err
		}
		result.AlreadyVerified = true
		return result, nil
	}

	return &VerifyResult{
		Transaction:     payment,
		AlreadyVerified: true,
	}, nil
}

// Cancel 用户取消
func (s *PaymentService) Cancel(ctx context.Context, userID, transactionID int64) error {
	return s.Fail(ctx, userID, transactionID, ReasonUserCancelled)
}

// Fail pending -> failed，释放钱包预留并归还优惠码次数；重复调用无副作用
func (s *PaymentService) Fail(ctx context.Context, userID, transactionID int64, reason string) error {
	payment, err := s.ownedPayment(ctx, userID, transactionID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonGatewayFailed
	}

	var changed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.accountRepo.WithTx(tx).Lock(ctx, userID); err != nil {
			return err
		}
		ok, err := s.paymentRepo.WithTx(tx).MarkFailed(ctx, payment.ID, reason)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		changed = true
		if payment.WalletDeduction > 0 {
			if err := s.wallet.releaseHold(ctx, tx, userID, payment.WalletRef()); err != nil {
				return err
			}
		}
		if code := payment.CouponValue(); code != "" {
			if err := s.coupons.releaseTx(ctx, tx, code); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !changed {
		current, err := s.paymentRepo.GetByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		if current.Status == model.PaymentFailed {
			return nil
		}
		return ErrPaymentNotPending
	}

	s.metrics.Payment("failed")
	logging.Ctx(ctx).Info().
		Int64("user_id", userID).
		Int64("payment_transaction_id", payment.ID).
		Str("reason", reason).
		Msg("payment failed")
	s.publish(ctx, &pubsub.BillingEvent{
		Type:                 pubsub.EventPaymentFailed,
		UserID:               userID,
		PaymentTransactionID: payment.ID,
		PlanID:               payment.PlanIDValue(),
		Amount:               payment.FinalAmount,
		Reason:               reason,
	})
	return nil
}

// ActivateFreeTrial 每个用户只能领取一次试用计划，且当前没有有效订阅
func (s *PaymentService) ActivateFreeTrial(ctx context.Context, userID int64) (*ActivationResult, error) {
	plan, err := s.catalog.PlanByID(s.trialPlanID)
	if err != nil {
		logging.Alert(ctx).Err(err).Str("plan_id", s.trialPlanID).Msg("trial plan missing from catalog")
		return nil, err
	}

	var result *ActivationResult
	var payment *model.PaymentTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.WithTx(tx).Lock(ctx, userID)
		if err != nil {
			return err
		}
		if account.TrialUsed {
			return ErrTrialNotEligible
		}
		_, err = s.subRepo.WithTx(tx).FindActive(ctx, userID, s.now())
		if err == nil {
			return ErrTrialNotEligible
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		marked, err := s.accountRepo.WithTx(tx).MarkTrialUsed(ctx, userID)
		if err != nil {
			return err
		}
		if !marked {
			return ErrTrialNotEligible
		}

		planID := plan.ID
		coupon := TrialCouponCode
		payment = &model.PaymentTransaction{
			UserID:         userID,
			PlanID:         &planID,
			PurchaseType:   model.PurchasePlan,
			Status:         model.PaymentPending,
			Currency:       s.catalog.Currency(),
			PlanAmount:     plan.Price,
			GrossAmount:    plan.Price,
			DiscountAmount: plan.Price,
			CouponCode:     &coupon,
			AddOns:         model.AddOnSelection{},
			GatewayOrderID: model.FreeActivationOrderID,
		}
		payments := s.paymentRepo.WithTx(tx)
		if err := payments.Create(ctx, payment); err != nil {
			return err
		}
		if _, err := payments.MarkSuccess(ctx, payment.ID, model.FreeActivationPaymentID); err != nil {
			return err
		}
		result, err = s.activation.activateTx(ctx, tx, payment.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTrialNotEligible) {
			logging.Ctx(ctx).Info().Int64("user_id", userID).Msg("free trial rejected")
		}
		return nil, err
	}

	s.metrics.Payment("free_trial")
	payment.Status = model.PaymentSuccess
	s.publishActivated(ctx, payment, result)
	return result, nil
}

// ExpireStalePending 处理过期的 pending 支付，返回关闭或补发的笔数
// 没有订单号的直接失败；有订单号的先向网关查询：已扣款则按回调流程发放，
// 已授权未扣款的留到下一轮，未付款的标记失败并释放钱包预留与优惠码
func (s *PaymentService) ExpireStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.paymentRepo.ListStalePending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	var handled int
	for _, p := range stale {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}
		if p.GatewayOrderID == "" {
			if err := s.Fail(ctx, p.UserID, p.ID, ReasonOrderExpired); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Int64("payment_transaction_id", p.ID).Msg("failed to expire pending payment")
				continue
			}
			handled++
			continue
		}

		done, err := s.resolveStaleOrder(ctx, p)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Int64("payment_transaction_id", p.ID).
				Str("order_id", p.GatewayOrderID).
				Msg("failed to resolve stale order")
			continue
		}
		if done {
			handled++
		}
	}
	return handled, nil
}

// resolveStaleOrder 按网关侧支付情况结束一笔过期订单；返回 false 表示留待下一轮
func (s *PaymentService) resolveStaleOrder(ctx context.Context, p *model.PaymentTransaction) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.gwConfig.Timeout())
	defer cancel()

	start := time.Now()
	state, err := s.gateway.FetchOrderPayment(callCtx, p.GatewayOrderID)
	s.metrics.ObserveGateway("fetch_order_payment", start, err)
	if err != nil {
		return false, err
	}

	switch state.Status {
	case gateway.OrderCaptured:
		ok, err := s.paymentRepo.MarkSuccess(ctx, p.ID, state.PaymentID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		logging.Ctx(ctx).Info().
			Int64("user_id", p.UserID).
			Int64("payment_transaction_id", p.ID).
			Str("payment_id", state.PaymentID).
			Msg("captured payment recovered without callback")
		if _, err := s.settle(ctx, p, state.PaymentID); err != nil {
			return false, err
		}
		return true, nil
	case gateway.OrderAuthorized:
		logging.Ctx(ctx).Info().
			Int64("payment_transaction_id", p.ID).
			Str("payment_id", state.PaymentID).
			Msg("stale order authorized but not captured, keeping pending")
		return false, nil
	default:
		if err := s.Fail(ctx, p.UserID, p.ID, ReasonOrderUnpaid); err != nil {
			return false, err
		}
		return true, nil
	}
}

// GetTransaction 查询用户自己的支付记录
func (s *PaymentService) GetTransaction(ctx context.Context, userID, transactionID int64) (*model.PaymentTransaction, error) {
	return s.ownedPayment(ctx, userID, transactionID)
}

// ListTransactions 支付记录分页
func (s *PaymentService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.paymentRepo.ListByUser(ctx, userID, page, pageSize)
}

func (s *PaymentService) ownedPayment(ctx context.Context, userID, transactionID int64) (*model.PaymentTransaction, error) {
	payment, err := s.paymentRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if payment.UserID != userID {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) logRejected(ctx context.Context, userID int64, err error) {
	switch Category(err) {
	case CategoryConfiguration:
		logging.Alert(ctx).Err(err).Int64("user_id", userID).Msg("checkout rejected by catalog configuration")
	case CategoryValidation:
		logging.Ctx(ctx).Info().Err(err).Int64("user_id", userID).Str("reason", ReasonCode(err)).Msg("checkout rejected")
	default:
		logging.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("checkout failed")
	}
}

func (s *PaymentService) publishActivated(ctx context.Context, payment *model.PaymentTransaction, activation *ActivationResult) {
	evt := &pubsub.BillingEvent{
		Type:                 pubsub.EventPaymentActivated,
		UserID:               payment.UserID,
		PaymentTransactionID: payment.ID,
		PlanID:               payment.PlanIDValue(),
		Amount:               payment.FinalAmount,
	}
	if activation != nil && activation.Subscription != nil {
		evt.SubscriptionID = activation.Subscription.ID
	}
	s.publish(ctx, evt)
}

func (s *PaymentService) publish(ctx context.Context, evt *pubsub.BillingEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("type", evt.Type).Msg("failed to publish billing event")
	}
}
