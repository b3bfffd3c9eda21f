package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/billing_server/internal/api/middleware"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/service"
)

// IdempotencyKeyHeader 下单幂等键请求头
const IdempotencyKeyHeader = "Idempotency-Key"

type BillingHandler struct {
	paymentService *service.PaymentService
	couponService  *service.CouponService
}

func NewBillingHandler(paymentService *service.PaymentService, couponService *service.CouponService) *BillingHandler {
	return &BillingHandler{
		paymentService: paymentService,
		couponService:  couponService,
	}
}

func toCheckoutRequest(req dto.QuoteRequest) service.CheckoutRequest {
	return service.CheckoutRequest{
		PlanID:     req.PlanID,
		AddOns:     model.AddOnSelection(req.AddOns),
		CouponCode: req.CouponCode,
		UseWallet:  req.UseWallet,
	}
}

func toQuoteInfo(q *service.Quote) *dto.QuoteInfo {
	if q == nil {
		return nil
	}
	return &dto.QuoteInfo{
		PlanID:          q.PlanID,
		PurchaseType:    q.PurchaseType,
		Currency:        q.Currency,
		PlanPrice:       q.PlanPrice,
		CouponCode:      q.CouponCode,
		Discount:        q.Discount,
		PlanAfterCoupon: q.PlanAfterCoupon,
		WalletAvailable: q.WalletAvailable,
		WalletDeduction: q.WalletDeduction,
		AddOnsTotal:     q.AddOnsTotal,
		GrossAmount:     q.GrossAmount,
		GrandTotal:      q.GrandTotal,
	}
}

func toCheckoutResponse(result *service.CheckoutResult) *dto.CheckoutResponse {
	resp := &dto.CheckoutResponse{
		Quote:         toQuoteInfo(result.Quote),
		FreeActivated: result.FreeActivated,
		Replayed:      result.Replayed,
	}
	if p := result.Transaction; p != nil {
		resp.TransactionID = p.ID
		resp.Status = p.Status
		resp.SubscriptionID = p.SubscriptionID
	}
	if o := result.Order; o != nil {
		resp.Order = &dto.OrderInfo{
			OrderID:  o.ID,
			Amount:   o.Amount,
			Currency: o.Currency,
			KeyID:    o.KeyID,
		}
	}
	return resp
}

func transactionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的交易ID")
		return 0, false
	}
	return id, true
}

// Quote 报价，不落库
// POST /api/v1/billing/quote
func (h *BillingHandler) Quote(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	quote, err := h.paymentService.Quote(c.Request.Context(), userID, toCheckoutRequest(req))
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, toQuoteInfo(quote))
}

// PreviewCoupon 校验优惠码并返回折扣，不占用名额
// POST /api/v1/billing/coupons/preview
func (h *BillingHandler) PreviewCoupon(c *gin.Context) {
	var req dto.CouponPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.couponService.Preview(c.Request.Context(), req.PlanID, req.Code)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// Checkout 下单
// POST /api/v1/billing/checkout
func (h *BillingHandler) Checkout(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	checkout := toCheckoutRequest(req.QuoteRequest)
	checkout.IdempotencyKey = req.IdempotencyKey
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		checkout.IdempotencyKey = key
	}
	if len(checkout.IdempotencyKey) > 100 {
		response.ParamError(c, "幂等键过长")
		return
	}

	result, err := h.paymentService.Checkout(c.Request.Context(), userID, checkout)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, toCheckoutResponse(result))
}

// RetryOrder 为待支付的交易重新创建网关订单
// POST /api/v1/billing/transactions/:id/order
func (h *BillingHandler) RetryOrder(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	id, ok := transactionID(c)
	if !ok {
		return
	}

	result, err := h.paymentService.RetryOrder(c.Request.Context(), userID, id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, toCheckoutResponse(result))
}

// Verify 校验网关支付回调并发放权益
// POST /api/v1/billing/verify
func (h *BillingHandler) Verify(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.paymentService.Verify(c.Request.Context(), userID, service.VerifyRequest{
		TransactionID: req.TransactionID,
		OrderID:       req.OrderID,
		PaymentID:     req.PaymentID,
		Signature:     req.Signature,
	})
	if err != nil {
		renderServiceError(c, err)
		return
	}

	resp := dto.VerifyResponse{
		TransactionID:        result.Transaction.ID,
		Status:               result.Transaction.Status,
		SubscriptionID:       result.Transaction.SubscriptionID,
		AlreadyVerified:      result.AlreadyVerified,
		ReconciliationQueued: result.ReconciliationQueued,
	}
	if resp.ReconciliationQueued {
		response.ErrorWithData(c, response.CodePaymentProcessing, "", resp)
		return
	}

	response.Success(c, resp)
}

// Cancel 用户关闭支付窗口
// POST /api/v1/billing/transactions/:id/cancel
func (h *BillingHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	id, ok := transactionID(c)
	if !ok {
		return
	}

	if err := h.paymentService.Cancel(c.Request.Context(), userID, id); err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, nil)
}

// FreeTrial 领取免费试用
// POST /api/v1/billing/free-trial
func (h *BillingHandler) FreeTrial(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	result, err := h.paymentService.ActivateFreeTrial(c.Request.Context(), userID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// ListTransactions 支付记录列表
// GET /api/v1/billing/transactions
func (h *BillingHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, pageSize := pagination(c)

	payments, total, err := h.paymentService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	items := make([]dto.TransactionInfo, 0, len(payments))
	for _, p := range payments {
		items = append(items, dto.NewTransactionInfo(p))
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// GetTransaction 支付记录详情
// GET /api/v1/billing/transactions/:id
func (h *BillingHandler) GetTransaction(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	id, ok := transactionID(c)
	if !ok {
		return
	}

	payment, err := h.paymentService.GetTransaction(c.Request.Context(), userID, id)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, dto.NewTransactionInfo(payment))
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
