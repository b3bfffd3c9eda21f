package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/service"
)

// renderServiceError 按错误分类输出响应
func renderServiceError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	reason := service.ReasonCode(err)

	switch service.Category(err) {
	case service.CategoryConfiguration:
		logging.Alert(ctx).Err(err).Str("path", c.FullPath()).Msg("billing configuration error")
		response.ConfigError(c)
	case service.CategoryGateway:
		logging.Ctx(ctx).Warn().Err(err).Str("reason", reason).Msg("gateway error")
		response.GatewayError(c, reason, service.IsRetryable(err))
	case service.CategoryReconciliation:
		response.RejectError(c, response.CodePaymentProcessing, reason)
	case service.CategoryExhaustion:
		response.RejectError(c, response.CodeEntitlementExhausted, reason)
	case service.CategoryValidation:
		renderValidationError(c, err, reason)
	default:
		logging.Ctx(ctx).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		response.ServerError(c, "")
	}
}

func renderValidationError(c *gin.Context, err error, reason string) {
	switch {
	case errors.Is(err, service.ErrCouponNotFound),
		errors.Is(err, service.ErrCouponNotApplicable),
		errors.Is(err, service.ErrCouponExhausted):
		response.RejectError(c, response.CodeCouponRejected, reason)
	case errors.Is(err, service.ErrNoActiveSubscription):
		response.RejectError(c, response.CodeNoSubscription, reason)
	case errors.Is(err, service.ErrTrialNotEligible):
		response.RejectError(c, response.CodeDuplicateAction, reason)
	case errors.Is(err, service.ErrPaymentNotFound):
		response.NotFoundError(c, "支付记录不存在")
	case errors.Is(err, service.ErrPaymentNotPending):
		response.RejectError(c, response.CodeDuplicateAction, reason)
	case errors.Is(err, service.ErrOrderMismatch):
		response.RejectError(c, response.CodePermissionDenied, reason)
	default:
		response.ErrorWithData(c, response.CodeParamError, err.Error(), response.Reason{Reason: reason})
	}
}
