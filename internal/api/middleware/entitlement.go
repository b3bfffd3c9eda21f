package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/service"
)

// ConsumeResultKey 本次消耗结果在 gin.Context 中的键
const ConsumeResultKey = "consumeResult"

// RequireEntitlement 在功能处理前消耗一次权益，额度不足时中止请求
func RequireEntitlement(usage *service.UsageService, kind model.EntitlementKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		result, err := usage.Consume(c.Request.Context(), userID, kind)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrEntitlementExhausted):
				response.RejectError(c, response.CodeEntitlementExhausted, service.ReasonCode(err))
			case errors.Is(err, service.ErrNoActiveSubscription):
				response.RejectError(c, response.CodeNoSubscription, service.ReasonCode(err))
			default:
				logging.Ctx(c.Request.Context()).Error().Err(err).
					Int64("user_id", userID).
					Str("kind", string(kind)).
					Msg("entitlement check failed")
				response.ServerError(c, "")
			}
			c.Abort()
			return
		}

		c.Set(ConsumeResultKey, result)
		c.Next()
	}
}

// GetConsumeResult 读取 RequireEntitlement 的消耗结果
func GetConsumeResult(c *gin.Context) (*service.ConsumeResult, bool) {
	v, exists := c.Get(ConsumeResultKey)
	if !exists {
		return nil, false
	}
	r, ok := v.(*service.ConsumeResult)
	return r, ok
}
