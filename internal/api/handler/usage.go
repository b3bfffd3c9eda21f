package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/billing_server/internal/api/middleware"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/service"
)

type UsageHandler struct {
	usageService *service.UsageService
}

func NewUsageHandler(usageService *service.UsageService) *UsageHandler {
	return &UsageHandler{
		usageService: usageService,
	}
}

// Summary 当前用户权益概览
// GET /api/v1/usage
func (h *UsageHandler) Summary(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	summary, err := h.usageService.Summary(c.Request.Context(), userID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, summary)
}

// Consume 消耗一次权益
// POST /api/v1/usage/consume
func (h *UsageHandler) Consume(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	result, err := h.usageService.Consume(c.Request.Context(), userID, model.EntitlementKind(req.Kind))
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, result)
}

// Granted 权益已由 RequireEntitlement 扣减，返回扣减结果
// POST /api/v1/features/:kind
func (h *UsageHandler) Granted(c *gin.Context) {
	result, ok := middleware.GetConsumeResult(c)
	if !ok {
		response.ServerError(c, "")
		return
	}
	response.Success(c, result)
}
