package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/billing_server/internal/api/middleware"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/service"
)

type WalletHandler struct {
	walletService *service.WalletService
	currency      string
}

func NewWalletHandler(walletService *service.WalletService, currency string) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		currency:      currency,
	}
}

// Balance 钱包余额与可用额
// GET /api/v1/wallet
func (h *WalletHandler) Balance(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	ctx := c.Request.Context()
	balance, err := h.walletService.Balance(ctx, userID)
	if err != nil {
		renderServiceError(c, err)
		return
	}
	available, err := h.walletService.Available(ctx, userID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.Success(c, dto.WalletBalanceResponse{
		Balance:   balance,
		Available: available,
		Currency:  h.currency,
	})
}

// List 钱包流水
// GET /api/v1/wallet/transactions
func (h *WalletHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, pageSize := pagination(c)

	items, total, err := h.walletService.List(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}
