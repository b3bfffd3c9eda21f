package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/response"
)

type CatalogHandler struct {
	catalog *catalog.Catalog
}

func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{
		catalog: cat,
	}
}

// List 获取计划与加购项目录
// GET /api/v1/catalog
func (h *CatalogHandler) List(c *gin.Context) {
	resp := dto.CatalogResponse{
		Currency: h.catalog.Currency(),
		Plans:    make([]dto.PlanInfo, 0),
		AddOns:   make([]dto.AddOnInfo, 0),
	}

	for _, p := range h.catalog.Plans() {
		resp.Plans = append(resp.Plans, dto.PlanInfo{
			ID:            p.ID,
			Name:          p.Name,
			Price:         p.Price,
			ValidityHours: p.ValidityHours(),
			Entitlements:  p.Entitlements,
			Tag:           p.Tag,
			Popular:       p.Popular,
		})
	}
	for _, a := range h.catalog.AddOns() {
		resp.AddOns = append(resp.AddOns, dto.AddOnInfo{
			ID:       a.ID,
			Name:     a.Name,
			Price:    a.Price,
			Kind:     string(a.Kind),
			Quantity: a.Quantity,
		})
	}

	response.Success(c, resp)
}
