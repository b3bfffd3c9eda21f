package handler

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/testutil"
)

func usageRouter(ctx *testContext, userID int64) *gin.Engine {
	router := gin.New()
	router.Use(mockAuth(userID))
	router.GET("/usage", ctx.Usage.Summary)
	router.POST("/usage/consume", ctx.Usage.Consume)
	return router
}

func TestUsageHandler_Consume(t *testing.T) {
	ctx := setupHandlers(t)
	testutil.TestSubscription(t, ctx.DB, 1)
	router := usageRouter(ctx, 1)

	w := performRequest(router, "POST", "/usage/consume", dto.ConsumeRequest{Kind: "score_check"})

	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := dataMap(t, resp)
	assert.Equal(t, "subscription", data["source"])
	assert.Equal(t, float64(9), data["remaining"])
}

func TestUsageHandler_Consume_Rejections(t *testing.T) {
	ctx := setupHandlers(t)
	testutil.TestSubscription(t, ctx.DB, 1, testutil.WithUsed(model.KindGuidedBuild, 1))
	router := usageRouter(ctx, 1)

	tests := []struct {
		name   string
		userID int64
		kind   string
		code   int
		reason string
	}{
		{"exhausted", 1, "guided_build", response.CodeEntitlementExhausted, "exhausted"},
		{"no subscription", 2, "optimization", response.CodeNoSubscription, "no_subscription"},
		{"unknown kind", 1, "résumé_magic", response.CodeParamError, "unknown_kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(usageRouter(ctx, tt.userID), "POST", "/usage/consume", dto.ConsumeRequest{Kind: tt.kind})
			resp := parseResponse(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.reason, dataMap(t, resp)["reason"])
		})
	}

	w := performRequest(router, "POST", "/usage/consume", map[string]string{})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)
}

func TestUsageHandler_Summary(t *testing.T) {
	ctx := setupHandlers(t)
	testutil.TestSubscription(t, ctx.DB, 1, testutil.WithUsed(model.KindOptimization, 4))
	testutil.TestAddonCredit(t, ctx.DB, 1, model.KindOptimization, 3)
	router := usageRouter(ctx, 1)

	w := performRequest(router, "GET", "/usage", nil)

	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	kinds, ok := dataMap(t, resp)["kinds"].(map[string]interface{})
	require.True(t, ok)
	opt, ok := kinds["optimization"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(4), opt["used"])
	assert.Equal(t, float64(6), opt["remaining"])
	assert.Equal(t, float64(3), opt["addon_remaining"])
}
