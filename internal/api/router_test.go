package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/api/handler"
	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/response"
)

func setupEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWT:  config.JWTConfig{Secret: "router-secret", ExpireHours: 1},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	r := NewRouter(
		handler.NewCatalogHandler(catalog.Default()),
		nil, nil, nil, nil, nil,
		metrics.NewNop(),
		cfg,
	)
	return r.Setup()
}

func TestRouter_PublicCatalog(t *testing.T) {
	engine := setupEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/catalog", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.CodeSuccess, resp.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_RequiresAuth(t *testing.T) {
	engine := setupEngine(t)

	for _, path := range []string{"/api/v1/usage", "/api/v1/wallet", "/api/v1/billing/transactions"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest("GET", path, nil))

		var resp response.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, response.CodeAuthFailed, resp.Code, path)
	}
}

func TestRouter_Metrics(t *testing.T) {
	engine := setupEngine(t)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/catalog", nil))

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "http_requests_total"))
}
