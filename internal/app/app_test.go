package app

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
)

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(t.TempDir(), "billing.db"),
		},
		Billing: config.BillingConfig{
			ReconcileQueue: "billing:reconcile",
		},
	}
}

func TestNew_WithoutRedis(t *testing.T) {
	cfg := sqliteConfig(t)

	a, err := New(cfg, Options{Gateway: gateway.NewFake("secret")})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, database.AutoMigrate(a.DB))
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Queue)
	assert.NotNil(t, a.Payments)
	assert.NotNil(t, a.Metrics)

	balance, err := a.Wallet.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestNew_WithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := sqliteConfig(t)
	cfg.Redis = config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr.Port())}

	a, err := New(cfg, Options{Redis: true, Gateway: gateway.NewFake("secret")})
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Redis)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Publisher)
}

func TestNew_InvalidCatalog(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Catalog.Plans = []config.PlanConfig{{ID: "broken", Price: 100}}

	_, err := New(cfg, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load catalog")
}

func TestNew_UnsupportedDriver(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := New(cfg, Options{})
	require.Error(t, err)
}

func mustPort(t *testing.T, port string) int {
	t.Helper()
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return n
}
