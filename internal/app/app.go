package app

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/pkg/gateway"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/repository"
	"github.com/qs3c/billing_server/internal/service"
)

// App 组装好的依赖，供各个命令复用
type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	Catalog *catalog.Catalog
	Metrics *metrics.Metrics

	Queue     *queue.Queue
	Publisher *pubsub.Publisher

	Usage      *service.UsageService
	Wallet     *service.WalletService
	Coupons    *service.CouponService
	Activation *service.ActivationService
	Reconciler *service.ReconciliationService
	Payments   *service.PaymentService
}

// Options 控制可选组件
type Options struct {
	// Redis 为 false 时不连接 Redis，对账只依赖定时扫描
	Redis bool
	// Gateway 为空时使用 Razorpay
	Gateway gateway.Gateway
}

// New 连接数据库与 Redis 并组装服务
func New(cfg *config.Config, opts Options) (*App, error) {
	cat, err := catalog.FromConfig(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	coupons, err := catalog.CouponsFromConfig(cfg.Coupons)
	if err != nil {
		return nil, fmt.Errorf("load coupons: %w", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info().Str("driver", cfg.Database.Driver).Msg("database connected")

	a := &App{
		Config:  cfg,
		DB:      db,
		Catalog: cat,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(registry)

	var reconcileQueue service.ReconcileQueue
	var publisher service.EventPublisher
	if opts.Redis && cfg.Redis.Host != "" {
		rdb, err := database.NewRedis(&cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info().Str("host", cfg.Redis.Host).Msg("redis connected")
		a.Redis = rdb
		a.Queue = queue.NewQueue(rdb, cfg.Billing.ReconcileQueue)
		a.Publisher = pubsub.NewPublisher(rdb)
		reconcileQueue = a.Queue
		publisher = a.Publisher
	}

	gw := opts.Gateway
	if gw == nil {
		if cfg.Gateway.KeyID == "" || cfg.Gateway.KeySecret == "" {
			log.Warn().Msg("gateway credentials not configured, paid checkouts will fail")
		}
		gw = gateway.NewRazorpay(cfg.Gateway)
	}

	subRepo := repository.NewSubscriptionRepository(db)
	addonRepo := repository.NewAddonCreditRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	reconRepo := repository.NewReconciliationRepository(db)

	a.Usage = service.NewUsageService(subRepo, addonRepo, a.Metrics)
	a.Wallet = service.NewWalletService(db, walletRepo, accountRepo)
	a.Coupons = service.NewCouponService(cat, coupons, couponRepo, a.Metrics)
	a.Activation = service.NewActivationService(db, cat, paymentRepo, subRepo, addonRepo, accountRepo, a.Wallet, cfg.Billing)
	a.Reconciler = service.NewReconciliationService(reconRepo, paymentRepo, a.Activation, reconcileQueue, publisher, a.Metrics, cfg.Billing)
	a.Payments = service.NewPaymentService(
		db, cat, paymentRepo, subRepo, accountRepo, walletRepo,
		a.Wallet, a.Coupons, a.Activation, a.Reconciler,
		gw, publisher, a.Metrics, cfg,
	)

	return a, nil
}

// Close 关闭连接
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
