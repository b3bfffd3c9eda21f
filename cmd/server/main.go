package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/api"
	"github.com/qs3c/billing_server/internal/api/handler"
	"github.com/qs3c/billing_server/internal/app"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/pkg/ws"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log, "server")

	a, err := app.New(cfg, app.Options{Redis: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	if err := database.AutoMigrate(a.DB); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// 初始化 Handler
	catalogHandler := handler.NewCatalogHandler(a.Catalog)
	billingHandler := handler.NewBillingHandler(a.Payments, a.Coupons)
	usageHandler := handler.NewUsageHandler(a.Usage)
	walletHandler := handler.NewWalletHandler(a.Wallet, a.Catalog.Currency())

	// 计费事件推送
	hub := ws.NewHub()
	notifyHandler := handler.NewNotificationHandler(hub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins)

	subCtx, stopSub := context.WithCancel(context.Background())
	defer stopSub()
	if a.Redis != nil {
		go func() {
			if err := pubsub.NewSubscriber(a.Redis).Subscribe(subCtx, hub.ForwardEvent); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("billing event subscription stopped")
			}
		}()
	}

	// 初始化 Router
	router := api.NewRouter(
		catalogHandler,
		billingHandler,
		usageHandler,
		walletHandler,
		notifyHandler,
		a.Usage,
		a.Metrics,
		cfg,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("policy", cfg.Billing.Policy()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	stopSub()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("server stopped")
}
