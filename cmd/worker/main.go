package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/app"
	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/pkg/cron"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/worker"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Log, "worker")

	a, err := app.New(cfg, app.Options{Redis: true})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	scheduler, err := cron.NewService(a.Usage, a.Reconciler, a.Payments, cfg.Billing)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid cron schedule")
	}

	// 创建 context 用于优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	scheduler.Start()
	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	if a.Queue != nil {
		reconciler := worker.NewReconciler(a.Queue, a.Reconciler, cfg.Billing.ReconcileWorkers)
		g.Go(func() error {
			return reconciler.Run(gctx)
		})

		subscriber := pubsub.NewSubscriber(a.Redis)
		g.Go(func() error {
			return subscriber.Subscribe(gctx, worker.LogEvent)
		})
	} else {
		log.Warn().Msg("redis not configured, reconciliation runs on the rescan schedule only")
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("worker shutdown complete")
}
