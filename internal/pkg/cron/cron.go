package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/logging"
)

const (
	rescanBatch = 100
	staleBatch  = 200
)

// ExpirySweeper 过期订阅清理
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// ReconcileScanner 扫描到期的对账任务
type ReconcileScanner interface {
	RescanDue(ctx context.Context, limit int) (int, error)
}

// StaleExpirer 结束长时间停留在 pending 的支付
type StaleExpirer interface {
	ExpireStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Service 计费定时任务
type Service struct {
	cron       *cron.Cron
	sweeper    ExpirySweeper
	scanner    ReconcileScanner
	stale      StaleExpirer
	staleAfter time.Duration
}

// NewService 按配置注册任务；任意 cron 表达式无效时返回错误
func NewService(sweeper ExpirySweeper, scanner ReconcileScanner, stale StaleExpirer, cfg config.BillingConfig) (*Service, error) {
	logger := cron.PrintfLogger(&log.Logger)
	s := &Service{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		sweeper:    sweeper,
		scanner:    scanner,
		stale:      stale,
		staleAfter: cfg.StalePendingAfter(),
	}

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{"expiry_sweep", cfg.ExpirySweepCron, s.sweepExpired},
		{"reconcile_rescan", cfg.ReconcileRescanCron, s.rescanReconciliation},
		{"stale_pending", cfg.StalePendingCron, s.expireStale},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.run(job.name, job.fn) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}

	return s, nil
}

// Start 启动定时任务
func (s *Service) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("cron service started")
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("cron service stopped")
}

// Entries 已注册任务数
func (s *Service) Entries() int {
	return len(s.cron.Entries())
}

// RunNow 立即执行所有任务（用于命令行或测试）
func (s *Service) RunNow(ctx context.Context) {
	s.sweepExpired(ctx)
	s.rescanReconciliation(ctx)
	s.expireStale(ctx)
}

func (s *Service) run(name string, fn func(context.Context)) {
	ctx, _ := logging.WithRequestID(context.Background(), "cron-"+name+"-"+time.Now().UTC().Format("20060102T150405"))
	fn(ctx)
}

func (s *Service) sweepExpired(ctx context.Context) {
	if s.sweeper == nil {
		return
	}
	if _, err := s.sweeper.SweepExpired(ctx); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("expiry sweep failed")
	}
}

func (s *Service) rescanReconciliation(ctx context.Context) {
	if s.scanner == nil {
		return
	}
	n, err := s.scanner.RescanDue(ctx, rescanBatch)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("reconciliation rescan failed")
		return
	}
	if n > 0 {
		logging.Ctx(ctx).Info().Int("count", n).Msg("reconciliation tasks rescheduled")
	}
}

func (s *Service) expireStale(ctx context.Context) {
	if s.stale == nil {
		return
	}
	n, err := s.stale.ExpireStalePending(ctx, s.staleAfter, staleBatch)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("stale pending cleanup failed")
		return
	}
	if n > 0 {
		logging.Ctx(ctx).Info().Int("count", n).Msg("stale pending payments resolved")
	}
}
