package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/service"
)

const defaultPopTimeout = 5 * time.Second

// TaskSource 对账唤醒消息来源
type TaskSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.ReconcileMessage, error)
}

// TaskProcessor 执行一次对账
type TaskProcessor interface {
	Process(ctx context.Context, taskID int64) error
}

// Reconciler 从队列消费对账任务
type Reconciler struct {
	source     TaskSource
	processor  TaskProcessor
	workers    int
	popTimeout time.Duration
}

// NewReconciler 创建对账 worker，workers 小于 1 时按 1 处理
func NewReconciler(source TaskSource, processor TaskProcessor, workers int) *Reconciler {
	if workers < 1 {
		workers = 1
	}
	return &Reconciler{
		source:     source,
		processor:  processor,
		workers:    workers,
		popTimeout: defaultPopTimeout,
	}
}

// Run 阻塞运行直到 ctx 取消
func (r *Reconciler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		workerID := i
		g.Go(func() error {
			r.loop(gctx, workerID)
			return nil
		})
	}
	logging.Ctx(ctx).Info().Int("workers", r.workers).Msg("reconciliation worker started")
	return g.Wait()
}

func (r *Reconciler) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			logging.Ctx(ctx).Info().Int("worker", workerID).Msg("reconciliation worker shutting down")
			return
		default:
		}

		msg, err := r.source.Pop(ctx, r.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Ctx(ctx).Error().Err(err).Int("worker", workerID).Msg("failed to pop reconciliation task")
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		r.Handle(ctx, msg)
	}
}

// Handle 处理一条消息；失败时任务已在数据库中记录重试时间
func (r *Reconciler) Handle(ctx context.Context, msg *queue.ReconcileMessage) {
	ctx, _ = logging.WithRequestID(ctx, "")
	log := logging.Ctx(ctx)

	err := r.processor.Process(ctx, msg.TaskID)
	if err == nil {
		log.Info().
			Int64("task_id", msg.TaskID).
			Int64("payment_transaction_id", msg.PaymentTransactionID).
			Msg("reconciliation task processed")
		return
	}

	var recErr *service.ReconciliationError
	if errors.As(err, &recErr) {
		log.Warn().Err(err).Int64("task_id", msg.TaskID).Msg("reconciliation attempt failed")
		return
	}
	log.Error().Err(err).Int64("task_id", msg.TaskID).Msg("reconciliation task error")
}

// LogEvent 输出计费事件，供订阅方排查
func LogEvent(evt *pubsub.BillingEvent) {
	logging.Ctx(context.Background()).Info().
		Str("type", evt.Type).
		Int64("user_id", evt.UserID).
		Int64("payment_transaction_id", evt.PaymentTransactionID).
		Int64("subscription_id", evt.SubscriptionID).
		Str("plan_id", evt.PlanID).
		Str("reason", evt.Reason).
		Msg("billing event")
}
