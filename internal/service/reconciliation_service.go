package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/repository"
)

const (
	reconcileBaseDelay = 30 * time.Second
	reconcileMaxDelay  = time.Hour
	// 成功但未发放的支付超过该时长仍无任务时才接管，避免与进行中的回调竞争
	orphanGrace = 5 * time.Minute
)

// ReconcileQueue 对账任务唤醒队列
type ReconcileQueue interface {
	Push(ctx context.Context, msg *queue.ReconcileMessage) error
}

// EventPublisher 计费事件发布
type EventPublisher interface {
	Publish(ctx context.Context, evt *pubsub.BillingEvent) error
}

// ReconciliationService 处理支付成功但发放失败的交易
type ReconciliationService struct {
	repo        *repository.ReconciliationRepository
	paymentRepo *repository.PaymentRepository
	activation  *ActivationService
	queue       ReconcileQueue
	publisher   EventPublisher
	metrics     *metrics.Metrics
	maxAttempts int
	now         func() time.Time
}

// NewReconciliationService queue 和 publisher 可以为 nil
func NewReconciliationService(
	repo *repository.ReconciliationRepository,
	paymentRepo *repository.PaymentRepository,
	activation *ActivationService,
	q ReconcileQueue,
	publisher EventPublisher,
	m *metrics.Metrics,
	cfg config.BillingConfig,
) *ReconciliationService {
	maxAttempts := cfg.MaxReconcileAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &ReconciliationService{
		repo:        repo,
		paymentRepo: paymentRepo,
		activation:  activation,
		queue:       q,
		publisher:   publisher,
		metrics:     m,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue 登记补偿任务并唤醒 worker；同一交易只登记一次
func (s *ReconciliationService) Enqueue(ctx context.Context, payment *model.PaymentTransaction, cause error) (*model.ReconciliationTask, error) {
	now := s.now()
	task := &model.ReconciliationTask{
		PaymentTransactionID: payment.ID,
		UserID:               payment.UserID,
		Status:               model.ReconcilePending,
		NextAttemptAt:        now,
	}
	if cause != nil {
		task.LastError = cause.Error()
	}

	created, err := s.repo.Enqueue(ctx, task)
	if err != nil {
		return nil, err
	}
	if !created {
		return s.repo.GetByPayment(ctx, payment.ID)
	}

	logging.Alert(ctx).
		Err(&ReconciliationError{TransactionID: payment.ID, Err: cause}).
		Int64("user_id", payment.UserID).
		Int64("task_id", task.ID).
		Msg("activation failed after payment success, reconciliation queued")
	s.metrics.Reconciliation("queued")

	s.wake(ctx, task)
	s.publish(ctx, &pubsub.BillingEvent{
		Type:                 pubsub.EventReconciliationQueued,
		UserID:               payment.UserID,
		PaymentTransactionID: payment.ID,
		PlanID:               payment.PlanIDValue(),
		Amount:               payment.FinalAmount,
		Reason:               task.LastError,
	})
	return task, nil
}

// Process 重试一次任务；成功返回 nil，失败按退避重新排期，超过上限后标记 failed
func (s *ReconciliationService) Process(ctx context.Context, taskID int64) error {
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logging.Ctx(ctx).Warn().Int64("task_id", taskID).Msg("reconciliation task not found")
			return nil
		}
		return err
	}
	if task.Status != model.ReconcilePending {
		return nil
	}

	log := logging.Ctx(ctx).With().
		Int64("task_id", task.ID).
		Int64("payment_transaction_id", task.PaymentTransactionID).
		Int64("user_id", task.UserID).
		Logger()

	result, actErr := s.activation.Activate(ctx, task.PaymentTransactionID)
	if actErr == nil {
		if err := s.repo.MarkResolved(ctx, task.ID, s.now()); err != nil {
			return err
		}
		s.metrics.Reconciliation("resolved")
		log.Info().Int("attempts", task.Attempts+1).Msg("reconciliation resolved")

		evt := &pubsub.BillingEvent{
			Type:                 pubsub.EventReconciliationResolved,
			UserID:               task.UserID,
			PaymentTransactionID: task.PaymentTransactionID,
		}
		if result.Subscription != nil {
			evt.SubscriptionID = result.Subscription.ID
			evt.PlanID = result.Subscription.PlanID
		}
		s.publish(ctx, evt)
		return nil
	}

	recErr := &ReconciliationError{TransactionID: task.PaymentTransactionID, Err: actErr}
	attempts := task.Attempts + 1
	if attempts >= s.maxAttempts {
		if err := s.repo.MarkFailed(ctx, task.ID, actErr.Error()); err != nil {
			return err
		}
		s.metrics.Reconciliation("failed")
		logging.Alert(ctx).
			Err(recErr).
			Int64("task_id", task.ID).
			Int64("user_id", task.UserID).
			Int("attempts", attempts).
			Msg("reconciliation gave up, manual handling required")
		return recErr
	}

	next := s.now().Add(backoff(attempts))
	if err := s.repo.RecordAttempt(ctx, task.ID, actErr.Error(), next); err != nil {
		return err
	}
	s.metrics.Reconciliation("retry")
	log.Warn().Err(actErr).Int("attempts", attempts).Time("next_attempt_at", next).Msg("reconciliation attempt failed")
	return recErr
}

// AdoptUnactivated 为已成功但未发放、且没有补偿任务的支付登记任务
func (s *ReconciliationService) AdoptUnactivated(ctx context.Context, limit int) (int, error) {
	payments, err := s.paymentRepo.ListUnactivated(ctx, s.now().Add(-orphanGrace), limit)
	if err != nil {
		return 0, err
	}
	for i, p := range payments {
		if _, err := s.Enqueue(ctx, p, ErrActivationInterrupted); err != nil {
			return i, err
		}
	}
	return len(payments), nil
}

// RescanDue 接管中断的发放，再将到期任务重新推入队列；没有队列时直接处理
func (s *ReconciliationService) RescanDue(ctx context.Context, limit int) (int, error) {
	if s.queue == nil {
		resolved, _, err := s.RunDue(ctx, limit)
		return resolved, err
	}
	if _, err := s.AdoptUnactivated(ctx, limit); err != nil {
		return 0, err
	}
	tasks, err := s.repo.ListDue(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	for _, task := range tasks {
		s.wake(ctx, task)
	}
	return len(tasks), nil
}

// RunDue 同步处理所有到期任务，返回 (resolved, failed)
func (s *ReconciliationService) RunDue(ctx context.Context, limit int) (int, int, error) {
	if _, err := s.AdoptUnactivated(ctx, limit); err != nil {
		return 0, 0, err
	}
	tasks, err := s.repo.ListDue(ctx, s.now(), limit)
	if err != nil {
		return 0, 0, err
	}

	var resolved, failed int
	for _, task := range tasks {
		if ctx.Err() != nil {
			return resolved, failed, ctx.Err()
		}
		err := s.Process(ctx, task.ID)
		var recErr *ReconciliationError
		switch {
		case err == nil:
			resolved++
		case errors.As(err, &recErr):
			failed++
		default:
			return resolved, failed, err
		}
	}
	return resolved, failed, nil
}

// PendingCount 待处理任务数
func (s *ReconciliationService) PendingCount(ctx context.Context) (int64, error) {
	return s.repo.CountByStatus(ctx, model.ReconcilePending)
}

func (s *ReconciliationService) wake(ctx context.Context, task *model.ReconciliationTask) {
	if s.queue == nil {
		return
	}
	err := s.queue.Push(ctx, &queue.ReconcileMessage{
		TaskID:               task.ID,
		PaymentTransactionID: task.PaymentTransactionID,
		UserID:               task.UserID,
	})
	if err != nil {
		// 任务已持久化，由定时扫描兜底
		logging.Ctx(ctx).Warn().Err(err).Int64("task_id", task.ID).Msg("failed to push reconciliation task")
	}
}

func (s *ReconciliationService) publish(ctx context.Context, evt *pubsub.BillingEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("type", evt.Type).Msg("failed to publish billing event")
	}
}

// backoff 30s 起指数退避，最多 1 小时
func backoff(attempts int) time.Duration {
	d := reconcileBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= reconcileMaxDelay {
			return reconcileMaxDelay
		}
	}
	return d
}
