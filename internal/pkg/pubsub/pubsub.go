package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelBillingEvents = "billing_events"
)

// 事件类型
const (
	EventPaymentActivated       = "payment.activated"
	EventPaymentFailed          = "payment.failed"
	EventReconciliationQueued   = "payment.reconciliation_queued"
	EventReconciliationResolved = "payment.reconciliation_resolved"
)

// BillingEvent 计费事件
type BillingEvent struct {
	Type                 string    `json:"type"`
	UserID               int64     `json:"user_id"`
	PaymentTransactionID int64     `json:"payment_transaction_id"`
	SubscriptionID       int64     `json:"subscription_id,omitempty"`
	PlanID               string    `json:"plan_id,omitempty"`
	Amount               int64     `json:"amount"`
	Reason               string    `json:"reason,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish 发布计费事件
func (p *Publisher) Publish(ctx context.Context, evt *BillingEvent) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event: %w", err)
	}

	return p.client.Publish(ctx, ChannelBillingEvents, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅计费事件，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*BillingEvent)) error {
	pubsub := s.client.Subscribe(ctx, ChannelBillingEvents)
	defer pubsub.Close()

	// 等待订阅确认
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var evt BillingEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue // 忽略解析错误
			}

			handler(&evt)
		}
	}
}
