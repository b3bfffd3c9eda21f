package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingEvent_JSON(t *testing.T) {
	evt := &BillingEvent{
		Type:                 EventPaymentActivated,
		UserID:               1,
		PaymentTransactionID: 2,
		PlanID:               "lite_check",
		Amount:               9900,
	}

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "payment.activated", raw["type"])
	assert.Equal(t, float64(2), raw["payment_transaction_id"])
	_, hasReason := raw["reason"]
	assert.False(t, hasReason)
	_, hasSub := raw["subscription_id"]
	assert.False(t, hasSub)
}

func TestPublisherSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *BillingEvent, 1)
	go func() {
		_ = subscriber.Subscribe(ctx, func(evt *BillingEvent) {
			received <- evt
		})
	}()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) > 0
	}, time.Second, 10*time.Millisecond)

	err = publisher.Publish(ctx, &BillingEvent{
		Type:                 EventPaymentFailed,
		UserID:               7,
		PaymentTransactionID: 99,
		Reason:               "user_cancelled",
	})
	require.NoError(t, err)

	select {
	case evt := <-received:
		assert.Equal(t, EventPaymentFailed, evt.Type)
		assert.Equal(t, int64(7), evt.UserID)
		assert.Equal(t, "user_cancelled", evt.Reason)
		assert.False(t, evt.OccurredAt.IsZero())
	case <-ctx.Done():
		t.Fatal("Timeout waiting for event")
	}
}
