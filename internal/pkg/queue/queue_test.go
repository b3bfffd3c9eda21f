package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

func TestNewQueue(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "billing:reconcile")

	assert.NotNil(t, q)
	assert.Equal(t, "billing:reconcile", q.queueName)
}

func TestQueue_PushPop(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "billing:reconcile")
	ctx := context.Background()

	err := q.Push(ctx, &ReconcileMessage{TaskID: 1, PaymentTransactionID: 100, UserID: 10})
	require.NoError(t, err)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(1), msg.TaskID)
	assert.Equal(t, int64(100), msg.PaymentTransactionID)
	assert.Equal(t, int64(10), msg.UserID)
	assert.False(t, msg.EnqueuedAt.IsZero())
}

func TestQueue_FIFO(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_fifo_queue")
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Push(ctx, &ReconcileMessage{TaskID: int64(i)}))
	}

	for i := 1; i <= 3; i++ {
		msg, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, int64(i), msg.TaskID)
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	q := NewQueue(client, "test_empty_queue")

	msg, err := q.Pop(context.Background(), 10*time.Millisecond)
	// miniredis 的 BRPOP 超时行为与真实 redis 略有差异
	if err == nil {
		assert.Nil(t, msg)
	}
}
