package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/internal/pkg/pubsub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// connect 启动一个把连接注册到 hub 的测试服务器，返回客户端连接
func connect(t *testing.T, hub *Hub, userID int64) *websocket.Conn {
	t.Helper()

	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &Client{UserID: userID, Conn: conn}
		hub.Register(client)
		close(registered)
		go func() {
			defer hub.Unregister(client)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("client was not registered")
	}
	return conn
}

func TestHub_Empty(t *testing.T) {
	hub := NewHub()

	assert.Equal(t, 0, hub.ConnectionCount())
	assert.False(t, hub.IsOnline(123))
	assert.NoError(t, hub.SendToUser(123, &Message{Type: "test"}))
}

func TestHub_SendToUser(t *testing.T) {
	hub := NewHub()
	conn := connect(t, hub, 7)

	assert.True(t, hub.IsOnline(7))
	assert.Equal(t, 1, hub.ConnectionCount())

	require.NoError(t, hub.SendToUser(7, &Message{Type: "ping", Data: map[string]int{"n": 1}}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "ping", msg.Type)
}

func TestHub_ForwardEvent(t *testing.T) {
	hub := NewHub()
	conn := connect(t, hub, 9)

	hub.ForwardEvent(&pubsub.BillingEvent{
		Type:                 pubsub.EventPaymentActivated,
		UserID:               9,
		PaymentTransactionID: 31,
	})
	// 其他用户的事件不会送达
	hub.ForwardEvent(&pubsub.BillingEvent{Type: pubsub.EventPaymentFailed, UserID: 10})
	hub.ForwardEvent(nil)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string              `json:"type"`
		Data pubsub.BillingEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, pubsub.EventPaymentActivated, msg.Type)
	assert.Equal(t, int64(31), msg.Data.PaymentTransactionID)
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	conn := connect(t, hub, 11)

	conn.Close()

	assert.Eventually(t, func() bool {
		return !hub.IsOnline(11)
	}, 2*time.Second, 20*time.Millisecond)
}
