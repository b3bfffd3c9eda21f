package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/qs3c/billing_server/config"
)

var (
	ErrTimeout         = errors.New("gateway: request timed out")
	ErrInvalidResponse = errors.New("gateway: invalid order response")
)

// OrderRequest 网关下单请求；Receipt 由支付记录生成，下单前按 Receipt 查找已有订单
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order 网关返回的订单
type Order struct {
	ID       string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

// 订单在网关侧的支付状态
const (
	OrderUnpaid     = "unpaid"
	OrderAuthorized = "authorized"
	OrderCaptured   = "captured"
)

// OrderPayment 订单的支付情况；Status 为 unpaid 时 PaymentID 为空
type OrderPayment struct {
	OrderID   string
	Status    string
	PaymentID string
}

// Gateway 支付网关
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchOrderPayment(ctx context.Context, orderID string) (*OrderPayment, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// Sign 计算 Razorpay 支付签名：HMAC-SHA256(orderID|paymentID)
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 常量时间比较签名
func Verify(secret, orderID, paymentID, signature string) bool {
	if secret == "" || orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := Sign(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	All(queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Payments(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay 基于 razorpay-go 的网关实现
type Razorpay struct {
	orders  orderAPI
	keyID   string
	secret  string
	timeout time.Duration
}

func NewRazorpay(cfg config.GatewayConfig) *Razorpay {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return &Razorpay{
		orders:  client.Order,
		keyID:   cfg.KeyID,
		secret:  cfg.KeySecret,
		timeout: cfg.Timeout(),
	}
}

// call 在超时内执行一次 SDK 调用，超时返回 ErrTimeout（请求可能已在网关侧生效）
func (g *Razorpay) call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	case res := <-done:
		return res.body, res.err
	}
}

// CreateOrder 下单；同一 Receipt 已有金额一致的订单时直接复用
// Razorpay 不保证 receipt 唯一，超时后重试需要先查再建
func (g *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}

	body, err := g.call(ctx, func() (map[string]interface{}, error) {
		if req.Receipt != "" {
			existing, err := g.orders.All(map[string]interface{}{"receipt": req.Receipt}, nil)
			if err != nil {
				return nil, fmt.Errorf("razorpay list orders: %w", err)
			}
			if found := matchOrder(existing, req); found != nil {
				return found, nil
			}
		}
		body, err := g.orders.Create(data, nil)
		if err != nil {
			return nil, fmt.Errorf("razorpay create order: %w", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return g.parseOrder(body)
}

// matchOrder 在订单列表中查找同一 receipt、同一金额的订单
func matchOrder(list map[string]interface{}, req OrderRequest) map[string]interface{} {
	for _, item := range items(list) {
		receipt, _ := item["receipt"].(string)
		if receipt != req.Receipt {
			continue
		}
		amount, ok := toInt64(item["amount"])
		if !ok || amount != req.Amount {
			continue
		}
		return item
	}
	return nil
}

// FetchOrderPayment 查询订单下的支付，captured 优先于 authorized
func (g *Razorpay) FetchOrderPayment(ctx context.Context, orderID string) (*OrderPayment, error) {
	body, err := g.call(ctx, func() (map[string]interface{}, error) {
		body, err := g.orders.Payments(orderID, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("razorpay order payments: %w", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	result := &OrderPayment{OrderID: orderID, Status: OrderUnpaid}
	for _, item := range items(body) {
		id, _ := item["id"].(string)
		status, _ := item["status"].(string)
		switch status {
		case OrderCaptured:
			return &OrderPayment{OrderID: orderID, Status: OrderCaptured, PaymentID: id}, nil
		case OrderAuthorized:
			result.Status = OrderAuthorized
			result.PaymentID = id
		}
	}
	return result, nil
}

func items(body map[string]interface{}) []map[string]interface{} {
	raw, _ := body["items"].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func (g *Razorpay) parseOrder(body map[string]interface{}) (*Order, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, ErrInvalidResponse
	}
	currency, _ := body["currency"].(string)

	amount, ok := toInt64(body["amount"])
	if !ok {
		return nil, ErrInvalidResponse
	}

	return &Order{ID: id, Amount: amount, Currency: currency, KeyID: g.keyID}, nil
}

func (g *Razorpay) VerifySignature(orderID, paymentID, signature string) bool {
	return Verify(g.secret, orderID, paymentID, signature)
}
