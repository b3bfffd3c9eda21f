package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake 内存网关，供测试和本地开发使用；同一 Receipt 返回同一订单
type Fake struct {
	Secret string
	KeyID  string
	Delay  time.Duration
	Err    error
	// LookupErr FetchOrderPayment 返回的错误
	LookupErr error

	mu        sync.Mutex
	seq       int
	byReceipt map[string]*Order
	payments  map[string]*OrderPayment
	Requests  []OrderRequest
}

func NewFake(secret string) *Fake {
	return &Fake{
		Secret:    secret,
		KeyID:     "rzp_test_fake",
		byReceipt: make(map[string]*Order),
		payments:  make(map[string]*OrderPayment),
	}
}

func (f *Fake) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-time.After(f.Delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return nil, f.Err
	}
	if o, ok := f.byReceipt[req.Receipt]; ok {
		return o, nil
	}
	f.seq++
	o := &Order{
		ID:       fmt.Sprintf("order_fake_%d", f.seq),
		Amount:   req.Amount,
		Currency: req.Currency,
		KeyID:    f.KeyID,
	}
	f.byReceipt[req.Receipt] = o
	return o, nil
}

// SetPayment 模拟用户在网关侧付款，status 为 OrderAuthorized 或 OrderCaptured
func (f *Fake) SetPayment(orderID, status, paymentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[orderID] = &OrderPayment{OrderID: orderID, Status: status, PaymentID: paymentID}
}

func (f *Fake) FetchOrderPayment(_ context.Context, orderID string) (*OrderPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	if p, ok := f.payments[orderID]; ok {
		cp := *p
		return &cp, nil
	}
	return &OrderPayment{OrderID: orderID, Status: OrderUnpaid}, nil
}

func (f *Fake) VerifySignature(orderID, paymentID, signature string) bool {
	return Verify(f.Secret, orderID, paymentID, signature)
}

// OrderCount 实际创建的不同订单数
func (f *Fake) OrderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byReceipt)
}
