package operations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/orderflow/pkg/feed"
	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
)

// MockSource serves a fixed set of orders.
type MockSource struct {
	ListFunc func(ctx context.Context, q orders.Query) ([]*orders.Order, error)

	mu     sync.Mutex
	orders map[uuid.UUID]*orders.Order
	lists  int
}

func NewMockSource(list ...*orders.Order) *MockSource {
	m := &MockSource{orders: make(map[uuid.UUID]*orders.Order)}
	for _, o := range list {
		m.orders[o.ID] = o
	}
	return m
}

func (m *MockSource) Get(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MockSource) List(ctx context.Context, q orders.Query) ([]*orders.Order, error) {
	m.mu.Lock()
	m.lists++
	m.mu.Unlock()
	if m.ListFunc != nil {
		return m.ListFunc(ctx, q)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*orders.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

// Put stores o as the order service's current state.
func (m *MockSource) Put(o *orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

func (m *MockSource) Lists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

// MockOrderWriter records the writes it receives.
type MockOrderWriter struct {
	TransitionFunc          func(ctx context.Context, id uuid.UUID, version int64, status string) (*orders.Order, error)
	TransitionItemFunc      func(ctx context.Context, orderID, itemID uuid.UUID, version int64, status string) (*orders.Order, error)
	ConfirmCashFunc         func(ctx context.Context, id uuid.UUID, version int64, tendered decimal.Decimal) (*orders.Order, decimal.Decimal, error)
	CreatePaymentIntentFunc func(ctx context.Context, id uuid.UUID, version int64) (*orders.Order, *payment.Intent, error)
	SweepFunc               func(ctx context.Context) (int, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockOrderWriter) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockOrderWriter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockOrderWriter) Transition(ctx context.Context, id uuid.UUID, version int64, status string) (*orders.Order, error) {
	m.record("transition")
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, id, version, status)
	}
	return &orders.Order{ID: id, Status: status, Version: version + 1}, nil
}

func (m *MockOrderWriter) TransitionItem(ctx context.Context, orderID, itemID uuid.UUID, version int64, status string) (*orders.Order, error) {
	m.record("transition_item")
	if m.TransitionItemFunc != nil {
		return m.TransitionItemFunc(ctx, orderID, itemID, version, status)
	}
	return &orders.Order{ID: orderID}, nil
}

func (m *MockOrderWriter) ConfirmCash(ctx context.Context, id uuid.UUID, version int64, tendered decimal.Decimal) (*orders.Order, decimal.Decimal, error) {
	m.record("confirm_cash")
	if m.ConfirmCashFunc != nil {
		return m.ConfirmCashFunc(ctx, id, version, tendered)
	}
	return &orders.Order{ID: id, PaymentStatus: "paid"}, decimal.Zero, nil
}

func (m *MockOrderWriter) CreatePaymentIntent(ctx context.Context, id uuid.UUID, version int64) (*orders.Order, *payment.Intent, error) {
	m.record("payment_intent")
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, id, version)
	}
	return &orders.Order{ID: id, PaymentStatus: "processing"}, &payment.Intent{Reference: "ref-1"}, nil
}

func (m *MockOrderWriter) Sweep(ctx context.Context) (int, error) {
	m.record("sweep")
	if m.SweepFunc != nil {
		return m.SweepFunc(ctx)
	}
	return 0, nil
}

// MockChannel accepts every subscription and never reports a status.
type MockChannel struct {
	mu   sync.Mutex
	subs map[string]int
	open int
}

func NewMockChannel() *MockChannel {
	return &MockChannel{subs: make(map[string]int)}
}

func (m *MockChannel) Subscribe(ctx context.Context, channel string, handler feed.Handler, onStatus feed.StatusFunc) (feed.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[channel]++
	m.open++

	var once sync.Once
	return feed.SubscriptionFunc(func() error {
		once.Do(func() {
			m.mu.Lock()
			m.open--
			m.mu.Unlock()
		})
		return nil
	}), nil
}

func (m *MockChannel) Subscribed(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[channel]
}

func (m *MockChannel) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testOrder(status, paymentStatus, method string, itemStatuses ...string) *orders.Order {
	o := &orders.Order{
		ID:            uuid.New(),
		OrderType:     "dine_in",
		Status:        status,
		PaymentStatus: paymentStatus,
		PaymentMethod: method,
		TableNumber:   "T1",
		TotalAmount:   decimal.NewFromInt(1220),
		Version:       1,
		CreatedAt:     testNow.Add(-10 * time.Minute),
	}
	for _, s := range itemStatuses {
		o.Items = append(o.Items, &orders.OrderItem{
			ID:       uuid.New(),
			OrderID:  o.ID,
			ItemName: "Adobo",
			Quantity: 1,
			Status:   s,
		})
	}
	return o
}

// waitUntil polls cond until it holds or two seconds pass.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
