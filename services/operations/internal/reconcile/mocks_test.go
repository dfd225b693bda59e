package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/services/operations/internal/realtime"
)

// MockSource serves orders from memory. GetFunc and ListFunc override it.
type MockSource struct {
	GetFunc  func(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	ListFunc func(ctx context.Context, q orders.Query) ([]*orders.Order, error)

	mu        sync.Mutex
	orders    map[uuid.UUID]*orders.Order
	getCalls  int
	listCalls int
}

func NewMockSource(list ...*orders.Order) *MockSource {
	m := &MockSource{orders: make(map[uuid.UUID]*orders.Order)}
	for _, o := range list {
		m.orders[o.ID] = o
	}
	return m
}

// Put stores a copy of o as the authoritative state.
func (m *MockSource) Put(o *orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

func (m *MockSource) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
}

func (m *MockSource) Get(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return o.Clone(), nil
}

// List returns every stored order and leaves filtering to the collection.
func (m *MockSource) List(ctx context.Context, q orders.Query) ([]*orders.Order, error) {
	m.mu.Lock()
	m.listCalls++
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

func (m *MockSource) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func (m *MockSource) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

type MockGuard struct {
	Roles map[string]bool
}

func (g *MockGuard) HasRole(role string) bool {
	return g.Roles[role]
}

type MockNotifier struct {
	mu      sync.Mutex
	notices []realtime.Notice
}

func (n *MockNotifier) Notify(notice realtime.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *MockNotifier) Notices() []realtime.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]realtime.Notice(nil), n.notices...)
}

// teardownLog records the order in which attached parts are stopped.
type teardownLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *teardownLog) add(step string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step)
}

func (l *teardownLog) Steps() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

type fakePoller struct{ log *teardownLog }

func (p fakePoller) Stop() { p.log.add("poller") }

type fakeSupervisor struct {
	name string
	log  *teardownLog
}

func (s fakeSupervisor) Close() error {
	s.log.add(s.name)
	return nil
}

var (
	testNow   = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	testShift = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
)

// testOrder builds an order created minutesAgo before testNow with one item
// per given item status.
func testOrder(status, paymentStatus string, minutesAgo int, itemStatuses ...string) *orders.Order {
	o := &orders.Order{
		ID:            uuid.New(),
		OrderType:     "dine_in",
		Status:        status,
		PaymentStatus: paymentStatus,
		PaymentMethod: "cash",
		TableNumber:   "T1",
		CreatedAt:     testNow.Add(-time.Duration(minutesAgo) * time.Minute),
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

func newTestCollection(view View, source Source, guard SessionGuard, notifier Notifier) *Collection {
	c := NewCollection(view, source, guard, notifier, nil)
	c.now = func() time.Time { return testNow }
	return c
}

func rowIDs(s Snapshot) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Rows))
	for _, r := range s.Rows {
		ids = append(ids, r.Order.ID)
	}
	return ids
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
