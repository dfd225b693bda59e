package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/orderflow/pkg/feed"
	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/pkg/payment"
)

// MockPublisher is a mock implementation of events.Publisher for testing
type MockPublisher struct {
	mu          sync.Mutex
	Published   []string
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	m.Published = append(m.Published, topic)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	return nil
}

// MockOrderRepo keeps orders in memory and enforces the version check the
// Mongo repo does.
type MockOrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*orders.Order
	Writes int

	CreateFunc          func(ctx context.Context, o *orders.Order) error
	GetFunc             func(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	ListFunc            func(ctx context.Context, q orders.Query) ([]*orders.Order, error)
	UpdateIfVersionFunc func(ctx context.Context, o *orders.Order, expected int64) error
}

func NewMockOrderRepo(seed ...*orders.Order) *MockOrderRepo {
	m := &MockOrderRepo{orders: make(map[uuid.UUID]*orders.Order)}
	for _, o := range seed {
		c := o.Clone()
		c.Items = nil
		m.orders[o.ID] = c
	}
	return m
}

func (m *MockOrderRepo) Create(ctx context.Context, o *orders.Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := o.Clone()
	c.Items = nil
	m.orders[o.ID] = c
	return nil
}

func (m *MockOrderRepo) Get(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

func (m *MockOrderRepo) List(ctx context.Context, q orders.Query) ([]*orders.Order, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, q)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*orders.Order
	for _, o := range m.orders {
		if q.Matches(o) {
			result = append(result, o.Clone())
		}
	}
	return result, nil
}

func (m *MockOrderRepo) UpdateIfVersion(ctx context.Context, o *orders.Order, expected int64) error {
	if m.UpdateIfVersionFunc != nil {
		return m.UpdateIfVersionFunc(ctx, o, expected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[o.ID]
	if !ok {
		return orders.ErrNotFound
	}
	if current.IsDeleted() {
		return orders.ErrDeleted
	}
	if current.Version != expected {
		return fmt.Errorf("%w: order at version %d, expected %d", orders.ErrStaleWrite, current.Version, expected)
	}
	c := o.Clone()
	c.Items = nil
	m.orders[o.ID] = c
	m.Writes++
	return nil
}

func (m *MockOrderRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if current.IsDeleted() {
		return orders.ErrDeleted
	}
	current.DeletedAt = &at
	current.Version++
	return nil
}

// Stored returns a copy of what the repo holds for id.
func (m *MockOrderRepo) Stored(id uuid.UUID) *orders.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.orders[id]; ok {
		return o.Clone()
	}
	return nil
}

// MockOrderItemRepo is a mock implementation of OrderItemRepo for testing
type MockOrderItemRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*orders.OrderItem

	CreateManyFunc func(ctx context.Context, items []*orders.OrderItem) error
}

func NewMockOrderItemRepo(seed ...*orders.OrderItem) *MockOrderItemRepo {
	m := &MockOrderItemRepo{items: make(map[uuid.UUID]*orders.OrderItem)}
	for _, it := range seed {
		m.items[it.ID] = it.Clone()
	}
	return m
}

func (m *MockOrderItemRepo) CreateMany(ctx context.Context, items []*orders.OrderItem) error {
	if m.CreateManyFunc != nil {
		return m.CreateManyFunc(ctx, items)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.items[it.ID] = it.Clone()
	}
	return nil
}

func (m *MockOrderItemRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*orders.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*orders.OrderItem
	for _, it := range m.items {
		if it.OrderID == orderID {
			result = append(result, it.Clone())
		}
	}
	return result, nil
}

func (m *MockOrderItemRepo) ListByOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]*orders.OrderItem, error) {
	grouped := make(map[uuid.UUID][]*orders.OrderItem)
	for _, id := range orderIDs {
		items, _ := m.ListByOrder(ctx, id)
		grouped[id] = items
	}
	return grouped, nil
}

func (m *MockOrderItemRepo) UpdateIfVersion(ctx context.Context, item *orders.OrderItem, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[item.ID]
	if !ok {
		return orders.ErrItemNotFound
	}
	if current.Version != expected {
		return fmt.Errorf("%w: item at version %d, expected %d", orders.ErrStaleWrite, current.Version, expected)
	}
	m.items[item.ID] = item.Clone()
	return nil
}

// MockSequence counts up from zero.
type MockSequence struct {
	mu   sync.Mutex
	next int64

	NextFunc func(ctx context.Context, name string) (int64, error)
}

func (m *MockSequence) Next(ctx context.Context, name string) (int64, error) {
	if m.NextFunc != nil {
		return m.NextFunc(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return m.next, nil
}

// MockIntentProvider is a mock implementation of payment.IntentProvider for testing
type MockIntentProvider struct {
	CreateIntentFunc func(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error)
}

func (m *MockIntentProvider) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, req)
	}
	return &payment.Intent{Reference: "ref-" + req.OrderID.String(), CheckoutURL: "https://pay.example/checkout"}, nil
}

// MockBroadcaster records broadcast events.
type MockBroadcaster struct {
	mu     sync.Mutex
	Events []feed.Event
}

func (m *MockBroadcaster) Broadcast(ev feed.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
}
