package order

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/appetiteclub/orderflow/pkg/orders"
)

// OrderRepo stores order headers. Get returns nil, nil for unknown ids.
type OrderRepo interface {
	Create(ctx context.Context, o *orders.Order) error
	Get(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	List(ctx context.Context, q orders.Query) ([]*orders.Order, error)
	UpdateIfVersion(ctx context.Context, o *orders.Order, expected int64) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

type OrderItemRepo interface {
	CreateMany(ctx context.Context, items []*orders.OrderItem) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*orders.OrderItem, error)
	ListByOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]*orders.OrderItem, error)
	UpdateIfVersion(ctx context.Context, item *orders.OrderItem, expected int64) error
}

// Sequence hands out human-readable order numbers.
type Sequence interface {
	Next(ctx context.Context, name string) (int64, error)
}
