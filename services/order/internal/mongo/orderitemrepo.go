package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/orderflow/pkg/orders"
)

type OrderItemRepo struct {
	collection *mongo.Collection
}

func NewOrderItemRepo(db *mongo.Database) *OrderItemRepo {
	return &OrderItemRepo{
		collection: db.Collection(orderItemsCollection),
	}
}

func (r *OrderItemRepo) CreateMany(ctx context.Context, items []*orders.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(items))
	for _, it := range items {
		if it == nil {
			return fmt.Errorf("order item is nil")
		}
		docs = append(docs, it)
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("cannot create order items: %w", err)
	}

	return nil
}

func (r *OrderItemRepo) Get(ctx context.Context, id uuid.UUID) (*orders.OrderItem, error) {
	var item orders.OrderItem
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order item: %w", err)
	}
	return &item, nil
}

func (r *OrderItemRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*orders.OrderItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"order_id": orderID, "deleted_at": nil}, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list order items: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*orders.OrderItem
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode order items: %w", err)
	}

	return result, nil
}

// ListByOrders loads the items of many orders in one round trip.
func (r *OrderItemRepo) ListByOrders(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]*orders.OrderItem, error) {
	grouped := make(map[uuid.UUID][]*orders.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return grouped, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	filter := bson.M{"order_id": bson.M{"$in": orderIDs}, "deleted_at": nil}
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list order items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*orders.OrderItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("cannot decode order items: %w", err)
	}

	for _, it := range items {
		grouped[it.OrderID] = append(grouped[it.OrderID], it)
	}
	return grouped, nil
}

func (r *OrderItemRepo) UpdateIfVersion(ctx context.Context, item *orders.OrderItem, expected int64) error {
	if item == nil {
		return fmt.Errorf("order item is nil")
	}

	filter := bson.M{"_id": item.ID, "version": expected, "deleted_at": nil}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": item})
	if err != nil {
		return fmt.Errorf("cannot update order item: %w", err)
	}

	if result.MatchedCount == 0 {
		current, err := r.Get(ctx, item.ID)
		if err != nil {
			return err
		}
		if current == nil || current.DeletedAt != nil {
			return orders.ErrItemNotFound
		}
		return fmt.Errorf("%w: item at version %d, expected %d", orders.ErrStaleWrite, current.Version, expected)
	}

	return nil
}
