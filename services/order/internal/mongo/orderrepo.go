package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/orderflow/pkg/enums/orderstatus"
	"github.com/appetiteclub/orderflow/pkg/orders"
)

type OrderRepo struct {
	collection *mongo.Collection
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection: db.Collection(ordersCollection),
	}
}

func (r *OrderRepo) Create(ctx context.Context, o *orders.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	if _, err := r.collection.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("cannot create order: %w", err)
	}

	return nil
}

// Get returns nil, nil when no order has the id. Soft-deleted orders are
// returned so callers can tell deleted from missing.
func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*orders.Order, error) {
	var o orders.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepo) List(ctx context.Context, q orders.Query) ([]*orders.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := r.collection.Find(ctx, queryFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*orders.Order
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	return result, nil
}

// UpdateIfVersion replaces the stored order only while its version still equals
// expected. The caller has already bumped o.Version.
func (r *OrderRepo) UpdateIfVersion(ctx context.Context, o *orders.Order, expected int64) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	filter := bson.M{"_id": o.ID, "version": expected, "deleted_at": nil}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": o})
	if err != nil {
		return fmt.Errorf("cannot update order: %w", err)
	}

	if result.MatchedCount == 0 {
		return r.missedWrite(ctx, o.ID, expected)
	}

	return nil
}

// SoftDelete stamps deleted_at and bumps the version so feed consumers see an
// update they can evict on.
func (r *OrderRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	filter := bson.M{"_id": id, "deleted_at": nil}
	update := bson.M{
		"$set": bson.M{"deleted_at": at, "updated_at": at},
		"$inc": bson.M{"version": int64(1)},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("cannot delete order: %w", err)
	}

	if result.MatchedCount == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return orders.ErrNotFound
		}
		return orders.ErrDeleted
	}

	return nil
}

func (r *OrderRepo) missedWrite(ctx context.Context, id uuid.UUID, expected int64) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return orders.ErrNotFound
	}
	if current.IsDeleted() {
		return orders.ErrDeleted
	}
	return fmt.Errorf("%w: order at version %d, expected %d", orders.ErrStaleWrite, current.Version, expected)
}

// queryFilter mirrors orders.Query.Matches.
func queryFilter(q orders.Query) bson.M {
	filter := bson.M{"deleted_at": nil}
	served := orderstatus.Statuses.Served.Code()

	switch {
	case len(q.Statuses) > 0 && q.ServedSince != nil:
		filter["$or"] = bson.A{
			bson.M{"status": bson.M{"$in": q.Statuses}},
			bson.M{"status": served, "served_at": bson.M{"$gte": *q.ServedSince}},
		}
	case len(q.Statuses) > 0:
		filter["status"] = bson.M{"$in": q.Statuses}
	case q.ServedSince != nil:
		filter["status"] = served
		filter["served_at"] = bson.M{"$gte": *q.ServedSince}
	}

	if len(q.PaymentStatuses) > 0 {
		filter["payment_status"] = bson.M{"$in": q.PaymentStatuses}
	}
	if len(q.PaymentMethods) > 0 {
		filter["payment_method"] = bson.M{"$in": q.PaymentMethods}
	}
	if q.ExpiresBefore != nil {
		filter["expires_at"] = bson.M{"$lte": *q.ExpiresBefore}
	}

	return filter
}
