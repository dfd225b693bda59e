package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CounterRepo hands out gap-tolerant sequence numbers, one document per name.
type CounterRepo struct {
	collection *mongo.Collection
}

func NewCounterRepo(db *mongo.Database) *CounterRepo {
	return &CounterRepo{
		collection: db.Collection(countersCollection),
	}
}

func (r *CounterRepo) Next(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("cannot advance counter %s: %w", name, err)
	}

	return doc.Seq, nil
}
