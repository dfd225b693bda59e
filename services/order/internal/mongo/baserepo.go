package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type BaseRepo struct {
	client *mongo.Client
	db     *mongo.Database
	logger apt.Logger
	config *apt.Config
}

func NewBaseRepo(config *apt.Config, logger apt.Logger) *BaseRepo {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &BaseRepo{
		logger: logger.With("component", "mongo"),
		config: config,
	}
}

// Start connects with the money codec registered so decimal fields round-trip
// as Decimal128.
func (r *BaseRepo) Start(ctx context.Context) error {
	connString := r.config.GetStringOrDef("db.mongo.url", "mongodb://localhost:27017")
	dbName := r.config.GetStringOrDef("db.mongo.name", "orderflow")

	clientOptions := options.Client().ApplyURI(connString).
		SetRegistry(NewRegistry()).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	r.client = client
	r.db = client.Database(dbName)

	r.logger.Info("connected to MongoDB", "database", dbName)
	return nil
}

func (r *BaseRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("disconnected from MongoDB")
	}
	return nil
}

func (r *BaseRepo) GetDatabase() *mongo.Database {
	return r.db
}

// EnsureIndexes creates the indexes the order queries and the sweeper rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	orderIndexes := []mongo.IndexModel{
		{
			Keys:    bsonKeys("order_number"),
			Options: options.Index().SetUnique(true),
		},
		{Keys: bsonKeys("status", "payment_status")},
		{Keys: bsonKeys("expires_at")},
		{Keys: bsonKeys("served_at")},
	}
	if _, err := db.Collection(ordersCollection).Indexes().CreateMany(ctx, orderIndexes); err != nil {
		return fmt.Errorf("cannot create order indexes: %w", err)
	}

	itemIndexes := []mongo.IndexModel{
		{Keys: bsonKeys("order_id", "created_at")},
	}
	if _, err := db.Collection(orderItemsCollection).Indexes().CreateMany(ctx, itemIndexes); err != nil {
		return fmt.Errorf("cannot create order item indexes: %w", err)
	}

	// Hard deletes carry no document, so the feed needs the stored pre-image
	// to tell which order lost the row. CreateMany above made both collections.
	for _, name := range []string{ordersCollection, orderItemsCollection} {
		if err := db.RunCommand(ctx, preImagesCommand(name)).Err(); err != nil {
			return fmt.Errorf("cannot enable pre-images on %s: %w", name, err)
		}
	}
	return nil
}

func preImagesCommand(collection string) bson.D {
	return bson.D{
		{Key: "collMod", Value: collection},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}
}
