package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoURL  = "mongodb://localhost:27017"
	defaultMongoName = "orderflow"
)

// connect opens the order database named by db.mongo.url and db.mongo.name,
// the same keys the order service reads.
func connect(ctx context.Context, config *apt.Config, logger apt.Logger) (*mongo.Client, *mongo.Database, error) {
	url := config.GetStringOrDef("db.mongo.url", defaultMongoURL)
	name := config.GetStringOrDef("db.mongo.name", defaultMongoName)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url).SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("Connected to MongoDB", "database", name)
	return client, client.Database(name), nil
}
