package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// DemoSeedApplication is the seed tracker application the order service
// records its demo seeds under.
const DemoSeedApplication = "order_demo"

var (
	demoTables = []string{"Window-1", "Center-2"}
	demoRooms  = []string{"512"}
)

// ClearDemo removes the demo orders and their items and forgets the demo
// seed records, so the next order service start with demo.seed enabled
// places them again.
func ClearDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Starting demo data cleanup...")

	client, db, err := connect(ctx, config, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	ids, err := demoOrderIDs(ctx, db.Collection("orders"))
	if err != nil {
		return err
	}

	if len(ids) > 0 {
		items, err := db.Collection("order_items").DeleteMany(ctx, bson.M{"order_id": bson.M{"$in": ids}})
		if err != nil {
			return fmt.Errorf("delete demo order items: %w", err)
		}
		logger.Info("Deleted demo order items", "count", items.DeletedCount)

		orders, err := db.Collection("orders").DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return fmt.Errorf("delete demo orders: %w", err)
		}
		logger.Info("Deleted demo orders", "count", orders.DeletedCount)
	}

	seeds, err := db.Collection("_seeds").DeleteMany(ctx, bson.M{"application": DemoSeedApplication})
	if err != nil {
		return fmt.Errorf("delete demo seed records: %w", err)
	}
	logger.Info("Cleared demo seed records", "count", seeds.DeletedCount)

	return nil
}

func demoOrderIDs(ctx context.Context, orders *mongo.Collection) ([]any, error) {
	cursor, err := orders.Find(ctx, demoOrderFilter())
	if err != nil {
		return nil, fmt.Errorf("find demo orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID any `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode demo orders: %w", err)
	}

	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func demoOrderFilter() bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"order_type": "dine_in", "table_number": bson.M{"$in": demoTables}},
		bson.M{"order_type": "room_service", "room_number": bson.M{"$in": demoRooms}},
	}}
}
