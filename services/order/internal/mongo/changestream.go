package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/pkg/feed"
	"github.com/appetiteclub/orderflow/pkg/orders"
)

// DeliverFunc receives every captured change in commit order per collection.
type DeliverFunc func(ctx context.Context, ev feed.Event) error

// ChangeWatcher tails the orders and order_items change streams and turns
// each change into a feed event.
type ChangeWatcher struct {
	db      *mongo.Database
	deliver DeliverFunc
	logger  apt.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChangeWatcher(db *mongo.Database, deliver DeliverFunc, logger apt.Logger) *ChangeWatcher {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &ChangeWatcher{
		db:      db,
		deliver: deliver,
		logger:  logger.With("component", "change-watcher"),
	}
}

type watchTarget struct {
	channel    string
	collection string
	decode     func(cs *mongo.ChangeStream) (feed.Event, bool, error)
}

func (w *ChangeWatcher) Start(ctx context.Context) error {
	if w.db == nil {
		return errors.New("change watcher has no database")
	}
	if w.deliver == nil {
		return errors.New("change watcher has no delivery target")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	targets := []watchTarget{
		{channel: event.ChannelOrders, collection: ordersCollection, decode: decodeOrderChange},
		{channel: event.ChannelOrderItems, collection: orderItemsCollection, decode: decodeItemChange},
	}
	for _, t := range targets {
		w.wg.Add(1)
		go func(t watchTarget) {
			defer w.wg.Done()
			w.watch(runCtx, t)
		}(t)
	}

	w.logger.Info("change watcher started")
	return nil
}

func (w *ChangeWatcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	w.wg.Wait()

	w.logger.Info("change watcher stopped")
	return nil
}

// watch reopens the stream after failures, resuming after the last delivered
// change when the server still has it.
func (w *ChangeWatcher) watch(ctx context.Context, t watchTarget) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second
	var resumeToken bson.Raw

	for {
		if ctx.Err() != nil {
			return
		}

		opts := options.ChangeStream().
			SetFullDocument(options.UpdateLookup).
			SetFullDocumentBeforeChange(options.WhenAvailable)
		if resumeToken != nil {
			opts.SetResumeAfter(resumeToken)
		}

		cs, err := w.db.Collection(t.collection).Watch(ctx, mongo.Pipeline{}, opts)
		if err != nil {
			w.logger.Error("cannot open change stream", "collection", t.collection, "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		w.logger.Info("change stream open", "collection", t.collection)
		backoff = 1 * time.Second

		for cs.Next(ctx) {
			ev, ok, err := t.decode(cs)
			if err != nil {
				w.logger.Error("cannot map change", "collection", t.collection, "error", err)
				resumeToken = cs.ResumeToken()
				continue
			}
			if !ok {
				if cs.Current.Lookup("operationType").StringValue() == "invalidate" {
					resumeToken = nil
				} else {
					resumeToken = cs.ResumeToken()
				}
				continue
			}

			if err := w.deliver(ctx, ev); err != nil {
				w.logger.Error("cannot deliver change", "channel", ev.Channel, "key", ev.Key, "error", err)
			}
			resumeToken = cs.ResumeToken()
		}

		if err := cs.Err(); err != nil && ctx.Err() == nil {
			w.logger.Error("change stream failed", "collection", t.collection, "error", err)
		}
		_ = cs.Close(context.Background())

		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

type changeDoc[T any] struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	DocumentKey   struct {
		ID uuid.UUID `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *T `bson:"fullDocument"`
	Before       *T `bson:"fullDocumentBeforeChange"`
}

func decodeOrderChange(cs *mongo.ChangeStream) (feed.Event, bool, error) {
	return decodeChange(cs, event.ChannelOrders, func(o *orders.Order) (uuid.UUID, int64) {
		return o.ID, o.Version
	})
}

func decodeItemChange(cs *mongo.ChangeStream) (feed.Event, bool, error) {
	return decodeChange(cs, event.ChannelOrderItems, func(it *orders.OrderItem) (uuid.UUID, int64) {
		return it.OrderID, it.Version
	})
}

func decodeChange[T any](cs *mongo.ChangeStream, channel string, meta func(*T) (uuid.UUID, int64)) (feed.Event, bool, error) {
	var c changeDoc[T]
	if err := cs.Decode(&c); err != nil {
		return feed.Event{}, false, fmt.Errorf("cannot decode change: %w", err)
	}
	return toEvent(c, channel, meta)
}

func toEvent[T any](c changeDoc[T], channel string, meta func(*T) (uuid.UUID, int64)) (feed.Event, bool, error) {
	kind, ok := kindFor(c.OperationType)
	if !ok {
		return feed.Event{}, false, nil
	}

	ev := feed.Event{
		EventType:  event.EventChangeCaptured,
		OccurredAt: time.Now().UTC(),
		Channel:    channel,
		Kind:       string(kind),
		Key:        c.DocumentKey.ID.String(),
	}
	if c.ClusterTime.T != 0 {
		ev.OccurredAt = time.Unix(int64(c.ClusterTime.T), 0).UTC()
	}

	image := c.FullDocument
	if image == nil {
		image = c.Before
	}
	if image != nil {
		orderID, version := meta(image)
		ev.OrderID = orderID.String()
		ev.Version = version
	} else if channel == event.ChannelOrders {
		ev.OrderID = ev.Key
	}

	var err error
	if ev.After, err = rawJSON(c.FullDocument); err != nil {
		return feed.Event{}, false, err
	}
	if ev.Before, err = rawJSON(c.Before); err != nil {
		return feed.Event{}, false, err
	}
	return ev, true, nil
}

func kindFor(op string) (feed.Kind, bool) {
	switch op {
	case "insert":
		return feed.KindInsert, true
	case "update", "replace":
		return feed.KindUpdate, true
	case "delete":
		return feed.KindDelete, true
	}
	return "", false
}

func rawJSON[T any](doc *T) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("cannot encode row image: %w", err)
	}
	return data, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
