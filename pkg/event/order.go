package event

import (
	"encoding/json"
	"time"
)

const (
	// FeedSubjectPrefix roots every change-feed subject: orderflow.feed.<channel>.
	FeedSubjectPrefix = "orderflow.feed"
	// FeedStreamName is the JetStream stream retaining change-feed events.
	FeedStreamName = "ORDERFLOW_FEED"

	ChannelOrders     = "orders"
	ChannelOrderItems = "order_items"

	EventChangeCaptured = "feed.change.captured"
	EventHeartbeat      = "feed.heartbeat"
)

// Channels lists every watched resource.
var Channels = []string{ChannelOrders, ChannelOrderItems}

func FeedSubject(channel string) string {
	return FeedSubjectPrefix + "." + channel
}

// FeedSubjects matches every channel subject.
func FeedSubjects() string {
	return FeedSubjectPrefix + ".>"
}

// ChangeEvent is one row change captured from the order store. Before and
// After are the raw row images; transports never look inside them.
type ChangeEvent struct {
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Channel    string          `json:"channel"`
	Kind       string          `json:"kind"`
	Key        string          `json:"key"`
	OrderID    string          `json:"order_id,omitempty"`
	Version    int64           `json:"version"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}
