// Package feed is the transport-agnostic change feed: one logical channel per
// watched resource, at-least-once delivery, no interpretation of payloads.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/orderflow/pkg/event"
)

type Event = event.ChangeEvent

type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Status is the health of one subscription as reported by its transport.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusClosed       Status = "CLOSED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
)

// Failed reports whether the status calls for a reconnect.
func (s Status) Failed() bool {
	return s == StatusChannelError || s == StatusTimedOut
}

type Handler func(ctx context.Context, ev Event) error

type StatusFunc func(status Status, err error)

// Channel opens subscriptions on a named feed channel. Subscribe reports
// SUBSCRIBED through onStatus once the channel is live. After Unsubscribe
// returns no more events are delivered, though a transport may still report
// CLOSED.
type Channel interface {
	Subscribe(ctx context.Context, channel string, handler Handler, onStatus StatusFunc) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}

type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}

func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("cannot encode feed event: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("cannot decode feed event: %w", err)
	}
	if ev.Channel == "" || ev.Key == "" {
		return Event{}, fmt.Errorf("cannot decode feed event: missing channel or key")
	}
	return ev, nil
}
