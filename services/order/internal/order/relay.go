package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"

	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/pkg/feed"
)

type broadcaster interface {
	Broadcast(ev feed.Event)
}

// Relay fans captured changes out to every configured feed transport.
type Relay struct {
	publishers []events.Publisher
	stream     broadcaster
	logger     apt.Logger
}

func NewRelay(stream broadcaster, logger apt.Logger, publishers ...events.Publisher) *Relay {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	var pubs []events.Publisher
	for _, p := range publishers {
		if p != nil {
			pubs = append(pubs, p)
		}
	}
	return &Relay{
		publishers: pubs,
		stream:     stream,
		logger:     logger.With("component", "relay"),
	}
}

// Deliver publishes one event on the channel's subject and to the gRPC
// subscribers. A failing sink does not stop the others.
func (r *Relay) Deliver(ctx context.Context, ev feed.Event) error {
	data, err := feed.Encode(ev)
	if err != nil {
		return err
	}

	subject := event.FeedSubject(ev.Channel)
	var errs []error
	for _, p := range r.publishers {
		if err := p.Publish(ctx, subject, data); err != nil {
			errs = append(errs, fmt.Errorf("cannot publish to %s: %w", subject, err))
		}
	}

	if r.stream != nil {
		r.stream.Broadcast(ev)
	}

	r.logger.Debug("change relayed", "channel", ev.Channel, "kind", ev.Kind, "key", ev.Key, "version", ev.Version)
	return errors.Join(errs...)
}
