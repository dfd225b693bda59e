package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/nats-io/nats.go"

	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/event"
)

// statusHub fans NATS connection state out to live subscriptions.
type statusHub struct {
	mu   sync.Mutex
	next int
	subs map[int]StatusFunc
}

func newStatusHub() *statusHub {
	return &statusHub{subs: make(map[int]StatusFunc)}
}

func (h *statusHub) add(fn StatusFunc) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.subs[h.next] = fn
	return h.next
}

func (h *statusHub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *statusHub) broadcast(status Status, err error) {
	h.mu.Lock()
	fns := make([]StatusFunc, 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(status, err)
	}
}

func (h *statusHub) options(name string) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrDisconnected
			}
			h.broadcast(StatusChannelError, err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			h.broadcast(StatusSubscribed, nil)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			h.broadcast(StatusClosed, nil)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			h.broadcast(StatusChannelError, err)
		}),
	}
}

// NATSChannel delivers feed events published on core NATS subjects.
type NATSChannel struct {
	sub    *pkg.NATSSubscriber
	hub    *statusHub
	logger apt.Logger
}

func DialNATS(url, name string, logger apt.Logger) (*NATSChannel, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	c := &NATSChannel{hub: newStatusHub(), logger: logger}

	sub, err := pkg.NewNATSSubscriber(url, logger, c.hub.options(name)...)
	if err != nil {
		return nil, err
	}
	c.sub = sub
	return c, nil
}

func (c *NATSChannel) Subscribe(ctx context.Context, channel string, handler Handler, onStatus StatusFunc) (Subscription, error) {
	id := c.hub.add(onStatus)

	unsubscribe, err := c.sub.Subscribe(ctx, event.FeedSubject(channel), decodeInto(handler, c.logger))
	if err != nil {
		c.hub.remove(id)
		return nil, fmt.Errorf("cannot open feed channel %s: %w", channel, err)
	}

	// The subscription stays registered either way; the reconnect handler
	// reports it SUBSCRIBED once the connection is back.
	if c.sub.IsConnected() {
		onStatus(StatusSubscribed, nil)
	} else {
		onStatus(StatusChannelError, nats.ErrDisconnected)
	}

	return SubscriptionFunc(func() error {
		c.hub.remove(id)
		return unsubscribe()
	}), nil
}

func (c *NATSChannel) Close() error {
	return c.sub.Close()
}

// decodeInto drops undecodable payloads; redelivering them would never help.
func decodeInto(handler Handler, logger apt.Logger) func(ctx context.Context, data []byte) error {
	return func(ctx context.Context, data []byte) error {
		ev, err := Decode(data)
		if err != nil {
			logger.Error("dropping malformed feed event", "error", err)
			return nil
		}
		return handler(ctx, ev)
	}
}
