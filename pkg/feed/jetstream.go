package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"

	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/event"
)

// JetStreamChannel consumes the feed through durable JetStream consumers, so
// events published while a station was reconnecting are still delivered.
type JetStreamChannel struct {
	stream  *pkg.NATSStream
	hub     *statusHub
	durable string
	logger  apt.Logger
}

// DialJetStream connects and ensures the feed stream exists. durablePrefix
// names this consumer group, one durable per channel.
func DialJetStream(ctx context.Context, url, durablePrefix string, maxAge time.Duration, logger apt.Logger) (*JetStreamChannel, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	c := &JetStreamChannel{hub: newStatusHub(), durable: durablePrefix, logger: logger}

	stream, err := pkg.NewNATSStream(ctx, pkg.NATSStreamConfig{
		URL:        url,
		StreamName: event.FeedStreamName,
		Subjects:   []string{event.FeedSubjects()},
		MaxAge:     maxAge,
		Options:    c.hub.options(durablePrefix),
	})
	if err != nil {
		return nil, err
	}
	c.stream = stream
	return c, nil
}

func (c *JetStreamChannel) Subscribe(ctx context.Context, channel string, handler Handler, onStatus StatusFunc) (Subscription, error) {
	id := c.hub.add(onStatus)

	durable := fmt.Sprintf("%s-%s", c.durable, channel)
	stop, err := c.stream.Consume(ctx, durable, event.FeedSubject(channel), decodeInto(handler, c.logger), func(err error) {
		onStatus(StatusChannelError, err)
	})
	if err != nil {
		c.hub.remove(id)
		return nil, fmt.Errorf("cannot open feed channel %s: %w", channel, err)
	}

	onStatus(StatusSubscribed, nil)

	return SubscriptionFunc(func() error {
		c.hub.remove(id)
		stop()
		return nil
	}), nil
}

func (c *JetStreamChannel) Close() error {
	return c.stream.Close()
}
