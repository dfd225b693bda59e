// Package orderstream follows the order service change feed over its gRPC
// server stream.
package orderstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/apt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/pkg/feed"
)

const DefaultHeartbeat = 15 * time.Second

// missedHeartbeats is how many heartbeat periods may pass in silence before
// a stream is declared dead.
const missedHeartbeats = 3

var (
	ErrNotStarted     = errors.New("order stream client not started")
	errStreamEnded    = errors.New("order stream ended by server")
	errHeartbeatLapse = errors.New("order stream heartbeat lapsed")
)

// Client is a feed.Channel backed by the order service Watch stream. One
// connection is shared by every subscription; each Subscribe opens a stream.
type Client struct {
	addr      string
	heartbeat time.Duration
	opts      []grpc.DialOption
	logger    apt.Logger

	mu   sync.Mutex
	conn *grpc.ClientConn
}

func NewClient(addr string, heartbeat time.Duration, logger apt.Logger, opts ...grpc.DialOption) *Client {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Client{
		addr:      addr,
		heartbeat: heartbeat,
		opts:      opts,
		logger:    logger.With("component", "order-stream", "addr", addr),
	}
}

// Start prepares the connection. Dialing is lazy, so Start does not wait for
// the order service to be reachable.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    5 * time.Minute,
			Timeout: 20 * time.Second,
		}),
		grpc.WithConnectParams(grpc.ConnectParams{
			MinConnectTimeout: 5 * time.Second,
			Backoff: backoff.Config{
				BaseDelay:  time.Second,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   30 * time.Second,
			},
		}),
	}, c.opts...)

	conn, err := grpc.NewClient(c.addr, opts...)
	if err != nil {
		return fmt.Errorf("cannot create order stream client: %w", err)
	}
	c.conn = conn

	c.logger.Info("order stream client started")
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.logger.Info("stopping order stream client")
	return conn.Close()
}

// Subscribe opens a Watch stream on channel. SUBSCRIBED is reported once the
// server has accepted the stream; heartbeats only feed the liveness check.
func (c *Client) Subscribe(ctx context.Context, channel string, handler feed.Handler, onStatus feed.StatusFunc) (feed.Subscription, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotStarted
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(streamCtx, &feed.ChangeFeedServiceDesc.Streams[0], feed.WatchMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cannot open order stream for %s: %w", channel, err)
	}
	if err := stream.SendMsg(feed.NewWatchRequest(channel)); err != nil {
		cancel()
		return nil, fmt.Errorf("cannot open order stream for %s: %w", channel, err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("cannot open order stream for %s: %w", channel, err)
	}

	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go c.receive(streamCtx, stream, channel, handler, onStatus, sub)
	return sub, nil
}

type subscription struct {
	cancel       context.CancelFunc
	done         chan struct{}
	unsubscribed atomic.Bool
}

// Unsubscribe ends the stream and waits for its last handler call to return.
func (s *subscription) Unsubscribe() error {
	s.unsubscribed.Store(true)
	s.cancel()
	<-s.done
	return nil
}

func (c *Client) receive(ctx context.Context, stream grpc.ClientStream, channel string, handler feed.Handler, onStatus feed.StatusFunc, sub *subscription) {
	defer close(sub.done)
	defer sub.cancel()

	log := c.logger.With("channel", channel)

	md, err := stream.Header()
	if err != nil {
		onStatus(c.classify(sub, false, err))
		return
	}
	if md != nil {
		log.Info("order stream subscribed")
		onStatus(feed.StatusSubscribed, nil)
	}

	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())
	var lapsed atomic.Bool

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchdog(ctx, &lastSeen, &lapsed, sub.cancel)
	}()
	defer wg.Wait()

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			st, reason := c.classify(sub, lapsed.Load(), err)
			if st != feed.StatusClosed {
				log.Error("order stream failed", "status", string(st), "error", reason)
			}
			onStatus(st, reason)
			return
		}
		lastSeen.Store(time.Now().UnixNano())

		ev, err := feed.FromStruct(msg)
		if err != nil {
			log.Error("dropping malformed feed event", "error", err)
			continue
		}
		if ev.EventType == event.EventHeartbeat {
			continue
		}
		if err := handler(ctx, ev); err != nil {
			log.Error("feed handler failed", "key", ev.Key, "error", err)
		}
	}
}

func (c *Client) watchdog(ctx context.Context, lastSeen *atomic.Int64, lapsed *atomic.Bool, cancel context.CancelFunc) {
	limit := missedHeartbeats * c.heartbeat
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, lastSeen.Load())) > limit {
				lapsed.Store(true)
				cancel()
				return
			}
		}
	}
}

func (c *Client) classify(sub *subscription, lapsed bool, err error) (feed.Status, error) {
	switch {
	case sub.unsubscribed.Load():
		return feed.StatusClosed, nil
	case lapsed:
		return feed.StatusTimedOut, errHeartbeatLapse
	case status.Code(err) == codes.DeadlineExceeded:
		return feed.StatusTimedOut, err
	case errors.Is(err, io.EOF):
		return feed.StatusChannelError, errStreamEnded
	default:
		return feed.StatusChannelError, err
	}
}
