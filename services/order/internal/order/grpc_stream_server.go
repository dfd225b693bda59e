package order

import (
	"slices"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/pkg/feed"
)

const DefaultHeartbeatInterval = 15 * time.Second

// FeedStreamServer implements the ChangeFeed gRPC service. Each Watch call
// follows one channel until the client goes away.
type FeedStreamServer struct {
	heartbeat time.Duration
	logger    apt.Logger

	mu          sync.RWMutex
	subscribers map[string]*feedSubscriber
}

type feedSubscriber struct {
	channel string
	events  chan feed.Event
}

// RegisterGRPCService registers this service with the gRPC server (apt.GRPCServiceRegistrar interface)
func (s *FeedStreamServer) RegisterGRPCService(server *grpc.Server) {
	server.RegisterService(&feed.ChangeFeedServiceDesc, s)
}

func NewFeedStreamServer(heartbeat time.Duration, logger apt.Logger) *FeedStreamServer {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &FeedStreamServer{
		heartbeat:   heartbeat,
		logger:      logger.With("component", "feed-stream"),
		subscribers: make(map[string]*feedSubscriber),
	}
}

// Watch sends headers right away so clients can tell the stream is live, then
// relays events and periodic heartbeats.
func (s *FeedStreamServer) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	channel := feed.WatchRequestChannel(req)
	if !slices.Contains(event.Channels, channel) {
		return status.Errorf(codes.InvalidArgument, "unknown feed channel %q", channel)
	}

	ctx := stream.Context()
	subscriberID := uuid.NewString()
	sub := &feedSubscriber{channel: channel, events: make(chan feed.Event, 100)}

	s.mu.Lock()
	s.subscribers[subscriberID] = sub
	s.mu.Unlock()

	s.logger.Info("feed subscriber connected", "subscriber_id", subscriberID, "channel", channel)

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, subscriberID)
		s.mu.Unlock()
		s.logger.Info("feed subscriber disconnected", "subscriber_id", subscriberID, "channel", channel)
	}()

	if err := stream.SendHeader(metadata.Pairs("feed-channel", channel)); err != nil {
		return err
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub.events:
			if err := s.send(stream, ev); err != nil {
				return err
			}
		case now := <-ticker.C:
			hb := feed.Event{
				EventType:  event.EventHeartbeat,
				OccurredAt: now.UTC(),
				Channel:    channel,
				Key:        subscriberID,
			}
			if err := s.send(stream, hb); err != nil {
				return err
			}
		}
	}
}

func (s *FeedStreamServer) send(stream grpc.ServerStream, ev feed.Event) error {
	msg, err := feed.ToStruct(ev)
	if err != nil {
		s.logger.Error("cannot encode feed event", "key", ev.Key, "error", err)
		return nil
	}
	if err := stream.SendMsg(msg); err != nil {
		s.logger.Errorf("failed to send feed event: %v", err)
		return err
	}
	return nil
}

// Broadcast hands an event to every subscriber of its channel. Slow
// subscribers lose the event and catch up on their next resync.
func (s *FeedStreamServer) Broadcast(ev feed.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for subscriberID, sub := range s.subscribers {
		if sub.channel != ev.Channel {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			s.logger.Info("subscriber channel full, dropping event", "subscriber_id", subscriberID, "key", ev.Key)
		}
	}
}

func (s *FeedStreamServer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
