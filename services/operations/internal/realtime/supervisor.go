package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"

	"github.com/appetiteclub/orderflow/pkg/feed"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func stdAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// SupervisorConfig describes one supervised channel subscription.
type SupervisorConfig struct {
	Channel string
	Handler feed.Handler
	// Resync runs after every resubscribe so changes missed while the
	// channel was down are picked up.
	Resync func(ctx context.Context)
	// OnDegraded runs once per outage, when the retry ceiling is reached.
	OnDegraded func(channel string)
	MaxRetries int
	BaseDelay  time.Duration
}

// Supervisor keeps one feed subscription alive. Failures are retried with
// exponential backoff (base, 2×base, 4×base, ...) up to MaxRetries; past the
// ceiling the channel is left to the poller and an alert is raised once.
// A SUBSCRIBED or CLOSED status resets the count and clears the alert.
type Supervisor struct {
	feed       feed.Channel
	policy     *NotificationPolicy
	channel    string
	handler    feed.Handler
	resync     func(ctx context.Context)
	onDegraded func(channel string)
	maxRetries int
	baseDelay  time.Duration
	afterFunc  afterFunc
	logger     apt.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	started    bool
	closed     bool
	sub        feed.Subscription
	gen        int
	retryCount int
	retrying   bool
	degraded   bool
	timer      timer
}

func NewSupervisor(ch feed.Channel, policy *NotificationPolicy, cfg SupervisorConfig, logger apt.Logger) *Supervisor {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if policy == nil {
		policy = NewNotificationPolicy(false, logger)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		feed:       ch,
		policy:     policy,
		channel:    cfg.Channel,
		handler:    cfg.Handler,
		resync:     cfg.Resync,
		onDegraded: cfg.OnDegraded,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		afterFunc:  stdAfterFunc,
		logger:     logger.With("component", "supervisor", "channel", cfg.Channel),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Supervisor) Channel() string {
	return s.channel
}

// Start opens the first subscription. A failure here is handled like any
// other channel error, so Start itself only fails after Close.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.subscribe(gen); err != nil {
		s.handleStatus(gen, feed.StatusChannelError, err)
	}
	return nil
}

// Degraded reports whether the channel gave up retrying.
func (s *Supervisor) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Supervisor) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// Close stops a pending retry, clears the channel alert and unsubscribes.
// Nothing scheduled by the supervisor runs after Close returns.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.policy.ClearAlert(s.channel)

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
	return err
}

func (s *Supervisor) subscribe(gen int) error {
	sub, err := s.feed.Subscribe(s.ctx, s.channel, s.handler, func(status feed.Status, err error) {
		s.handleStatus(gen, status, err)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return sub.Unsubscribe()
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// handleStatus ignores reports from subscriptions that were already replaced.
func (s *Supervisor) handleStatus(gen int, status feed.Status, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}

	switch {
	case status == feed.StatusSubscribed || status == feed.StatusClosed:
		// A transport that comes back on its own skipped the retry path, so
		// nothing else would resync what it missed while degraded.
		recovered := status == feed.StatusSubscribed && s.degraded && s.resync != nil
		s.retryCount = 0
		s.degraded = false
		if recovered {
			s.wg.Add(1)
		}
		s.mu.Unlock()
		s.policy.ClearAlert(s.channel)
		s.logger.Debug("channel status", "status", string(status))
		if recovered {
			go func() {
				defer s.wg.Done()
				s.resync(s.ctx)
			}()
		}

	case status.Failed():
		if s.retrying {
			s.mu.Unlock()
			return
		}
		if s.retryCount >= s.maxRetries {
			first := !s.degraded
			s.degraded = true
			s.mu.Unlock()
			if first {
				s.logger.Error("retry ceiling reached", "retries", s.maxRetries, "error", err)
				s.policy.RaiseAlert(s.channel)
				if s.onDegraded != nil {
					s.onDegraded(s.channel)
				}
			}
			return
		}

		delay := s.baseDelay << s.retryCount
		s.retryCount++
		s.retrying = true
		s.wg.Add(1)
		s.timer = s.afterFunc(delay, func() {
			defer s.wg.Done()
			s.retry()
		})
		attempt := s.retryCount
		s.mu.Unlock()
		s.logger.Info("channel failed, retry scheduled",
			"status", string(status), "attempt", attempt, "delay", delay.String(), "error", err)

	default:
		s.mu.Unlock()
	}
}

func (s *Supervisor) retry() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.retrying = false
	s.timer = nil
	s.gen++
	gen := s.gen
	old := s.sub
	s.sub = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Unsubscribe(); err != nil {
			s.logger.Debug("cannot release failed subscription", "error", err)
		}
	}

	if err := s.subscribe(gen); err != nil {
		s.handleStatus(gen, feed.StatusChannelError, err)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed && s.resync != nil {
		s.resync(s.ctx)
	}
}
