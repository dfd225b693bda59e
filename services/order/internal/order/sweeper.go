package order

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const DefaultSweepInterval = 30 * time.Second

type sweepRunner interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper runs the expiration sweep on a fixed interval for as long as the
// service is up. The first sweep runs at start.
type Sweeper struct {
	runner   sweepRunner
	interval time.Duration
	logger   apt.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(runner sweepRunner, interval time.Duration, logger apt.Logger) *Sweeper {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		runner:   runner,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, s.done)

	s.logger.Info("sweeper started", "interval", s.interval.String())
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if _, err := s.runner.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep failed", "error", err)
	}
}
