package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const DefaultPollInterval = 10 * time.Second

// Poller runs a full resync on a fixed interval whatever the channel health.
type Poller struct {
	resync   func(ctx context.Context)
	interval time.Duration
	logger   apt.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(resync func(ctx context.Context), interval time.Duration, logger apt.Logger) *Poller {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		resync:   resync,
		interval: interval,
		logger:   logger.With("component", "poller"),
	}
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)
}

// Stop returns once the loop has exited; no tick fires afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.resync(ctx)
		}
	}
}
