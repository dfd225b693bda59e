package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/appetiteclub/orderflow/pkg/feed"
)

// MockChannel records subscriptions and lets tests drive their status.
type MockChannel struct {
	SubscribeFunc func(ctx context.Context, channel string) error

	mu     sync.Mutex
	subs   []*mockSubscription
	status []feed.StatusFunc
}

type mockSubscription struct {
	mu           sync.Mutex
	unsubscribed bool
}

func (s *mockSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

func (s *mockSubscription) Unsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

func (m *MockChannel) Subscribe(ctx context.Context, channel string, handler feed.Handler, onStatus feed.StatusFunc) (feed.Subscription, error) {
	if m.SubscribeFunc != nil {
		if err := m.SubscribeFunc(ctx, channel); err != nil {
			return nil, err
		}
	}
	sub := &mockSubscription{}
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.status = append(m.status, onStatus)
	m.mu.Unlock()
	return sub, nil
}

func (m *MockChannel) Subscriptions() []*mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mockSubscription(nil), m.subs...)
}

// Report delivers status through the most recent subscription.
func (m *MockChannel) Report(status feed.Status, err error) {
	m.mu.Lock()
	fn := m.status[len(m.status)-1]
	m.mu.Unlock()
	fn(status, err)
}

// ReportOn delivers status through the i-th subscription.
func (m *MockChannel) ReportOn(i int, status feed.Status, err error) {
	m.mu.Lock()
	fn := m.status[i]
	m.mu.Unlock()
	fn(status, err)
}

// fakeTimers captures scheduled retries instead of waiting for them.
type fakeTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) timer {
	t := &fakeTimer{f: fn}
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	return t
}

func (f *fakeTimers) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

// FireLast runs the most recently scheduled timer unless it was stopped.
func (f *fakeTimers) FireLast() bool {
	f.mu.Lock()
	t := f.timers[len(f.timers)-1]
	f.mu.Unlock()

	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	t.mu.Unlock()

	t.f()
	return true
}

type resyncCounter struct {
	mu    sync.Mutex
	calls int
	ran   chan struct{}
}

func newResyncCounter() *resyncCounter {
	return &resyncCounter{ran: make(chan struct{}, 64)}
}

func (r *resyncCounter) Resync(ctx context.Context) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	select {
	case r.ran <- struct{}{}:
	default:
	}
}

func (r *resyncCounter) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
