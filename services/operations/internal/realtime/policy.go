// Package realtime keeps station subscriptions alive: it supervises feed
// channels, falls back to polling and decides which notices reach operators.
package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
)

const (
	NoticeNewOrder   = "new_order"
	NoticeItemReady  = "item_ready"
	NoticeUnpaidBill = "unpaid_bill"
	NoticeDegraded   = "degraded"
	NoticeRecovered  = "recovered"
)

// Notice is one operator-facing event.
type Notice struct {
	Role    string    `json:"role,omitempty"`
	Kind    string    `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	Count   int       `json:"count,omitempty"`
	Message string    `json:"message,omitempty"`
	Sound   bool      `json:"sound"`
	At      time.Time `json:"at"`
}

// NotificationPolicy is shared by every collection and supervisor in the
// process. It holds the sound preference and the degraded-channel alerts, which
// are keyed by channel name so a channel raises at most one alert no matter how
// many stations consume it.
type NotificationPolicy struct {
	logger apt.Logger
	now    func() time.Time

	mu        sync.Mutex
	sound     bool
	alerts    map[string]struct{}
	listeners map[int]func(Notice)
	next      int
}

func NewNotificationPolicy(sound bool, logger apt.Logger) *NotificationPolicy {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &NotificationPolicy{
		logger:    logger.With("component", "notification-policy"),
		now:       time.Now,
		sound:     sound,
		alerts:    make(map[string]struct{}),
		listeners: make(map[int]func(Notice)),
	}
}

func (p *NotificationPolicy) SoundEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sound
}

func (p *NotificationPolicy) SetSound(enabled bool) {
	p.mu.Lock()
	p.sound = enabled
	p.mu.Unlock()
	p.logger.Info("sound preference changed", "enabled", enabled)
}

// RaiseAlert marks channel degraded. Only the first raise publishes a notice;
// it returns false when the alert was already active.
func (p *NotificationPolicy) RaiseAlert(channel string) bool {
	p.mu.Lock()
	if _, ok := p.alerts[channel]; ok {
		p.mu.Unlock()
		return false
	}
	p.alerts[channel] = struct{}{}
	p.mu.Unlock()

	p.logger.Info("channel degraded, polling only", "channel", channel)
	p.Notify(Notice{
		Kind:    NoticeDegraded,
		Channel: channel,
		Message: "Live updates unavailable for " + channel + ", refreshing periodically",
	})
	return true
}

// ClearAlert drops the alert for channel and announces the recovery if one
// was active.
func (p *NotificationPolicy) ClearAlert(channel string) {
	p.mu.Lock()
	_, ok := p.alerts[channel]
	delete(p.alerts, channel)
	p.mu.Unlock()

	if !ok {
		return
	}
	p.logger.Info("channel recovered", "channel", channel)
	p.Notify(Notice{Kind: NoticeRecovered, Channel: channel, Message: "Live updates restored for " + channel})
}

func (p *NotificationPolicy) AlertActive(channel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.alerts[channel]
	return ok
}

// Alerts lists the degraded channels in name order.
func (p *NotificationPolicy) Alerts() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.alerts))
	for ch := range p.alerts {
		out = append(out, ch)
	}
	p.mu.Unlock()
	sort.Strings(out)
	return out
}

// Notify stamps n with the current sound preference and hands it to every
// listener. Listeners run on the caller's goroutine and must not block.
func (p *NotificationPolicy) Notify(n Notice) {
	p.mu.Lock()
	n.Sound = p.sound
	listeners := make([]func(Notice), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	if n.At.IsZero() {
		n.At = p.now()
	}
	for _, fn := range listeners {
		fn(n)
	}
}

// Subscribe registers fn for every future notice. The returned func removes it.
func (p *NotificationPolicy) Subscribe(fn func(Notice)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}
