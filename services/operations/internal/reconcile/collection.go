// Package reconcile holds the per-role projection of the order store that a
// station serves. A Collection is fed by feed events, periodic resyncs and the
// station's own optimistic writes; the latest resync always wins.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"

	"github.com/appetiteclub/orderflow/pkg/enums/paymentstatus"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/pkg/feed"
	"github.com/appetiteclub/orderflow/pkg/orders"
	"github.com/appetiteclub/orderflow/services/operations/internal/realtime"
)

// Source reads the authoritative store.
type Source interface {
	Get(ctx context.Context, id uuid.UUID) (*orders.Order, error)
	List(ctx context.Context, q orders.Query) ([]*orders.Order, error)
}

// SessionGuard tells whether an operator with role is signed in.
type SessionGuard interface {
	HasRole(role string) bool
}

type Notifier interface {
	Notify(n realtime.Notice)
}

type stopper interface {
	Stop()
}

// Row is one order as a station sees it.
type Row struct {
	Order     *orders.Order     `json:"order"`
	Counts    orders.ItemCounts `json:"counts"`
	Countdown *orders.Countdown `json:"countdown,omitempty"`
}

func newRow(o *orders.Order) *Row {
	return &Row{Order: o, Counts: orders.CountItems(o)}
}

// Snapshot is a sorted copy of a collection at one point in time.
type Snapshot struct {
	Role     string         `json:"role"`
	Seq      uint64         `json:"seq"`
	Loaded   bool           `json:"loaded"`
	Selected *uuid.UUID     `json:"selected,omitempty"`
	Watches  map[string]int `json:"watches"`
	Rows     []Row          `json:"rows"`
	At       time.Time      `json:"at"`
}

type Collection struct {
	view     View
	source   Source
	guard    SessionGuard
	notifier Notifier
	logger   apt.Logger
	now      func() time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	mu          sync.Mutex
	rows        map[uuid.UUID]*Row
	selected    uuid.UUID
	epoch       uint64
	issuedSync  uint64
	appliedSync uint64
	loaded      bool
	lastWatch   map[string]int
	seq         uint64
	listeners   map[int]func(Snapshot)
	nextID      int
	closed      bool
	poller      stopper
	supervisors []io.Closer
}

// NewCollection builds an empty collection. guard and notifier may be nil.
func NewCollection(view View, source Source, guard SessionGuard, notifier Notifier, logger apt.Logger) *Collection {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collection{
		view:      view,
		source:    source,
		guard:     guard,
		notifier:  notifier,
		logger:    logger.With("component", "collection", "role", view.Role),
		now:       time.Now,
		bgCtx:     ctx,
		bgCancel:  cancel,
		rows:      make(map[uuid.UUID]*Row),
		lastWatch: make(map[string]int),
		listeners: make(map[int]func(Snapshot)),
	}
}

func (c *Collection) View() View {
	return c.view
}

// Attach hands the poller and channel supervisors feeding this collection
// over to it, so Close can tear them down in order.
func (c *Collection) Attach(poller stopper, supervisors ...io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poller = poller
	c.supervisors = append(c.supervisors, supervisors...)
}

func (c *Collection) query() orders.Query {
	return c.view.Query(orders.ShiftStart(c.now()))
}

// allowed is the session guard every store read goes through.
func (c *Collection) allowed() bool {
	if c.guard == nil || c.guard.HasRole(c.view.SessionRole) {
		return true
	}
	c.logger.Debug("skipping store access", "error", orders.ErrSessionMissing)
	return false
}

// Resync replaces every row with a fresh listing. Of overlapping resyncs the
// last one started wins; any point refetch started before it is discarded.
func (c *Collection) Resync(ctx context.Context) error {
	if !c.allowed() {
		return nil
	}

	c.mu.Lock()
	c.issuedSync++
	ticket := c.issuedSync
	c.mu.Unlock()

	q := c.query()
	list, err := c.source.List(ctx, q)
	if err != nil {
		return fmt.Errorf("cannot resync %s view: %w", c.view.Role, err)
	}

	rows := make(map[uuid.UUID]*Row, len(list))
	for _, o := range list {
		if q.Matches(o) {
			rows[o.ID] = newRow(o)
		}
	}

	c.mu.Lock()
	if c.closed || ticket <= c.appliedSync {
		c.mu.Unlock()
		return nil
	}
	c.appliedSync = ticket
	c.epoch++
	c.rows = rows
	first := !c.loaded
	c.loaded = true
	notices, snap := c.changedLocked(first)
	c.mu.Unlock()

	c.emit(notices, snap)
	return nil
}

// Reload is Resync for callers that cannot act on the error.
func (c *Collection) Reload(ctx context.Context) {
	if err := c.Resync(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("resync failed", "error", err)
	}
}

// HandleEvent refetches the order behind ev and merges it. Events are merged
// by order id and revision, so replays and out-of-order delivery are harmless.
func (c *Collection) HandleEvent(ctx context.Context, ev feed.Event) error {
	if ev.EventType == event.EventHeartbeat {
		return nil
	}
	if !c.allowed() {
		return nil
	}

	raw := ev.OrderID
	if raw == "" {
		switch ev.Channel {
		case event.ChannelOrders:
			raw = ev.Key
		case event.ChannelOrderItems:
			// An item delete without a pre-image only names the item.
			raw = c.itemOwner(ev.Key)
		}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.logger.Error("dropping feed event without order id", "channel", ev.Channel, "key", ev.Key)
		return nil
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	o, err := c.source.Get(ctx, id)
	if err != nil && !errors.Is(err, orders.ErrNotFound) && !errors.Is(err, orders.ErrDeleted) {
		return fmt.Errorf("cannot refetch order %s: %w", id, err)
	}
	if err != nil {
		o = nil
	}

	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	held, ok := c.rows[id]
	switch {
	case o == nil || !c.query().Matches(o):
		if !ok {
			c.mu.Unlock()
			return nil
		}
		delete(c.rows, id)
	case ok && o.Revision() < held.Order.Revision():
		c.mu.Unlock()
		return nil
	default:
		c.rows[id] = newRow(o)
	}
	notices, snap := c.changedLocked(false)
	c.mu.Unlock()

	c.emit(notices, snap)
	return nil
}

// itemOwner returns the id of the held order that contains the item, or ""
// when no row holds it.
func (c *Collection) itemOwner(key string) string {
	itemID, err := uuid.Parse(key)
	if err != nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, row := range c.rows {
		if row.Order.Item(itemID) != nil {
			return id.String()
		}
	}
	return ""
}

// ApplyOptimistic runs mutate on a copy of the row right away. It returns
// false when id is not in the view. A row the mutation moves out of the view
// is evicted. The guess stands until the caller schedules Reconcile, which it
// must do once the write it anticipates has been answered.
func (c *Collection) ApplyOptimistic(id uuid.UUID, mutate func(o *orders.Order)) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	row, ok := c.rows[id]
	if !ok {
		c.mu.Unlock()
		return false
	}

	o := row.Order.Clone()
	mutate(o)
	if c.query().Matches(o) {
		c.rows[id] = newRow(o)
	} else {
		delete(c.rows, id)
	}
	notices, snap := c.changedLocked(false)
	c.mu.Unlock()

	c.emit(notices, snap)
	return true
}

// Reconcile schedules a background resync that replaces every optimistic
// guess with the stored state. It returns false once the collection is
// closed.
func (c *Collection) Reconcile() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.bg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.bg.Done()
		c.Reload(c.bgCtx)
	}()
	return true
}

// Select marks id as the operator's current row. uuid.Nil clears the selection.
func (c *Collection) Select(id uuid.UUID) bool {
	c.mu.Lock()
	if id != uuid.Nil {
		if _, ok := c.rows[id]; !ok {
			c.mu.Unlock()
			return false
		}
	}
	c.selected = id
	c.seq++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(nil, snap)
	return true
}

func (c *Collection) Selected() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected != uuid.Nil
}

// Row returns a copy of the row for id.
func (c *Collection) Row(id uuid.UUID) (Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rows[id]
	if !ok {
		return Row{}, false
	}
	return Row{Order: r.Order.Clone(), Counts: r.Counts}, true
}

func (c *Collection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Watch calls fn with a snapshot after every change. fn must not block.
func (c *Collection) Watch(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close stops the poller, then the supervisors, then waits for background
// resyncs. Nothing touches the collection after Close returns.
func (c *Collection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	poller, supervisors := c.poller, c.supervisors
	c.poller, c.supervisors = nil, nil
	c.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	var errs []error
	for _, s := range supervisors {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.bgCancel()
	c.bg.Wait()
	return errors.Join(errs...)
}

func (c *Collection) sortedLocked() []*Row {
	rows := make([]*Row, 0, len(c.rows))
	for _, r := range c.rows {
		rows = append(rows, r)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if c.view.Less != nil {
			if c.view.Less(rows[i], rows[j]) {
				return true
			}
			if c.view.Less(rows[j], rows[i]) {
				return false
			}
		}
		return rows[i].Order.ID.String() < rows[j].Order.ID.String()
	})
	return rows
}

// changedLocked repairs the selection and works out which watches grew. The
// first load only records the baseline.
func (c *Collection) changedLocked(baseline bool) ([]realtime.Notice, Snapshot) {
	sorted := c.sortedLocked()

	if c.selected != uuid.Nil {
		if _, ok := c.rows[c.selected]; !ok {
			c.selected = uuid.Nil
			if len(sorted) > 0 {
				c.selected = sorted[0].Order.ID
			}
		}
	}

	var notices []realtime.Notice
	if c.loaded {
		for _, w := range c.view.Watches {
			n := w.Count(sorted)
			if !baseline && n > c.lastWatch[w.Kind] {
				notices = append(notices, realtime.Notice{
					Role:    c.view.Role,
					Kind:    w.Kind,
					Count:   n,
					Message: w.Message,
				})
			}
			c.lastWatch[w.Kind] = n
		}
	}

	c.seq++
	return notices, c.snapshotFrom(sorted)
}

func (c *Collection) snapshotLocked() Snapshot {
	return c.snapshotFrom(c.sortedLocked())
}

func (c *Collection) snapshotFrom(sorted []*Row) Snapshot {
	now := c.now()
	snap := Snapshot{
		Role:    c.view.Role,
		Seq:     c.seq,
		Loaded:  c.loaded,
		Watches: make(map[string]int, len(c.view.Watches)),
		Rows:    make([]Row, 0, len(sorted)),
		At:      now,
	}
	if c.selected != uuid.Nil {
		sel := c.selected
		snap.Selected = &sel
	}
	for _, w := range c.view.Watches {
		snap.Watches[w.Kind] = w.Count(sorted)
	}
	for _, r := range sorted {
		row := Row{Order: r.Order, Counts: r.Counts}
		if r.Order.ExpiresAt != nil && r.Order.PaymentStatus == paymentstatus.Statuses.Unpaid.Code() {
			cd := orders.CountdownFor(*r.Order.ExpiresAt, now)
			row.Countdown = &cd
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap
}

func (c *Collection) emit(notices []realtime.Notice, snap Snapshot) {
	c.mu.Lock()
	listeners := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	if c.notifier != nil {
		for _, n := range notices {
			c.notifier.Notify(n)
		}
	}
}
