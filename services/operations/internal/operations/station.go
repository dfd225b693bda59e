package operations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/appetiteclub/apt"
	"golang.org/x/sync/errgroup"

	"github.com/appetiteclub/orderflow/pkg/feed"
	"github.com/appetiteclub/orderflow/services/operations/internal/realtime"
	"github.com/appetiteclub/orderflow/services/operations/internal/reconcile"
)

var ErrUnknownStation = errors.New("unknown station")

// Station is one role's collection together with the subscriptions and the
// poller that keep it current.
type Station struct {
	Role       string
	Collection *reconcile.Collection

	poller      *realtime.Poller
	supervisors []*realtime.Supervisor
}

// Degraded lists the channels of the station that gave up retrying.
func (s *Station) Degraded() []string {
	var out []string
	for _, sup := range s.supervisors {
		if sup.Degraded() {
			out = append(out, sup.Channel())
		}
	}
	return out
}

// ChannelSource hands each station the feed channel it subscribes through.
// Durable transports need one consumer per station.
type ChannelSource func(role string) feed.Channel

// SharedChannel serves every station from ch.
func SharedChannel(ch feed.Channel) ChannelSource {
	return func(string) feed.Channel { return ch }
}

type StationConfig struct {
	Roles        []string
	Recent       bool
	MaxRetries   int
	BaseDelay    time.Duration
	PollInterval time.Duration
}

// StationManager runs every configured station in the process. It is an apt
// lifecycle component.
type StationManager struct {
	stations map[string]*Station
	roles    []string
	policy   *realtime.NotificationPolicy
	logger   apt.Logger
}

func NewStationManager(cfg StationConfig, channels ChannelSource, source reconcile.Source, guard reconcile.SessionGuard, policy *realtime.NotificationPolicy, logger apt.Logger) (*StationManager, error) {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if policy == nil {
		policy = realtime.NewNotificationPolicy(false, logger)
	}

	m := &StationManager{
		stations: make(map[string]*Station, len(cfg.Roles)),
		policy:   policy,
		logger:   logger.With("component", "stations"),
	}

	for _, role := range cfg.Roles {
		if _, dup := m.stations[role]; dup {
			continue
		}
		view, err := reconcile.ViewFor(role, cfg.Recent)
		if err != nil {
			return nil, fmt.Errorf("cannot build station: %w", err)
		}

		coll := reconcile.NewCollection(view, source, guard, policy, logger)
		st := &Station{
			Role:       role,
			Collection: coll,
			poller:     realtime.NewPoller(coll.Reload, cfg.PollInterval, logger.With("role", role)),
		}

		ch := channels(role)
		closers := make([]io.Closer, 0, len(view.Channels))
		for _, channel := range view.Channels {
			sup := realtime.NewSupervisor(ch, policy, realtime.SupervisorConfig{
				Channel:    channel,
				Handler:    coll.HandleEvent,
				Resync:     coll.Reload,
				OnDegraded: m.degradedFunc(role),
				MaxRetries: cfg.MaxRetries,
				BaseDelay:  cfg.BaseDelay,
			}, logger.With("role", role))
			st.supervisors = append(st.supervisors, sup)
			closers = append(closers, sup)
		}
		coll.Attach(st.poller, closers...)

		m.stations[role] = st
		m.roles = append(m.roles, role)
	}

	if len(m.stations) == 0 {
		return nil, errors.New("no station roles configured")
	}
	return m, nil
}

func (m *StationManager) degradedFunc(role string) func(channel string) {
	return func(channel string) {
		m.logger.Info("station degraded to polling", "role", role, "channel", channel)
	}
}

func (m *StationManager) Station(role string) (*Station, error) {
	st, ok := m.stations[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, role)
	}
	return st, nil
}

func (m *StationManager) Roles() []string {
	out := append([]string(nil), m.roles...)
	sort.Strings(out)
	return out
}

func (m *StationManager) Policy() *realtime.NotificationPolicy {
	return m.policy
}

// Start loads every station and opens its subscriptions. A failed initial
// load is not fatal: the poller and the supervisors retry it.
func (m *StationManager) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, role := range m.roles {
		st := m.stations[role]
		g.Go(func() error {
			if err := st.Collection.Resync(gctx); err != nil {
				m.logger.Error("initial station load failed", "role", st.Role, "error", err)
			}
			for _, sup := range st.supervisors {
				if err := sup.Start(); err != nil {
					return fmt.Errorf("cannot start %s station: %w", st.Role, err)
				}
			}
			st.poller.Start()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.logger.Info("stations started", "roles", m.roles)
	return nil
}

// Stop closes every station.
func (m *StationManager) Stop(ctx context.Context) error {
	var errs []error
	for _, role := range m.roles {
		if err := m.stations[role].Collection.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cannot close %s station: %w", role, err))
		}
	}
	m.logger.Info("stations stopped")
	return errors.Join(errs...)
}

// ReloadFor resyncs the stations an operator with sessionRole works at.
func (m *StationManager) ReloadFor(ctx context.Context, sessionRole string) {
	for _, role := range m.roles {
		st := m.stations[role]
		if st.Collection.View().SessionRole == sessionRole {
			st.Collection.Reload(ctx)
		}
	}
}
