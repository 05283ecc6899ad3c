// internal/monitor/monitor.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/events"
	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// EventSink receives position events. Satisfied by events.Broadcaster.
type EventSink interface {
	Publish(ev events.Event)
}

// WatcherSource reports how many subscribers observe a session. Satisfied
// by events.Broadcaster.
type WatcherSource interface {
	Watchers(sessionID string) int
}

// Config tunes the pollers.
type Config struct {
	ActiveInterval  time.Duration // open positions and at least one watcher
	RelaxedInterval time.Duration // otherwise, unless fully idle
	PollTimeout     time.Duration // per-poll deadline
}

const (
	DefaultActiveInterval  = 2 * time.Second
	DefaultRelaxedInterval = 15 * time.Second
	DefaultPollTimeout     = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = DefaultActiveInterval
	}
	if c.RelaxedInterval <= 0 {
		c.RelaxedInterval = DefaultRelaxedInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// State is a session's confirmed venue-side view: what reconciliation
// trusts instead of optimistic action results.
type State struct {
	Positions   []venue.Position
	Balance     venue.Balance
	RealizedPnl float64
	LastPollAt  time.Time
}

// OpenPairs returns the pair indices of the confirmed open set.
func (s State) OpenPairs() []uint32 {
	pairs := make([]uint32, 0, len(s.Positions))
	for _, pos := range s.Positions {
		pairs = append(pairs, pos.PairIndex)
	}
	return pairs
}

// Service maintains per-session cached position sets, refreshed by adaptive
// polling against the venue.
type Service interface {
	Track(sessionID, trader string) error
	Untrack(sessionID string)
	State(sessionID string) (State, bool)
	RefreshNow(ctx context.Context, sessionID string) (State, error)
	Poke(sessionID string)
	PokeFilter(filter string)
	Shutdown(ctx context.Context) error
	Stats() map[string]interface{}
}

// ServiceConfig wires a ServiceImpl.
type ServiceConfig struct {
	Venue    venue.Venue
	Watchers WatcherSource
	Events   EventSink
	Logger   *zap.Logger
	Poll     Config
}

// ServiceImpl is the default Service implementation: one poller goroutine
// per tracked session.
type ServiceImpl struct {
	mu      sync.RWMutex
	pollers map[string]*poller

	venue    venue.Venue
	watchers WatcherSource
	sink     EventSink
	logger   *zap.Logger
	cfg      Config
}

// NewService creates a position monitor service.
func NewService(cfg *ServiceConfig) *ServiceImpl {
	return &ServiceImpl{
		pollers:  make(map[string]*poller),
		venue:    cfg.Venue,
		watchers: cfg.Watchers,
		sink:     cfg.Events,
		logger:   cfg.Logger.Named("position_monitor"),
		cfg:      cfg.Poll.withDefaults(),
	}
}

// Track starts polling the venue for one session's positions.
func (s *ServiceImpl) Track(sessionID, trader string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pollers[sessionID]; exists {
		return fmt.Errorf("session %s is already tracked", sessionID)
	}

	p := newPoller(sessionID, trader, s.venue, s.watchers, s.sink, s.cfg,
		s.logger.With(zap.String("session_id", sessionID)))
	s.pollers[sessionID] = p

	go p.run()

	s.logger.Info("📊 Tracking session positions",
		zap.String("session_id", sessionID),
		zap.String("trader", trader))
	return nil
}

// Untrack stops a session's poller and drops its cache.
func (s *ServiceImpl) Untrack(sessionID string) {
	s.mu.Lock()
	p, ok := s.pollers[sessionID]
	if ok {
		delete(s.pollers, sessionID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	p.stop()
	s.logger.Info("Stopped tracking session positions", zap.String("session_id", sessionID))
}

func (s *ServiceImpl) poller(sessionID string) (*poller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pollers[sessionID]
	return p, ok
}

// State returns the cached confirmed state for a session.
func (s *ServiceImpl) State(sessionID string) (State, bool) {
	p, ok := s.poller(sessionID)
	if !ok {
		return State{}, false
	}
	return p.state(), true
}

// RefreshNow forces one poll and returns the post-poll state. On poll
// failure the cache is left unchanged and returned alongside the error, so
// callers reconcile against the last confirmed view.
func (s *ServiceImpl) RefreshNow(ctx context.Context, sessionID string) (State, error) {
	p, ok := s.poller(sessionID)
	if !ok {
		return State{}, fmt.Errorf("session %s is not tracked", sessionID)
	}

	err := p.pollOnce(ctx)
	return p.state(), err
}

// Poke wakes a paused or sleeping poller for one immediate poll.
func (s *ServiceImpl) Poke(sessionID string) {
	if p, ok := s.poller(sessionID); ok {
		p.poke()
	}
}

// PokeFilter wakes the poller matching a subscription filter; the empty
// filter wakes every poller. Wired as the broadcaster's attach hook.
func (s *ServiceImpl) PokeFilter(filter string) {
	if filter != "" {
		s.Poke(filter)
		return
	}

	s.mu.RLock()
	pollers := make([]*poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		pollers = append(pollers, p)
	}
	s.mu.RUnlock()

	for _, p := range pollers {
		p.poke()
	}
}

// Shutdown stops every poller, honoring the ctx deadline.
func (s *ServiceImpl) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	pollers := make([]*poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		pollers = append(pollers, p)
	}
	s.pollers = make(map[string]*poller)
	s.mu.Unlock()

	s.logger.Info("Shutting down position monitor", zap.Int("pollers", len(pollers)))

	for _, p := range pollers {
		p.cancel()
	}
	for _, p := range pollers {
		select {
		case <-p.done:
		case <-ctx.Done():
			s.logger.Warn("Position monitor shutdown timeout")
			return ctx.Err()
		}
	}

	s.logger.Info("Position monitor shutdown complete")
	return nil
}

// Stats returns per-service counters.
func (s *ServiceImpl) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var polls, failures uint64
	for _, p := range s.pollers {
		pp, pf := p.counters()
		polls += pp
		failures += pf
	}

	return map[string]interface{}{
		"tracked_sessions": len(s.pollers),
		"polls":            polls,
		"poll_failures":    failures,
	}
}
