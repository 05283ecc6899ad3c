// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/avantis-bot/internal/events"
	"github.com/rovshanmuradov/avantis-bot/internal/guard"
	"github.com/rovshanmuradov/avantis-bot/internal/monitor"
	"github.com/rovshanmuradov/avantis-bot/internal/retry"
	"github.com/rovshanmuradov/avantis-bot/internal/session"
	"github.com/rovshanmuradov/avantis-bot/internal/strategy"
	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// ErrShuttingDown rejects Start calls after Shutdown began.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Config wires an Orchestrator.
type Config struct {
	Venue   venue.Venue
	Monitor monitor.Service
	Events  *events.Broadcaster
	Guard   *guard.Guard
	Retry   *retry.Executor
	Logger  *zap.Logger
	Loop    LoopConfig
}

// Orchestrator owns the session registry: it spawns one strategy loop per
// session, exposes the control surface, and keeps terminal sessions
// available for status queries until shutdown.
type Orchestrator struct {
	mu       sync.RWMutex
	sessions map[string]*runtime
	closed   bool

	venue   venue.Venue
	monitor monitor.Service
	bus     *events.Broadcaster
	guard   *guard.Guard
	retry   *retry.Executor
	loopCfg LoopConfig
	logger  *zap.Logger
}

// New builds an orchestrator.
func New(cfg *Config) *Orchestrator {
	return &Orchestrator{
		sessions: make(map[string]*runtime),
		venue:    cfg.Venue,
		monitor:  cfg.Monitor,
		bus:      cfg.Events,
		guard:    cfg.Guard,
		retry:    cfg.Retry,
		loopCfg:  cfg.Loop.withDefaults(),
		logger:   cfg.Logger.Named("orchestrator"),
	}
}

// Start validates the campaign config, registers the session and spawns its
// strategy loop. It returns the session ID immediately; the first cycle
// runs in the background.
func (o *Orchestrator) Start(name, trader string, cfg session.Config) (string, error) {
	if trader == "" {
		return "", errors.New("trader identity is required")
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid session config: %w", err)
	}

	evaluator, err := strategy.New(cfg.Strategy, o.logger)
	if err != nil {
		return "", fmt.Errorf("invalid session config: %w", err)
	}

	id := uuid.New().String()
	sess := session.New(id, name, trader, cfg)
	rt := newRuntime(sess, evaluator, o.venue, o.monitor, o.bus, o.guard, o.retry,
		o.loopCfg, o.logger.With(zap.String("session_id", id)))

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	o.sessions[id] = rt
	o.mu.Unlock()

	if err := o.monitor.Track(id, trader); err != nil {
		o.mu.Lock()
		delete(o.sessions, id)
		o.mu.Unlock()
		return "", fmt.Errorf("failed to track session: %w", err)
	}

	go rt.run()

	o.logger.Info("🚀 Session started",
		zap.String("session_id", id),
		zap.String("name", name),
		zap.String("trader", trader),
		zap.String("strategy", evaluator.Name()),
		zap.Float64("budget", cfg.Budget),
		zap.Float64("profit_goal", cfg.ProfitGoal),
		zap.Int("max_positions", cfg.MaxPositions))

	return id, nil
}

// Stop signals the session to finish its current cycle, close all open
// positions and stop. It acks with the current snapshot without waiting.
// Stopping an already stopping or terminal session changes nothing.
func (o *Orchestrator) Stop(id string) (session.Snapshot, error) {
	rt, ok := o.runtime(id)
	if !ok {
		return session.Snapshot{}, ErrSessionNotFound
	}

	rt.requestStop("stop requested")
	rt.poke()
	o.monitor.Poke(id)

	return rt.sess.Snapshot(), nil
}

// Status returns a session's snapshot. The call also wakes paused polling
// so the next snapshot is fresh.
func (o *Orchestrator) Status(id string) (session.Snapshot, error) {
	rt, ok := o.runtime(id)
	if !ok {
		return session.Snapshot{}, ErrSessionNotFound
	}

	o.monitor.Poke(id)
	rt.poke()

	return rt.sess.Snapshot(), nil
}

// List returns snapshots of every known session, oldest first.
func (o *Orchestrator) List() []session.Snapshot {
	o.mu.RLock()
	snapshots := make([]session.Snapshot, 0, len(o.sessions))
	for _, rt := range o.sessions {
		snapshots = append(snapshots, rt.sess.Snapshot())
	}
	o.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// PokeFilter wakes the loops and pollers matching a subscription filter.
// Wired as the broadcaster's attach hook so a new subscriber resumes
// paused sessions immediately.
func (o *Orchestrator) PokeFilter(filter string) {
	o.mu.RLock()
	runtimes := make([]*runtime, 0, len(o.sessions))
	for id, rt := range o.sessions {
		if filter == "" || filter == id {
			runtimes = append(runtimes, rt)
		}
	}
	o.mu.RUnlock()

	for _, rt := range runtimes {
		rt.poke()
	}
	o.monitor.PokeFilter(filter)
}

func (o *Orchestrator) runtime(id string) (*runtime, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.sessions[id]
	return rt, ok
}

// Shutdown stops every live session in parallel and waits for the loops to
// finish their stop sequences, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	runtimes := make([]*runtime, 0, len(o.sessions))
	for _, rt := range o.sessions {
		runtimes = append(runtimes, rt)
	}
	o.mu.Unlock()

	o.logger.Info("🛑 Shutting down orchestrator", zap.Int("sessions", len(runtimes)))

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		g.Go(func() error {
			rt.requestStop("orchestrator shutting down")
			rt.poke()
			select {
			case <-rt.done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("session %s: %w", rt.sess.ID(), gctx.Err())
			}
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Warn("Orchestrator shutdown incomplete", zap.Error(err))
		return err
	}

	o.logger.Info("✅ All session loops stopped")
	return nil
}

// Close implements io.Closer for the shutdown handler.
func (o *Orchestrator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return o.Shutdown(ctx)
}

// Stats returns session counts by status.
func (o *Orchestrator) Stats() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	byStatus := make(map[string]int)
	for _, rt := range o.sessions {
		byStatus[string(rt.sess.Status())]++
	}

	return map[string]interface{}{
		"sessions":  len(o.sessions),
		"by_status": byStatus,
	}
}
