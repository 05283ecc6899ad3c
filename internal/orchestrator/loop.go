// internal/orchestrator/loop.go
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/events"
	"github.com/rovshanmuradov/avantis-bot/internal/guard"
	"github.com/rovshanmuradov/avantis-bot/internal/monitor"
	"github.com/rovshanmuradov/avantis-bot/internal/retry"
	"github.com/rovshanmuradov/avantis-bot/internal/session"
	"github.com/rovshanmuradov/avantis-bot/internal/strategy"
	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// LoopConfig tunes the per-session strategy loop.
type LoopConfig struct {
	// ActiveInterval is the sleep between cycles while the session has
	// open positions and at least one subscriber.
	ActiveInterval time.Duration
	// RelaxedInterval is the sleep when only one of the two holds.
	// With no positions and no subscribers the loop pauses entirely
	// until poked.
	RelaxedInterval time.Duration
	// ActionTimeout bounds a single venue action including its retries.
	ActionTimeout time.Duration
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = 3 * time.Second
	}
	if c.RelaxedInterval <= 0 {
		c.RelaxedInterval = 30 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 45 * time.Second
	}
	return c
}

// runtime is one session's strategy loop. It owns the session's lifecycle
// after Start: all status transitions and the stop sequence happen here,
// exactly once, on the loop goroutine.
type runtime struct {
	sess      *session.Session
	evaluator strategy.Evaluator
	venue     venue.Venue
	monitor   monitor.Service
	bus       *events.Broadcaster
	guard     *guard.Guard
	retry     *retry.Executor
	cfg       LoopConfig
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pokeCh chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	stopReason string
}

func newRuntime(sess *session.Session, evaluator strategy.Evaluator, v venue.Venue,
	mon monitor.Service, bus *events.Broadcaster, g *guard.Guard, r *retry.Executor,
	cfg LoopConfig, logger *zap.Logger) *runtime {

	ctx, cancel := context.WithCancel(context.Background())
	return &runtime{
		sess:      sess,
		evaluator: evaluator,
		venue:     v,
		monitor:   mon,
		bus:       bus,
		guard:     g,
		retry:     r,
		cfg:       cfg,
		logger:    logger.Named("loop"),
		ctx:       ctx,
		cancel:    cancel,
		pokeCh:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// requestStop cancels the loop's context. The first caller's reason wins;
// repeated calls are no-ops.
func (rt *runtime) requestStop(reason string) {
	rt.mu.Lock()
	if rt.stopReason == "" {
		rt.stopReason = reason
	}
	rt.mu.Unlock()
	rt.cancel()
}

func (rt *runtime) reason() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopReason == "" {
		return "stop requested"
	}
	return rt.stopReason
}

func (rt *runtime) poke() {
	select {
	case rt.pokeCh <- struct{}{}:
	default:
	}
}

// run drives the cycle: evaluating, acting, reconciling, sleeping.
// Termination conditions are checked at the top of every cycle, in order:
// profit goal, loss threshold, cancellation.
func (rt *runtime) run() {
	defer close(rt.done)

	rt.transition(session.StatusRunning)
	rt.logger.Info("Session loop running", zap.String("strategy", rt.evaluator.Name()))

	for {
		snap := rt.sess.Snapshot()
		cfg := snap.Config

		if snap.CumulativePnl >= cfg.ProfitGoal {
			rt.finalize(session.StatusCompleted,
				fmt.Sprintf("profit goal reached: %.2f >= %.2f", snap.CumulativePnl, cfg.ProfitGoal),
				true)
			return
		}
		if cfg.LossThresholdPct > 0 && snap.CumulativePnl <= cfg.LossFloor() {
			rt.finalize(session.StatusStopped,
				fmt.Sprintf("loss threshold breached: %.2f <= %.2f", snap.CumulativePnl, cfg.LossFloor()),
				true)
			return
		}
		if rt.ctx.Err() != nil {
			rt.finalize(session.StatusStopped, rt.reason(), true)
			return
		}

		if err := rt.cycle(); err != nil {
			rt.finalize(session.StatusError, fmt.Sprintf("fatal venue error: %v", err), false)
			return
		}

		if !rt.sleep() {
			// Cancelled mid-sleep; the top-of-cycle check runs the stop sequence.
			continue
		}
	}
}

// cycle runs one evaluate/act/reconcile pass. It returns an error only for
// fatal venue failures; everything else is absorbed and the session
// continues.
func (rt *runtime) cycle() error {
	id := rt.sess.ID()

	// Evaluating: the strategy sees the last confirmed state, never
	// optimistic local writes.
	state, _ := rt.monitor.State(id)
	sig, err := rt.evaluator.Evaluate(rt.ctx, strategy.EvalContext{
		Session:   rt.sess.Snapshot(),
		Positions: state.Positions,
		Balance:   state.Balance,
	})
	if err != nil {
		rt.logger.Warn("Strategy evaluation failed, no trade this cycle", zap.Error(err))
		sig = strategy.None()
	}

	// Acting.
	var actErr error
	switch sig.Action {
	case strategy.ActionOpen:
		actErr = rt.actOpen(sig)
	case strategy.ActionClose:
		actErr = rt.actClose(sig)
	}
	if actErr != nil {
		switch {
		case venue.IsFatal(actErr):
			return actErr
		case venue.IsNoTrade(actErr):
			rt.logger.Info("No trade this cycle", zap.String("reason", actErr.Error()))
		default:
			rt.logger.Warn("Action failed, session continues", zap.Error(actErr))
		}
	}

	// Reconciling: refresh confirmed state regardless of the action's
	// outcome. On poll failure the returned state is the last confirmed
	// cache, so the cycle still counts.
	st, err := rt.monitor.RefreshNow(context.Background(), id)
	if err != nil {
		rt.logger.Debug("Reconcile poll failed, using last confirmed state", zap.Error(err))
	}
	rt.sess.RecordCycle(st.OpenPairs(), st.RealizedPnl)

	return nil
}

// actOpen submits an open order for the signalled pair. The pair guard
// makes the attempt exclusive; a held guard means some earlier attempt is
// still in flight, so this cycle skips trading entirely.
func (rt *runtime) actOpen(sig strategy.Signal) error {
	snap := rt.sess.Snapshot()
	if len(snap.OpenPositionIDs) >= snap.Config.MaxPositions {
		rt.logger.Debug("Position cap reached, skipping open",
			zap.Int("open", len(snap.OpenPositionIDs)),
			zap.Int("max", snap.Config.MaxPositions))
		return nil
	}

	req := sig.OpenRequest()
	if err := venue.ValidateOpen(req); err != nil {
		return err
	}

	key := guard.PairKey(rt.sess.ID(), sig.PairIndex)
	if !rt.guard.TryAcquire(key) {
		rt.logger.Debug("Guard held, skipping open", zap.String("key", key.String()))
		return nil
	}
	defer rt.guard.Release(key)

	// Detached from the session context: once submitted, an action is
	// allowed to finish even if the session is cancelled mid-flight.
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ActionTimeout)
	defer cancel()

	receipt, err := retry.Do(ctx, rt.retry, "open_position", func(c context.Context) (venue.Receipt, error) {
		return rt.venue.OpenPosition(c, rt.sess.Trader(), req)
	})
	if err != nil {
		return err
	}

	rt.logger.Info("📈 Open order submitted",
		zap.String("pair", venue.SymbolFor(req.PairIndex)),
		zap.String("side", string(req.Side)),
		zap.Float64("collateral", req.Collateral),
		zap.Float64("leverage", req.Leverage),
		zap.String("tx_ref", receipt.TxRef))
	return nil
}

func (rt *runtime) actClose(sig strategy.Signal) error {
	if err := venue.ValidateClose(sig.PairIndex); err != nil {
		return err
	}

	key := guard.PairKey(rt.sess.ID(), sig.PairIndex)
	if !rt.guard.TryAcquire(key) {
		rt.logger.Debug("Guard held, skipping close", zap.String("key", key.String()))
		return nil
	}
	defer rt.guard.Release(key)

	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ActionTimeout)
	defer cancel()

	receipt, err := retry.Do(ctx, rt.retry, "close_position", func(c context.Context) (venue.Receipt, error) {
		return rt.venue.ClosePosition(c, rt.sess.Trader(), sig.PairIndex)
	})
	if err != nil {
		return err
	}

	rt.logger.Info("📉 Close order submitted",
		zap.String("pair", venue.SymbolFor(sig.PairIndex)),
		zap.String("tx_ref", receipt.TxRef))
	return nil
}

// sleep waits out the adaptive interval. It returns false when the session
// context was cancelled, true otherwise (including pokes).
func (rt *runtime) sleep() bool {
	interval, paused := rt.nextDelay()

	if paused {
		rt.logger.Debug("Loop paused, waiting for activity")
		select {
		case <-rt.ctx.Done():
			return false
		case <-rt.pokeCh:
			return true
		}
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-rt.ctx.Done():
		return false
	case <-rt.pokeCh:
		return true
	case <-timer.C:
		return true
	}
}

// nextDelay picks the cycle interval: tight while positions are open and
// someone is watching, paused when neither holds, relaxed otherwise.
func (rt *runtime) nextDelay() (time.Duration, bool) {
	open := rt.sess.OpenPositionCount()
	watchers := rt.bus.Watchers(rt.sess.ID())

	switch {
	case open > 0 && watchers > 0:
		return rt.cfg.ActiveInterval, false
	case open == 0 && watchers == 0:
		return 0, true
	default:
		return rt.cfg.RelaxedInterval, false
	}
}

// finalize runs the stop sequence exactly once: transition to stopping,
// optionally close every open position, then settle on the terminal
// status. Fatal venue errors skip close-all since further calls would
// fail the same way.
func (rt *runtime) finalize(status session.Status, reason string, closeAll bool) {
	rt.transition(session.StatusStopping)

	if closeAll {
		if err := rt.closeAll(); err != nil {
			rt.logger.Error("Close-all failed", zap.Error(err))
			status = session.StatusError
			reason = fmt.Sprintf("close-all failed: %v", err)
		}
	}

	prev := rt.sess.MarkTerminal(status, reason)
	final := rt.sess.Status()
	if prev != final {
		rt.bus.Publish(events.NewSessionStatusChanged(rt.sess.ID(), string(prev), string(final)))
	}
	rt.bus.Publish(events.NewSessionTerminal(rt.sess.ID(), string(final), rt.sess.TerminationReason()))

	rt.monitor.Untrack(rt.sess.ID())

	rt.logger.Info("🛑 Session finished",
		zap.String("status", string(final)),
		zap.String("reason", rt.sess.TerminationReason()),
		zap.Float64("cumulative_pnl", rt.sess.CumulativePnl()),
		zap.Uint64("cycles", rt.sess.Snapshot().CycleCount))
}

// closeAll closes every confirmed open position under the session-wide
// close-all guard key. Positions already gone on the venue count as
// closed. Any position that survives retry exhaustion fails the sweep.
func (rt *runtime) closeAll() error {
	id := rt.sess.ID()

	key := guard.CloseAllKey(id)
	if !rt.guard.TryAcquire(key) {
		return fmt.Errorf("close-all already in flight for session %s", id)
	}
	defer rt.guard.Release(key)

	state, err := rt.monitor.RefreshNow(context.Background(), id)
	if err != nil {
		rt.logger.Warn("Close-all using cached positions, refresh failed", zap.Error(err))
	}
	if len(state.Positions) == 0 {
		return nil
	}

	rt.logger.Info("Closing all open positions", zap.Int("count", len(state.Positions)))

	var failed int
	var lastErr error
	for _, pos := range state.Positions {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ActionTimeout)
		_, err := retry.Do(ctx, rt.retry, "close_position", func(c context.Context) (venue.Receipt, error) {
			return rt.venue.ClosePosition(c, rt.sess.Trader(), pos.PairIndex)
		})
		cancel()

		if err != nil && !venue.IsValidation(err) {
			failed++
			lastErr = err
			rt.logger.Error("Failed to close position",
				zap.String("pair", pos.Symbol),
				zap.Error(err))
			continue
		}
		rt.logger.Info("Position closed",
			zap.String("pair", pos.Symbol),
			zap.Float64("pnl", pos.Pnl))
	}

	// Final refresh so realized PnL from the sweep lands in the snapshot.
	if st, err := rt.monitor.RefreshNow(context.Background(), id); err == nil {
		rt.sess.RecordCycle(st.OpenPairs(), st.RealizedPnl)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d positions could not be closed: %w", failed, len(state.Positions), lastErr)
	}
	return nil
}

// transition moves the session to next and publishes the change. Terminal
// states are sticky, so a no-op transition publishes nothing.
func (rt *runtime) transition(next session.Status) {
	prev := rt.sess.SetStatus(next)
	if prev == next || rt.sess.Status() != next {
		return
	}
	rt.bus.Publish(events.NewSessionStatusChanged(rt.sess.ID(), string(prev), string(next)))
}
