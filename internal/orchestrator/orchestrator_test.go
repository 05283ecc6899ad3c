package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/events"
	"github.com/rovshanmuradov/avantis-bot/internal/guard"
	"github.com/rovshanmuradov/avantis-bot/internal/monitor"
	"github.com/rovshanmuradov/avantis-bot/internal/retry"
	"github.com/rovshanmuradov/avantis-bot/internal/session"
	"github.com/rovshanmuradov/avantis-bot/internal/strategy"
	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// fakeVenue is a scripted venue for loop tests: positions are seeded or
// cleared by hand, and opens/closes can be forced to fail.
type fakeVenue struct {
	mu        sync.Mutex
	positions map[uint32]venue.Position
	balance   venue.Balance
	openErr   error
	closeErrs map[uint32]error
	opens     int
	closes    int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		positions: make(map[uint32]venue.Position),
		closeErrs: make(map[uint32]error),
		balance:   venue.Balance{Total: 1000, Available: 1000},
	}
}

func (f *fakeVenue) Name() string { return "fake" }

func (f *fakeVenue) OpenPosition(ctx context.Context, trader string, req venue.OpenRequest) (venue.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return venue.Receipt{}, f.openErr
	}
	f.positions[req.PairIndex] = venue.Position{
		PairIndex:  req.PairIndex,
		Symbol:     venue.SymbolFor(req.PairIndex),
		Side:       req.Side,
		Size:       req.Collateral * req.Leverage,
		Collateral: req.Collateral,
		Leverage:   req.Leverage,
	}
	return venue.Receipt{TxRef: fmt.Sprintf("fake-tx-%d", f.opens)}, nil
}

func (f *fakeVenue) ClosePosition(ctx context.Context, trader string, pairIndex uint32) (venue.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if err, ok := f.closeErrs[pairIndex]; ok {
		return venue.Receipt{}, err
	}
	delete(f.positions, pairIndex)
	return venue.Receipt{TxRef: fmt.Sprintf("fake-close-%d", f.closes)}, nil
}

func (f *fakeVenue) ListPositions(ctx context.Context, trader string) ([]venue.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]venue.Position, 0, len(f.positions))
	for _, pos := range f.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairIndex < out[j].PairIndex })
	return out, nil
}

func (f *fakeVenue) GetBalance(ctx context.Context, trader string) (venue.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeVenue) seed(positions ...venue.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = make(map[uint32]venue.Position, len(positions))
	for _, pos := range positions {
		f.positions[pos.PairIndex] = pos
	}
}

func (f *fakeVenue) setOpenErr(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *fakeVenue) setCloseErr(pairIndex uint32, err error) {
	f.mu.Lock()
	f.closeErrs[pairIndex] = err
	f.mu.Unlock()
}

func (f *fakeVenue) openCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeVenue) closeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fixture struct {
	fake *fakeVenue
	bus  *events.Broadcaster
	mon  *monitor.ServiceImpl
	g    *guard.Guard
	exec *retry.Executor
	orch *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fake := newFakeVenue()
	bus := events.NewBroadcaster(events.Config{
		QueueSize:     64,
		HeartbeatTTL:  time.Minute,
		SweepInterval: time.Minute,
	}, zap.NewNop())
	mon := monitor.NewService(&monitor.ServiceConfig{
		Venue:    fake,
		Watchers: bus,
		Events:   bus,
		Logger:   zap.NewNop(),
		Poll: monitor.Config{
			ActiveInterval:  10 * time.Millisecond,
			RelaxedInterval: 20 * time.Millisecond,
			PollTimeout:     200 * time.Millisecond,
		},
	})
	g := guard.New(time.Minute, zap.NewNop())
	exec := retry.NewExecutor(retry.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: 200 * time.Millisecond,
	}, zap.NewNop())
	orch := New(&Config{
		Venue:   fake,
		Monitor: mon,
		Events:  bus,
		Guard:   g,
		Retry:   exec,
		Logger:  zap.NewNop(),
		Loop: LoopConfig{
			ActiveInterval:  10 * time.Millisecond,
			RelaxedInterval: 20 * time.Millisecond,
			ActionTimeout:   500 * time.Millisecond,
		},
	})
	bus.SetAttachHook(orch.PokeFilter)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
		_ = mon.Shutdown(ctx)
		_ = bus.Shutdown(ctx)
	})

	return &fixture{fake: fake, bus: bus, mon: mon, g: g, exec: exec, orch: orch}
}

func idleConfig() session.Config {
	return session.Config{
		Budget:           500,
		ProfitGoal:       50,
		MaxPositions:     2,
		LossThresholdPct: 40,
		Strategy:         "idle",
	}
}

func steadyBTCConfig() session.Config {
	return session.Config{
		Budget:       500,
		ProfitGoal:   50,
		MaxPositions: 2,
		Strategy:     "steady",
		Pairs:        []string{"BTC"},
		Collateral:   25,
		Leverage:     5,
	}
}

// waitStatus polls until the session reaches the wanted status. Every poll
// pokes the loop and monitor, so paused sessions cannot stall the test.
func (f *fixture) waitStatus(t *testing.T, id string, want session.Status) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := f.orch.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := f.orch.Status(id)
	t.Fatalf("session stuck in %s (reason %q), want %s", snap.Status, snap.TerminationReason, want)
	return session.Snapshot{}
}

func (f *fixture) waitSnapshot(t *testing.T, id, what string, cond func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := f.orch.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return session.Snapshot{}
}

func nextEventOfType(t *testing.T, sub *events.Subscription, want events.Type) events.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", want)
			}
			if ev.Type() == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestStartRunsSessionInBackground(t *testing.T) {
	f := newFixture(t)

	id, err := f.orch.Start("camp-1", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("session id %q is not a uuid: %v", id, err)
	}

	snap := f.waitStatus(t, id, session.StatusRunning)
	if snap.Name != "camp-1" || snap.Trader != "0xabc" {
		t.Errorf("snapshot identity = %s/%s", snap.Name, snap.Trader)
	}

	f.waitSnapshot(t, id, "first cycle", func(s session.Snapshot) bool {
		return s.CycleCount >= 1
	})

	list := f.orch.List()
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("list = %+v, want the one session", list)
	}
}

func TestStartRejectsBadConfig(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.Start("camp", "", idleConfig()); err == nil {
		t.Error("empty trader should fail")
	}

	cfg := idleConfig()
	cfg.Budget = 0
	if _, err := f.orch.Start("camp", "0xabc", cfg); err == nil || !strings.Contains(err.Error(), "invalid session config") {
		t.Errorf("zero budget err = %v", err)
	}

	cfg = idleConfig()
	cfg.Strategy = "momentum"
	if _, err := f.orch.Start("camp", "0xabc", cfg); err == nil {
		t.Error("unknown strategy should fail")
	}

	if got := len(f.orch.List()); got != 0 {
		t.Errorf("rejected starts must not register sessions, got %d", got)
	}
}

func TestUnknownSessionID(t *testing.T) {
	f := newFixture(t)

	if _, err := f.orch.Status("not-here"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("status err = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.orch.Stop("not-here"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("stop err = %v, want ErrSessionNotFound", err)
	}
}

func TestStopClosesAllPositions(t *testing.T) {
	f := newFixture(t)
	f.fake.seed(
		venue.Position{PairIndex: 0, Symbol: "BTC", Pnl: 2.5},
		venue.Position{PairIndex: 1, Symbol: "ETH", Pnl: 2.5},
	)

	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitSnapshot(t, id, "positions reconciled", func(s session.Snapshot) bool {
		return len(s.OpenPositionIDs) == 2
	})

	ack, err := f.orch.Stop(id)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if ack.ID != id {
		t.Errorf("ack id = %s, want %s", ack.ID, id)
	}

	snap := f.waitStatus(t, id, session.StatusStopped)
	if !strings.Contains(snap.TerminationReason, "stop requested") {
		t.Errorf("reason = %q", snap.TerminationReason)
	}
	if f.fake.closeCalls() != 2 {
		t.Errorf("close calls = %d, want 2", f.fake.closeCalls())
	}
	if snap.CumulativePnl != 5.0 {
		t.Errorf("cumulative pnl = %f, want 5.0 realized by the sweep", snap.CumulativePnl)
	}
	if _, tracked := f.mon.State(id); tracked {
		t.Error("terminal session should be untracked")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)

	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.orch.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	f.waitStatus(t, id, session.StatusStopped)

	snap, err := f.orch.Stop(id)
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if snap.Status != session.StatusStopped {
		t.Errorf("status = %s, want stopped", snap.Status)
	}
	if snap.TerminationReason != "stop requested" {
		t.Errorf("reason = %q, want original reason preserved", snap.TerminationReason)
	}
}

func TestProfitGoalCompletesSession(t *testing.T) {
	f := newFixture(t)
	f.fake.seed(venue.Position{PairIndex: 0, Symbol: "BTC", Pnl: 60})

	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitSnapshot(t, id, "position reconciled", func(s session.Snapshot) bool {
		return len(s.OpenPositionIDs) == 1
	})

	// The position vanishes from the venue: a confirmed close realizing
	// +60, over the 50 profit goal.
	f.fake.seed()

	snap := f.waitStatus(t, id, session.StatusCompleted)
	if !strings.Contains(snap.TerminationReason, "profit goal reached") {
		t.Errorf("reason = %q", snap.TerminationReason)
	}
	if snap.CumulativePnl != 60 {
		t.Errorf("cumulative pnl = %f, want 60", snap.CumulativePnl)
	}
	if f.fake.closeCalls() != 0 {
		t.Errorf("close calls = %d, want 0 (nothing left to sweep)", f.fake.closeCalls())
	}
}

func TestProfitGoalSweepsRemainingPositions(t *testing.T) {
	f := newFixture(t)
	f.fake.seed(
		venue.Position{PairIndex: 0, Symbol: "BTC", Pnl: 60},
		venue.Position{PairIndex: 1, Symbol: "ETH", Pnl: 2},
	)

	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitSnapshot(t, id, "positions reconciled", func(s session.Snapshot) bool {
		return len(s.OpenPositionIDs) == 2
	})

	// BTC vanishes from the venue: +60 realized crosses the goal while
	// ETH stays open, so the completion sweep has work left to do.
	f.fake.seed(venue.Position{PairIndex: 1, Symbol: "ETH", Pnl: 2})

	snap := f.waitStatus(t, id, session.StatusCompleted)
	if !strings.Contains(snap.TerminationReason, "profit goal reached") {
		t.Errorf("reason = %q", snap.TerminationReason)
	}
	if f.fake.closeCalls() != 1 {
		t.Errorf("close calls = %d, want the ETH sweep", f.fake.closeCalls())
	}
	if snap.CumulativePnl != 62 {
		t.Errorf("cumulative pnl = %f, want 62 once the swept close realized", snap.CumulativePnl)
	}
	if len(snap.OpenPositionIDs) != 0 {
		t.Errorf("open positions = %v, want none", snap.OpenPositionIDs)
	}
}

// A guard key held by an in-flight mutation makes the loop skip the pair
// without erroring; releasing it lets exactly one open through.
func TestHeldPairGuardSkipsOpenUntilReleased(t *testing.T) {
	f := newFixture(t)

	cfg := steadyBTCConfig()
	cfg.MaxPositions = 1
	sess := session.New("sess-guard", "guarded", "0xabc", cfg)
	eval, err := strategy.New(cfg.Strategy, zap.NewNop())
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}

	if err := f.mon.Track(sess.ID(), "0xabc"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := f.mon.RefreshNow(context.Background(), sess.ID()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	rt := newRuntime(sess, eval, f.fake, f.mon, f.bus, f.g, f.exec, LoopConfig{
		ActiveInterval:  10 * time.Millisecond,
		RelaxedInterval: 20 * time.Millisecond,
		ActionTimeout:   500 * time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(rt.cancel)

	key := guard.PairKey(sess.ID(), 0)
	if !f.g.TryAcquire(key) {
		t.Fatal("could not pre-hold the pair key")
	}

	if err := rt.cycle(); err != nil {
		t.Fatalf("cycle with held guard: %v", err)
	}
	if calls := f.fake.openCalls(); calls != 0 {
		t.Fatalf("open calls while guard held = %d, want 0", calls)
	}

	f.g.Release(key)
	if err := rt.cycle(); err != nil {
		t.Fatalf("cycle after release: %v", err)
	}
	if calls := f.fake.openCalls(); calls != 1 {
		t.Fatalf("open calls after release = %d, want exactly 1", calls)
	}
}

func TestLossThresholdStopsSession(t *testing.T) {
	f := newFixture(t)
	f.fake.seed(venue.Position{PairIndex: 0, Symbol: "BTC", Pnl: -250})

	// Budget 500 at 40% puts the floor at -200.
	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitSnapshot(t, id, "position reconciled", func(s session.Snapshot) bool {
		return len(s.OpenPositionIDs) == 1
	})

	f.fake.seed()

	snap := f.waitStatus(t, id, session.StatusStopped)
	if !strings.Contains(snap.TerminationReason, "loss threshold breached") {
		t.Errorf("reason = %q", snap.TerminationReason)
	}
	if snap.CumulativePnl != -250 {
		t.Errorf("cumulative pnl = %f, want -250", snap.CumulativePnl)
	}
}

func TestFatalVenueErrorFailsSessionWithoutSweep(t *testing.T) {
	f := newFixture(t)
	f.fake.setOpenErr(venue.NewError(venue.KindFatal, "open_position", "authentication failed", nil))

	id, err := f.orch.Start("camp", "0xabc", steadyBTCConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := f.waitStatus(t, id, session.StatusError)
	if !strings.Contains(snap.TerminationReason, "fatal venue error") {
		t.Errorf("reason = %q", snap.TerminationReason)
	}
	if f.fake.openCalls() != 1 {
		t.Errorf("open calls = %d, want 1 (fatal fails fast, loop stops)", f.fake.openCalls())
	}
	if f.fake.closeCalls() != 0 {
		t.Errorf("close calls = %d, want 0 (fatal skips close-all)", f.fake.closeCalls())
	}
}

func TestValidationErrorKeepsSessionRunning(t *testing.T) {
	f := newFixture(t)
	f.fake.setOpenErr(venue.NewError(venue.KindValidation, "open_position", "leverage out of range", nil))

	id, err := f.orch.Start("camp", "0xabc", steadyBTCConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The rejected open fails each cycle; the session keeps cycling.
	snap := f.waitSnapshot(t, id, "several cycles", func(s session.Snapshot) bool {
		return s.CycleCount >= 3
	})
	if snap.Status != session.StatusRunning {
		t.Errorf("status = %s, want running", snap.Status)
	}
	if f.fake.openCalls() < 2 {
		t.Errorf("open calls = %d, want repeated attempts", f.fake.openCalls())
	}

	if _, err := f.orch.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	f.waitStatus(t, id, session.StatusStopped)
}

func TestCloseAllRetryExhaustionMarksError(t *testing.T) {
	f := newFixture(t)
	f.fake.seed(venue.Position{PairIndex: 0, Symbol: "BTC", Pnl: 1})
	f.fake.setCloseErr(0, venue.NewError(venue.KindTransient, "close_position", "venue down", nil))

	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitSnapshot(t, id, "position reconciled", func(s session.Snapshot) bool {
		return len(s.OpenPositionIDs) == 1
	})

	if _, err := f.orch.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}

	snap := f.waitStatus(t, id, session.StatusError)
	if !strings.Contains(snap.TerminationReason, "close-all failed") {
		t.Errorf("reason = %q", snap.TerminationReason)
	}
	if f.fake.closeCalls() != 2 {
		t.Errorf("close calls = %d, want 2 retry attempts", f.fake.closeCalls())
	}
}

func TestCloseAllTreatsGonePositionsAsClosed(t *testing.T) {
	f := newFixture(t)
	f.fake.seed(venue.Position{PairIndex: 0, Symbol: "BTC", Pnl: 1})
	f.fake.setCloseErr(0, venue.NewError(venue.KindValidation, "close_position", "no open position found for pair 0", nil))

	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitSnapshot(t, id, "position reconciled", func(s session.Snapshot) bool {
		return len(s.OpenPositionIDs) == 1
	})

	if _, err := f.orch.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// The venue saying "no such position" during the sweep means the
	// position is already gone, which is the outcome the sweep wanted.
	snap := f.waitStatus(t, id, session.StatusStopped)
	if !strings.Contains(snap.TerminationReason, "stop requested") {
		t.Errorf("reason = %q", snap.TerminationReason)
	}
}

func TestTerminalEventsPublished(t *testing.T) {
	f := newFixture(t)

	sub := f.bus.Subscribe("")
	defer sub.Unsubscribe()

	id, err := f.orch.Start("camp", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ev := nextEventOfType(t, sub, events.SessionStatusChanged)
	changed := ev.(*events.SessionStatusChangedEvent)
	if changed.OldStatus != string(session.StatusStarting) || changed.NewStatus != string(session.StatusRunning) {
		t.Errorf("first transition = %s -> %s", changed.OldStatus, changed.NewStatus)
	}

	if _, err := f.orch.Stop(id); err != nil {
		t.Fatalf("stop: %v", err)
	}

	term := nextEventOfType(t, sub, events.SessionTerminal).(*events.SessionTerminalEvent)
	if term.Session() != id {
		t.Errorf("terminal session = %s, want %s", term.Session(), id)
	}
	if term.Status != string(session.StatusStopped) {
		t.Errorf("terminal status = %s, want stopped", term.Status)
	}
	if term.Reason != "stop requested" {
		t.Errorf("terminal reason = %q", term.Reason)
	}
}

func TestListIsOldestFirst(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for _, name := range []string{"one", "two", "three"} {
		id, err := f.orch.Start(name, "0xabc", idleConfig())
		if err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	list := f.orch.List()
	if len(list) != 3 {
		t.Fatalf("list = %d sessions, want 3", len(list))
	}
	for i, snap := range list {
		if snap.ID != ids[i] {
			t.Errorf("list[%d] = %s, want %s", i, snap.ID, ids[i])
		}
	}
}

func TestShutdownStopsEverySession(t *testing.T) {
	f := newFixture(t)

	id1, err := f.orch.Start("one", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id2, err := f.orch.Start("two", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.orch.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	for _, id := range []string{id1, id2} {
		snap, err := f.orch.Status(id)
		if err != nil {
			t.Fatalf("status after shutdown: %v", err)
		}
		if snap.Status != session.StatusStopped {
			t.Errorf("session %s status = %s, want stopped", id, snap.Status)
		}
		if !strings.Contains(snap.TerminationReason, "orchestrator shutting down") {
			t.Errorf("reason = %q", snap.TerminationReason)
		}
	}

	if _, err := f.orch.Start("late", "0xabc", idleConfig()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("start after shutdown err = %v, want ErrShuttingDown", err)
	}
}

func TestStatsGroupsByStatus(t *testing.T) {
	f := newFixture(t)

	id1, err := f.orch.Start("one", "0xabc", idleConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.orch.Start("two", "0xabc", idleConfig()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.orch.Stop(id1); err != nil {
		t.Fatalf("stop: %v", err)
	}
	f.waitStatus(t, id1, session.StatusStopped)

	stats := f.orch.Stats()
	if got := stats["sessions"].(int); got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
	byStatus := stats["by_status"].(map[string]int)
	if byStatus["stopped"] != 1 {
		t.Errorf("stopped = %d, want 1", byStatus["stopped"])
	}
}
