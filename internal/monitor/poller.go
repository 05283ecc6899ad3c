// internal/monitor/poller.go
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/events"
	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// poller owns one session's cached position set. The cache changes only on
// a successful poll; a failed poll means "assume unchanged", never "assume
// empty", so a transient venue outage cannot fake a close.
type poller struct {
	sessionID string
	trader    string
	venue     venue.Venue
	watchers  WatcherSource
	sink      EventSink
	cfg       Config
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	pokeCh chan struct{}

	mu          sync.RWMutex
	positions   map[uint32]venue.Position
	balance     venue.Balance
	realizedPnl float64
	lastPollAt  time.Time
	pollCount   uint64
	failCount   uint64
	consecFails int
}

func newPoller(sessionID, trader string, v venue.Venue, w WatcherSource, sink EventSink, cfg Config, logger *zap.Logger) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &poller{
		sessionID: sessionID,
		trader:    trader,
		venue:     v,
		watchers:  w,
		sink:      sink,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		pokeCh:    make(chan struct{}, 1),
		positions: make(map[uint32]venue.Position),
	}
}

// run is the poll loop. The first poll happens immediately; afterwards the
// interval adapts to open positions and attached watchers, pausing outright
// when there is nothing to watch and nobody watching.
func (p *poller) run() {
	defer close(p.done)

	_ = p.pollOnce(p.ctx)

	for {
		interval, paused := p.nextInterval()
		if paused {
			select {
			case <-p.ctx.Done():
				return
			case <-p.pokeCh:
			}
		} else {
			timer := time.NewTimer(interval)
			select {
			case <-p.ctx.Done():
				timer.Stop()
				return
			case <-p.pokeCh:
				timer.Stop()
			case <-timer.C:
			}
		}

		if p.ctx.Err() != nil {
			return
		}
		_ = p.pollOnce(p.ctx)
	}
}

// stop cancels the loop and waits briefly for it to exit.
func (p *poller) stop() {
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		p.logger.Warn("Timeout waiting for poller to finish")
	}
}

// poke requests an immediate poll. Non-blocking; a pending poke is enough.
func (p *poller) poke() {
	select {
	case p.pokeCh <- struct{}{}:
	default:
	}
}

func (p *poller) nextInterval() (time.Duration, bool) {
	p.mu.RLock()
	open := len(p.positions)
	p.mu.RUnlock()

	observers := p.watchers.Watchers(p.sessionID)
	switch {
	case open > 0 && observers > 0:
		return p.cfg.ActiveInterval, false
	case open == 0 && observers == 0:
		return 0, true
	default:
		return p.cfg.RelaxedInterval, false
	}
}

// pollOnce fetches the remote position list and balance, diffs against the
// cache, applies the changes atomically and emits the corresponding events.
func (p *poller) pollOnce(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	remote, err := p.venue.ListPositions(pollCtx, p.trader)
	if err != nil {
		p.mu.Lock()
		p.failCount++
		p.consecFails++
		fails := p.consecFails
		p.mu.Unlock()

		p.logger.Warn("Position poll failed, keeping cached state",
			zap.Int("consecutive_failures", fails),
			zap.Error(err))
		return err
	}

	balance, balErr := p.venue.GetBalance(pollCtx, p.trader)
	if balErr != nil {
		p.logger.Warn("Balance poll failed, keeping cached balance", zap.Error(balErr))
	}

	opened, updated, closed := p.apply(remote, balance, balErr == nil)

	for _, pos := range opened {
		p.sink.Publish(events.NewPositionOpened(p.sessionID, pos))
	}
	for _, pos := range updated {
		p.sink.Publish(events.NewPositionUpdated(p.sessionID, pos))
	}
	for _, pos := range closed {
		p.sink.Publish(events.NewPositionClosed(p.sessionID, pos, pos.Pnl))
	}

	return nil
}

// apply replaces the cache with the remote view under the mutex and returns
// the diff. A position that vanished from the venue is a confirmed close;
// its last known PnL becomes realized.
func (p *poller) apply(remote []venue.Position, balance venue.Balance, haveBalance bool) (opened, updated, closed []venue.Position) {
	remoteByPair := make(map[uint32]venue.Position, len(remote))
	for _, pos := range remote {
		remoteByPair[pos.PairIndex] = pos
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for idx, pos := range remoteByPair {
		old, exists := p.positions[idx]
		switch {
		case !exists:
			opened = append(opened, pos)
		case old.CurrentPrice != pos.CurrentPrice || old.Pnl != pos.Pnl:
			updated = append(updated, pos)
		}
	}

	for idx, old := range p.positions {
		if _, still := remoteByPair[idx]; !still {
			closed = append(closed, old)
			p.realizedPnl += old.Pnl
		}
	}

	p.positions = remoteByPair
	if haveBalance {
		p.balance = balance
	}
	p.lastPollAt = time.Now()
	p.pollCount++
	p.consecFails = 0

	return opened, updated, closed
}

// state copies the confirmed view.
func (p *poller) state() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]venue.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].PairIndex < positions[j].PairIndex
	})

	return State{
		Positions:   positions,
		Balance:     p.balance,
		RealizedPnl: p.realizedPnl,
		LastPollAt:  p.lastPollAt,
	}
}

func (p *poller) counters() (polls, failures uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pollCount, p.failCount
}
