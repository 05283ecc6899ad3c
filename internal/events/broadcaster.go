// internal/events/broadcaster.go
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the broadcaster.
type Config struct {
	QueueSize     int           // per-subscriber outbound queue
	HeartbeatTTL  time.Duration // silence after which a subscriber is dropped
	SweepInterval time.Duration // how often the sweeper checks heartbeats
}

const (
	DefaultQueueSize     = 64
	DefaultHeartbeatTTL  = 90 * time.Second
	DefaultSweepInterval = 15 * time.Second
)

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = DefaultHeartbeatTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Subscription is the consumer's handle on the event stream. Read C until
// it is closed; call Heartbeat periodically to stay attached.
type Subscription struct {
	ID string
	C  <-chan Event

	filter string
	b      *Broadcaster
	sub    *subscriber
}

// Heartbeat marks the subscriber alive for the sweeper.
func (s *Subscription) Heartbeat() {
	s.sub.touch()
}

// Filter returns the session filter this subscription was created with
// ("" = all sessions).
func (s *Subscription) Filter() string {
	return s.filter
}

// Unsubscribe detaches and closes C.
func (s *Subscription) Unsubscribe() {
	s.b.Unsubscribe(s.ID)
}

type subscriber struct {
	id     string
	filter string
	ch     chan Event

	mu           sync.Mutex
	closed       bool
	lastBeat     time.Time
	dropped      uint64
	delivered    uint64
	resyncNeeded bool
}

func (s *subscriber) touch() {
	s.mu.Lock()
	s.lastBeat = time.Now()
	s.mu.Unlock()
}

func (s *subscriber) silentFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastBeat)
}

// offer enqueues ev without ever blocking the producer. Queue pressure
// drops non-critical events; a critical event evicts the oldest queued
// entries until it fits. Any drop schedules a resync, delivered as soon as
// the queue has room again.
func (s *subscriber) offer(ev Event, logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.resyncNeeded {
		select {
		case s.ch <- NewResync(s.filter, s.dropped):
			s.resyncNeeded = false
			s.delivered++
		default:
		}
	}

	select {
	case s.ch <- ev:
		s.delivered++
		return
	default:
	}

	if !ev.Critical() {
		s.dropped++
		s.resyncNeeded = true
		logger.Debug("Subscriber queue full, dropping event",
			zap.String("subscription_id", s.id),
			zap.String("event_type", string(ev.Type())))
		return
	}

	// Critical events must land: evict from the head until there is room.
	for {
		select {
		case old := <-s.ch:
			s.dropped++
			s.resyncNeeded = true
			logger.Warn("Subscriber queue full, evicting for critical event",
				zap.String("subscription_id", s.id),
				zap.String("evicted_type", string(old.Type())),
				zap.String("event_type", string(ev.Type())))
		default:
		}
		select {
		case s.ch <- ev:
			s.delivered++
			return
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Broadcaster fans session and position events out to subscribers. Publish
// never blocks on a slow consumer; silent consumers are detected by
// heartbeat and detached automatically.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*subscriber

	cfg    Config
	logger *zap.Logger

	attachHook atomic.Value // func(filter string)

	published atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroadcaster creates a broadcaster and starts its heartbeat sweeper.
func NewBroadcaster(cfg Config, logger *zap.Logger) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		subs:   make(map[string]*subscriber),
		cfg:    cfg.withDefaults(),
		logger: logger.Named("broadcaster"),
		ctx:    ctx,
		cancel: cancel,
	}

	b.wg.Add(1)
	go b.sweep()

	return b
}

// SetAttachHook registers a callback invoked with the new subscription's
// filter on every attach. The position monitor uses it to resume paused
// polling immediately.
func (b *Broadcaster) SetAttachHook(fn func(filter string)) {
	b.attachHook.Store(fn)
}

// Subscribe attaches a consumer. filter narrows the stream to one session;
// "" receives everything.
func (b *Broadcaster) Subscribe(filter string) *Subscription {
	sub := &subscriber{
		id:       uuid.New().String(),
		filter:   filter,
		ch:       make(chan Event, b.cfg.QueueSize),
		lastBeat: time.Now(),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("Subscriber attached",
		zap.String("subscription_id", sub.id),
		zap.String("filter", filter))

	if hook, ok := b.attachHook.Load().(func(filter string)); ok && hook != nil {
		hook(filter)
	}

	return &Subscription{
		ID:     sub.id,
		C:      sub.ch,
		filter: filter,
		b:      b,
		sub:    sub,
	}
}

// Unsubscribe detaches a consumer and closes its channel. Unknown IDs are
// no-ops.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.close()

	b.logger.Debug("Subscriber detached", zap.String("subscription_id", id))
}

// Publish fans ev out to every matching subscriber. It never blocks.
func (b *Broadcaster) Publish(ev Event) {
	b.published.Add(1)

	b.mu.RLock()
	matched := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter == "" || sub.filter == ev.Session() {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.offer(ev, b.logger)
	}
}

// Watchers counts subscribers attached to the given session, including
// wildcard subscribers. The position monitor uses it to pick its polling
// interval.
func (b *Broadcaster) Watchers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.subs {
		if sub.filter == "" || sub.filter == sessionID {
			n++
		}
	}
	return n
}

// sweep drops subscribers whose heartbeat went silent.
func (b *Broadcaster) sweep() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()

			b.mu.RLock()
			var silent []*subscriber
			for _, sub := range b.subs {
				if sub.silentFor(now) > b.cfg.HeartbeatTTL {
					silent = append(silent, sub)
				}
			}
			b.mu.RUnlock()

			for _, sub := range silent {
				b.logger.Info("Dropping silent subscriber",
					zap.String("subscription_id", sub.id),
					zap.Duration("heartbeat_ttl", b.cfg.HeartbeatTTL))
				b.Unsubscribe(sub.id)
			}
		}
	}
}

// Shutdown stops the sweeper and closes every subscriber channel.
func (b *Broadcaster) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down broadcaster")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("Broadcaster sweeper shutdown timeout")
		return ctx.Err()
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}

	b.logger.Info("Broadcaster shutdown complete")
	return nil
}

// Stats returns counters about the broadcaster.
func (b *Broadcaster) Stats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var dropped, delivered uint64
	for _, sub := range b.subs {
		sub.mu.Lock()
		dropped += sub.dropped
		delivered += sub.delivered
		sub.mu.Unlock()
	}

	return map[string]interface{}{
		"subscribers": len(b.subs),
		"queue_size":  b.cfg.QueueSize,
		"published":   b.published.Load(),
		"delivered":   delivered,
		"dropped":     dropped,
	}
}
