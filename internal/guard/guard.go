// internal/guard/guard.go
package guard

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CloseAllScope is the key scope serializing a session's close-all sweep.
const CloseAllScope = "close-all"

// Key identifies one mutating operation that must not overlap with itself:
// a (session, pair) open/close, or a session-wide close-all.
type Key struct {
	SessionID string
	Scope     string
}

func (k Key) String() string {
	return k.SessionID + "/" + k.Scope
}

// PairKey builds the guard key for a single-pair mutation.
func PairKey(sessionID string, pairIndex uint32) Key {
	return Key{SessionID: sessionID, Scope: fmt.Sprintf("pair-%d", pairIndex)}
}

// CloseAllKey builds the guard key for a session's close-all.
func CloseAllKey(sessionID string) Key {
	return Key{SessionID: sessionID, Scope: CloseAllScope}
}

// Guard is a table of non-blocking per-key locks. A caller that finds a key
// held treats the operation as already in flight and skips; nobody ever
// waits. Holds older than maxHold are considered leaked (the venue call
// they covered has long timed out) and are force-released with a warning
// when the next acquirer shows up.
type Guard struct {
	mu      sync.Mutex
	held    map[Key]time.Time
	maxHold time.Duration
	logger  *zap.Logger

	forcedReleases uint64
	rejected       uint64
}

const DefaultMaxHold = 2 * time.Minute

// New builds a Guard. maxHold <= 0 falls back to DefaultMaxHold.
func New(maxHold time.Duration, logger *zap.Logger) *Guard {
	if maxHold <= 0 {
		maxHold = DefaultMaxHold
	}
	return &Guard{
		held:    make(map[Key]time.Time),
		maxHold: maxHold,
		logger:  logger.Named("guard"),
	}
}

// TryAcquire attempts to take the key without blocking. It returns false
// when the key is already held and the hold is still fresh.
func (g *Guard) TryAcquire(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if since, ok := g.held[key]; ok {
		age := time.Since(since)
		if age <= g.maxHold {
			g.rejected++
			return false
		}
		g.forcedReleases++
		g.logger.Warn("Force-releasing expired guard key",
			zap.String("key", key.String()),
			zap.Duration("held_for", age),
			zap.Duration("max_hold", g.maxHold))
	}

	g.held[key] = time.Now()
	return true
}

// Release frees the key. Releasing a key that is not held is a no-op.
func (g *Guard) Release(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
}

// Len returns the number of currently held keys.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

// Stats returns counters for introspection.
func (g *Guard) Stats() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]interface{}{
		"held_keys":       len(g.held),
		"rejected":        g.rejected,
		"forced_releases": g.forcedReleases,
	}
}
