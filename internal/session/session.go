// internal/session/session.go
package session

import (
	"sort"
	"sync"
	"time"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further cycles will run.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusError
}

// Session is one campaign's running state. It is mutated only by its own
// strategy loop; everyone else reads through Snapshot. The mutex exists so
// snapshots taken from other goroutines are consistent, not to coordinate
// writers.
type Session struct {
	id      string
	name    string
	trader  string
	cfg     Config
	created time.Time

	mu                sync.RWMutex
	status            Status
	cycleCount        uint64
	cumulativePnl     float64
	openPairs         map[uint32]struct{}
	lastActivityAt    time.Time
	terminationReason string
}

// New builds a session in the starting state.
func New(id, name, trader string, cfg Config) *Session {
	now := time.Now()
	return &Session{
		id:             id,
		name:           name,
		trader:         trader,
		cfg:            cfg,
		created:        now,
		status:         StatusStarting,
		openPairs:      make(map[uint32]struct{}),
		lastActivityAt: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the campaign name.
func (s *Session) Name() string {
	return s.name
}

// Trader returns the venue identity this session trades as.
func (s *Session) Trader() string {
	return s.trader
}

// Config returns the immutable campaign config.
func (s *Session) Config() Config {
	return s.cfg
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus transitions the session and returns the previous state. A
// session already terminal stays terminal.
func (s *Session) SetStatus(next Status) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.status
	if prev.Terminal() {
		return prev
	}
	s.status = next
	s.lastActivityAt = time.Now()
	return prev
}

// MarkTerminal moves the session to a terminal status with a reason.
// The first terminal transition wins.
func (s *Session) MarkTerminal(status Status, reason string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.status
	if prev.Terminal() {
		return prev
	}
	s.status = status
	s.terminationReason = reason
	s.lastActivityAt = time.Now()
	return prev
}

// TerminationReason returns the recorded reason, empty while running.
func (s *Session) TerminationReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminationReason
}

// CumulativePnl returns the confirmed realized PnL.
func (s *Session) CumulativePnl() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cumulativePnl
}

// OpenPositionCount returns the size of the reconciled open set.
func (s *Session) OpenPositionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.openPairs)
}

// RecordCycle applies one reconciliation result: the confirmed open pair
// set and the confirmed realized PnL. Optimistic action results never land
// here.
func (s *Session) RecordCycle(openPairs []uint32, cumulativePnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycleCount++
	s.cumulativePnl = cumulativePnl
	s.openPairs = make(map[uint32]struct{}, len(openPairs))
	for _, p := range openPairs {
		s.openPairs[p] = struct{}{}
	}
	s.lastActivityAt = time.Now()
}

// Touch bumps lastActivityAt without changing anything else.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// Snapshot is the read-only view handed to status()/list() callers and
// event consumers.
type Snapshot struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Trader            string    `json:"trader"`
	Config            Config    `json:"config"`
	Status            Status    `json:"status"`
	CycleCount        uint64    `json:"cycle_count"`
	CumulativePnl     float64   `json:"cumulative_pnl"`
	OpenPositionIDs   []uint32  `json:"open_position_ids"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	TerminationReason string    `json:"termination_reason,omitempty"`
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make([]uint32, 0, len(s.openPairs))
	for p := range s.openPairs {
		open = append(open, p)
	}
	sort.Slice(open, func(i, j int) bool { return open[i] < open[j] })

	return Snapshot{
		ID:                s.id,
		Name:              s.name,
		Trader:            s.trader,
		Config:            s.cfg,
		Status:            s.status,
		CycleCount:        s.cycleCount,
		CumulativePnl:     s.cumulativePnl,
		OpenPositionIDs:   open,
		CreatedAt:         s.created,
		LastActivityAt:    s.lastActivityAt,
		TerminationReason: s.terminationReason,
	}
}
