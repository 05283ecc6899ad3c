// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// Type represents the kind of event.
type Type string

const (
	// Session lifecycle events
	SessionStatusChanged Type = "session.status_changed"
	SessionTerminal      Type = "session.terminal"

	// Position events
	PositionOpened  Type = "position.opened"
	PositionUpdated Type = "position.updated"
	PositionClosed  Type = "position.closed"

	// Resync asks a subscriber to re-fetch full snapshots because events
	// were dropped from its queue.
	Resync Type = "resync"
)

// Event is the base interface for everything pushed to subscribers.
type Event interface {
	Type() Type
	Timestamp() time.Time
	Session() string
	// Critical events survive queue pressure; non-critical ones (price
	// ticks) are dropped first.
	Critical() bool
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType Type      `json:"type"`
	EventTime time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

func (e BaseEvent) Type() Type {
	return e.EventType
}

func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

func (e BaseEvent) Session() string {
	return e.SessionID
}

func (e BaseEvent) Critical() bool {
	return e.EventType != PositionUpdated
}

func newBase(t Type, sessionID string) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now(), SessionID: sessionID}
}

// SessionStatusChangedEvent is emitted on every session state transition.
type SessionStatusChangedEvent struct {
	BaseEvent
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// NewSessionStatusChanged builds a status transition event.
func NewSessionStatusChanged(sessionID, oldStatus, newStatus string) *SessionStatusChangedEvent {
	return &SessionStatusChangedEvent{
		BaseEvent: newBase(SessionStatusChanged, sessionID),
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}
}

// SessionTerminalEvent is emitted once, when a session reaches a terminal
// state, with the human-readable reason.
type SessionTerminalEvent struct {
	BaseEvent
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// NewSessionTerminal builds a terminal event.
func NewSessionTerminal(sessionID, status, reason string) *SessionTerminalEvent {
	return &SessionTerminalEvent{
		BaseEvent: newBase(SessionTerminal, sessionID),
		Status:    status,
		Reason:    reason,
	}
}

// PositionOpenedEvent is emitted when reconciliation confirms a new
// position on the venue.
type PositionOpenedEvent struct {
	BaseEvent
	Position venue.Position `json:"position"`
}

// NewPositionOpened builds a position-opened event.
func NewPositionOpened(sessionID string, pos venue.Position) *PositionOpenedEvent {
	return &PositionOpenedEvent{
		BaseEvent: newBase(PositionOpened, sessionID),
		Position:  pos,
	}
}

// PositionUpdatedEvent is a price/PnL tick for a cached position. These are
// the only non-critical events.
type PositionUpdatedEvent struct {
	BaseEvent
	Position venue.Position `json:"position"`
}

// NewPositionUpdated builds a position tick event.
func NewPositionUpdated(sessionID string, pos venue.Position) *PositionUpdatedEvent {
	return &PositionUpdatedEvent{
		BaseEvent: newBase(PositionUpdated, sessionID),
		Position:  pos,
	}
}

// PositionClosedEvent is emitted when reconciliation confirms a position is
// gone from the venue. RealizedPnl is the last confirmed unrealized PnL the
// monitor saw before the close.
type PositionClosedEvent struct {
	BaseEvent
	Position    venue.Position `json:"position"`
	RealizedPnl float64        `json:"realized_pnl"`
}

// NewPositionClosed builds a position-closed event.
func NewPositionClosed(sessionID string, pos venue.Position, realizedPnl float64) *PositionClosedEvent {
	return &PositionClosedEvent{
		BaseEvent:   newBase(PositionClosed, sessionID),
		Position:    pos,
		RealizedPnl: realizedPnl,
	}
}

// ResyncEvent tells a subscriber its stream has gaps and snapshots must be
// re-fetched. Dropped counts events lost on that subscriber since attach.
type ResyncEvent struct {
	BaseEvent
	Dropped uint64 `json:"dropped"`
}

// NewResync builds a resync event. sessionID carries the subscriber's
// filter: "" means every session the subscriber watches is suspect.
func NewResync(sessionID string, dropped uint64) *ResyncEvent {
	return &ResyncEvent{
		BaseEvent: newBase(Resync, sessionID),
		Dropped:   dropped,
	}
}
