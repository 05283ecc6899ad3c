// internal/venue/venue.go
package venue

import (
	"context"
	"time"
)

// Side is the direction of a leveraged position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// IsLong reports whether the side is long. The Avantis wire format carries
// direction as a boolean.
func (s Side) IsLong() bool {
	return s == Long
}

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// OpenRequest describes a position to be opened on the venue.
// TakeProfit and StopLoss are absolute prices; zero means "not set".
type OpenRequest struct {
	PairIndex  uint32
	Side       Side
	Collateral float64 // USDC
	Leverage   float64
	TakeProfit float64
	StopLoss   float64
}

// Position is the venue's confirmed view of one open exposure.
type Position struct {
	PairIndex        uint32
	Symbol           string
	Side             Side
	Size             float64 // collateral * leverage
	Collateral       float64
	Leverage         float64
	EntryPrice       float64
	CurrentPrice     float64
	Pnl              float64
	PnlPct           float64
	LiquidationPrice float64
	TakeProfit       float64
	StopLoss         float64
	OpenedAt         time.Time
}

// Balance is the venue-side margin account state for one trader.
type Balance struct {
	Total     float64
	Available float64
	Used      float64
	Allowance float64
}

// Receipt acknowledges a mutating call. TxRef is the venue's transaction
// reference; the venue may still apply the change asynchronously, so
// callers must reconcile against ListPositions rather than trust it.
type Receipt struct {
	TxRef string
}

// Venue is the position-execution interface. Implementations must be safe
// for concurrent use; every call is bounded by the passed context.
type Venue interface {
	Name() string
	OpenPosition(ctx context.Context, trader string, req OpenRequest) (Receipt, error)
	ClosePosition(ctx context.Context, trader string, pairIndex uint32) (Receipt, error)
	ListPositions(ctx context.Context, trader string) ([]Position, error)
	GetBalance(ctx context.Context, trader string) (Balance, error)
}
