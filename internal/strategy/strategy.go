// internal/strategy/strategy.go
package strategy

import (
	"context"

	"github.com/rovshanmuradov/avantis-bot/internal/session"
	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// Action is what a signal asks the strategy loop to do this cycle.
type Action int

const (
	ActionNone Action = iota
	ActionOpen
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// Signal is one cycle's trading decision. Open signals carry the full
// request; close signals only the pair.
type Signal struct {
	Action     Action
	PairIndex  uint32
	Side       venue.Side
	Collateral float64
	Leverage   float64
	TakeProfit float64
	StopLoss   float64
}

// None is the no-trade signal.
func None() Signal {
	return Signal{Action: ActionNone}
}

// Close builds a close signal for one pair.
func Close(pairIndex uint32) Signal {
	return Signal{Action: ActionClose, PairIndex: pairIndex}
}

// OpenRequest converts an open signal into the venue request.
func (s Signal) OpenRequest() venue.OpenRequest {
	return venue.OpenRequest{
		PairIndex:  s.PairIndex,
		Side:       s.Side,
		Collateral: s.Collateral,
		Leverage:   s.Leverage,
		TakeProfit: s.TakeProfit,
		StopLoss:   s.StopLoss,
	}
}

// EvalContext is the market and session state handed to an evaluator:
// the session snapshot plus the monitor's confirmed positions and balance.
type EvalContext struct {
	Session   session.Snapshot
	Positions []venue.Position
	Balance   venue.Balance
}

// Evaluator decides, once per cycle, whether the session should trade.
// Implementations must be side-effect free; the loop owns all execution.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, ec EvalContext) (Signal, error)
}
