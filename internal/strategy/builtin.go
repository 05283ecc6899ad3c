// internal/strategy/builtin.go
package strategy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// New builds a named evaluator. Real signal algorithms live outside this
// repo and plug in through the Evaluator interface; the built-ins exist so
// sessions can run end to end without one.
func New(name string, logger *zap.Logger) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "idle":
		return idleEvaluator{}, nil
	case "steady":
		return &steadyEvaluator{logger: logger.Named("steady")}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// idleEvaluator never trades. Default for sessions driven purely by
// external control calls.
type idleEvaluator struct{}

func (idleEvaluator) Name() string { return "idle" }

func (idleEvaluator) Evaluate(_ context.Context, _ EvalContext) (Signal, error) {
	return None(), nil
}

// steadyEvaluator keeps one long position on each configured pair and exits
// on percentage brackets: close when a position's PnL percentage reaches
// take_profit_pct or falls to -stop_loss_pct, then re-enter on a later
// cycle. One intent per cycle.
type steadyEvaluator struct {
	logger *zap.Logger
}

func (e *steadyEvaluator) Name() string { return "steady" }

func (e *steadyEvaluator) Evaluate(_ context.Context, ec EvalContext) (Signal, error) {
	cfg := ec.Session.Config

	// Exits first: brackets beat new entries.
	for _, pos := range ec.Positions {
		if cfg.TakeProfitPct > 0 && pos.PnlPct >= cfg.TakeProfitPct {
			e.logger.Debug("Take profit bracket hit",
				zap.String("symbol", pos.Symbol),
				zap.Float64("pnl_pct", pos.PnlPct))
			return Close(pos.PairIndex), nil
		}
		if cfg.StopLossPct > 0 && pos.PnlPct <= -cfg.StopLossPct {
			e.logger.Debug("Stop loss bracket hit",
				zap.String("symbol", pos.Symbol),
				zap.Float64("pnl_pct", pos.PnlPct))
			return Close(pos.PairIndex), nil
		}
	}

	if len(ec.Positions) >= cfg.MaxPositions {
		return None(), nil
	}

	held := make(map[uint32]bool, len(ec.Positions))
	for _, pos := range ec.Positions {
		held[pos.PairIndex] = true
	}

	collateral := cfg.Collateral
	if collateral == 0 {
		collateral = venue.MinCollateralUSDC
	}
	leverage := cfg.Leverage
	if leverage == 0 {
		leverage = venue.MinLeverage
	}

	for _, symbol := range cfg.Pairs {
		idx, err := venue.PairIndex(symbol)
		if err != nil {
			// Validated at session start; a miss here means the registry
			// changed underneath us. Skip rather than fail the cycle.
			e.logger.Warn("Skipping unresolvable pair", zap.String("pair", symbol))
			continue
		}
		if held[idx] {
			continue
		}
		if ec.Balance.Available < collateral {
			e.logger.Debug("Balance too low for entry",
				zap.String("symbol", symbol),
				zap.Float64("available", ec.Balance.Available),
				zap.Float64("collateral", collateral))
			return None(), nil
		}
		return Signal{
			Action:     ActionOpen,
			PairIndex:  idx,
			Side:       venue.Long,
			Collateral: collateral,
			Leverage:   leverage,
		}, nil
	}

	return None(), nil
}
