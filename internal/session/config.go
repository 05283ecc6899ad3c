// internal/session/config.go
package session

import (
	"errors"
	"fmt"

	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// Config is one campaign's parameters. Budget, ProfitGoal, MaxPositions and
// LossThresholdPct drive the termination rules; the remaining fields size
// the trades the strategy is allowed to place.
type Config struct {
	Budget           float64 `yaml:"budget" json:"budget"`
	ProfitGoal       float64 `yaml:"profit_goal" json:"profit_goal"`
	MaxPositions     int     `yaml:"max_positions" json:"max_positions"`
	LossThresholdPct float64 `yaml:"loss_threshold_pct" json:"loss_threshold_pct"`

	Strategy      string   `yaml:"strategy" json:"strategy"`
	Pairs         []string `yaml:"pairs" json:"pairs"`
	Collateral    float64  `yaml:"collateral" json:"collateral"`
	Leverage      float64  `yaml:"leverage" json:"leverage"`
	TakeProfitPct float64  `yaml:"take_profit_pct" json:"take_profit_pct"`
	StopLossPct   float64  `yaml:"stop_loss_pct" json:"stop_loss_pct"`
}

// Validate rejects configs that would make the termination rules or trade
// sizing meaningless.
func (c Config) Validate() error {
	if c.Budget <= 0 {
		return errors.New("budget must be positive")
	}
	if c.ProfitGoal <= 0 {
		return errors.New("profit_goal must be positive")
	}
	if c.MaxPositions < 1 {
		return errors.New("max_positions must be at least 1")
	}
	if c.LossThresholdPct < 0 || c.LossThresholdPct > 100 {
		return errors.New("loss_threshold_pct must be between 0 and 100")
	}
	if c.Collateral != 0 && c.Collateral < venue.MinCollateralUSDC {
		return fmt.Errorf("collateral %.2f below venue minimum %.2f USDC",
			c.Collateral, venue.MinCollateralUSDC)
	}
	if c.Leverage != 0 && (c.Leverage < venue.MinLeverage || c.Leverage > venue.MaxLeverage) {
		return fmt.Errorf("leverage %.1fx outside venue range %.0fx-%.0fx",
			c.Leverage, venue.MinLeverage, venue.MaxLeverage)
	}
	for _, pair := range c.Pairs {
		if _, err := venue.PairIndex(pair); err != nil {
			return err
		}
	}
	if c.TakeProfitPct < 0 || c.StopLossPct < 0 {
		return errors.New("take_profit_pct and stop_loss_pct must be non-negative")
	}
	return nil
}

// LossFloor is the cumulative PnL at which the session stops on the loss
// threshold rule.
func (c Config) LossFloor() float64 {
	return -c.Budget * c.LossThresholdPct / 100
}
