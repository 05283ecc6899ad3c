// internal/venue/validate.go
package venue

import "fmt"

// Venue-side limits. The contract transfers collateral before it validates,
// so every open request must pass these checks locally first; a rejected
// request must never leave the process.
const (
	MinCollateralUSDC = 10.0
	MinLeverage       = 2.0
	MaxLeverage       = 50.0
)

// ValidateOpen checks an open request against the venue limits. The
// returned error carries a validation or below-minimum kind so callers can
// apply the no-trade policy without string matching.
func ValidateOpen(req OpenRequest) error {
	if !req.Side.Valid() {
		return NewError(KindValidation, "open", fmt.Sprintf("invalid side %q", req.Side), nil)
	}
	if req.PairIndex > MaxPairIndex {
		return NewError(KindValidation, "open",
			fmt.Sprintf("pair index %d out of range (max %d)", req.PairIndex, MaxPairIndex), nil)
	}
	if req.Collateral < MinCollateralUSDC {
		return NewError(KindBelowMinimum, "open",
			fmt.Sprintf("collateral %.2f below minimum %.2f USDC", req.Collateral, MinCollateralUSDC), nil)
	}
	if req.Leverage < MinLeverage || req.Leverage > MaxLeverage {
		return NewError(KindValidation, "open",
			fmt.Sprintf("leverage %.1fx outside allowed range %.0fx-%.0fx", req.Leverage, MinLeverage, MaxLeverage), nil)
	}
	if req.TakeProfit < 0 || req.StopLoss < 0 {
		return NewError(KindValidation, "open", "take profit and stop loss must be non-negative prices", nil)
	}
	return nil
}

// ValidateClose checks a close request target.
func ValidateClose(pairIndex uint32) error {
	if pairIndex > MaxPairIndex {
		return NewError(KindValidation, "close",
			fmt.Sprintf("pair index %d out of range (max %d)", pairIndex, MaxPairIndex), nil)
	}
	return nil
}
