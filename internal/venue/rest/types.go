// internal/venue/rest/types.go
package rest

import (
	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// Wire types for the avantis-service JSON API.

type openPositionRequest struct {
	Symbol     string   `json:"symbol"`
	Collateral float64  `json:"collateral"`
	Leverage   float64  `json:"leverage"`
	IsLong     bool     `json:"is_long"`
	TakeProfit *float64 `json:"tp,omitempty"`
	StopLoss   *float64 `json:"sl,omitempty"`
	PrivateKey string   `json:"private_key"`
}

type closePositionRequest struct {
	PairIndex  uint32 `json:"pair_index"`
	PrivateKey string `json:"private_key"`
}

type tradeResponse struct {
	Success   bool   `json:"success"`
	PairIndex uint32 `json:"pair_index"`
	TxHash    string `json:"tx_hash"`
	Status    string `json:"status"`
}

type positionPayload struct {
	PairIndex        uint32  `json:"pair_index"`
	Symbol           string  `json:"symbol"`
	IsLong           bool    `json:"is_long"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	Leverage         float64 `json:"leverage"`
	Collateral       float64 `json:"collateral"`
	Pnl              float64 `json:"pnl"`
	PnlPercentage    float64 `json:"pnl_percentage"`
	LiquidationPrice float64 `json:"liquidation_price"`
	TakeProfit       float64 `json:"take_profit"`
	StopLoss         float64 `json:"stop_loss"`
}

func (p positionPayload) toPosition() venue.Position {
	side := venue.Short
	if p.IsLong {
		side = venue.Long
	}
	symbol := p.Symbol
	if symbol == "" {
		symbol = venue.SymbolFor(p.PairIndex)
	}
	return venue.Position{
		PairIndex:        p.PairIndex,
		Symbol:           symbol,
		Side:             side,
		Size:             p.Size,
		Collateral:       p.Collateral,
		Leverage:         p.Leverage,
		EntryPrice:       p.EntryPrice,
		CurrentPrice:     p.CurrentPrice,
		Pnl:              p.Pnl,
		PnlPct:           p.PnlPercentage,
		LiquidationPrice: p.LiquidationPrice,
		TakeProfit:       p.TakeProfit,
		StopLoss:         p.StopLoss,
	}
}

type positionsResponse struct {
	Positions []positionPayload `json:"positions"`
	Count     int               `json:"count"`
}

type balanceResponse struct {
	Address          string  `json:"address"`
	TotalBalance     float64 `json:"total_balance"`
	AvailableBalance float64 `json:"available_balance"`
	MarginUsed       float64 `json:"margin_used"`
	UsdcBalance      float64 `json:"usdc_balance"`
	UsdcAllowance    float64 `json:"usdc_allowance"`
}

func (b balanceResponse) toBalance() venue.Balance {
	return venue.Balance{
		Total:     b.TotalBalance,
		Available: b.AvailableBalance,
		Used:      b.MarginUsed,
		Allowance: b.UsdcAllowance,
	}
}

// errorResponse is the service's error envelope.
type errorResponse struct {
	Detail string `json:"detail"`
}
