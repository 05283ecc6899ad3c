// internal/venue/paper/paper.go
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

const (
	defaultStartingBalance = 10_000.0
	defaultSeed            = 1
)

// walkStep is the half-range of the per-poll price drift (±0.2%).
const walkStep = 0.002

func init() {
	venue.Register("paper", func(opts venue.Options, logger *zap.Logger) (venue.Venue, error) {
		return New(Config{
			StartingBalance: opts.StartingBalance,
			Seed:            opts.PriceSeed,
		}, logger), nil
	})
}

// Config for the paper venue.
type Config struct {
	// StartingBalance is credited to each trader on first use.
	StartingBalance float64
	// Seed fixes the price walk, making runs reproducible.
	Seed int64
}

// Venue is an in-memory venue for paper trading: immediate fills, simple
// collateral accounting and a seeded random walk over the pair registry.
// Take-profit and stop-loss are recorded on positions but never trigger
// fills; exits stay with the strategy.
type Venue struct {
	mu       sync.Mutex
	accounts map[string]*account
	prices   map[uint32]float64
	rng      *rand.Rand
	seq      uint64

	cfg    Config
	logger *zap.Logger
}

type account struct {
	available float64
	positions map[uint32]*venue.Position
}

// New builds a paper venue.
func New(cfg Config, logger *zap.Logger) *Venue {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = defaultStartingBalance
	}
	if cfg.Seed == 0 {
		cfg.Seed = defaultSeed
	}

	prices := make(map[uint32]float64, len(basePrices))
	for pair, price := range basePrices {
		prices[pair] = price
	}

	return &Venue{
		accounts: make(map[string]*account),
		prices:   prices,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		cfg:      cfg,
		logger:   logger.Named("paper_venue"),
	}
}

// Name identifies the adapter.
func (v *Venue) Name() string {
	return "paper"
}

// OpenPosition fills immediately at the current walk price. It enforces
// the same rejections a real venue would: minimum collateral, leverage
// bounds, collateral coverage and one position per pair.
func (v *Venue) OpenPosition(_ context.Context, trader string, req venue.OpenRequest) (venue.Receipt, error) {
	if err := venue.ValidateOpen(req); err != nil {
		return venue.Receipt{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	acct := v.account(trader)
	if _, open := acct.positions[req.PairIndex]; open {
		return venue.Receipt{}, venue.NewError(venue.KindValidation, "open_position",
			fmt.Sprintf("position already open for pair %d", req.PairIndex), nil)
	}
	if acct.available < req.Collateral {
		return venue.Receipt{}, venue.NewError(venue.KindInsufficientFunds, "open_position",
			fmt.Sprintf("insufficient balance: have %.2f, need %.2f", acct.available, req.Collateral), nil)
	}

	entry := v.price(req.PairIndex)
	liq := entry * (1 - 1/req.Leverage)
	if !req.Side.IsLong() {
		liq = entry * (1 + 1/req.Leverage)
	}

	acct.available -= req.Collateral
	acct.positions[req.PairIndex] = &venue.Position{
		PairIndex:        req.PairIndex,
		Symbol:           venue.SymbolFor(req.PairIndex),
		Side:             req.Side,
		Size:             req.Collateral * req.Leverage,
		Collateral:       req.Collateral,
		Leverage:         req.Leverage,
		EntryPrice:       entry,
		CurrentPrice:     entry,
		LiquidationPrice: liq,
		TakeProfit:       req.TakeProfit,
		StopLoss:         req.StopLoss,
		OpenedAt:         time.Now(),
	}

	v.seq++
	ref := fmt.Sprintf("paper-tx-%d", v.seq)
	v.logger.Debug("Paper position opened",
		zap.String("trader", trader),
		zap.String("pair", venue.SymbolFor(req.PairIndex)),
		zap.Float64("entry", entry),
		zap.String("tx_ref", ref))
	return venue.Receipt{TxRef: ref}, nil
}

// ClosePosition realizes the position's PnL into the trader's balance.
func (v *Venue) ClosePosition(_ context.Context, trader string, pairIndex uint32) (venue.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	acct := v.account(trader)
	pos, open := acct.positions[pairIndex]
	if !open {
		return venue.Receipt{}, venue.NewError(venue.KindValidation, "close_position",
			fmt.Sprintf("no open position found for pair %d", pairIndex), nil)
	}

	v.refresh(pos)
	acct.available += pos.Collateral + pos.Pnl
	if acct.available < 0 {
		acct.available = 0
	}
	delete(acct.positions, pairIndex)

	v.seq++
	ref := fmt.Sprintf("paper-tx-%d", v.seq)
	v.logger.Debug("Paper position closed",
		zap.String("trader", trader),
		zap.String("pair", pos.Symbol),
		zap.Float64("pnl", pos.Pnl),
		zap.String("tx_ref", ref))
	return venue.Receipt{TxRef: ref}, nil
}

// ListPositions advances the price walk one step and returns the trader's
// open positions with refreshed marks, sorted by pair index.
func (v *Venue) ListPositions(_ context.Context, trader string) ([]venue.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.step()

	acct := v.account(trader)
	positions := make([]venue.Position, 0, len(acct.positions))
	for _, pos := range acct.positions {
		v.refresh(pos)
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].PairIndex < positions[j].PairIndex
	})
	return positions, nil
}

// GetBalance reports the trader's collateral accounting.
func (v *Venue) GetBalance(_ context.Context, trader string) (venue.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	acct := v.account(trader)
	var used float64
	for _, pos := range acct.positions {
		used += pos.Collateral
	}

	return venue.Balance{
		Total:     acct.available + used,
		Available: acct.available,
		Used:      used,
		Allowance: acct.available + used,
	}, nil
}

// SetPrice pins a pair's price, overriding the walk. Meant for tests that
// need deterministic PnL.
func (v *Venue) SetPrice(pairIndex uint32, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[pairIndex] = price
}

func (v *Venue) account(trader string) *account {
	acct, ok := v.accounts[trader]
	if !ok {
		acct = &account{
			available: v.cfg.StartingBalance,
			positions: make(map[uint32]*venue.Position),
		}
		v.accounts[trader] = acct
	}
	return acct
}

func (v *Venue) price(pairIndex uint32) float64 {
	price, ok := v.prices[pairIndex]
	if !ok {
		price = 100.0
		v.prices[pairIndex] = price
	}
	return price
}

// step drifts every known price by up to ±walkStep.
func (v *Venue) step() {
	for pair, price := range v.prices {
		drift := (v.rng.Float64()*2 - 1) * walkStep
		v.prices[pair] = price * (1 + drift)
	}
}

// refresh marks a position to the current price.
func (v *Venue) refresh(pos *venue.Position) {
	current := v.price(pos.PairIndex)
	pos.CurrentPrice = current

	move := (current - pos.EntryPrice) / pos.EntryPrice
	if !pos.Side.IsLong() {
		move = -move
	}
	pos.Pnl = pos.Size * move
	if pos.Collateral > 0 {
		pos.PnlPct = pos.Pnl / pos.Collateral * 100
	}
}

// basePrices seeds the walk for the known pair registry.
var basePrices = map[uint32]float64{
	0:  65_000, // BTC
	1:  3_200,  // ETH
	2:  150,    // SOL
	3:  30,     // AVAX
	4:  0.70,   // MATIC
	5:  1.10,   // ARB
	6:  2.20,   // OP
	7:  14,     // LINK
	8:  9,      // UNI
	9:  95,     // AAVE
	10: 9,      // ATOM
	11: 6,      // DOT
	12: 0.45,   // ADA
	13: 0.55,   // XRP
	14: 0.12,   // DOGE
	15: 580,    // BNB
}
