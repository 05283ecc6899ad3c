// internal/venue/pairs.go
package venue

import (
	"fmt"
	"sort"
	"strings"
)

// Pair indices follow the Avantis on-chain ordering; the registry covers the
// markets this bot trades. Symbols are quoted against USD.
var pairIndexBySymbol = map[string]uint32{
	"BTC":   0,
	"ETH":   1,
	"SOL":   2,
	"AVAX":  3,
	"MATIC": 4,
	"ARB":   5,
	"OP":    6,
	"LINK":  7,
	"UNI":   8,
	"AAVE":  9,
	"ATOM":  10,
	"DOT":   11,
	"ADA":   12,
	"XRP":   13,
	"DOGE":  14,
	"BNB":   15,
}

var symbolByPairIndex = func() map[uint32]string {
	m := make(map[uint32]string, len(pairIndexBySymbol))
	for sym, idx := range pairIndexBySymbol {
		m[idx] = sym
	}
	return m
}()

// MaxPairIndex is the highest index the venue itself accepts. Indices above
// the registry but within this bound belong to markets the bot does not
// trade by symbol.
const MaxPairIndex uint32 = 32

// PairIndex resolves a symbol ("BTC", "btc/usd", "ETH/USD") to its venue
// pair index.
func PairIndex(symbol string) (uint32, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	normalized = strings.TrimSuffix(normalized, "/USD")
	normalized = strings.TrimSuffix(normalized, "-USD")
	if idx, ok := pairIndexBySymbol[normalized]; ok {
		return idx, nil
	}
	return 0, fmt.Errorf("unknown trading pair %q", symbol)
}

// SymbolFor returns the registry symbol for a pair index, or "PAIR_<n>" for
// venue pairs outside the registry.
func SymbolFor(pairIndex uint32) string {
	if sym, ok := symbolByPairIndex[pairIndex]; ok {
		return sym
	}
	return fmt.Sprintf("PAIR_%d", pairIndex)
}

// KnownPair reports whether the registry maps this index to a symbol.
func KnownPair(pairIndex uint32) bool {
	_, ok := symbolByPairIndex[pairIndex]
	return ok
}

// Symbols returns the registry's symbols sorted by pair index.
func Symbols() []string {
	indices := make([]uint32, 0, len(symbolByPairIndex))
	for idx := range symbolByPairIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	symbols := make([]string, 0, len(indices))
	for _, idx := range indices {
		symbols = append(symbols, symbolByPairIndex[idx])
	}
	return symbols
}
