package core

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYMBOLS - Symbol specs and latest market data
// ═══════════════════════════════════════════════════════════════════════════════

// SymbolBook holds the spec and last market context of every traded symbol.
// Written by the market data feed, read by workers.
type SymbolBook struct {
	mu     sync.RWMutex
	specs  map[string]types.SymbolSpec
	market map[string]types.MarketData
}

// NewSymbolBook creates an empty book
func NewSymbolBook() *SymbolBook {
	return &SymbolBook{
		specs:  make(map[string]types.SymbolSpec),
		market: make(map[string]types.MarketData),
	}
}

// Add adds or replaces a symbol spec
func (b *SymbolBook) Add(spec types.SymbolSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.specs[spec.Symbol] = spec
}

// Spec returns the spec of symbol
func (b *SymbolBook) Spec(symbol string) (types.SymbolSpec, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.specs[symbol]
	return s, ok
}

// Specs returns a copy of every spec, keyed by symbol
func (b *SymbolBook) Specs() map[string]types.SymbolSpec {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]types.SymbolSpec, len(b.specs))
	for k, v := range b.specs {
		out[k] = v
	}
	return out
}

// UpdateMarket stores the latest market context. Indicator names are lower-cased.
func (b *SymbolBook) UpdateMarket(md types.MarketData) {
	if len(md.Indicators) > 0 {
		ind := make(map[string]decimal.Decimal, len(md.Indicators))
		for k, v := range md.Indicators {
			ind[strings.ToLower(k)] = v
		}
		md.Indicators = ind
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.market[md.Symbol] = md
}

// Market returns the last market context of symbol
func (b *SymbolBook) Market(symbol string) (types.MarketData, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	md, ok := b.market[symbol]
	return md, ok
}

// Symbols returns every symbol with a spec, sorted
func (b *SymbolBook) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.specs))
	for s := range b.specs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of symbols
func (b *SymbolBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.specs)
}
