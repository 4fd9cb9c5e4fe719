package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/types"
)

// Block sources
const (
	BlockRestriction = "restriction"
	BlockAccount     = "account"
)

// TradingContext is built fresh by every cycle of one symbol and returned
// for observability. Never shared across symbols.
type TradingContext struct {
	Symbol      string
	Snapshot    types.Snapshot
	Restriction restriction.State

	Account      risk.AccountStatus
	DailyPnL     decimal.Decimal
	Drawdown     decimal.Decimal
	RiskBreached bool

	// Per-cycle outcome counters
	Exits      int
	Skipped    int
	Suppressed int
	Placed     int
	Rejected   int

	blocks map[string][]string
}

// NewTradingContext starts a cycle's context from a broker snapshot
func NewTradingContext(symbol string, snap types.Snapshot) *TradingContext {
	return &TradingContext{
		Symbol:      symbol,
		Snapshot:    snap,
		Restriction: restriction.Unrestricted,
		blocks:      make(map[string][]string),
	}
}

// Block withholds new entries for source. Replaces earlier reasons of that source.
func (c *TradingContext) Block(source string, reasons ...string) {
	if len(reasons) == 0 {
		reasons = []string{source}
	}
	c.blocks[source] = append([]string(nil), reasons...)
}

// Allow lifts the block of source
func (c *TradingContext) Allow(source string) {
	delete(c.blocks, source)
}

// CanTrade reports whether no block is active
func (c *TradingContext) CanTrade() bool {
	return len(c.blocks) == 0
}

// Reasons lists every active block as "source: reason", sorted
func (c *TradingContext) Reasons() []string {
	var out []string
	for source, reasons := range c.blocks {
		for _, r := range reasons {
			out = append(out, source+": "+r)
		}
	}
	sort.Strings(out)
	return out
}

// BlockedBy reports whether source currently blocks entries
func (c *TradingContext) BlockedBy(source string) bool {
	_, ok := c.blocks[source]
	return ok
}

func (c *TradingContext) reasonString() string {
	return strings.Join(c.Reasons(), "; ")
}
