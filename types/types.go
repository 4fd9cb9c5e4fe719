package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction of a trade
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// IsLong reports whether d is the long side
func (d Direction) IsLong() bool { return d == Long }

// Opposite returns the other side
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// ParseDirection accepts long/short and the buy/sell aliases signal producers use
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// OrderKind is market or limit
type OrderKind string

const (
	Market OrderKind = "market"
	Limit  OrderKind = "limit"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISIONS
// ═══════════════════════════════════════════════════════════════════════════════

// StopLossResult is the output of a stop-loss calculator
type StopLossResult struct {
	Level        decimal.Decimal `json:"level"`
	Type         string          `json:"type"`
	Trailing     bool            `json:"trailing"`
	TrailingStep decimal.Decimal `json:"trailing_step"` // price units
}

// TPTarget is one take-profit level
type TPTarget struct {
	Level               decimal.Decimal `json:"level"`
	Percent             decimal.Decimal `json:"percent"` // of original volume, 0-100
	MoveStopToBreakeven bool            `json:"move_stop_to_breakeven"`
}

// TakeProfitResult holds targets ordered nearest-first
type TakeProfitResult struct {
	Type    string     `json:"type"`
	Targets []TPTarget `json:"targets"`
}

// Farthest returns the level of the last target, or zero when there are none
func (t TakeProfitResult) Farthest() decimal.Decimal {
	if len(t.Targets) == 0 {
		return decimal.Zero
	}
	return t.Targets[len(t.Targets)-1].Level
}

// EntryDecision is built once per entry signal and consumed once by the executor.
// Treat as immutable after construction.
type EntryDecision struct {
	Symbol     string           `json:"symbol"`
	Strategy   string           `json:"strategy"`
	Magic      int64            `json:"magic"`
	Direction  Direction        `json:"direction"`
	Kind       OrderKind        `json:"kind"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	Size       decimal.Decimal  `json:"size"`
	StopLoss   StopLossResult   `json:"stop_loss"`
	TakeProfit TakeProfitResult `json:"take_profit"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Key identifies the (strategy, symbol, direction) tuple
func (d EntryDecision) Key() PositionKey {
	return PositionKey{Strategy: d.Strategy, Symbol: d.Symbol, Direction: d.Direction}
}

// ExitDecision asks to close whatever the strategy holds on a symbol/side
type ExitDecision struct {
	Symbol    string    `json:"symbol"`
	Strategy  string    `json:"strategy"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// PositionKey is the uniqueness tuple for live positions and pending orders
type PositionKey struct {
	Strategy  string
	Symbol    string
	Direction Direction
}

func (k PositionKey) String() string {
	return k.Strategy + "/" + k.Symbol + "/" + string(k.Direction)
}

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER STATE
// ═══════════════════════════════════════════════════════════════════════════════

// Position as reported by the broker
type Position struct {
	Ticket       int64           `json:"ticket"`
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	Volume       decimal.Decimal `json:"volume"`
	PriceOpen    decimal.Decimal `json:"price_open"`
	PriceCurrent decimal.Decimal `json:"price_current"`
	StopLoss     decimal.Decimal `json:"sl"` // zero = none
	TakeProfit   decimal.Decimal `json:"tp"` // zero = none
	Magic        int64           `json:"magic"`
	Comment      string          `json:"comment"`
	Profit       decimal.Decimal `json:"profit"`
	OpenTime     time.Time       `json:"open_time"`
}

// Key returns the uniqueness tuple for this position
func (p Position) Key() PositionKey {
	return PositionKey{Strategy: StrategyFromComment(p.Comment), Symbol: p.Symbol, Direction: p.Direction}
}

// Order is a pending (unfilled) order as reported by the broker
type Order struct {
	Ticket     int64           `json:"ticket"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Kind       OrderKind       `json:"kind"`
	Volume     decimal.Decimal `json:"volume"`
	Price      decimal.Decimal `json:"price"`
	StopLoss   decimal.Decimal `json:"sl"`
	TakeProfit decimal.Decimal `json:"tp"`
	Magic      int64           `json:"magic"`
	Comment    string          `json:"comment"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// Key returns the uniqueness tuple for this order
func (o Order) Key() PositionKey {
	return PositionKey{Strategy: StrategyFromComment(o.Comment), Symbol: o.Symbol, Direction: o.Direction}
}

// AccountInfo is the broker's account summary
type AccountInfo struct {
	Balance decimal.Decimal `json:"balance"`
	Equity  decimal.Decimal `json:"equity"`
}

// Snapshot is the broker state a cycle works against
type Snapshot struct {
	Positions []Position
	Orders    []Order
	Time      time.Time
}

// commentSep separates the strategy name from the sub-order suffix in broker comments
const commentSep = "#"

// OrderComment builds the broker comment for sub-order i of a strategy
func OrderComment(strategy string, i int) string {
	return fmt.Sprintf("%s%s%d", strategy, commentSep, i)
}

// StrategyFromComment recovers the strategy name from a broker comment
func StrategyFromComment(comment string) string {
	if i := strings.Index(comment, commentSep); i >= 0 {
		return comment[:i]
	}
	return comment
}

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET METADATA
// ═══════════════════════════════════════════════════════════════════════════════

// SymbolSpec describes price and volume granularity for a symbol
type SymbolSpec struct {
	Symbol     string
	PipSize    decimal.Decimal // price units per pip
	PipValue   decimal.Decimal // account currency per unit of price distance per unit of volume
	VolumeStep decimal.Decimal // zero = no rounding
	MinVolume  decimal.Decimal
}

// Pips converts a pip count to a price distance
func (s SymbolSpec) Pips(n decimal.Decimal) decimal.Decimal {
	if s.PipSize.IsZero() {
		return n
	}
	return n.Mul(s.PipSize)
}

// RoundVolume floors v to the volume step
func (s SymbolSpec) RoundVolume(v decimal.Decimal) decimal.Decimal {
	if s.VolumeStep.LessThanOrEqual(decimal.Zero) {
		return v
	}
	return v.Div(s.VolumeStep).Floor().Mul(s.VolumeStep)
}

// MarketData is the per-symbol market context handed to calculators
type MarketData struct {
	Symbol     string
	Price      decimal.Decimal
	Indicators map[string]decimal.Decimal // e.g. "atr", "atr_h1"
	Time       time.Time
}

// Indicator looks up a named indicator value
func (m MarketData) Indicator(name string) (decimal.Decimal, bool) {
	if m.Indicators == nil {
		return decimal.Zero, false
	}
	v, ok := m.Indicators[strings.ToLower(name)]
	return v, ok
}
