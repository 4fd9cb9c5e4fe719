package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION BUILDER - Signal + risk calculators → immutable decision records
// ═══════════════════════════════════════════════════════════════════════════════
//
// Entry:  size → stop loss (needs size for monetary stops) → take profit → magic
// Exit:   no calculators, exits are never gated
//
// A calculator failure rejects that one entry and nothing else.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Definition is a loaded strategy with its resolved calculators
type Definition struct {
	Name       string
	Symbols    []string
	Timeframes []string
	OrderKind  types.OrderKind
	Calc       *risk.Calculators
}

// Trades reports whether the strategy is configured for symbol (empty list = any)
func (d *Definition) Trades(symbol string) bool {
	if len(d.Symbols) == 0 {
		return true
	}
	for _, s := range d.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// DecisionBuilder owns every enabled strategy's calculators
type DecisionBuilder struct {
	mu         sync.RWMutex
	strategies map[string]*Definition
	disabled   map[string]error
	specs      map[string]types.SymbolSpec
	now        func() time.Time
}

// NewDecisionBuilder creates a builder over the given symbol specs
func NewDecisionBuilder(specs map[string]types.SymbolSpec) *DecisionBuilder {
	if specs == nil {
		specs = make(map[string]types.SymbolSpec)
	}
	return &DecisionBuilder{
		strategies: make(map[string]*Definition),
		disabled:   make(map[string]error),
		specs:      specs,
		now:        time.Now,
	}
}

// SetClock overrides time.Now for decision timestamps
func (b *DecisionBuilder) SetClock(now func() time.Time) {
	b.now = now
}

// Register validates cfg and enables the strategy. A ValidationError disables
// the strategy and is returned; other strategies are unaffected.
func (b *DecisionBuilder) Register(name string, symbols, timeframes []string, kind types.OrderKind, cfg risk.RiskConfig) error {
	calc, err := risk.NewCalculators(name, cfg)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		delete(b.strategies, name)
		b.disabled[name] = err
		log.Error().Err(err).Str("strategy", name).Msg("❌ Strategy disabled: invalid risk config")
		return err
	}
	if kind == "" {
		kind = types.Market
	}
	delete(b.disabled, name)
	b.strategies[name] = &Definition{
		Name:       name,
		Symbols:    symbols,
		Timeframes: timeframes,
		OrderKind:  kind,
		Calc:       calc,
	}
	log.Info().
		Str("strategy", name).
		Strs("symbols", symbols).
		Strs("timeframes", timeframes).
		Msg("📋 Strategy registered")
	return nil
}

// Strategy returns a registered definition
func (b *DecisionBuilder) Strategy(name string) (*Definition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.strategies[name]
	return d, ok
}

// Names returns the enabled strategy names, sorted
func (b *DecisionBuilder) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.strategies))
	for n := range b.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Disabled returns the load error of a disabled strategy
func (b *DecisionBuilder) Disabled(name string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.disabled[name]
}

// Spec returns the symbol spec, or a zero spec carrying only the symbol
func (b *DecisionBuilder) Spec(symbol string) types.SymbolSpec {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.specs[symbol]; ok {
		return s
	}
	return types.SymbolSpec{Symbol: symbol}
}

// BuildEntry runs the calculators for an entry signal
func (b *DecisionBuilder) BuildEntry(sig *Signal, balance decimal.Decimal, md types.MarketData) (types.EntryDecision, error) {
	if err := sig.Validate(); err != nil {
		return types.EntryDecision{}, types.NewValidationError("signal", err.Error())
	}
	def, ok := b.Strategy(sig.Strategy)
	if !ok {
		if err := b.Disabled(sig.Strategy); err != nil {
			return types.EntryDecision{}, fmt.Errorf("strategy %s disabled: %w", sig.Strategy, err)
		}
		return types.EntryDecision{}, &types.ValidationError{Strategy: sig.Strategy, Field: "strategy", Reason: "not registered"}
	}
	if !def.Trades(sig.Symbol) {
		return types.EntryDecision{}, &types.ValidationError{Strategy: def.Name, Field: "symbols", Reason: sig.Symbol + " not configured"}
	}

	entry := sig.Entry
	if entry.IsZero() {
		entry = md.Price
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return types.EntryDecision{}, &types.InsufficientDataError{Symbol: sig.Symbol, Field: "entry_price"}
	}

	spec := b.Spec(sig.Symbol)
	size, err := def.Calc.Sizer.Size(balance, md)
	if err != nil {
		return types.EntryDecision{}, fmt.Errorf("sizing: %w", err)
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return types.EntryDecision{}, &types.CalculationError{Op: "sizing", Reason: "non-positive size " + size.String()}
	}

	sl, err := def.Calc.StopLoss.StopLoss(risk.StopInput{
		Entry:     entry,
		Direction: sig.Direction,
		Size:      size,
		Market:    md,
		Spec:      spec,
	})
	if err != nil {
		return types.EntryDecision{}, fmt.Errorf("stop loss: %w", err)
	}

	tp, err := def.Calc.TakeProfit.TakeProfit(entry, sig.Direction, spec)
	if err != nil {
		return types.EntryDecision{}, fmt.Errorf("take profit: %w", err)
	}

	ts := sig.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}

	d := types.EntryDecision{
		Symbol:     sig.Symbol,
		Strategy:   def.Name,
		Magic:      Magic(def.Name, sig.Symbol, def.Timeframes, sig.Direction),
		Direction:  sig.Direction,
		Kind:       def.OrderKind,
		EntryPrice: entry,
		Size:       size,
		StopLoss:   sl,
		TakeProfit: tp,
		Timestamp:  ts,
	}

	log.Debug().
		Str("strategy", d.Strategy).
		Str("symbol", d.Symbol).
		Str("direction", string(d.Direction)).
		Str("entry", d.EntryPrice.String()).
		Str("size", d.Size.StringFixed(2)).
		Str("sl", d.StopLoss.Level.String()).
		Int("targets", len(d.TakeProfit.Targets)).
		Msg("🧮 Entry decision built")

	return d, nil
}

// BuildExit turns an exit signal into a decision. Exits skip every calculator.
func (b *DecisionBuilder) BuildExit(sig *Signal) (types.ExitDecision, error) {
	if err := sig.Validate(); err != nil {
		return types.ExitDecision{}, types.NewValidationError("signal", err.Error())
	}
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}
	reason := sig.Reason
	if reason == "" {
		reason = "strategy exit"
	}
	return types.ExitDecision{
		Symbol:    sig.Symbol,
		Strategy:  sig.Strategy,
		Direction: sig.Direction,
		Timestamp: ts,
		Reason:    reason,
	}, nil
}
