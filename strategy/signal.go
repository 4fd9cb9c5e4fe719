package strategy

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL - What the strategy evaluator hands to the engine
// ═══════════════════════════════════════════════════════════════════════════════
//
//   {strategy_name, symbol, direction, entry_price?, reason?}
//
// Entry signals become EntryDecisions, exit signals become ExitDecisions.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Signal is an entry or exit request from a strategy
type Signal struct {
	Strategy  string          `json:"strategy_name"`
	Symbol    string          `json:"symbol"`
	Direction types.Direction `json:"direction"`
	Entry     decimal.Decimal `json:"entry_price,omitempty"` // zero = use market price
	Exit      bool            `json:"exit,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate checks the fields every signal needs
func (s *Signal) Validate() error {
	switch {
	case s.Strategy == "":
		return errors.New("signal missing strategy_name")
	case s.Symbol == "":
		return errors.New("signal missing symbol")
	case s.Direction != types.Long && s.Direction != types.Short:
		return errors.New("signal direction must be long or short")
	case s.Entry.IsNegative():
		return errors.New("signal entry_price must not be negative")
	}
	return nil
}

// SignalBuilder helps construct signals
type SignalBuilder struct {
	signal *Signal
}

// NewSignal creates a new long entry signal builder
func NewSignal() *SignalBuilder {
	return &SignalBuilder{
		signal: &Signal{Direction: types.Long},
	}
}

// Strategy sets the source strategy name
func (sb *SignalBuilder) Strategy(name string) *SignalBuilder {
	sb.signal.Strategy = name
	return sb
}

// Symbol sets the traded symbol
func (sb *SignalBuilder) Symbol(symbol string) *SignalBuilder {
	sb.signal.Symbol = symbol
	return sb
}

// Long sets the long side
func (sb *SignalBuilder) Long() *SignalBuilder {
	sb.signal.Direction = types.Long
	return sb
}

// Short sets the short side
func (sb *SignalBuilder) Short() *SignalBuilder {
	sb.signal.Direction = types.Short
	return sb
}

// Entry sets the entry price
func (sb *SignalBuilder) Entry(price decimal.Decimal) *SignalBuilder {
	sb.signal.Entry = price
	return sb
}

// Exit marks the signal as an exit
func (sb *SignalBuilder) Exit() *SignalBuilder {
	sb.signal.Exit = true
	return sb
}

// Reason sets the human-readable reason
func (sb *SignalBuilder) Reason(reason string) *SignalBuilder {
	sb.signal.Reason = reason
	return sb
}

// At sets the signal time
func (sb *SignalBuilder) At(t time.Time) *SignalBuilder {
	sb.signal.Timestamp = t
	return sb
}

// Build returns the completed signal
func (sb *SignalBuilder) Build() *Signal {
	return sb.signal
}
