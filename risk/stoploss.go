package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STOP LOSS - Level always sits against the trade direction
// ═══════════════════════════════════════════════════════════════════════════════

// StopInput is everything a stop-loss calculator may need
type StopInput struct {
	Entry     decimal.Decimal
	Direction types.Direction
	Size      decimal.Decimal
	Market    types.MarketData
	Spec      types.SymbolSpec
}

// StopLossCalculator computes the initial protective stop
type StopLossCalculator interface {
	StopLoss(in StopInput) (types.StopLossResult, error)
}

// pipDistance converts pips to price using an explicit multiplier, or the symbol's pip size
func pipDistance(pips, multiplier decimal.Decimal, spec types.SymbolSpec) decimal.Decimal {
	if multiplier.GreaterThan(decimal.Zero) {
		return pips.Div(multiplier)
	}
	return spec.Pips(pips)
}

// against moves price by distance against the trade direction
func against(entry, distance decimal.Decimal, dir types.Direction) decimal.Decimal {
	if dir.IsLong() {
		return entry.Sub(distance)
	}
	return entry.Add(distance)
}

// with moves price by distance in the trade direction
func with(entry, distance decimal.Decimal, dir types.Direction) decimal.Decimal {
	if dir.IsLong() {
		return entry.Add(distance)
	}
	return entry.Sub(distance)
}

func checkLevel(op string, level decimal.Decimal) error {
	if level.LessThanOrEqual(decimal.Zero) {
		return &types.CalculationError{Op: op, Reason: fmt.Sprintf("level %s is not a valid price", level.String())}
	}
	return nil
}

// FixedStop sits a fixed number of pips from entry
type FixedStop struct {
	Pips          decimal.Decimal
	PipMultiplier decimal.Decimal
}

func (s FixedStop) StopLoss(in StopInput) (types.StopLossResult, error) {
	level := against(in.Entry, pipDistance(s.Pips, s.PipMultiplier, in.Spec), in.Direction)
	if err := checkLevel("fixed stop", level); err != nil {
		return types.StopLossResult{}, err
	}
	return types.StopLossResult{Level: level, Type: string(StopFixed)}, nil
}

// IndicatorStop sits indicator*offset from entry (e.g. 1.5 x ATR)
type IndicatorStop struct {
	Indicator string
	Offset    decimal.Decimal
}

func (s IndicatorStop) StopLoss(in StopInput) (types.StopLossResult, error) {
	v, ok := in.Market.Indicator(s.Indicator)
	if !ok || v.LessThanOrEqual(decimal.Zero) {
		return types.StopLossResult{}, &types.InsufficientDataError{Symbol: in.Market.Symbol, Field: s.Indicator}
	}
	level := against(in.Entry, v.Mul(s.Offset), in.Direction)
	if err := checkLevel("indicator stop", level); err != nil {
		return types.StopLossResult{}, err
	}
	return types.StopLossResult{Level: level, Type: string(StopIndicator)}, nil
}

// TrailingStop starts like a fixed stop and then follows the best price by Step pips
type TrailingStop struct {
	Pips          decimal.Decimal
	Step          decimal.Decimal
	PipMultiplier decimal.Decimal
}

func (s TrailingStop) StopLoss(in StopInput) (types.StopLossResult, error) {
	level := against(in.Entry, pipDistance(s.Pips, s.PipMultiplier, in.Spec), in.Direction)
	if err := checkLevel("trailing stop", level); err != nil {
		return types.StopLossResult{}, err
	}
	return types.StopLossResult{
		Level:        level,
		Type:         string(StopTrailing),
		Trailing:     true,
		TrailingStep: pipDistance(s.Step, s.PipMultiplier, in.Spec),
	}, nil
}

// MonetaryStop is solved so (entry - level) * size * pip_value == Amount
type MonetaryStop struct {
	Amount decimal.Decimal
}

func (s MonetaryStop) StopLoss(in StopInput) (types.StopLossResult, error) {
	if in.Size.LessThanOrEqual(decimal.Zero) {
		return types.StopLossResult{}, &types.CalculationError{Op: "monetary stop", Reason: "position size must be positive"}
	}
	if in.Spec.PipValue.LessThanOrEqual(decimal.Zero) {
		return types.StopLossResult{}, &types.CalculationError{Op: "monetary stop", Reason: "pip value must be positive for " + in.Spec.Symbol}
	}
	distance := s.Amount.Div(in.Size.Mul(in.Spec.PipValue))
	level := against(in.Entry, distance, in.Direction)
	if err := checkLevel("monetary stop", level); err != nil {
		return types.StopLossResult{}, err
	}
	return types.StopLossResult{Level: level, Type: string(StopMonetary)}, nil
}

// TrailStop returns the ratcheted stop for the best price seen since entry.
// Long stops never decrease and short stops never increase. A zero current means no stop yet.
func TrailStop(current, bestPrice, step decimal.Decimal, dir types.Direction) decimal.Decimal {
	candidate := against(bestPrice, step, dir)
	if current.IsZero() {
		return candidate
	}
	if dir.IsLong() {
		return decimal.Max(current, candidate)
	}
	return decimal.Min(current, candidate)
}
