package risk

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING
// ═══════════════════════════════════════════════════════════════════════════════
//
//   fixed:      size = value
//   percentage: size = balance * value / 100
//   volatility: size = (balance * value / 100) / (volatility * multiplier)
//
// ═══════════════════════════════════════════════════════════════════════════════

var hundred = decimal.NewFromInt(100)

// Sizer turns account balance and market context into a position size
type Sizer interface {
	Size(balance decimal.Decimal, md types.MarketData) (decimal.Decimal, error)
}

// FixedSizer returns the configured amount regardless of balance
type FixedSizer struct {
	Amount decimal.Decimal
}

func (s FixedSizer) Size(_ decimal.Decimal, _ types.MarketData) (decimal.Decimal, error) {
	return s.Amount, nil
}

// PercentageSizer sizes a position as a percent of balance
type PercentageSizer struct {
	Percent decimal.Decimal
}

func (s PercentageSizer) Size(balance decimal.Decimal, _ types.MarketData) (decimal.Decimal, error) {
	if balance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, types.NewValidationError("account_balance", "percentage sizing needs a positive balance")
	}
	return balance.Mul(s.Percent).Div(hundred), nil
}

// VolatilitySizer shrinks the percent allocation as volatility grows
type VolatilitySizer struct {
	Percent    decimal.Decimal
	Indicator  string
	Multiplier decimal.Decimal
}

func (s VolatilitySizer) Size(balance decimal.Decimal, md types.MarketData) (decimal.Decimal, error) {
	if balance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, types.NewValidationError("account_balance", "volatility sizing needs a positive balance")
	}
	vol, ok := md.Indicator(s.Indicator)
	if !ok || vol.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, &types.InsufficientDataError{Symbol: md.Symbol, Field: s.Indicator}
	}
	denom := vol.Mul(s.Multiplier)
	if denom.IsZero() {
		return decimal.Zero, &types.CalculationError{Op: "volatility sizing", Reason: "zero multiplier"}
	}
	return balance.Mul(s.Percent).Div(hundred).Div(denom), nil
}

// RiskAmount returns the money lost if a position of size is stopped out
func RiskAmount(size, entry, stop, pipValue decimal.Decimal) decimal.Decimal {
	return entry.Sub(stop).Abs().Mul(size).Mul(pipValue)
}
