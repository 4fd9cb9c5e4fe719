package risk

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Calculators is a strategy's risk config resolved into concrete calculators
type Calculators struct {
	Strategy   string
	Sizer      Sizer
	StopLoss   StopLossCalculator
	TakeProfit TakeProfitCalculator
}

// NewCalculators validates cfg and resolves each tag to its calculator once,
// so the hot path never inspects config types.
func NewCalculators(name string, cfg RiskConfig) (*Calculators, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}

	c := &Calculators{Strategy: name}

	ps := cfg.PositionSizing
	value := decimal.NewFromFloat(ps.Value)
	switch ps.Type {
	case SizingFixed:
		c.Sizer = FixedSizer{Amount: value}
	case SizingPercentage:
		c.Sizer = PercentageSizer{Percent: value}
	case SizingVolatility:
		indicator := strings.ToLower(ps.Indicator)
		if indicator == "" {
			indicator = "atr"
		}
		mult := ps.Multiplier
		if mult == 0 {
			mult = 1
		}
		c.Sizer = VolatilitySizer{Percent: value, Indicator: indicator, Multiplier: decimal.NewFromFloat(mult)}
	}

	p := cfg.StopLoss.Params
	pipMult := decimal.NewFromFloat(p.PipMultiplier)
	switch cfg.StopLoss.Type {
	case StopFixed:
		c.StopLoss = FixedStop{Pips: decimal.NewFromFloat(p.Pips), PipMultiplier: pipMult}
	case StopIndicator:
		c.StopLoss = IndicatorStop{Indicator: strings.ToLower(p.Indicator), Offset: decimal.NewFromFloat(p.Offset)}
	case StopTrailing:
		c.StopLoss = TrailingStop{Pips: decimal.NewFromFloat(p.Pips), Step: decimal.NewFromFloat(p.Step), PipMultiplier: pipMult}
	case StopMonetary:
		c.StopLoss = MonetaryStop{Amount: decimal.NewFromFloat(p.Amount)}
	}

	tp := cfg.TakeProfit.Params
	switch cfg.TakeProfit.Type {
	case TakeProfitFixed:
		c.TakeProfit = FixedTarget{Pips: decimal.NewFromFloat(tp.Pips), PipMultiplier: decimal.NewFromFloat(tp.PipMultiplier)}
	case TakeProfitMultiTarget:
		c.TakeProfit = MultiTarget{Targets: tp.Targets}
	}

	return c, nil
}
