package risk

import (
	"fmt"
	"math"

	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK CONFIG - Tagged union per strategy, validated once at load
// ═══════════════════════════════════════════════════════════════════════════════

// SizingType selects the position sizing calculator
type SizingType string

const (
	SizingFixed      SizingType = "fixed"
	SizingPercentage SizingType = "percentage"
	SizingVolatility SizingType = "volatility"
)

// StopLossType selects the stop-loss calculator
type StopLossType string

const (
	StopFixed     StopLossType = "fixed"
	StopIndicator StopLossType = "indicator"
	StopTrailing  StopLossType = "trailing"
	StopMonetary  StopLossType = "monetary"
)

// TakeProfitType selects the take-profit calculator
type TakeProfitType string

const (
	TakeProfitFixed       TakeProfitType = "fixed"
	TakeProfitMultiTarget TakeProfitType = "multi_target"
)

// RiskConfig is the full risk block of a strategy file
type RiskConfig struct {
	PositionSizing PositionSizingConfig `yaml:"position_sizing"`
	StopLoss       *StopLossConfig      `yaml:"stop_loss"`
	TakeProfit     *TakeProfitConfig    `yaml:"take_profit"`
}

// PositionSizingConfig - value is an amount for fixed, a percent otherwise
type PositionSizingConfig struct {
	Type       SizingType `yaml:"type"`
	Value      float64    `yaml:"value"`
	Indicator  string     `yaml:"indicator,omitempty"`  // volatility only, default "atr"
	Multiplier float64    `yaml:"multiplier,omitempty"` // volatility only, default 1
}

// StopLossConfig carries the params for every stop-loss type; each type reads its own
type StopLossConfig struct {
	Type   StopLossType `yaml:"type"`
	Params StopParams   `yaml:"params"`
}

// StopParams for the stop-loss calculators
type StopParams struct {
	Pips          float64 `yaml:"pips,omitempty"`           // fixed, trailing
	PipMultiplier float64 `yaml:"pip_multiplier,omitempty"` // default 1/pip_size
	Indicator     string  `yaml:"indicator,omitempty"`      // indicator
	Offset        float64 `yaml:"offset,omitempty"`         // indicator
	Step          float64 `yaml:"step,omitempty"`           // trailing, in pips
	Amount        float64 `yaml:"amount,omitempty"`         // monetary
}

// TakeProfitConfig for fixed or multi-target exits
type TakeProfitConfig struct {
	Type   TakeProfitType `yaml:"type"`
	Params TargetParams   `yaml:"params"`
}

// TargetParams for the take-profit calculators
type TargetParams struct {
	Pips          float64        `yaml:"pips,omitempty"`
	PipMultiplier float64        `yaml:"pip_multiplier,omitempty"`
	Targets       []TargetConfig `yaml:"targets,omitempty"`
}

// TargetConfig - value is the profit distance in percent of entry price
type TargetConfig struct {
	Value    float64 `yaml:"value"`
	Percent  float64 `yaml:"percent"`
	MoveStop bool    `yaml:"move_stop"`
}

const percentTolerance = 1e-9

// Validate checks the config for strategy name. All failures are *types.ValidationError.
func (c RiskConfig) Validate(name string) error {
	fail := func(field, format string, args ...any) error {
		return &types.ValidationError{Strategy: name, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	switch c.PositionSizing.Type {
	case SizingFixed, SizingPercentage, SizingVolatility:
	case "":
		return fail("position_sizing.type", "required")
	default:
		return fail("position_sizing.type", "unknown type %q", c.PositionSizing.Type)
	}
	if c.PositionSizing.Value <= 0 {
		return fail("position_sizing.value", "must be positive, got %v", c.PositionSizing.Value)
	}
	if c.PositionSizing.Multiplier < 0 {
		return fail("position_sizing.multiplier", "must not be negative, got %v", c.PositionSizing.Multiplier)
	}

	if c.StopLoss == nil {
		return fail("stop_loss", "every strategy must define a stop loss")
	}
	p := c.StopLoss.Params
	switch c.StopLoss.Type {
	case StopFixed:
		if p.Pips <= 0 {
			return fail("stop_loss.params.pips", "must be positive")
		}
	case StopTrailing:
		if p.Pips <= 0 {
			return fail("stop_loss.params.pips", "must be positive")
		}
		if p.Step <= 0 {
			return fail("stop_loss.params.step", "must be positive")
		}
	case StopIndicator:
		if p.Indicator == "" {
			return fail("stop_loss.params.indicator", "required")
		}
		if p.Offset <= 0 {
			return fail("stop_loss.params.offset", "must be positive")
		}
	case StopMonetary:
		if p.Amount <= 0 {
			return fail("stop_loss.params.amount", "must be positive")
		}
	default:
		return fail("stop_loss.type", "unknown type %q", c.StopLoss.Type)
	}
	if p.PipMultiplier < 0 {
		return fail("stop_loss.params.pip_multiplier", "must not be negative")
	}

	if c.TakeProfit == nil {
		return fail("take_profit", "every strategy must define a take profit")
	}
	switch c.TakeProfit.Type {
	case TakeProfitFixed:
		if c.TakeProfit.Params.Pips <= 0 {
			return fail("take_profit.params.pips", "must be positive")
		}
	case TakeProfitMultiTarget:
		targets := c.TakeProfit.Params.Targets
		if len(targets) == 0 {
			return fail("take_profit.params.targets", "at least one target required")
		}
		var sum float64
		for i, t := range targets {
			if t.Value <= 0 {
				return fail(fmt.Sprintf("take_profit.params.targets[%d].value", i), "must be positive")
			}
			if t.Percent <= 0 {
				return fail(fmt.Sprintf("take_profit.params.targets[%d].percent", i), "must be positive")
			}
			sum += t.Percent
		}
		if math.Abs(sum-100) > percentTolerance {
			return fail("take_profit.params.targets", "percentages sum to %v, want 100", sum)
		}
	default:
		return fail("take_profit.type", "unknown type %q", c.TakeProfit.Type)
	}
	return nil
}
