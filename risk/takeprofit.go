package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// TakeProfitCalculator produces the ordered target list for an entry
type TakeProfitCalculator interface {
	TakeProfit(entry decimal.Decimal, dir types.Direction, spec types.SymbolSpec) (types.TakeProfitResult, error)
}

// FixedTarget closes the whole position a fixed number of pips from entry
type FixedTarget struct {
	Pips          decimal.Decimal
	PipMultiplier decimal.Decimal
}

func (t FixedTarget) TakeProfit(entry decimal.Decimal, dir types.Direction, spec types.SymbolSpec) (types.TakeProfitResult, error) {
	level := with(entry, pipDistance(t.Pips, t.PipMultiplier, spec), dir)
	if err := checkLevel("fixed target", level); err != nil {
		return types.TakeProfitResult{}, err
	}
	return types.TakeProfitResult{
		Type:    string(TakeProfitFixed),
		Targets: []types.TPTarget{{Level: level, Percent: hundred}},
	}, nil
}

// MultiTarget scales out at several percent distances from entry
type MultiTarget struct {
	Targets []TargetConfig
}

func (t MultiTarget) TakeProfit(entry decimal.Decimal, dir types.Direction, _ types.SymbolSpec) (types.TakeProfitResult, error) {
	cfgs := make([]TargetConfig, len(t.Targets))
	copy(cfgs, t.Targets)
	// Nearest first for either direction: distance is the same magnitude both ways.
	sort.SliceStable(cfgs, func(i, j int) bool { return cfgs[i].Value < cfgs[j].Value })

	targets := make([]types.TPTarget, 0, len(cfgs))
	for _, c := range cfgs {
		distance := entry.Mul(decimal.NewFromFloat(c.Value)).Div(hundred)
		level := with(entry, distance, dir)
		if err := checkLevel("multi target", level); err != nil {
			return types.TakeProfitResult{}, err
		}
		targets = append(targets, types.TPTarget{
			Level:               level,
			Percent:             decimal.NewFromFloat(c.Percent),
			MoveStopToBreakeven: c.MoveStop,
		})
	}
	return types.TakeProfitResult{Type: string(TakeProfitMultiTarget), Targets: targets}, nil
}
