package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func conservativeRisk() risk.RiskConfig {
	return risk.RiskConfig{
		PositionSizing: risk.PositionSizingConfig{Type: risk.SizingPercentage, Value: 1.0},
		StopLoss:       &risk.StopLossConfig{Type: risk.StopMonetary, Params: risk.StopParams{Amount: 500}},
		TakeProfit: &risk.TakeProfitConfig{Type: risk.TakeProfitMultiTarget, Params: risk.TargetParams{Targets: []risk.TargetConfig{
			{Value: 1.0, Percent: 60, MoveStop: true},
			{Value: 2.0, Percent: 40},
		}}},
	}
}

func newBuilder(t *testing.T) *DecisionBuilder {
	t.Helper()
	b := NewDecisionBuilder(map[string]types.SymbolSpec{
		"EURUSD": {Symbol: "EURUSD", PipSize: dec("0.0001"), PipValue: dec("10")},
	})
	b.SetClock(func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) })
	require.NoError(t, b.Register("conservative", nil, []string{"M15", "H1"}, types.Market, conservativeRisk()))
	return b
}

func TestBuildEntryConservative(t *testing.T) {
	b := newBuilder(t)
	sig := NewSignal().Strategy("conservative").Symbol("EURUSD").Long().Entry(dec("1.1000")).Build()

	d, err := b.BuildEntry(sig, dec("10000"), types.MarketData{Symbol: "EURUSD"})
	require.NoError(t, err)

	assert.True(t, d.Size.Equal(dec("100")), "size %s", d.Size)
	assert.Equal(t, types.Long, d.Direction)
	assert.Equal(t, types.Market, d.Kind)
	assert.Equal(t, Magic("conservative", "EURUSD", []string{"H1", "M15"}, types.Long), d.Magic)

	// (entry - sl) * size * pip_value == 500
	risked := d.EntryPrice.Sub(d.StopLoss.Level).Mul(d.Size).Mul(dec("10"))
	assert.True(t, risked.Equal(dec("500")), "risked %s", risked)

	require.Len(t, d.TakeProfit.Targets, 2)
	assert.True(t, d.TakeProfit.Targets[0].Level.Equal(dec("1.111")))
	assert.True(t, d.TakeProfit.Targets[0].MoveStopToBreakeven)
	assert.True(t, d.TakeProfit.Targets[1].Level.Equal(dec("1.122")))
	assert.False(t, d.Timestamp.IsZero())
}

func TestBuildEntryFallsBackToMarketPrice(t *testing.T) {
	b := newBuilder(t)
	sig := NewSignal().Strategy("conservative").Symbol("EURUSD").Short().Build()

	d, err := b.BuildEntry(sig, dec("10000"), types.MarketData{Symbol: "EURUSD", Price: dec("1.2000")})
	require.NoError(t, err)
	assert.True(t, d.EntryPrice.Equal(dec("1.2")))
	assert.True(t, d.StopLoss.Level.GreaterThan(d.EntryPrice))

	_, err = b.BuildEntry(sig, dec("10000"), types.MarketData{Symbol: "EURUSD"})
	var ie *types.InsufficientDataError
	assert.True(t, errors.As(err, &ie))
}

func TestBuildEntryErrors(t *testing.T) {
	b := newBuilder(t)

	_, err := b.BuildEntry(NewSignal().Strategy("conservative").Symbol("EURUSD").Entry(dec("1.1")).Build(), decimal.Zero, types.MarketData{})
	assert.Equal(t, types.CategoryValidation, types.Category(err), "missing balance")

	_, err = b.BuildEntry(NewSignal().Strategy("ghost").Symbol("EURUSD").Entry(dec("1.1")).Build(), dec("10000"), types.MarketData{})
	assert.Equal(t, types.CategoryValidation, types.Category(err), "unknown strategy")

	_, err = b.BuildEntry(NewSignal().Symbol("EURUSD").Build(), dec("10000"), types.MarketData{})
	assert.Error(t, err)
}

func TestRegisterDisablesInvalidStrategy(t *testing.T) {
	b := newBuilder(t)
	bad := conservativeRisk()
	bad.TakeProfit = nil

	err := b.Register("broken", nil, nil, types.Market, bad)
	require.Error(t, err)
	assert.Equal(t, []string{"conservative"}, b.Names())

	_, err = b.BuildEntry(NewSignal().Strategy("broken").Symbol("EURUSD").Entry(dec("1.1")).Build(), dec("10000"), types.MarketData{})
	assert.Equal(t, types.CategoryValidation, types.Category(err))
}

func TestRegisterSymbolFilter(t *testing.T) {
	b := newBuilder(t)
	require.NoError(t, b.Register("gold_only", []string{"XAUUSD"}, nil, types.Limit, conservativeRisk()))

	_, err := b.BuildEntry(NewSignal().Strategy("gold_only").Symbol("EURUSD").Entry(dec("1.1")).Build(), dec("10000"), types.MarketData{})
	assert.Equal(t, types.CategoryValidation, types.Category(err))
}

func TestBuildExit(t *testing.T) {
	b := newBuilder(t)
	d, err := b.BuildExit(NewSignal().Strategy("manual").Symbol("XAUUSD").Short().Exit().Build())
	require.NoError(t, err)
	assert.Equal(t, types.Short, d.Direction)
	assert.Equal(t, "strategy exit", d.Reason)
	assert.False(t, d.Timestamp.IsZero())
}

func TestMagicIsDeterministic(t *testing.T) {
	a := Magic("trend", "XAUUSD", []string{"M15", "H1"}, types.Long)
	assert.Equal(t, a, Magic("trend", "xauusd", []string{"h1", "m15"}, types.Long))
	assert.NotEqual(t, a, Magic("trend", "XAUUSD", []string{"M15", "H1"}, types.Short))
	assert.NotEqual(t, a, Magic("trend", "BTCUSD", []string{"M15", "H1"}, types.Long))
	assert.Positive(t, a)
}
