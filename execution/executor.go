package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER EXECUTOR - One EntryDecision → 1..N broker orders
// ═══════════════════════════════════════════════════════════════════════════════
//
//   volume:  equal split or a descending pyramid, rounded to the volume step,
//            last order takes the remainder so the total is exact
//   price:   order i sits i * entry_spacing pips further from market (adverse)
//   kind:    offset >= ATR * limit_atr_distance → limit, else decision's kind
//   SL:      every order carries the decision's stop
//   TP:      every order carries the full target list; a single 100% target is
//            also sent broker-side, multi-target exits belong to the monitor
//
// Sibling orders are independent: a rejection never cancels the others.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ScalingType selects the volume distribution
type ScalingType string

const (
	ScalingEqual   ScalingType = "equal"
	ScalingPyramid ScalingType = "pyramid"
)

// Config is a strategy's execution block
type Config struct {
	PositionSplit    int         `yaml:"position_split"`
	ScalingType      ScalingType `yaml:"scaling_type"`
	EntrySpacing     float64     `yaml:"entry_spacing"`      // pips
	LimitATRDistance float64     `yaml:"limit_atr_distance"` // ATR multiple; 0 = any offset is a limit
	ATRIndicator     string      `yaml:"atr_indicator"`
}

// DefaultConfig is a single market order
func DefaultConfig() Config {
	return Config{
		PositionSplit: 1,
		ScalingType:   ScalingEqual,
		ATRIndicator:  "atr",
	}
}

// Validate checks the execution block
func (c Config) Validate() error {
	if c.PositionSplit < 1 {
		return types.NewValidationError("execution.position_split", "must be at least 1")
	}
	switch c.ScalingType {
	case ScalingEqual, ScalingPyramid:
	default:
		return types.NewValidationError("execution.scaling_type", fmt.Sprintf("unknown scaling type %q", c.ScalingType))
	}
	if c.EntrySpacing < 0 || c.LimitATRDistance < 0 {
		return types.NewValidationError("execution", "spacing and limit distance must not be negative")
	}
	return nil
}

// pyramidSchedules are the descending weights (percent) for common splits
var pyramidSchedules = map[int][]int64{
	2: {60, 40},
	3: {50, 30, 20},
	4: {40, 30, 20, 10},
}

// Weights returns the fraction of total volume for each of n orders
func Weights(scaling ScalingType, n int) []decimal.Decimal {
	if n < 1 {
		n = 1
	}
	w := make([]decimal.Decimal, n)
	if scaling != ScalingPyramid || n == 1 {
		for i := range w {
			w[i] = decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))
		}
		return w
	}
	if sched, ok := pyramidSchedules[n]; ok {
		for i, pct := range sched {
			w[i] = decimal.NewFromInt(pct).Div(decimal.NewFromInt(100))
		}
		return w
	}
	// n, n-1, ..., 1 over n(n+1)/2
	total := decimal.NewFromInt(int64(n * (n + 1) / 2))
	for i := range w {
		w[i] = decimal.NewFromInt(int64(n - i)).Div(total)
	}
	return w
}

// SubOrder is one planned broker order
type SubOrder struct {
	Index      int
	Kind       types.OrderKind
	Price      decimal.Decimal
	Offset     decimal.Decimal
	Volume     decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal // broker-side, zero = none
	Targets    []types.TPTarget
	Comment    string
}

// OrderResult is the outcome of one sub-order
type OrderResult struct {
	SubOrder
	Ticket   int64
	Err      error
	PlacedAt time.Time
}

// Success reports whether the broker accepted the order
func (r OrderResult) Success() bool { return r.Err == nil && r.Ticket != 0 }

// Plan expands a decision into sub-orders. Pure.
func Plan(d types.EntryDecision, cfg Config, spec types.SymbolSpec, md types.MarketData) ([]SubOrder, error) {
	n := cfg.PositionSplit
	if n < 1 {
		n = 1
	}
	if d.Size.LessThanOrEqual(decimal.Zero) {
		return nil, &types.CalculationError{Op: "plan", Reason: "decision size must be positive"}
	}

	weights := Weights(cfg.ScalingType, n)
	volumes := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		volumes[i] = spec.RoundVolume(d.Size.Mul(weights[i]))
		allocated = allocated.Add(volumes[i])
	}
	volumes[n-1] = d.Size.Sub(allocated)
	for i, v := range volumes {
		if v.LessThanOrEqual(decimal.Zero) || (spec.MinVolume.GreaterThan(decimal.Zero) && v.LessThan(spec.MinVolume)) {
			return nil, &types.CalculationError{
				Op:     "plan",
				Reason: fmt.Sprintf("size %s too small for %d orders (order %d gets %s)", d.Size, n, i, v),
			}
		}
	}

	spacing := spec.Pips(decimal.NewFromFloat(cfg.EntrySpacing))
	threshold := decimal.Zero
	if cfg.LimitATRDistance > 0 && spacing.GreaterThan(decimal.Zero) && n > 1 {
		indicator := cfg.ATRIndicator
		if indicator == "" {
			indicator = "atr"
		}
		atr, ok := md.Indicator(indicator)
		if !ok || atr.LessThanOrEqual(decimal.Zero) {
			return nil, &types.InsufficientDataError{Symbol: d.Symbol, Field: indicator}
		}
		threshold = atr.Mul(decimal.NewFromFloat(cfg.LimitATRDistance))
	}

	brokerTP := decimal.Zero
	if len(d.TakeProfit.Targets) == 1 {
		brokerTP = d.TakeProfit.Targets[0].Level
	}

	orders := make([]SubOrder, n)
	for i := range orders {
		offset := spacing.Mul(decimal.NewFromInt(int64(i)))
		price := d.EntryPrice
		if d.Direction.IsLong() {
			price = price.Sub(offset)
		} else {
			price = price.Add(offset)
		}
		kind := d.Kind
		if offset.GreaterThan(decimal.Zero) && offset.GreaterThanOrEqual(threshold) {
			kind = types.Limit
		}
		orders[i] = SubOrder{
			Index:      i,
			Kind:       kind,
			Price:      price,
			Offset:     offset,
			Volume:     volumes[i],
			StopLoss:   d.StopLoss.Level,
			TakeProfit: brokerTP,
			Targets:    d.TakeProfit.Targets,
			Comment:    types.OrderComment(d.Strategy, i),
		}
	}
	return orders, nil
}

// Executor places planned orders through the gateway
type Executor struct {
	mu sync.RWMutex
	gw broker.Gateway

	gate func() bool
	now  func() time.Time

	// Callbacks
	onPlaced   func(types.EntryDecision, OrderResult)
	onRejected func(types.EntryDecision, OrderResult)

	// Metrics
	totalOrders    int64
	placedOrders   int64
	rejectedOrders int64
	totalVolume    decimal.Decimal
}

// NewExecutor creates an executor over gw
func NewExecutor(gw broker.Gateway) *Executor {
	log.Info().Str("broker", gw.Name()).Msg("⚡ Executor initialized")
	return &Executor{gw: gw, now: time.Now}
}

// SetGate installs a check consulted before every sub-order; false halts the rest
func (e *Executor) SetGate(gate func() bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = gate
}

// SetClock overrides time.Now
func (e *Executor) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetCallbacks sets order outcome callbacks
func (e *Executor) SetCallbacks(onPlaced, onRejected func(types.EntryDecision, OrderResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPlaced = onPlaced
	e.onRejected = onRejected
}

// Execute plans and places every sub-order of d, reporting each outcome.
// A planning failure returns an error and no results.
func (e *Executor) Execute(ctx context.Context, d types.EntryDecision, cfg Config, spec types.SymbolSpec, md types.MarketData) ([]OrderResult, error) {
	plan, err := Plan(d, cfg, spec, md)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	gate, now, onPlaced, onRejected := e.gate, e.now, e.onPlaced, e.onRejected
	e.mu.RUnlock()

	results := make([]OrderResult, 0, len(plan))
	for _, so := range plan {
		res := OrderResult{SubOrder: so}

		if gate != nil && !gate() {
			res.Err = types.ErrAccountHalted
			results = append(results, res)
			continue
		}

		req := broker.OrderRequest{
			Symbol:     d.Symbol,
			Direction:  d.Direction,
			Volume:     so.Volume,
			Price:      so.Price,
			StopLoss:   so.StopLoss,
			TakeProfit: so.TakeProfit,
			Magic:      d.Magic,
			Comment:    so.Comment,
		}
		var ticket int64
		if so.Kind == types.Limit {
			ticket, err = e.gw.CreateLimitOrder(ctx, req)
		} else {
			ticket, err = e.gw.CreateMarketOrder(ctx, req)
		}
		res.PlacedAt = now()

		e.mu.Lock()
		e.totalOrders++
		if err != nil {
			e.rejectedOrders++
		} else {
			e.placedOrders++
			e.totalVolume = e.totalVolume.Add(so.Volume)
		}
		e.mu.Unlock()

		if err != nil {
			res.Err = types.Rejection("create "+string(so.Kind)+" order", d.Symbol, 0, err)
			log.Error().
				Err(err).
				Str("strategy", d.Strategy).
				Str("symbol", d.Symbol).
				Int("order", so.Index).
				Str("kind", string(so.Kind)).
				Str("volume", so.Volume.String()).
				Msg("❌ Order rejected")
			if onRejected != nil {
				onRejected(d, res)
			}
		} else {
			res.Ticket = ticket
			log.Info().
				Int64("ticket", ticket).
				Str("strategy", d.Strategy).
				Str("symbol", d.Symbol).
				Str("direction", string(d.Direction)).
				Str("kind", string(so.Kind)).
				Str("price", so.Price.String()).
				Str("volume", so.Volume.String()).
				Str("sl", so.StopLoss.String()).
				Msg("📤 Order placed")
			if onPlaced != nil {
				onPlaced(d, res)
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// Metrics returns executor counters
func (e *Executor) Metrics() (total, placed, rejected int64, volume decimal.Decimal) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.totalOrders, e.placedOrders, e.rejectedOrders, e.totalVolume
}
