// Package monitor follows every filled position through its take-profit
// targets, breakeven moves and trailing stop.
package monitor

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// Target is one queued take-profit level
type Target struct {
	types.TPTarget
	Executed bool `json:"executed"`
}

// Tracker follows one broker ticket
type Tracker struct {
	Ticket         int64           `json:"ticket"`
	Symbol         string          `json:"symbol"`
	Strategy       string          `json:"strategy"`
	Direction      types.Direction `json:"direction"`
	OriginalVolume decimal.Decimal `json:"original_volume"`
	Remaining      decimal.Decimal `json:"remaining"`
	Entry          decimal.Decimal `json:"entry"`
	Targets        []Target        `json:"targets"`
	Stop           decimal.Decimal `json:"stop"`
	Trailing       bool            `json:"trailing"`
	TrailingStep   decimal.Decimal `json:"trailing_step"`
	BestPrice      decimal.Decimal `json:"best_price"`

	// Filled is set once the ticket shows up as an open position
	Filled bool `json:"filled"`
	// BreakevenPending is a breakeven move whose modify call failed
	BreakevenPending bool      `json:"breakeven_pending"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewTracker builds the tracker for one placed sub-order
func NewTracker(ticket int64, d types.EntryDecision, volume, price decimal.Decimal, at time.Time) *Tracker {
	targets := make([]Target, len(d.TakeProfit.Targets))
	for i, t := range d.TakeProfit.Targets {
		targets[i] = Target{TPTarget: t}
	}
	return &Tracker{
		Ticket:         ticket,
		Symbol:         d.Symbol,
		Strategy:       d.Strategy,
		Direction:      d.Direction,
		OriginalVolume: volume,
		Remaining:      volume,
		Entry:          price,
		Targets:        targets,
		Stop:           d.StopLoss.Level,
		Trailing:       d.StopLoss.Trailing,
		TrailingStep:   d.StopLoss.TrailingStep,
		CreatedAt:      at,
	}
}

// Hit reports whether price has reached level in the profit direction
func Hit(dir types.Direction, price, level decimal.Decimal) bool {
	if dir.IsLong() {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

// NextTarget returns the index of the first unexecuted target, or -1
func (t *Tracker) NextTarget() int {
	for i := range t.Targets {
		if !t.Targets[i].Executed {
			return i
		}
	}
	return -1
}

// lastOpen reports whether i is the only unexecuted target left
func (t *Tracker) lastOpen(i int) bool {
	for j := i + 1; j < len(t.Targets); j++ {
		if !t.Targets[j].Executed {
			return false
		}
	}
	return true
}

// CloseVolume is percent of the original volume, floored to the symbol's step
// and capped at what remains. The last open target takes the remainder.
func (t *Tracker) CloseVolume(i int, spec types.SymbolSpec) decimal.Decimal {
	if t.lastOpen(i) {
		return t.Remaining
	}
	v := spec.RoundVolume(t.OriginalVolume.Mul(t.Targets[i].Percent).Div(decimal.NewFromInt(100)))
	if v.GreaterThan(t.Remaining) {
		return t.Remaining
	}
	return v
}

func (t *Tracker) clone() Tracker {
	c := *t
	c.Targets = append([]Target(nil), t.Targets...)
	return c
}
