package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MONITOR - Partial exits, breakeven and trailing per symbol
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every poll, for each tracker of the symbol:
//   1. Not at the broker → waiting fill, suspended, or closed externally
//   2. Targets nearest-first: close percent × original volume, stop at the
//      first target not reached or the first failed close (retried next poll)
//   3. move_stop_to_breakeven → stop to entry (retried until it sticks)
//   4. Trailing stop ratchets with the best price seen
//   5. Remaining volume zero → tracker destroyed
//
// Owned by the symbol's worker goroutine; readers see copies.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Persister saves a symbol's trackers after each change
type Persister interface {
	SaveTrackers(symbol string, trackers []Tracker) error
}

// Monitor tracks the positions of one symbol
type Monitor struct {
	mu       sync.RWMutex
	symbol   string
	spec     types.SymbolSpec
	gw       broker.Gateway
	pub      events.Publisher
	trackers map[int64]*Tracker

	retain    func(ticket int64) bool
	hold      func(ticket int64, dir types.Direction, level decimal.Decimal) bool
	persister Persister
	now       func() time.Time
}

// New creates a monitor for symbol
func New(symbol string, spec types.SymbolSpec, gw broker.Gateway, pub events.Publisher) *Monitor {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Monitor{
		symbol:   symbol,
		spec:     spec,
		gw:       gw,
		pub:      pub,
		trackers: make(map[int64]*Tracker),
		now:      time.Now,
	}
}

// SetClock overrides time.Now
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// SetRetain keeps unfilled trackers whose order is held elsewhere (suspended)
func (m *Monitor) SetRetain(fn func(ticket int64) bool) { m.retain = fn }

// SetHold diverts stop moves away from the broker while fn accepts them
// (protection suspended). The tracker stop still advances.
func (m *Monitor) SetHold(fn func(ticket int64, dir types.Direction, level decimal.Decimal) bool) {
	m.hold = fn
}

// SetPersister enables saving trackers after each change
func (m *Monitor) SetPersister(p Persister) { m.persister = p }

// Track starts following a placed order
func (m *Monitor) Track(t *Tracker) {
	m.mu.Lock()
	m.trackers[t.Ticket] = t
	m.mu.Unlock()
	log.Debug().
		Str("symbol", t.Symbol).
		Int64("ticket", t.Ticket).
		Int("targets", len(t.Targets)).
		Msg("📌 Tracker registered")
	m.persist()
}

// Reticket moves a tracker to the ticket a restored order was given
func (m *Monitor) Reticket(oldTicket, newTicket int64) {
	m.mu.Lock()
	t, ok := m.trackers[oldTicket]
	if ok {
		delete(m.trackers, oldTicket)
		t.Ticket = newTicket
		m.trackers[newTicket] = t
	}
	m.mu.Unlock()
	if ok {
		log.Info().Str("symbol", m.symbol).Int64("old_ticket", oldTicket).Int64("ticket", newTicket).Msg("Tracker re-keyed")
		m.persist()
	}
}

// Untrack stops following ticket, e.g. after a strategy exit closed it
func (m *Monitor) Untrack(ticket int64) bool {
	m.mu.Lock()
	_, ok := m.trackers[ticket]
	delete(m.trackers, ticket)
	m.mu.Unlock()
	if ok {
		m.persist()
	}
	return ok
}

// Get returns a copy of the tracker for ticket
func (m *Monitor) Get(ticket int64) (Tracker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trackers[ticket]
	if !ok {
		return Tracker{}, false
	}
	return t.clone(), true
}

// List returns copies of every tracker, by ticket
func (m *Monitor) List() []Tracker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Len returns the tracker count
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trackers)
}

// Load replaces the trackers, for crash recovery
func (m *Monitor) Load(trackers []Tracker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers = make(map[int64]*Tracker, len(trackers))
	for i := range trackers {
		t := trackers[i].clone()
		m.trackers[t.Ticket] = &t
	}
}

// Poll runs one monitoring pass against snap and returns the events it published
func (m *Monitor) Poll(ctx context.Context, snap types.Snapshot) []events.Event {
	positions := make(map[int64]types.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		if p.Symbol == m.symbol {
			positions[p.Ticket] = p
		}
	}
	pending := make(map[int64]bool, len(snap.Orders))
	for _, o := range snap.Orders {
		pending[o.Ticket] = true
	}

	var out []events.Event
	dirty := false

	m.mu.Lock()
	tickets := make([]int64, 0, len(m.trackers))
	for t := range m.trackers {
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })

	for _, ticket := range tickets {
		t := m.trackers[ticket]
		pos, open := positions[ticket]
		var evs []events.Event
		var changed bool
		if open {
			evs, changed = m.follow(ctx, t, pos)
		} else {
			evs, changed = m.missing(t, pending[ticket], snap.Time)
		}
		out = append(out, evs...)
		dirty = dirty || changed
	}
	m.mu.Unlock()

	for _, e := range out {
		m.pub.Publish(e)
	}
	if dirty {
		m.persist()
	}
	return out
}

// missing handles a tracker whose ticket is not an open position. Caller holds mu.
func (m *Monitor) missing(t *Tracker, isPending bool, at time.Time) ([]events.Event, bool) {
	if !t.Filled {
		if isPending || (m.retain != nil && m.retain(t.Ticket)) {
			return nil, false
		}
		// the snapshot predates the order
		if !at.IsZero() && at.Before(t.CreatedAt) {
			return nil, false
		}
	}
	delete(m.trackers, t.Ticket)
	reason := "closed at broker"
	if !t.Filled {
		reason = "order gone before fill"
	}
	log.Info().
		Str("symbol", t.Symbol).
		Int64("ticket", t.Ticket).
		Str("reason", reason).
		Msg("Tracker removed")
	return []events.Event{{
		Type:      events.PositionClosed,
		Symbol:    t.Symbol,
		Strategy:  t.Strategy,
		Direction: string(t.Direction),
		Ticket:    t.Ticket,
		Volume:    t.Remaining,
		Reason:    reason,
	}}, true
}

// follow runs targets, breakeven and trailing for an open position. Caller holds mu.
func (m *Monitor) follow(ctx context.Context, t *Tracker, pos types.Position) ([]events.Event, bool) {
	var out []events.Event
	dirty := false

	if !t.Filled {
		t.Filled = true
		t.Entry = pos.PriceOpen
		dirty = true
		log.Info().
			Str("symbol", t.Symbol).
			Int64("ticket", t.Ticket).
			Str("entry", t.Entry.String()).
			Str("volume", pos.Volume.String()).
			Msg("📈 Position filled, tracking")
	}
	if !pos.Volume.Equal(t.Remaining) {
		t.Remaining = pos.Volume
		dirty = true
	}
	price := pos.PriceCurrent
	if price.LessThanOrEqual(decimal.Zero) {
		return out, dirty
	}

	if t.BreakevenPending {
		if e, ok := m.moveStop(ctx, t, t.Entry, "breakeven"); ok {
			out = append(out, e...)
			dirty = true
		}
	}

	for i := t.NextTarget(); i >= 0; i = t.NextTarget() {
		tgt := t.Targets[i]
		if !Hit(t.Direction, price, tgt.Level) {
			break
		}
		vol := t.CloseVolume(i, m.spec)
		if vol.LessThanOrEqual(decimal.Zero) {
			t.Targets[i].Executed = true
			dirty = true
			log.Warn().Str("symbol", t.Symbol).Int64("ticket", t.Ticket).Int("target", i).Msg("Target volume rounds to zero, skipped")
			continue
		}

		var volPtr *decimal.Decimal
		if vol.LessThan(t.Remaining) {
			volPtr = broker.Level(vol)
		}
		pnl, err := m.gw.ClosePosition(ctx, t.Ticket, volPtr)
		if err != nil {
			err = types.Rejection("partial close", t.Symbol, t.Ticket, err)
			log.Error().
				Err(err).
				Int("target", i).
				Str("volume", vol.String()).
				Msg("❌ Partial close failed, retrying next poll")
			out = append(out, events.Event{
				Type:     events.OrderRejected,
				Severity: events.SeverityWarn,
				Symbol:   t.Symbol,
				Strategy: t.Strategy,
				Ticket:   t.Ticket,
				Volume:   vol,
				Reason:   err.Error(),
			})
			break
		}

		t.Targets[i].Executed = true
		t.Remaining = t.Remaining.Sub(vol)
		dirty = true
		log.Info().
			Str("symbol", t.Symbol).
			Int64("ticket", t.Ticket).
			Int("target", i).
			Str("level", tgt.Level.String()).
			Str("closed", vol.String()).
			Str("remaining", t.Remaining.String()).
			Str("pnl", pnl.StringFixed(2)).
			Msg("🎯 Take-profit hit")
		out = append(out, events.Event{
			Type:      events.TargetHit,
			Symbol:    t.Symbol,
			Strategy:  t.Strategy,
			Direction: string(t.Direction),
			Ticket:    t.Ticket,
			Price:     price,
			Level:     tgt.Level,
			Volume:    vol,
			PnL:       pnl,
		})

		if t.Remaining.LessThanOrEqual(decimal.Zero) {
			delete(m.trackers, t.Ticket)
			log.Info().Str("symbol", t.Symbol).Int64("ticket", t.Ticket).Msg("✅ All targets filled, tracker closed")
			out = append(out, events.Event{
				Type:      events.PositionClosed,
				Symbol:    t.Symbol,
				Strategy:  t.Strategy,
				Direction: string(t.Direction),
				Ticket:    t.Ticket,
				Reason:    "all targets filled",
			})
			return out, true
		}
		if tgt.MoveStopToBreakeven {
			t.BreakevenPending = true
			if e, ok := m.moveStop(ctx, t, t.Entry, "breakeven"); ok {
				out = append(out, e...)
			}
		}
	}

	if t.Trailing && t.TrailingStep.GreaterThan(decimal.Zero) {
		if t.BestPrice.IsZero() || Hit(t.Direction, price, t.BestPrice) {
			t.BestPrice = price
			dirty = true
		}
		next := risk.TrailStop(t.Stop, t.BestPrice, t.TrailingStep, t.Direction)
		if e, ok := m.moveStop(ctx, t, next, "trailing"); ok {
			out = append(out, e...)
			dirty = true
		}
	}
	return out, dirty
}

// moveStop tightens the broker stop to level. Loosening is refused.
func (m *Monitor) moveStop(ctx context.Context, t *Tracker, level decimal.Decimal, reason string) ([]events.Event, bool) {
	breakeven := reason == "breakeven"
	tighter := t.Stop.IsZero() ||
		(t.Direction.IsLong() && level.GreaterThan(t.Stop)) ||
		(!t.Direction.IsLong() && level.LessThan(t.Stop))
	if !tighter {
		if breakeven && t.BreakevenPending {
			t.BreakevenPending = false
			return nil, true
		}
		return nil, false
	}

	held := m.hold != nil && m.hold(t.Ticket, t.Direction, level)
	if held {
		reason += " (held)"
	} else if err := m.gw.ModifyPosition(ctx, t.Ticket, broker.Level(level), nil); err != nil {
		log.Error().
			Err(types.Rejection("move stop", t.Symbol, t.Ticket, err)).
			Str("reason", reason).
			Str("level", level.String()).
			Msg("Stop move failed, retrying next poll")
		return nil, false
	}

	old := t.Stop
	t.Stop = level
	if breakeven {
		t.BreakevenPending = false
	}
	log.Info().
		Str("symbol", t.Symbol).
		Int64("ticket", t.Ticket).
		Str("from", old.String()).
		Str("to", level.String()).
		Str("reason", reason).
		Msg("🔒 Stop-loss moved")
	return []events.Event{{
		Type:      events.StopLossMoved,
		Symbol:    t.Symbol,
		Strategy:  t.Strategy,
		Direction: string(t.Direction),
		Ticket:    t.Ticket,
		Level:     level,
		Reason:    reason,
	}}, true
}

func (m *Monitor) persist() {
	if m.persister == nil {
		return
	}
	if err := m.persister.SaveTrackers(m.symbol, m.List()); err != nil {
		log.Error().Err(err).Str("symbol", m.symbol).Msg("Failed to persist trackers")
	}
}
