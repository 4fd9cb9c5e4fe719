package restriction

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RESTRICTION MANAGER - Per-symbol UNRESTRICTED ⇄ RESTRICTED
// ═══════════════════════════════════════════════════════════════════════════════
//
// While restricted (checked every tick, so broker failures retry naturally):
//   news / manual  → cancel pending orders, strip SL/TP, remember originals
//   market close   → daily accounts flatten the symbol, nothing to restore
//
// When every window has closed:
//   recreate orders, reapply SL/TP; failed restores stay queued and keep
//   the symbol blocked until they succeed
//
// ═══════════════════════════════════════════════════════════════════════════════

// State of a symbol
type State string

const (
	Unrestricted State = "UNRESTRICTED"
	Restricted   State = "RESTRICTED"
)

// Result of one Check
type Result struct {
	State     State
	Reasons   []Reason
	Changed   bool
	Flattened bool
}

// Restricted reports whether new entries must be withheld
func (r Result) Restricted() bool { return r.State == Restricted }

// ReasonStrings renders the reasons for logs and context block sets
func (r Result) ReasonStrings() []string {
	out := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		out[i] = reason.String()
	}
	return out
}

// TransitionFunc observes state changes
type TransitionFunc func(symbol string, from, to State, reasons []Reason)

// Manager owns the restriction state of one symbol. Not safe for concurrent
// Check calls; the symbol worker is the only caller.
type Manager struct {
	symbol    string
	rules     Rules
	acct      AccountType
	gw        broker.Gateway
	store     *SuspensionStore
	persister Persister

	mu    sync.RWMutex
	state State

	onTransition TransitionFunc
	onReticket   func(symbol string, oldTicket, newTicket int64)
}

// NewManager creates a manager for symbol
func NewManager(symbol string, rules Rules, acct AccountType, gw broker.Gateway, store *SuspensionStore) *Manager {
	if store == nil {
		store = NewSuspensionStore()
	}
	if acct == "" {
		acct = AccountSwing
	}
	return &Manager{
		symbol: symbol,
		rules:  rules,
		acct:   acct,
		gw:     gw,
		store:  store,
		state:  Unrestricted,
	}
}

// SetPersister enables writing the suspension store after each change
func (m *Manager) SetPersister(p Persister) { m.persister = p }

// OnTransition registers a state-change observer
func (m *Manager) OnTransition(fn TransitionFunc) { m.onTransition = fn }

// OnOrderRestored registers an observer for pending orders recreated under a new ticket
func (m *Manager) OnOrderRestored(fn func(symbol string, oldTicket, newTicket int64)) {
	m.onReticket = fn
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Store exposes the suspension store
func (m *Manager) Store() *SuspensionStore { return m.store }

// Check applies or lifts blocks for the snapshot time
func (m *Manager) Check(ctx context.Context, snap types.Snapshot) Result {
	reasons := m.rules.Evaluate(snap.Time, m.acct)
	dirty := false
	res := Result{}

	switch {
	case len(reasons) > 0:
		if hasKind(reasons, KindMarketClose) {
			dirty = m.flatten(ctx, snap)
			res.Flattened = true
		} else {
			dirty = m.suspend(ctx, snap)
		}
	case m.store.Len(m.symbol) > 0:
		var pending int
		dirty, pending = m.restore(ctx, snap)
		if pending > 0 {
			reasons = []Reason{{Kind: KindRestore, Detail: "suspended orders awaiting restore"}}
		}
	}

	to := Unrestricted
	if len(reasons) > 0 {
		to = Restricted
	}
	res.State = to
	res.Reasons = reasons
	res.Changed = to != m.State()
	if res.Changed {
		m.transition(to, res)
	}
	if dirty {
		m.persist()
	}
	return res
}

func (m *Manager) transition(to State, res Result) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if to == Restricted {
		log.Warn().
			Str("symbol", m.symbol).
			Str("reasons", strings.Join(res.ReasonStrings(), "; ")).
			Msg("⛔ Trading restricted")
	} else {
		log.Info().Str("symbol", m.symbol).Msg("✅ Trading authorized")
	}
	if m.onTransition != nil {
		m.onTransition(m.symbol, from, to, res.Reasons)
	}
}

// suspend cancels pending orders and strips protection, recording originals
func (m *Manager) suspend(ctx context.Context, snap types.Snapshot) bool {
	dirty := false
	for _, o := range snap.Orders {
		if o.Symbol != m.symbol {
			continue
		}
		if err := m.gw.CancelOrder(ctx, o.Ticket); err != nil {
			log.Error().Err(err).Str("symbol", m.symbol).Int64("ticket", o.Ticket).Msg("Suspend: cancel failed, retrying next tick")
			continue
		}
		order := o
		m.store.Insert(SuspensionRecord{
			Kind:        SuspendedOrder,
			Ticket:      o.Ticket,
			Symbol:      m.symbol,
			Order:       &order,
			SuspendedAt: snap.Time,
		})
		dirty = true
		log.Info().Str("symbol", m.symbol).Int64("ticket", o.Ticket).Msg("⏸️ Pending order suspended")
	}

	for _, p := range snap.Positions {
		if p.Symbol != m.symbol || (p.StopLoss.IsZero() && p.TakeProfit.IsZero()) {
			continue
		}
		if err := m.gw.ModifyPosition(ctx, p.Ticket, broker.Remove(), broker.Remove()); err != nil {
			log.Error().Err(err).Str("symbol", m.symbol).Int64("ticket", p.Ticket).Msg("Suspend: strip SL/TP failed, retrying next tick")
			continue
		}
		rec := SuspensionRecord{
			Kind:        SuspendedProtection,
			Ticket:      p.Ticket,
			Symbol:      m.symbol,
			StopLoss:    p.StopLoss,
			TakeProfit:  p.TakeProfit,
			SuspendedAt: snap.Time,
		}
		// Levels set at the broker mid-window merge into the originals
		if prev, ok := m.store.Get(SuspendedProtection, p.Ticket); ok {
			rec.StopLoss = tighterStop(p.Direction, prev.StopLoss, p.StopLoss)
			if !prev.TakeProfit.IsZero() {
				rec.TakeProfit = prev.TakeProfit
			}
			rec.SuspendedAt = prev.SuspendedAt
		}
		m.store.Insert(rec)
		dirty = true
		log.Info().
			Str("symbol", m.symbol).
			Int64("ticket", p.Ticket).
			Str("sl", p.StopLoss.String()).
			Str("tp", p.TakeProfit.String()).
			Msg("⏸️ Position protection suspended")
	}
	return dirty
}

// HoldStop records a stop move for a position whose protection is suspended,
// so it is applied at restore instead of now. Returns false when nothing is held.
func (m *Manager) HoldStop(ticket int64, dir types.Direction, level decimal.Decimal) bool {
	rec, ok := m.store.Get(SuspendedProtection, ticket)
	if !ok {
		return false
	}
	if sl := tighterStop(dir, rec.StopLoss, level); !sl.Equal(rec.StopLoss) {
		rec.StopLoss = sl
		m.store.Insert(rec)
		m.persist()
		log.Info().Str("symbol", m.symbol).Int64("ticket", ticket).Str("sl", sl.String()).Msg("Stop held until protection is restored")
	}
	return true
}

// tighterStop picks the stop closer to price. Zero means no stop.
func tighterStop(dir types.Direction, a, b decimal.Decimal) decimal.Decimal {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case dir.IsLong():
		return decimal.Max(a, b)
	default:
		return decimal.Min(a, b)
	}
}

// flatten closes the symbol for the session. Daily accounts only.
func (m *Manager) flatten(ctx context.Context, snap types.Snapshot) bool {
	for _, o := range snap.Orders {
		if o.Symbol != m.symbol {
			continue
		}
		if err := m.gw.CancelOrder(ctx, o.Ticket); err != nil {
			log.Error().Err(err).Str("symbol", m.symbol).Int64("ticket", o.Ticket).Msg("Market close: cancel failed")
		}
	}
	for _, p := range snap.Positions {
		if p.Symbol != m.symbol {
			continue
		}
		pnl, err := m.gw.ClosePosition(ctx, p.Ticket, nil)
		if err != nil {
			log.Error().Err(err).Str("symbol", m.symbol).Int64("ticket", p.Ticket).Msg("Market close: close failed")
			continue
		}
		log.Info().Str("symbol", m.symbol).Int64("ticket", p.Ticket).Str("pnl", pnl.StringFixed(2)).Msg("🌙 Position closed for market close")
	}
	return m.store.Clear(m.symbol) > 0
}

// restore replays every suspension; returns whether the store changed and how many remain
func (m *Manager) restore(ctx context.Context, snap types.Snapshot) (bool, int) {
	open := make(map[int64]bool, len(snap.Positions))
	for _, p := range snap.Positions {
		open[p.Ticket] = true
	}

	restored, failed := m.store.RestoreAll(m.symbol, func(rec SuspensionRecord) error {
		switch rec.Kind {
		case SuspendedOrder:
			if rec.Order == nil {
				return nil
			}
			o := rec.Order
			ticket, err := m.gw.CreateLimitOrder(ctx, broker.OrderRequest{
				Symbol:     o.Symbol,
				Direction:  o.Direction,
				Volume:     o.Volume,
				Price:      o.Price,
				StopLoss:   o.StopLoss,
				TakeProfit: o.TakeProfit,
				Magic:      o.Magic,
				Comment:    o.Comment,
			})
			if err != nil {
				return types.Rejection("restore order", m.symbol, rec.Ticket, err)
			}
			log.Info().Str("symbol", m.symbol).Int64("old_ticket", rec.Ticket).Int64("ticket", ticket).Msg("▶️ Pending order restored")
			if m.onReticket != nil {
				m.onReticket(m.symbol, rec.Ticket, ticket)
			}
		case SuspendedProtection:
			if !open[rec.Ticket] {
				log.Info().Str("symbol", m.symbol).Int64("ticket", rec.Ticket).Msg("Position closed while suspended, dropping protection record")
				return nil
			}
			if err := m.gw.ModifyPosition(ctx, rec.Ticket, broker.Level(rec.StopLoss), broker.Level(rec.TakeProfit)); err != nil {
				return types.Rejection("restore protection", m.symbol, rec.Ticket, err)
			}
			log.Info().Str("symbol", m.symbol).Int64("ticket", rec.Ticket).Msg("▶️ Position protection restored")
		}
		return nil
	})

	for _, err := range failed {
		log.Warn().Err(err).Str("symbol", m.symbol).Msg("Restore failed, retrying next tick")
	}
	return restored > 0 || len(failed) > 0, len(failed)
}

// DropOrders discards suspended pending orders matching fn so they are never
// restored. Returns the dropped tickets.
func (m *Manager) DropOrders(fn func(types.Order) bool) []int64 {
	var dropped []int64
	for _, rec := range m.store.List(m.symbol) {
		if rec.Kind != SuspendedOrder || rec.Order == nil || !fn(*rec.Order) {
			continue
		}
		m.store.Remove(rec.Kind, rec.Ticket)
		dropped = append(dropped, rec.Ticket)
		log.Info().Str("symbol", m.symbol).Int64("ticket", rec.Ticket).Msg("Suspended order dropped")
	}
	if len(dropped) > 0 {
		m.persist()
	}
	return dropped
}

func (m *Manager) persist() {
	if m.persister == nil {
		return
	}
	if err := m.persister.SaveSuspensions(m.symbol, m.store.List(m.symbol)); err != nil {
		log.Error().Err(err).Str("symbol", m.symbol).Msg("Failed to persist suspensions")
	}
}
