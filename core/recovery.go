package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradeguard/monitor"
	"github.com/web3guy0/tradeguard/restriction"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION - Startup recovery
// ═══════════════════════════════════════════════════════════════════════════════
//
// On startup, before any worker runs:
//   1. Restore AccountState (peak, daily start, breach status)
//   2. Reload suspension records so windows that closed while we were down
//      still get their orders and protection back
//   3. Reload trackers and keep only tickets the broker still knows about
//      (or that are held as suspended orders)
//
// ═══════════════════════════════════════════════════════════════════════════════

// RecoveryReport summarizes one recovery
type RecoveryReport struct {
	AccountRestored bool
	Suspensions     int
	Trackers        int
	Dropped         int
	Unmanaged       int
}

// Reconciler reloads persisted state into an engine
type Reconciler struct {
	engine *Engine
	store  StateStore
}

// NewReconciler creates a reconciler
func NewReconciler(engine *Engine, store StateStore) *Reconciler {
	return &Reconciler{engine: engine, store: store}
}

// Recover loads everything persisted and validates it against the broker
func (r *Reconciler) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	if r.store == nil {
		log.Info().Msg("📦 No database - skipping recovery")
		return rep, nil
	}

	state, err := r.store.LoadAccountState()
	if err != nil {
		return rep, fmt.Errorf("load account state: %w", err)
	}
	if state != nil {
		r.engine.Guard().Restore(*state)
		rep.AccountRestored = true
	}

	positions, err := r.engine.gw.GetOpenPositions(ctx)
	if err != nil {
		return rep, fmt.Errorf("recovery positions: %w", err)
	}
	orders, err := r.engine.gw.GetPendingOrders(ctx)
	if err != nil {
		return rep, fmt.Errorf("recovery orders: %w", err)
	}
	live := make(map[int64]bool, len(positions)+len(orders))
	for _, p := range positions {
		live[p.Ticket] = true
	}
	for _, o := range orders {
		live[o.Ticket] = true
	}

	for _, w := range r.engine.Workers() {
		symbol := w.Symbol()

		recs, err := r.store.LoadSuspensions(symbol)
		if err != nil {
			return rep, fmt.Errorf("load suspensions %s: %w", symbol, err)
		}
		store := w.Restrictions().Store()
		store.Load(recs)
		rep.Suspensions += len(recs)

		saved, err := r.store.LoadTrackers(symbol)
		if err != nil {
			return rep, fmt.Errorf("load trackers %s: %w", symbol, err)
		}
		kept := make([]monitor.Tracker, 0, len(saved))
		for _, t := range saved {
			if live[t.Ticket] || store.Has(restriction.SuspendedOrder, t.Ticket) {
				kept = append(kept, t)
				continue
			}
			rep.Dropped++
			log.Warn().
				Str("symbol", symbol).
				Int64("ticket", t.Ticket).
				Str("strategy", t.Strategy).
				Msg("Tracker dropped, ticket gone at broker")
		}
		w.Monitor().Load(kept)
		rep.Trackers += len(kept)
		if len(kept) != len(saved) {
			if err := r.store.SaveTrackers(symbol, kept); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("Failed to persist pruned trackers")
			}
		}

		tracked := make(map[int64]bool, len(kept))
		for _, t := range kept {
			tracked[t.Ticket] = true
		}
		for _, p := range positions {
			if p.Symbol == symbol && !tracked[p.Ticket] {
				rep.Unmanaged++
				log.Warn().
					Str("symbol", symbol).
					Int64("ticket", p.Ticket).
					Str("volume", p.Volume.String()).
					Msg("⚠️ Open position without tracker, broker SL/TP only")
			}
		}
	}

	log.Info().
		Bool("account", rep.AccountRestored).
		Int("suspensions", rep.Suspensions).
		Int("trackers", rep.Trackers).
		Int("dropped", rep.Dropped).
		Int("unmanaged", rep.Unmanaged).
		Msg("✅ Recovery complete")
	return rep, nil
}
