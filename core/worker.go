package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/execution"
	"github.com/web3guy0/tradeguard/monitor"
	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/strategy"
	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYMBOL WORKER - One goroutine per symbol
// ═══════════════════════════════════════════════════════════════════════════════
//
// Trade cycle (strictly sequential):
//   1. Snapshot broker state into a fresh TradingContext
//   2. Restriction manager applies or lifts blocks
//   3. Exit signals close matching positions (never blocked)
//   4. Account guard gates entries
//   5. Build → duplicate filter → executor → register trackers
//   6. Return the context
//
// The position monitor polls on its own ticker. Cycle and poll share one
// mutex so a poll never interleaves with order placement.
//
// ═══════════════════════════════════════════════════════════════════════════════

var ErrInboxFull = errors.New("signal inbox full")

// WorkerConfig configures one symbol
type WorkerConfig struct {
	Spec            types.SymbolSpec
	Rules           restriction.Rules
	Account         restriction.AccountType
	Execution       map[string]execution.Config // by strategy; missing = DefaultConfig
	CycleInterval   time.Duration
	MonitorInterval time.Duration
	InboxSize       int
}

func (c *WorkerConfig) defaults() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 300 * time.Millisecond
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
}

// SymbolWorker runs the trade cycle and the position monitor of one symbol
type SymbolWorker struct {
	symbol string
	cfg    WorkerConfig

	gw      broker.Gateway
	builder *strategy.DecisionBuilder
	guard   *risk.AccountGuard
	book    *SymbolBook
	pub     events.Publisher

	restrictions *restriction.Manager
	executor     *execution.Executor
	monitor      *monitor.Monitor

	// cycle serializes RunCycle, PollPositions and CloseAll
	cycle sync.Mutex

	qmu     sync.Mutex
	pending []*strategy.Signal
	wake    chan struct{}

	lastMu sync.RWMutex
	last   *TradingContext

	now func() time.Time
}

// NewSymbolWorker wires the per-symbol components
func NewSymbolWorker(cfg WorkerConfig, gw broker.Gateway, builder *strategy.DecisionBuilder, guard *risk.AccountGuard, book *SymbolBook, pub events.Publisher) *SymbolWorker {
	cfg.defaults()
	if pub == nil {
		pub = events.Discard{}
	}
	symbol := cfg.Spec.Symbol
	if book == nil {
		book = NewSymbolBook()
	}
	if _, ok := book.Spec(symbol); !ok {
		book.Add(cfg.Spec)
	}
	w := &SymbolWorker{
		symbol:       symbol,
		cfg:          cfg,
		gw:           gw,
		builder:      builder,
		guard:        guard,
		book:         book,
		pub:          pub,
		restrictions: restriction.NewManager(symbol, cfg.Rules, cfg.Account, gw, nil),
		executor:     execution.NewExecutor(gw),
		monitor:      monitor.New(symbol, cfg.Spec, gw, pub),
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}

	w.executor.SetGate(guard.CanEnter)
	w.executor.SetCallbacks(w.onPlaced, w.onRejected)
	w.monitor.SetRetain(func(ticket int64) bool {
		return w.restrictions.Store().Has(restriction.SuspendedOrder, ticket)
	})
	w.monitor.SetHold(w.restrictions.HoldStop)
	w.restrictions.OnTransition(w.onRestriction)
	w.restrictions.OnOrderRestored(func(_ string, oldTicket, newTicket int64) {
		w.monitor.Reticket(oldTicket, newTicket)
	})
	return w
}

// Symbol returns the symbol this worker owns
func (w *SymbolWorker) Symbol() string { return w.symbol }

// Monitor exposes the position monitor
func (w *SymbolWorker) Monitor() *monitor.Monitor { return w.monitor }

// Restrictions exposes the restriction manager
func (w *SymbolWorker) Restrictions() *restriction.Manager { return w.restrictions }

// Executor exposes the order executor
func (w *SymbolWorker) Executor() *execution.Executor { return w.executor }

// SetClock overrides time.Now for the worker and its components
func (w *SymbolWorker) SetClock(now func() time.Time) {
	w.now = now
	w.executor.SetClock(now)
	w.monitor.SetClock(now)
}

// SetPersisters enables crash-recovery persistence
func (w *SymbolWorker) SetPersisters(s restriction.Persister, t monitor.Persister) {
	if s != nil {
		w.restrictions.SetPersister(s)
	}
	if t != nil {
		w.monitor.SetPersister(t)
	}
}

// Submit queues a signal for the next cycle
func (w *SymbolWorker) Submit(sig *strategy.Signal) error {
	w.qmu.Lock()
	if len(w.pending) >= w.cfg.InboxSize {
		w.qmu.Unlock()
		log.Warn().Str("symbol", w.symbol).Str("strategy", sig.Strategy).Msg("Signal dropped, inbox full")
		return ErrInboxFull
	}
	w.pending = append(w.pending, sig)
	w.qmu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued signals
func (w *SymbolWorker) Pending() int {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	return len(w.pending)
}

func (w *SymbolWorker) takeSignals() []*strategy.Signal {
	w.qmu.Lock()
	defer w.qmu.Unlock()
	sigs := w.pending
	w.pending = nil
	return sigs
}

// requeue puts signals back in front of anything that arrived meanwhile
func (w *SymbolWorker) requeue(sigs []*strategy.Signal) {
	if len(sigs) == 0 {
		return
	}
	w.qmu.Lock()
	defer w.qmu.Unlock()
	w.pending = append(append([]*strategy.Signal(nil), sigs...), w.pending...)
}

// LastContext returns the context of the last completed cycle
func (w *SymbolWorker) LastContext() *TradingContext {
	w.lastMu.RLock()
	defer w.lastMu.RUnlock()
	return w.last
}

// Run drives cycles and monitor polls until ctx is done
func (w *SymbolWorker) Run(ctx context.Context) error {
	cycleTicker := time.NewTicker(w.cfg.CycleInterval)
	defer cycleTicker.Stop()
	monitorTicker := time.NewTicker(w.cfg.MonitorInterval)
	defer monitorTicker.Stop()

	log.Info().
		Str("symbol", w.symbol).
		Dur("cycle", w.cfg.CycleInterval).
		Dur("monitor", w.cfg.MonitorInterval).
		Msg("🔁 Symbol worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("symbol", w.symbol).Msg("Symbol worker stopped")
			return nil
		case <-cycleTicker.C:
			w.RunCycle(ctx)
		case <-w.wake:
			w.RunCycle(ctx)
		case <-monitorTicker.C:
			w.PollPositions(ctx)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE CYCLE
// ═══════════════════════════════════════════════════════════════════════════════

// RunCycle executes one trade cycle. A broker failure while reading state skips
// the cycle and keeps the queued signals for the next one.
func (w *SymbolWorker) RunCycle(ctx context.Context) (*TradingContext, error) {
	w.cycle.Lock()
	defer w.cycle.Unlock()

	signals := w.takeSignals()

	// 1. Context
	snap, err := w.snapshot(ctx)
	if err != nil {
		w.requeue(signals)
		log.Warn().Err(err).Str("symbol", w.symbol).Int("queued", len(signals)).Msg("Cycle skipped, broker state unavailable")
		return nil, fmt.Errorf("cycle %s: %w", w.symbol, err)
	}
	tc := NewTradingContext(w.symbol, snap)

	// 2. Restrictions
	res := w.restrictions.Check(ctx, snap)
	tc.Restriction = res.State
	if res.Restricted() {
		tc.Block(BlockRestriction, res.ReasonStrings()...)
	}
	if res.Changed || res.Flattened {
		w.refresh(ctx, tc)
	}

	var entries []*strategy.Signal
	var exits []*strategy.Signal
	for _, sig := range signals {
		if sig.Exit {
			exits = append(exits, sig)
		} else {
			entries = append(entries, sig)
		}
	}

	// 3. Exits
	if len(exits) > 0 {
		for _, sig := range exits {
			w.exit(ctx, tc, sig)
		}
		w.refresh(ctx, tc)
	}

	// 4. Account gate
	state := w.guard.Snapshot()
	tc.Account = state.Status
	tc.DailyPnL = state.DailyPnL()
	tc.Drawdown = state.Drawdown()
	tc.RiskBreached = state.Breached()
	if !w.guard.CanEnter() {
		reason := string(state.Status)
		if state.Reason != "" {
			reason += " (" + state.Reason + ")"
		}
		tc.Block(BlockAccount, reason)
	}

	// 5. Entries
	if len(entries) > 0 {
		if tc.CanTrade() {
			w.enter(ctx, tc, entries)
		} else {
			for _, sig := range entries {
				w.skip(tc, sig, tc.reasonString())
			}
		}
	}

	// 6. Done
	if tc.Placed > 0 {
		w.refresh(ctx, tc)
	}
	w.lastMu.Lock()
	w.last = tc
	w.lastMu.Unlock()
	return tc, nil
}

func (w *SymbolWorker) snapshot(ctx context.Context) (types.Snapshot, error) {
	snap, err := broker.Snapshot(ctx, w.gw, w.symbol)
	if err != nil {
		return types.Snapshot{}, err
	}
	snap.Time = w.now()
	return snap, nil
}

// refresh re-reads broker state after this cycle changed it. On failure the
// old snapshot stays; the duplicate filter then errs on the stale side.
func (w *SymbolWorker) refresh(ctx context.Context, tc *TradingContext) {
	snap, err := w.snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Str("symbol", w.symbol).Msg("Snapshot refresh failed")
		return
	}
	tc.Snapshot = snap
}

// exit closes every position and cancels every pending order of the
// signal's (strategy, symbol, direction)
func (w *SymbolWorker) exit(ctx context.Context, tc *TradingContext, sig *strategy.Signal) {
	d, err := w.builder.BuildExit(sig)
	if err != nil {
		log.Warn().Err(err).Str("symbol", w.symbol).Str("strategy", sig.Strategy).Msg("Invalid exit signal")
		return
	}
	key := types.PositionKey{Strategy: d.Strategy, Symbol: d.Symbol, Direction: d.Direction}
	acted := false

	for _, p := range tc.Snapshot.Positions {
		if p.Key() != key {
			continue
		}
		pnl, err := w.gw.ClosePosition(ctx, p.Ticket, nil)
		if err != nil {
			err = types.Rejection("close position", w.symbol, p.Ticket, err)
			log.Error().Err(err).Str("strategy", d.Strategy).Msg("❌ Exit failed")
			w.pub.Publish(events.Event{
				Type: events.OrderRejected, Severity: events.SeverityWarn,
				Symbol: w.symbol, Strategy: d.Strategy, Direction: string(d.Direction),
				Ticket: p.Ticket, Reason: err.Error(),
			})
			continue
		}
		acted = true
		w.monitor.Untrack(p.Ticket)
		log.Info().
			Str("symbol", w.symbol).
			Str("strategy", d.Strategy).
			Int64("ticket", p.Ticket).
			Str("pnl", pnl.StringFixed(2)).
			Str("reason", d.Reason).
			Msg("📊 Position closed on exit signal")
		w.pub.Publish(events.Event{
			Type: events.ExitExecuted, Symbol: w.symbol, Strategy: d.Strategy, Direction: string(d.Direction),
			Ticket: p.Ticket, Price: p.PriceCurrent, Volume: p.Volume, PnL: pnl, Reason: d.Reason,
		})
		tc.Exits++
	}

	for _, o := range tc.Snapshot.Orders {
		if o.Key() != key {
			continue
		}
		if err := w.gw.CancelOrder(ctx, o.Ticket); err != nil {
			log.Error().Err(types.Rejection("cancel order", w.symbol, o.Ticket, err)).Str("strategy", d.Strategy).Msg("❌ Exit cancel failed")
			continue
		}
		acted = true
		w.monitor.Untrack(o.Ticket)
		log.Info().Str("symbol", w.symbol).Str("strategy", d.Strategy).Int64("ticket", o.Ticket).Msg("Pending order cancelled on exit signal")
		w.pub.Publish(events.Event{
			Type: events.ExitExecuted, Symbol: w.symbol, Strategy: d.Strategy, Direction: string(d.Direction),
			Ticket: o.Ticket, Price: o.Price, Volume: o.Volume, Reason: d.Reason,
		})
		tc.Exits++
	}

	// Suspended orders of the tuple must not come back after the window
	dropped := w.restrictions.DropOrders(func(o types.Order) bool { return o.Key() == key })
	for _, ticket := range dropped {
		w.monitor.Untrack(ticket)
	}
	tc.Exits += len(dropped)

	if !acted && len(dropped) == 0 {
		log.Debug().Str("symbol", w.symbol).Str("key", key.String()).Msg("Exit signal matched nothing")
	}
}

// enter builds, filters and executes the queued entries
func (w *SymbolWorker) enter(ctx context.Context, tc *TradingContext, sigs []*strategy.Signal) {
	md, ok := w.book.Market(w.symbol)
	if !ok {
		md = types.MarketData{Symbol: w.symbol, Time: tc.Snapshot.Time}
	}
	balance, err := w.balance(ctx)
	if err != nil {
		for _, sig := range sigs {
			w.skip(tc, sig, err.Error())
		}
		return
	}

	decisions := make([]types.EntryDecision, 0, len(sigs))
	for _, sig := range sigs {
		d, err := w.builder.BuildEntry(sig, balance, md)
		if err != nil {
			log.Warn().
				Err(err).
				Str("symbol", w.symbol).
				Str("strategy", sig.Strategy).
				Str("category", string(types.Category(err))).
				Msg("Entry skipped")
			w.skip(tc, sig, err.Error())
			continue
		}
		decisions = append(decisions, d)
	}

	kept, suppressed := execution.Filter(decisions, tc.Snapshot)
	for _, s := range suppressed {
		tc.Suppressed++
		log.Debug().
			Str("symbol", w.symbol).
			Str("strategy", s.Decision.Strategy).
			Str("direction", string(s.Decision.Direction)).
			Str("reason", s.Reason).
			Msg("🚫 Entry suppressed")
		w.pub.Publish(events.Event{
			Type: events.EntrySuppressed, Symbol: w.symbol, Strategy: s.Decision.Strategy,
			Direction: string(s.Decision.Direction), Price: s.Decision.EntryPrice, Volume: s.Decision.Size,
			Reason: s.Reason,
		})
	}

	spec := w.spec()
	for _, d := range kept {
		results, err := w.executor.Execute(ctx, d, w.execConfig(d.Strategy), spec, md)
		if err != nil {
			log.Warn().Err(err).Str("symbol", w.symbol).Str("strategy", d.Strategy).Str("category", string(types.Category(err))).Msg("Entry not executed")
			tc.Skipped++
			w.pub.Publish(events.Event{
				Type: events.EntrySkipped, Symbol: w.symbol, Strategy: d.Strategy,
				Direction: string(d.Direction), Price: d.EntryPrice, Volume: d.Size, Reason: err.Error(),
			})
			continue
		}
		for _, r := range results {
			if !r.Success() {
				tc.Rejected++
				continue
			}
			tc.Placed++
			w.monitor.Track(monitor.NewTracker(r.Ticket, d, r.Volume, r.Price, tc.Snapshot.Time))
		}
	}
}

func (w *SymbolWorker) balance(ctx context.Context) (decimal.Decimal, error) {
	if b := w.guard.Snapshot().CurrentBalance; b.GreaterThan(decimal.Zero) {
		return b, nil
	}
	info, err := w.gw.GetAccountInfo(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account info: %w", err)
	}
	return info.Balance, nil
}

func (w *SymbolWorker) spec() types.SymbolSpec {
	if s, ok := w.book.Spec(w.symbol); ok {
		return s
	}
	return w.cfg.Spec
}

func (w *SymbolWorker) execConfig(strategyName string) execution.Config {
	if cfg, ok := w.cfg.Execution[strategyName]; ok {
		return cfg
	}
	return execution.DefaultConfig()
}

func (w *SymbolWorker) skip(tc *TradingContext, sig *strategy.Signal, reason string) {
	tc.Skipped++
	log.Debug().Str("symbol", w.symbol).Str("strategy", sig.Strategy).Str("reason", reason).Msg("Entry withheld")
	w.pub.Publish(events.Event{
		Type: events.EntrySkipped, Symbol: w.symbol, Strategy: sig.Strategy,
		Direction: string(sig.Direction), Price: sig.Entry, Reason: reason,
	})
}

// ═══════════════════════════════════════════════════════════════════════════════
// MONITOR AND HOOKS
// ═══════════════════════════════════════════════════════════════════════════════

// PollPositions runs one position monitor pass
func (w *SymbolWorker) PollPositions(ctx context.Context) error {
	w.cycle.Lock()
	defer w.cycle.Unlock()

	snap, err := w.snapshot(ctx)
	if err != nil {
		log.Debug().Err(err).Str("symbol", w.symbol).Msg("Monitor poll skipped")
		return err
	}
	w.monitor.Poll(ctx, snap)
	return nil
}

// CloseAll cancels every pending order and closes every position of the
// symbol, including suspended orders. Returns the realized P&L.
func (w *SymbolWorker) CloseAll(ctx context.Context, reason string) (decimal.Decimal, error) {
	w.cycle.Lock()
	defer w.cycle.Unlock()

	total := decimal.Zero
	snap, err := w.snapshot(ctx)
	if err != nil {
		return total, fmt.Errorf("close all %s: %w", w.symbol, err)
	}

	var failed []string
	for _, o := range snap.Orders {
		if err := w.gw.CancelOrder(ctx, o.Ticket); err != nil {
			failed = append(failed, fmt.Sprintf("cancel %d: %v", o.Ticket, err))
			continue
		}
		w.monitor.Untrack(o.Ticket)
	}
	for _, ticket := range w.restrictions.DropOrders(func(types.Order) bool { return true }) {
		w.monitor.Untrack(ticket)
	}

	for _, p := range snap.Positions {
		pnl, err := w.gw.ClosePosition(ctx, p.Ticket, nil)
		if err != nil {
			failed = append(failed, fmt.Sprintf("close %d: %v", p.Ticket, err))
			continue
		}
		total = total.Add(pnl)
		w.monitor.Untrack(p.Ticket)
		w.pub.Publish(events.Event{
			Type: events.PositionClosed, Severity: events.SeverityWarn, Symbol: w.symbol,
			Strategy: p.Key().Strategy, Direction: string(p.Direction), Ticket: p.Ticket,
			Price: p.PriceCurrent, Volume: p.Volume, PnL: pnl, Reason: reason,
		})
	}

	log.Warn().
		Str("symbol", w.symbol).
		Int("positions", len(snap.Positions)).
		Int("orders", len(snap.Orders)).
		Str("pnl", total.StringFixed(2)).
		Str("reason", reason).
		Msg("🛑 Symbol flattened")

	if len(failed) > 0 {
		return total, fmt.Errorf("close all %s: %s", w.symbol, strings.Join(failed, "; "))
	}
	return total, nil
}

func (w *SymbolWorker) onPlaced(d types.EntryDecision, r execution.OrderResult) {
	w.pub.Publish(events.Event{
		Type: events.OrderPlaced, Symbol: d.Symbol, Strategy: d.Strategy, Direction: string(d.Direction),
		Ticket: r.Ticket, Price: r.Price, Volume: r.Volume, Level: r.StopLoss, Status: string(r.Kind),
	})
}

func (w *SymbolWorker) onRejected(d types.EntryDecision, r execution.OrderResult) {
	w.pub.Publish(events.Event{
		Type: events.OrderRejected, Severity: events.SeverityWarn, Symbol: d.Symbol, Strategy: d.Strategy,
		Direction: string(d.Direction), Price: r.Price, Volume: r.Volume, Status: string(r.Kind), Reason: r.Err.Error(),
	})
}

func (w *SymbolWorker) onRestriction(symbol string, from, to restriction.State, reasons []restriction.Reason) {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = r.String()
	}
	sev := events.SeverityInfo
	if to == restriction.Restricted {
		sev = events.SeverityWarn
	}
	w.pub.Publish(events.Event{
		Type: events.RestrictionChanged, Severity: sev, Symbol: symbol,
		Status: string(to), Reason: strings.Join(parts, "; "),
	})
}
