package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/monitor"
	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/strategy"
	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Signals → Router → SymbolWorker (cycle + monitor) → Broker
//   Account loop → AccountGuard → breach → close everything, halt entries
//
// Workers run concurrently and share only the gateway, the bus and the guard.
// The account loop is the single writer of AccountState.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StateStore is the crash-recovery persistence the engine needs
type StateStore interface {
	restriction.Persister
	monitor.Persister
	SaveAccountState(s risk.AccountState) error
	LoadAccountState() (*risk.AccountState, error)
	LoadSuspensions(symbol string) ([]restriction.SuspensionRecord, error)
	LoadTrackers(symbol string) ([]monitor.Tracker, error)
}

// EngineConfig holds engine-wide timing
type EngineConfig struct {
	AccountInterval time.Duration
}

type Engine struct {
	mu sync.RWMutex

	// Components
	gw      broker.Gateway
	builder *strategy.DecisionBuilder
	guard   *risk.AccountGuard
	pub     events.Publisher
	book    *SymbolBook
	router  *Router
	store   StateStore

	cfg EngineConfig
	now func() time.Time

	// State
	running   bool
	startedAt time.Time
	breaches  int
	lastError error
}

// NewEngine creates the engine and hooks the account guard
func NewEngine(cfg EngineConfig, gw broker.Gateway, builder *strategy.DecisionBuilder, guard *risk.AccountGuard, pub events.Publisher) *Engine {
	if cfg.AccountInterval <= 0 {
		cfg.AccountInterval = 5 * time.Second
	}
	if pub == nil {
		pub = events.Discard{}
	}
	e := &Engine{
		gw:      gw,
		builder: builder,
		guard:   guard,
		pub:     pub,
		book:    NewSymbolBook(),
		router:  NewRouter(),
		cfg:     cfg,
		now:     time.Now,
	}

	guard.OnBreach(e.onBreach)
	guard.OnChange(e.onAccountChange)
	return e
}

// SetClock overrides time.Now for the engine and every worker
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
	for _, w := range e.router.Workers() {
		w.SetClock(now)
	}
}

// SetStore enables persistence for the guard and every worker
func (e *Engine) SetStore(s StateStore) {
	e.mu.Lock()
	e.store = s
	e.mu.Unlock()
	for _, w := range e.router.Workers() {
		w.SetPersisters(s, s)
	}
}

// AddSymbol creates and registers the worker of one symbol
func (e *Engine) AddSymbol(cfg WorkerConfig) (*SymbolWorker, error) {
	if cfg.Spec.Symbol == "" {
		return nil, fmt.Errorf("symbol spec without symbol")
	}
	for name, ec := range cfg.Execution {
		if err := ec.Validate(); err != nil {
			return nil, fmt.Errorf("execution config %s/%s: %w", cfg.Spec.Symbol, name, err)
		}
	}
	e.book.Add(cfg.Spec)

	w := NewSymbolWorker(cfg, e.gw, e.builder, e.guard, e.book, e.pub)
	if err := e.router.Register(w); err != nil {
		return nil, err
	}

	e.mu.RLock()
	store, now := e.store, e.now
	e.mu.RUnlock()
	w.SetClock(now)
	if store != nil {
		w.SetPersisters(store, store)
	}

	log.Info().
		Str("symbol", cfg.Spec.Symbol).
		Str("account", string(cfg.Account)).
		Int("news_windows", len(cfg.Rules.News)).
		Int("strategies", len(cfg.Execution)).
		Msg("📈 Symbol added")
	return w, nil
}

// Worker returns the worker of symbol
func (e *Engine) Worker(symbol string) (*SymbolWorker, bool) {
	return e.router.Worker(symbol)
}

// Workers returns every worker, by symbol
func (e *Engine) Workers() []*SymbolWorker {
	return e.router.Workers()
}

// Book exposes symbol specs and market data
func (e *Engine) Book() *SymbolBook { return e.book }

// Guard exposes the account guard
func (e *Engine) Guard() *risk.AccountGuard { return e.guard }

// Submit routes a signal to its symbol's worker
func (e *Engine) Submit(sig *strategy.Signal) error {
	if err := e.router.Route(sig); err != nil {
		log.Warn().Err(err).Str("strategy", sig.Strategy).Msg("Signal not routed")
		return err
	}
	return nil
}

// UpdateMarket stores the latest market context for a symbol
func (e *Engine) UpdateMarket(md types.MarketData) {
	e.book.UpdateMarket(md)
}

// Run starts every worker and the account loop, and blocks until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.startedAt = e.now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		log.Info().Msg("Engine stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range e.router.Workers() {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error { return e.accountLoop(gctx) })

	log.Info().
		Int("symbols", e.book.Count()).
		Str("broker", e.gw.Name()).
		Dur("account_interval", e.cfg.AccountInterval).
		Msg("⚡ Engine started")

	return g.Wait()
}

// Running reports whether Run is active
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// ═══════════════════════════════════════════════════════════════════════════════
// ACCOUNT LOOP
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) accountLoop(ctx context.Context) error {
	e.CheckAccount(ctx)

	ticker := time.NewTicker(e.cfg.AccountInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.CheckAccount(ctx)
		}
	}
}

// CheckAccount feeds the broker balance to the guard. While the account is
// breached and the guard closes on breach, every tick flattens whatever the
// broker still holds for our symbols.
func (e *Engine) CheckAccount(ctx context.Context) (risk.AccountStatus, error) {
	info, err := e.gw.GetAccountInfo(ctx)
	if err != nil {
		err = fmt.Errorf("account info: %w", err)
		e.setError(err)
		log.Warn().Err(err).Msg("Account check skipped")
		return e.guard.Status(), err
	}

	before := e.guard.Status()
	status := e.guard.Observe(info.Balance)
	e.persistAccount()

	breached := status == risk.StatusDailyLossBreached || status == risk.StatusDrawdownBreached
	if !breached || !e.guard.CloseOnBreach() {
		return status, nil
	}

	if status == before {
		left, err := e.openExposure(ctx)
		if err != nil {
			e.setError(err)
			log.Warn().Err(err).Msg("Breach exposure check failed")
			return status, err
		}
		if left == 0 {
			return status, nil
		}
		log.Warn().Int("open", left).Str("status", string(status)).Msg("🛑 Exposure left after breach, closing again")
	}

	if _, err := e.CloseAll(ctx, "account breach: "+string(status)); err != nil {
		e.setError(err)
		return status, err
	}
	return status, nil
}

// openExposure counts broker positions and pending orders on our symbols
func (e *Engine) openExposure(ctx context.Context) (int, error) {
	positions, err := e.gw.GetOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("breach positions: %w", err)
	}
	orders, err := e.gw.GetPendingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("breach orders: %w", err)
	}

	n := 0
	for _, p := range positions {
		if _, ok := e.router.Worker(p.Symbol); ok {
			n++
		}
	}
	for _, o := range orders {
		if _, ok := e.router.Worker(o.Symbol); ok {
			n++
		}
	}
	return n, nil
}

// CloseAll flattens every symbol concurrently and returns the realized P&L
func (e *Engine) CloseAll(ctx context.Context, reason string) (decimal.Decimal, error) {
	var mu sync.Mutex
	total := decimal.Zero

	var g errgroup.Group
	for _, w := range e.router.Workers() {
		w := w
		g.Go(func() error {
			pnl, err := w.CloseAll(ctx, reason)
			mu.Lock()
			total = total.Add(pnl)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	log.Warn().
		Str("pnl", total.StringFixed(2)).
		Str("reason", reason).
		Msg("🛑 All symbols flattened")
	return total, err
}

func (e *Engine) onBreach(s risk.AccountState) {
	e.mu.Lock()
	e.breaches++
	e.mu.Unlock()

	e.pub.Publish(events.Event{
		Type:     events.AccountBreach,
		Severity: events.SeverityBreach,
		Status:   string(s.Status),
		Reason:   s.Reason,
		PnL:      s.DailyPnL(),
		Price:    s.CurrentBalance,
		Level:    s.Drawdown(),
	})
}

func (e *Engine) onAccountChange(s risk.AccountState) {
	sev := events.SeverityInfo
	if s.Status != risk.StatusActive {
		sev = events.SeverityWarn
	}
	e.pub.Publish(events.Event{
		Type:     events.AccountChanged,
		Severity: sev,
		Status:   string(s.Status),
		Reason:   s.Reason,
		PnL:      s.DailyPnL(),
		Price:    s.CurrentBalance,
		Level:    s.Drawdown(),
	})
	e.persistAccount()
}

func (e *Engine) persistAccount() {
	e.mu.RLock()
	store := e.store
	e.mu.RUnlock()
	if store == nil {
		return
	}
	if err := store.SaveAccountState(e.guard.Snapshot()); err != nil {
		log.Error().Err(err).Msg("Failed to persist account state")
	}
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	e.lastError = err
	e.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════
// OPERATOR INTERFACE
// ═══════════════════════════════════════════════════════════════════════════════

// Stop halts new entries on every symbol until Resume
func (e *Engine) Stop(reason string) {
	e.guard.Stop(reason)
}

// Resume clears a manual stop or a drawdown breach
func (e *Engine) Resume() error {
	return e.guard.Resume()
}

// SymbolStatus is one symbol's view for operators
type SymbolStatus struct {
	Symbol      string
	Restriction restriction.State
	CanTrade    bool
	Reasons     []string
	Positions   int
	Orders      int
	Trackers    int
	Suspended   int
	Queued      int
	LastCycle   time.Time
}

// Status is the engine's view for operators
type Status struct {
	Account   risk.AccountState
	Running   bool
	StartedAt time.Time
	Breaches  int
	LastError string
	Symbols   []SymbolStatus
}

// Status collects the account state and the last cycle of every symbol
func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{
		Running:   e.running,
		StartedAt: e.startedAt,
		Breaches:  e.breaches,
	}
	if e.lastError != nil {
		st.LastError = e.lastError.Error()
	}
	e.mu.RUnlock()

	st.Account = e.guard.Snapshot()
	for _, w := range e.router.Workers() {
		ss := SymbolStatus{
			Symbol:      w.Symbol(),
			Restriction: w.Restrictions().State(),
			Trackers:    w.Monitor().Len(),
			Suspended:   w.Restrictions().Store().Len(w.Symbol()),
			Queued:      w.Pending(),
		}
		if tc := w.LastContext(); tc != nil {
			ss.CanTrade = tc.CanTrade()
			ss.Reasons = tc.Reasons()
			ss.Positions = len(tc.Snapshot.Positions)
			ss.Orders = len(tc.Snapshot.Orders)
			ss.LastCycle = tc.Snapshot.Time
		}
		st.Symbols = append(st.Symbols, ss)
	}
	return st
}
