package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/monitor"
	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/strategy"
	"github.com/web3guy0/tradeguard/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var specs = map[string]types.SymbolSpec{
	"EURUSD": {Symbol: "EURUSD", PipSize: dec("0.0001"), PipValue: dec("10")},
	"XAUUSD": {Symbol: "XAUUSD", PipSize: dec("0.1"), PipValue: dec("1")},
	"BTCUSD": {Symbol: "BTCUSD", PipSize: dec("1"), PipValue: dec("1")},
}

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

// clock is a settable test clock
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type harness struct {
	engine *Engine
	paper  *broker.Paper
	guard  *risk.AccountGuard
	bus    *events.Bus
	sub    *events.Subscription
	clock  *clock
}

func newHarness(t *testing.T, guardCfg risk.GuardConfig, symbols ...string) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)}

	paper := broker.NewPaper(dec("10000"), specs)
	paper.SetClock(clk.Now)

	builder := strategy.NewDecisionBuilder(specs)
	builder.SetClock(clk.Now)
	require.NoError(t, builder.Register("conservative", nil, []string{"H1"}, types.Market, conservativeRisk()))

	guard := risk.NewAccountGuard(guardCfg)
	guard.SetClock(clk.Now)

	bus := events.NewBus(512)
	sub := bus.Subscribe("test")

	engine := NewEngine(EngineConfig{}, paper, builder, guard, bus)
	engine.SetClock(clk.Now)
	for _, s := range symbols {
		_, err := engine.AddSymbol(WorkerConfig{Spec: specs[s]})
		require.NoError(t, err)
	}
	return &harness{engine: engine, paper: paper, guard: guard, bus: bus, sub: sub, clock: clk}
}

func (h *harness) worker(t *testing.T, symbol string) *SymbolWorker {
	t.Helper()
	w, ok := h.engine.Worker(symbol)
	require.True(t, ok)
	return w
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.sub.C():
			out = append(out, e)
		default:
			return out
		}
	}
}

func countType(evs []events.Event, typ events.Type) int {
	n := 0
	for _, e := range evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func longSignal(symbol string, entry string) *strategy.Signal {
	return strategy.NewSignal().Strategy("conservative").Symbol(symbol).Long().Entry(dec(entry)).Build()
}

func TestConservativeEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	h.paper.SetPrice("EURUSD", dec("1.1000"))

	_, err := h.engine.CheckAccount(ctx)
	require.NoError(t, err)

	require.NoError(t, h.engine.Submit(longSignal("EURUSD", "1.1000")))
	w := h.worker(t, "EURUSD")
	tc, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, tc.CanTrade())
	assert.Equal(t, 1, tc.Placed)

	positions, _ := h.paper.GetOpenPositions(ctx)
	require.Len(t, positions, 1)
	ticket := positions[0].Ticket
	assert.True(t, positions[0].Volume.Equal(dec("100")), "size %s", positions[0].Volume)
	assert.True(t, positions[0].TakeProfit.IsZero(), "multi-target exits are monitor-driven")

	// First target: 60% closed, stop to breakeven
	h.paper.SetPrice("EURUSD", dec("1.111"))
	require.NoError(t, w.PollPositions(ctx))

	positions, _ = h.paper.GetOpenPositions(ctx)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Volume.Equal(dec("40")))
	assert.True(t, positions[0].StopLoss.Equal(dec("1.1")))

	tr, ok := w.Monitor().Get(ticket)
	require.True(t, ok)
	assert.True(t, tr.Targets[0].Executed)
	assert.True(t, tr.Remaining.Equal(dec("40")))

	// Same price again: nothing happens
	closes := h.paper.Calls(broker.OpClose)
	modifies := h.paper.Calls(broker.OpModify)
	require.NoError(t, w.PollPositions(ctx))
	assert.Equal(t, closes, h.paper.Calls(broker.OpClose))
	assert.Equal(t, modifies, h.paper.Calls(broker.OpModify))

	// Second target: the rest, tracker destroyed
	h.paper.SetPrice("EURUSD", dec("1.122"))
	require.NoError(t, w.PollPositions(ctx))

	positions, _ = h.paper.GetOpenPositions(ctx)
	assert.Empty(t, positions)
	assert.Equal(t, 0, w.Monitor().Len())
	assert.True(t, h.paper.Balance().Equal(dec("10015.4")), "balance %s", h.paper.Balance())

	evs := h.drain()
	assert.Equal(t, 1, countType(evs, events.OrderPlaced))
	assert.Equal(t, 2, countType(evs, events.TargetHit))
	assert.Equal(t, 1, countType(evs, events.StopLossMoved))
	assert.Equal(t, 1, countType(evs, events.PositionClosed))
}

func TestDuplicateEntrySuppressed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	h.paper.SetPrice("EURUSD", dec("1.1000"))
	w := h.worker(t, "EURUSD")

	require.NoError(t, w.Submit(longSignal("EURUSD", "1.1000")))
	_, err := w.RunCycle(ctx)
	require.NoError(t, err)

	require.NoError(t, w.Submit(longSignal("EURUSD", "1.1000")))
	require.NoError(t, w.Submit(strategy.NewSignal().Strategy("conservative").Symbol("EURUSD").Short().Entry(dec("1.1000")).Build()))
	tc, err := w.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, tc.Suppressed)
	assert.Equal(t, 1, tc.Placed)

	positions, _ := h.paper.GetOpenPositions(ctx)
	require.Len(t, positions, 2)
	assert.NotEqual(t, positions[0].Direction, positions[1].Direction)
	assert.Equal(t, 1, countType(h.drain(), events.EntrySuppressed))
}

func TestRestrictionBlocksEntriesNotExits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{})
	start := h.clock.Now()
	_, err := h.engine.AddSymbol(WorkerConfig{
		Spec: specs["EURUSD"],
		Rules: restriction.Rules{Manual: []restriction.ManualWindow{
			{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour), Reason: "maintenance"},
		}},
	})
	require.NoError(t, err)
	h.paper.SetPrice("EURUSD", dec("1.1000"))
	w := h.worker(t, "EURUSD")

	require.NoError(t, w.Submit(longSignal("EURUSD", "1.1000")))
	_, err = w.RunCycle(ctx)
	require.NoError(t, err)

	h.clock.Set(start.Add(90 * time.Minute))
	require.NoError(t, w.Submit(strategy.NewSignal().Strategy("conservative").Symbol("EURUSD").Short().Entry(dec("1.1000")).Build()))
	tc, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, tc.CanTrade())
	assert.True(t, tc.BlockedBy(BlockRestriction))
	assert.Equal(t, restriction.Restricted, tc.Restriction)
	assert.Equal(t, 1, tc.Skipped)
	assert.Equal(t, 0, tc.Placed)

	// Exit still goes through while restricted
	require.NoError(t, w.Submit(strategy.NewSignal().Strategy("conservative").Symbol("EURUSD").Long().Exit().Reason("signal flip").Build()))
	tc, err = w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Exits)

	positions, _ := h.paper.GetOpenPositions(ctx)
	assert.Empty(t, positions)
	assert.Equal(t, 0, w.Monitor().Len())

	// Window over: the protection record of the closed position is dropped
	h.clock.Set(start.Add(3 * time.Hour))
	tc, err = w.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, tc.CanTrade())
	assert.Equal(t, 0, w.Restrictions().Store().Len("EURUSD"))

	evs := h.drain()
	assert.Equal(t, 2, countType(evs, events.RestrictionChanged))
	assert.Equal(t, 1, countType(evs, events.ExitExecuted))
}

func TestTrailingHeldAcrossRestriction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{})
	require.NoError(t, h.engine.builder.Register("trail", nil, []string{"H1"}, types.Market, risk.RiskConfig{
		PositionSizing: risk.PositionSizingConfig{Type: risk.SizingPercentage, Value: 1.0},
		StopLoss:       &risk.StopLossConfig{Type: risk.StopTrailing, Params: risk.StopParams{Pips: 50, Step: 20}},
		TakeProfit:     &risk.TakeProfitConfig{Type: risk.TakeProfitFixed, Params: risk.TargetParams{Pips: 100}},
	}))
	start := h.clock.Now()
	_, err := h.engine.AddSymbol(WorkerConfig{
		Spec: specs["EURUSD"],
		Rules: restriction.Rules{Manual: []restriction.ManualWindow{
			{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour), Reason: "maintenance"},
		}},
	})
	require.NoError(t, err)
	h.paper.SetPrice("EURUSD", dec("1.1000"))
	w := h.worker(t, "EURUSD")

	require.NoError(t, w.Submit(strategy.NewSignal().Strategy("trail").Symbol("EURUSD").Long().Entry(dec("1.1000")).Build()))
	_, err = w.RunCycle(ctx)
	require.NoError(t, err)
	positions, _ := h.paper.GetOpenPositions(ctx)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].StopLoss.Equal(dec("1.0950")))
	assert.True(t, positions[0].TakeProfit.Equal(dec("1.1100")))

	h.clock.Set(start.Add(90 * time.Minute))
	_, err = w.RunCycle(ctx)
	require.NoError(t, err)

	h.paper.SetPrice("EURUSD", dec("1.1040"))
	require.NoError(t, w.PollPositions(ctx))
	positions, _ = h.paper.GetOpenPositions(ctx)
	assert.True(t, positions[0].StopLoss.IsZero(), "stop move held while stripped")
	assert.True(t, positions[0].TakeProfit.IsZero())

	h.clock.Set(start.Add(3 * time.Hour))
	_, err = w.RunCycle(ctx)
	require.NoError(t, err)
	positions, _ = h.paper.GetOpenPositions(ctx)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].StopLoss.Equal(dec("1.1020")), "trailed stop applied at restore")
	assert.True(t, positions[0].TakeProfit.Equal(dec("1.1100")), "original take profit restored")
}

func TestAccountBreachClosesEverySymbol(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{DailyLossLimit: dec("1000"), CloseOnBreach: true}, "XAUUSD", "BTCUSD", "EURUSD")
	prices := map[string]string{"XAUUSD": "2000", "BTCUSD": "60000", "EURUSD": "1.1000"}
	for s, p := range prices {
		h.paper.SetPrice(s, dec(p))
	}

	status, err := h.engine.CheckAccount(ctx)
	require.NoError(t, err)
	require.Equal(t, risk.StatusActive, status)

	for s, p := range prices {
		require.NoError(t, h.engine.Submit(longSignal(s, p)))
		_, err := h.worker(t, s).RunCycle(ctx)
		require.NoError(t, err)
	}
	positions, _ := h.paper.GetOpenPositions(ctx)
	require.Len(t, positions, 3)

	for i, loss := range []string{"-300", "-400", "-350"} {
		h.paper.AdjustBalance(dec(loss))
		status, err = h.engine.CheckAccount(ctx)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, risk.StatusActive, status)
		}
	}
	assert.Equal(t, risk.StatusDailyLossBreached, status)
	assert.True(t, h.guard.Snapshot().DailyPnL().Equal(dec("-1050")))

	positions, _ = h.paper.GetOpenPositions(ctx)
	assert.Empty(t, positions)
	for s := range prices {
		assert.Equal(t, 0, h.worker(t, s).Monitor().Len(), s)
	}

	evs := h.drain()
	require.Equal(t, 1, countType(evs, events.AccountBreach))
	for _, e := range evs {
		if e.Type == events.AccountBreach {
			assert.Equal(t, events.SeverityBreach, e.Severity)
			assert.Equal(t, string(risk.StatusDailyLossBreached), e.Status)
		}
	}
	assert.Equal(t, 3, countType(evs, events.PositionClosed))

	// No entry accepted until the daily reset
	w := h.worker(t, "XAUUSD")
	require.NoError(t, w.Submit(longSignal("XAUUSD", "2000")))
	tc, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, tc.BlockedBy(BlockAccount))
	assert.True(t, tc.RiskBreached)
	assert.Equal(t, 0, tc.Placed)

	h.clock.Set(time.Date(2026, 3, 7, 0, 1, 0, 0, time.UTC))
	status, err = h.engine.CheckAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, risk.StatusActive, status)

	require.NoError(t, w.Submit(longSignal("XAUUSD", "2000")))
	tc, err = w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Placed)
}

func TestBreachRetriesFailedClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{DailyLossLimit: dec("1000"), CloseOnBreach: true}, "EURUSD")
	h.paper.SetPrice("EURUSD", dec("1.1000"))

	_, err := h.engine.CheckAccount(ctx)
	require.NoError(t, err)
	require.NoError(t, h.engine.Submit(longSignal("EURUSD", "1.1000")))
	_, err = h.worker(t, "EURUSD").RunCycle(ctx)
	require.NoError(t, err)

	h.paper.AdjustBalance(dec("-1050"))
	h.paper.FailNext(broker.OpClose, 1)
	status, err := h.engine.CheckAccount(ctx)
	require.Error(t, err)
	assert.Equal(t, risk.StatusDailyLossBreached, status)
	positions, _ := h.paper.GetOpenPositions(ctx)
	require.Len(t, positions, 1, "injected close failure leaves the position open")

	status, err = h.engine.CheckAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, risk.StatusDailyLossBreached, status)
	positions, _ = h.paper.GetOpenPositions(ctx)
	assert.Empty(t, positions)
	assert.Equal(t, 2, h.paper.Calls(broker.OpClose))

	// Nothing left, later ticks do not close again
	_, err = h.engine.CheckAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.paper.Calls(broker.OpClose))
}

func TestManualStopAndResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	h.paper.SetPrice("EURUSD", dec("1.1000"))
	w := h.worker(t, "EURUSD")

	h.engine.Stop("operator")
	require.NoError(t, w.Submit(longSignal("EURUSD", "1.1000")))
	tc, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, tc.BlockedBy(BlockAccount))
	assert.False(t, tc.RiskBreached)

	require.NoError(t, h.engine.Resume())
	require.NoError(t, w.Submit(longSignal("EURUSD", "1.1000")))
	tc, err = w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Placed)

	st := h.engine.Status()
	assert.Equal(t, risk.StatusActive, st.Account.Status)
	require.Len(t, st.Symbols, 1)
	assert.Equal(t, 1, st.Symbols[0].Positions)
	assert.Equal(t, 1, st.Symbols[0].Trackers)
}

func TestCycleSkippedWhileBrokerDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	h.paper.SetPrice("EURUSD", dec("1.1000"))
	w := h.worker(t, "EURUSD")

	_, err := h.engine.CheckAccount(ctx)
	require.NoError(t, err)

	h.paper.SetUnavailable(true)
	require.NoError(t, w.Submit(longSignal("EURUSD", "1.1000")))
	_, err = w.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBrokerUnavailable))
	assert.Equal(t, 1, w.Pending(), "signal kept for the next cycle")

	h.paper.SetUnavailable(false)
	tc, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Placed)
	assert.Equal(t, 0, w.Pending())
}

func TestInvalidEntrySkipsOnlyThatEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	h.paper.SetPrice("EURUSD", dec("1.1000"))
	w := h.worker(t, "EURUSD")

	require.NoError(t, w.Submit(strategy.NewSignal().Strategy("unknown").Symbol("EURUSD").Long().Entry(dec("1.1")).Build()))
	require.NoError(t, w.Submit(longSignal("EURUSD", "1.1000")))
	tc, err := w.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.Skipped)
	assert.Equal(t, 1, tc.Placed)
}

func TestSubmitUnknownSymbol(t *testing.T) {
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	err := h.engine.Submit(longSignal("GBPUSD", "1.3"))
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	h.paper.SetPrice("EURUSD", dec("1.1000"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.Eventually(t, h.engine.Running, time.Second, 5*time.Millisecond)
	require.NoError(t, h.engine.Submit(longSignal("EURUSD", "1.1000")))
	require.Eventually(t, func() bool {
		positions, _ := h.paper.GetOpenPositions(context.Background())
		return len(positions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, h.engine.Running())
}

// memStore is an in-memory StateStore
type memStore struct {
	mu          sync.Mutex
	account     *risk.AccountState
	suspensions map[string][]restriction.SuspensionRecord
	trackers    map[string][]monitor.Tracker
}

func newMemStore() *memStore {
	return &memStore{
		suspensions: make(map[string][]restriction.SuspensionRecord),
		trackers:    make(map[string][]monitor.Tracker),
	}
}

func (m *memStore) SaveSuspensions(symbol string, recs []restriction.SuspensionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspensions[symbol] = append([]restriction.SuspensionRecord(nil), recs...)
	return nil
}

func (m *memStore) SaveTrackers(symbol string, ts []monitor.Tracker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers[symbol] = append([]monitor.Tracker(nil), ts...)
	return nil
}

func (m *memStore) SaveAccountState(s risk.AccountState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = &s
	return nil
}

func (m *memStore) LoadAccountState() (*risk.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.account == nil {
		return nil, nil
	}
	s := *m.account
	return &s, nil
}

func (m *memStore) LoadSuspensions(symbol string) ([]restriction.SuspensionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]restriction.SuspensionRecord(nil), m.suspensions[symbol]...), nil
}

func (m *memStore) LoadTrackers(symbol string) ([]monitor.Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]monitor.Tracker(nil), m.trackers[symbol]...), nil
}

func TestRecoveryRestoresState(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	// First process: one position, one breach-free account state
	h := newHarness(t, risk.GuardConfig{}, "EURUSD")
	h.engine.SetStore(store)
	h.paper.SetPrice("EURUSD", dec("1.1000"))
	_, err := h.engine.CheckAccount(ctx)
	require.NoError(t, err)
	require.NoError(t, h.engine.Submit(longSignal("EURUSD", "1.1000")))
	_, err = h.worker(t, "EURUSD").RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, store.trackers["EURUSD"], 1)

	// A stale tracker for a ticket the broker no longer has
	stale := store.trackers["EURUSD"][0]
	stale.Ticket = 9999
	store.trackers["EURUSD"] = append(store.trackers["EURUSD"], stale)

	// Second process over the same broker
	builder := strategy.NewDecisionBuilder(specs)
	require.NoError(t, builder.Register("conservative", nil, []string{"H1"}, types.Market, conservativeRisk()))
	guard := risk.NewAccountGuard(risk.GuardConfig{})
	engine := NewEngine(EngineConfig{}, h.paper, builder, guard, nil)
	_, err = engine.AddSymbol(WorkerConfig{Spec: specs["EURUSD"]})
	require.NoError(t, err)

	rep, err := NewReconciler(engine, store).Recover(ctx)
	require.NoError(t, err)
	assert.True(t, rep.AccountRestored)
	assert.Equal(t, 1, rep.Trackers)
	assert.Equal(t, 1, rep.Dropped)
	assert.Equal(t, 0, rep.Unmanaged)

	assert.True(t, guard.Snapshot().StartingBalance.Equal(dec("10000")))
	w, _ := engine.Worker("EURUSD")
	assert.Equal(t, 1, w.Monitor().Len())
	assert.Len(t, store.trackers["EURUSD"], 1)
}

func TestTradingContextBlocks(t *testing.T) {
	tc := NewTradingContext("XAUUSD", types.Snapshot{})
	assert.True(t, tc.CanTrade())

	tc.Block(BlockRestriction, "news: NFP")
	tc.Block(BlockAccount, "DAILY_LOSS_BREACHED")
	assert.False(t, tc.CanTrade())
	assert.Equal(t, []string{"account: DAILY_LOSS_BREACHED", "restriction: news: NFP"}, tc.Reasons())

	tc.Allow(BlockRestriction)
	assert.False(t, tc.CanTrade())
	tc.Allow(BlockAccount)
	assert.True(t, tc.CanTrade())
	assert.Empty(t, tc.Reasons())
}
