package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, "want "+want+" got "+got.String(), msgAndArgs...)
	}
}

var eurusd = types.SymbolSpec{Symbol: "EURUSD", PipSize: dec("0.0001"), PipValue: dec("10")}

type harness struct {
	ctx   context.Context
	paper *broker.Paper
	mon   *Monitor
	saved int
}

func (h *harness) SaveTrackers(_ string, trackers []Tracker) error {
	h.saved = len(trackers)
	return nil
}

func (h *harness) poll(t *testing.T, price string) []events.Event {
	t.Helper()
	if price != "" {
		h.paper.SetPrice("EURUSD", dec(price))
	}
	snap, err := broker.Snapshot(h.ctx, h.paper, "EURUSD")
	require.NoError(t, err)
	return h.mon.Poll(h.ctx, snap)
}

func kinds(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func conservative() types.EntryDecision {
	return types.EntryDecision{
		Symbol:     "EURUSD",
		Strategy:   "conservative",
		Direction:  types.Long,
		EntryPrice: dec("1.1000"),
		Size:       dec("100"),
		StopLoss:   types.StopLossResult{Level: dec("1.0500"), Type: "monetary"},
		TakeProfit: types.TakeProfitResult{Type: "multi_target", Targets: []types.TPTarget{
			{Level: dec("1.1110"), Percent: dec("60"), MoveStopToBreakeven: true},
			{Level: dec("1.1220"), Percent: dec("40")},
		}},
	}
}

func newHarness(t *testing.T, d types.EntryDecision) (*harness, int64) {
	t.Helper()
	h := &harness{ctx: context.Background()}
	h.paper = broker.NewPaper(dec("10000"), map[string]types.SymbolSpec{"EURUSD": eurusd})
	h.paper.SetPrice("EURUSD", d.EntryPrice)
	h.mon = New("EURUSD", eurusd, h.paper, nil)
	h.mon.SetPersister(h)

	ticket, err := h.paper.CreateMarketOrder(h.ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: d.Direction, Volume: d.Size, StopLoss: d.StopLoss.Level,
		Comment: types.OrderComment(d.Strategy, 0),
	})
	require.NoError(t, err)
	h.mon.Track(NewTracker(ticket, d, d.Size, d.EntryPrice, time.Time{}))
	return h, ticket
}

func TestConservativeTwoTargetLifecycle(t *testing.T) {
	h, ticket := newHarness(t, conservative())
	assert.Equal(t, 1, h.saved)

	assert.Empty(t, h.poll(t, ""))
	tr, ok := h.mon.Get(ticket)
	require.True(t, ok)
	assert.True(t, tr.Filled)

	evs := h.poll(t, "1.1110")
	assert.Equal(t, []events.Type{events.TargetHit, events.StopLossMoved}, kinds(evs))
	assertDec(t, "60", evs[0].Volume)
	assertDec(t, "1.1000", evs[1].Level)

	tr, _ = h.mon.Get(ticket)
	assertDec(t, "40", tr.Remaining)
	assertDec(t, "1.1000", tr.Stop)
	positions, _ := h.paper.GetOpenPositions(h.ctx)
	require.Len(t, positions, 1)
	assertDec(t, "40", positions[0].Volume)
	assertDec(t, "1.1000", positions[0].StopLoss)

	// same tick again: nothing
	assert.Empty(t, h.poll(t, "1.1110"))
	assert.Equal(t, 1, h.paper.Calls(broker.OpClose))
	assert.Equal(t, 1, h.paper.Calls(broker.OpModify))

	evs = h.poll(t, "1.1220")
	assert.Equal(t, []events.Type{events.TargetHit, events.PositionClosed}, kinds(evs))
	assertDec(t, "40", evs[0].Volume)
	assert.Equal(t, 0, h.mon.Len())
	assert.Equal(t, 0, h.saved)

	positions, _ = h.paper.GetOpenPositions(h.ctx)
	assert.Empty(t, positions)
	// 0.011 * 60 * 10 + 0.022 * 40 * 10
	assertDec(t, "10015.4", h.paper.Balance())
}

func TestGapMoveExecutesTargetsInOrder(t *testing.T) {
	h, _ := newHarness(t, conservative())
	h.poll(t, "")

	evs := h.poll(t, "1.1300")
	assert.Equal(t, []events.Type{events.TargetHit, events.StopLossMoved, events.TargetHit, events.PositionClosed}, kinds(evs))
	assertDec(t, "1.1110", evs[0].Level)
	assertDec(t, "1.1220", evs[2].Level)
	assert.Equal(t, 2, h.paper.Calls(broker.OpClose))
}

func TestFailedPartialCloseRetried(t *testing.T) {
	h, ticket := newHarness(t, conservative())
	h.poll(t, "")

	h.paper.FailNext(broker.OpClose, 1)
	evs := h.poll(t, "1.1300")
	assert.Equal(t, []events.Type{events.OrderRejected}, kinds(evs))
	tr, _ := h.mon.Get(ticket)
	assert.False(t, tr.Targets[0].Executed)
	assert.False(t, tr.Targets[1].Executed, "later targets wait for the failed one")

	evs = h.poll(t, "1.1150")
	assert.Equal(t, []events.Type{events.TargetHit, events.StopLossMoved}, kinds(evs))
}

func TestFailedBreakevenRetried(t *testing.T) {
	h, ticket := newHarness(t, conservative())
	h.poll(t, "")

	h.paper.FailNext(broker.OpModify, 1)
	evs := h.poll(t, "1.1110")
	assert.Equal(t, []events.Type{events.TargetHit}, kinds(evs))
	tr, _ := h.mon.Get(ticket)
	assert.True(t, tr.BreakevenPending)
	assertDec(t, "1.0500", tr.Stop)

	evs = h.poll(t, "1.1110")
	assert.Equal(t, []events.Type{events.StopLossMoved}, kinds(evs))
	tr, _ = h.mon.Get(ticket)
	assert.False(t, tr.BreakevenPending)
	assertDec(t, "1.1000", tr.Stop)

	assert.Empty(t, h.poll(t, "1.1110"))
}

func TestExternalCloseDestroysTracker(t *testing.T) {
	h, ticket := newHarness(t, conservative())
	h.poll(t, "")

	_, err := h.paper.ClosePosition(h.ctx, ticket, nil)
	require.NoError(t, err)

	evs := h.poll(t, "")
	require.Len(t, evs, 1)
	assert.Equal(t, events.PositionClosed, evs[0].Type)
	assert.Equal(t, "closed at broker", evs[0].Reason)
	assert.Equal(t, 0, h.mon.Len())
}

func TestShortTargets(t *testing.T) {
	d := conservative()
	d.Direction = types.Short
	d.StopLoss.Level = dec("1.1500")
	d.TakeProfit.Targets = []types.TPTarget{
		{Level: dec("1.0890"), Percent: dec("50"), MoveStopToBreakeven: true},
		{Level: dec("1.0780"), Percent: dec("50")},
	}
	h, ticket := newHarness(t, d)
	h.poll(t, "")

	assert.Empty(t, h.poll(t, "1.0900"))
	evs := h.poll(t, "1.0890")
	assert.Equal(t, []events.Type{events.TargetHit, events.StopLossMoved}, kinds(evs))
	tr, _ := h.mon.Get(ticket)
	assertDec(t, "50", tr.Remaining)
	assertDec(t, "1.1000", tr.Stop)
}

func TestPendingOrderTrackerWaitsForFill(t *testing.T) {
	ctx := context.Background()
	paper := broker.NewPaper(dec("10000"), map[string]types.SymbolSpec{"EURUSD": eurusd})
	paper.SetPrice("EURUSD", dec("1.1000"))
	mon := New("EURUSD", eurusd, paper, nil)

	d := conservative()
	ticket, err := paper.CreateLimitOrder(ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: types.Long, Volume: dec("10"), Price: dec("1.0950"), Comment: "conservative#1",
	})
	require.NoError(t, err)
	mon.Track(NewTracker(ticket, d, dec("10"), dec("1.0950"), time.Time{}))

	snap, _ := broker.Snapshot(ctx, paper, "EURUSD")
	assert.Empty(t, mon.Poll(ctx, snap))
	assert.Equal(t, 1, mon.Len())

	// suspended orders are retained while off the book
	require.NoError(t, paper.CancelOrder(ctx, ticket))
	mon.SetRetain(func(tk int64) bool { return tk == ticket })
	snap, _ = broker.Snapshot(ctx, paper, "EURUSD")
	assert.Empty(t, mon.Poll(ctx, snap))

	restored, err := paper.CreateLimitOrder(ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: types.Long, Volume: dec("10"), Price: dec("1.0950"), Comment: "conservative#1",
	})
	require.NoError(t, err)
	mon.Reticket(ticket, restored)
	mon.SetRetain(nil)

	paper.SetPrice("EURUSD", dec("1.0950"))
	snap, _ = broker.Snapshot(ctx, paper, "EURUSD")
	assert.Empty(t, mon.Poll(ctx, snap))
	tr, ok := mon.Get(restored)
	require.True(t, ok)
	assert.True(t, tr.Filled)
	assertDec(t, "1.0950", tr.Entry)
}

func TestCancelledOrderDropsTracker(t *testing.T) {
	ctx := context.Background()
	paper := broker.NewPaper(dec("10000"), nil)
	mon := New("EURUSD", eurusd, paper, nil)
	ticket, err := paper.CreateLimitOrder(ctx, broker.OrderRequest{
		Symbol: "EURUSD", Direction: types.Long, Volume: dec("1"), Price: dec("1.0900"), Comment: "x#0",
	})
	require.NoError(t, err)
	mon.Track(NewTracker(ticket, conservative(), dec("1"), dec("1.0900"), time.Time{}))
	require.NoError(t, paper.CancelOrder(ctx, ticket))

	snap, _ := broker.Snapshot(ctx, paper, "EURUSD")
	evs := mon.Poll(ctx, snap)
	require.Len(t, evs, 1)
	assert.Equal(t, "order gone before fill", evs[0].Reason)
}

func TestTrailingStopRatchets(t *testing.T) {
	d := conservative()
	d.StopLoss = types.StopLossResult{Level: dec("1.0990"), Trailing: true, TrailingStep: dec("0.0010")}
	d.TakeProfit.Targets = []types.TPTarget{{Level: dec("1.2000"), Percent: dec("100")}}
	h, ticket := newHarness(t, d)

	h.poll(t, "")
	evs := h.poll(t, "1.1030")
	require.Equal(t, []events.Type{events.StopLossMoved}, kinds(evs))
	assertDec(t, "1.1020", evs[0].Level)
	assert.Equal(t, "trailing", evs[0].Reason)

	assert.Empty(t, h.poll(t, "1.1025"), "stop never loosens")

	evs = h.poll(t, "1.1040")
	require.Len(t, evs, 1)
	assertDec(t, "1.1030", evs[0].Level)

	tr, _ := h.mon.Get(ticket)
	assertDec(t, "1.1040", tr.BestPrice)
}

func TestHeldStopSkipsBroker(t *testing.T) {
	d := conservative()
	d.StopLoss = types.StopLossResult{Level: dec("1.0990"), Trailing: true, TrailingStep: dec("0.0010")}
	d.TakeProfit.Targets = []types.TPTarget{{Level: dec("1.2000"), Percent: dec("100")}}
	h, ticket := newHarness(t, d)

	var held []decimal.Decimal
	h.mon.SetHold(func(tk int64, dir types.Direction, level decimal.Decimal) bool {
		held = append(held, level)
		return tk == ticket && dir == types.Long
	})

	h.poll(t, "")
	evs := h.poll(t, "1.1030")
	require.Equal(t, []events.Type{events.StopLossMoved}, kinds(evs))
	assert.Equal(t, "trailing (held)", evs[0].Reason)
	require.Len(t, held, 1)
	assertDec(t, "1.1020", held[0])
	assert.Equal(t, 0, h.paper.Calls(broker.OpModify))

	tr, _ := h.mon.Get(ticket)
	assertDec(t, "1.1020", tr.Stop)

	// Protection back: the next move reaches the broker
	h.mon.SetHold(nil)
	evs = h.poll(t, "1.1040")
	require.Len(t, evs, 1)
	assert.Equal(t, "trailing", evs[0].Reason)
	positions, err := h.paper.GetOpenPositions(h.ctx)
	require.NoError(t, err)
	assertDec(t, "1.1030", positions[0].StopLoss)
}

func TestCloseVolumeRounding(t *testing.T) {
	spec := types.SymbolSpec{VolumeStep: dec("0.01")}
	tr := NewTracker(1, types.EntryDecision{TakeProfit: types.TakeProfitResult{Targets: []types.TPTarget{
		{Level: dec("1"), Percent: dec("33")},
		{Level: dec("2"), Percent: dec("33")},
		{Level: dec("3"), Percent: dec("34")},
	}}}, dec("0.1"), dec("1"), time.Time{})

	assertDec(t, "0.03", tr.CloseVolume(0, spec))
	tr.Targets[0].Executed = true
	tr.Remaining = dec("0.07")
	assertDec(t, "0.03", tr.CloseVolume(1, spec))
	tr.Targets[1].Executed = true
	tr.Remaining = dec("0.04")
	assertDec(t, "0.04", tr.CloseVolume(2, spec), "last target takes the remainder")
}

func TestPublishesToBus(t *testing.T) {
	bus := events.NewBus(8)
	sub := bus.Subscribe("test")
	h, _ := newHarness(t, conservative())
	h.mon.pub = bus

	h.poll(t, "")
	h.poll(t, "1.1110")
	assert.Equal(t, events.TargetHit, (<-sub.C()).Type)
	assert.Equal(t, events.StopLossMoved, (<-sub.C()).Type)
}
