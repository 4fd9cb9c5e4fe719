package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/monitor"
	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "tradeguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountStateRoundTrip(t *testing.T) {
	db := openTestDB(t)

	got, err := db.LoadAccountState()
	require.NoError(t, err)
	assert.Nil(t, got)

	reset := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	state := risk.AccountState{
		StartingBalance: dec("10000"),
		PeakBalance:     dec("10250.5"),
		CurrentBalance:  dec("9500"),
		Status:          risk.StatusDailyLossBreached,
		Reason:          "daily loss 500 >= limit 500",
		ManualHold:      true,
		LastReset:       reset,
		ChangedAt:       reset.Add(5 * time.Hour),
	}
	require.NoError(t, db.SaveAccountState(state))

	state.CurrentBalance = dec("9400")
	require.NoError(t, db.SaveAccountState(state))

	got, err = db.LoadAccountState()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.StartingBalance.Equal(dec("10000")))
	assert.True(t, got.PeakBalance.Equal(dec("10250.5")))
	assert.True(t, got.CurrentBalance.Equal(dec("9400")))
	assert.Equal(t, risk.StatusDailyLossBreached, got.Status)
	assert.Equal(t, state.Reason, got.Reason)
	assert.True(t, got.ManualHold)
	assert.True(t, got.LastReset.Equal(reset))
}

func TestSuspensionsReplacedPerSymbol(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 3, 6, 13, 10, 0, 0, time.UTC)

	gold := []restriction.SuspensionRecord{
		{
			Kind:   restriction.SuspendedOrder,
			Ticket: 1002,
			Symbol: "XAUUSD",
			Order: &types.Order{
				Ticket: 1002, Symbol: "XAUUSD", Direction: types.Long, Kind: types.Limit,
				Volume: dec("0.3"), Price: dec("1996"), StopLoss: dec("1990"), Comment: "scale#2",
			},
			SuspendedAt: at,
		},
		{Kind: restriction.SuspendedProtection, Ticket: 1001, Symbol: "XAUUSD", StopLoss: dec("1990"), TakeProfit: dec("2010"), SuspendedAt: at},
	}
	require.NoError(t, db.SaveSuspensions("XAUUSD", gold))
	require.NoError(t, db.SaveSuspensions("EURUSD", []restriction.SuspensionRecord{
		{Kind: restriction.SuspendedProtection, Ticket: 2001, Symbol: "EURUSD", StopLoss: dec("1.095"), SuspendedAt: at},
	}))

	got, err := db.LoadSuspensions("XAUUSD")
	require.NoError(t, err)
	require.Len(t, got, 2)
	byTicket := map[int64]restriction.SuspensionRecord{}
	for _, r := range got {
		byTicket[r.Ticket] = r
	}
	require.NotNil(t, byTicket[1002].Order)
	assert.True(t, byTicket[1002].Order.Price.Equal(dec("1996")))
	assert.Equal(t, "scale#2", byTicket[1002].Order.Comment)
	assert.True(t, byTicket[1001].TakeProfit.Equal(dec("2010")))

	// Restored orders disappear on the next save
	require.NoError(t, db.SaveSuspensions("XAUUSD", gold[1:]))
	got, err = db.LoadSuspensions("XAUUSD")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, restriction.SuspendedProtection, got[0].Kind)

	other, err := db.LoadSuspensions("EURUSD")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestTrackersRoundTrip(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC)

	d := types.EntryDecision{
		Symbol:    "XAUUSD",
		Strategy:  "conservative",
		Direction: types.Long,
		StopLoss:  types.StopLossResult{Level: dec("1990")},
		TakeProfit: types.TakeProfitResult{Targets: []types.TPTarget{
			{Level: dec("2005"), Percent: dec("50"), MoveStopToBreakeven: true},
			{Level: dec("2010"), Percent: dec("50")},
		}},
	}
	tr := monitor.NewTracker(1001, d, dec("0.2"), dec("2000"), at)
	tr.Targets[0].Executed = true
	tr.Remaining = dec("0.1")
	tr.Filled = true

	require.NoError(t, db.SaveTrackers("XAUUSD", []monitor.Tracker{*tr}))

	got, err := db.LoadTrackers("XAUUSD")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1001), got[0].Ticket)
	assert.True(t, got[0].Remaining.Equal(dec("0.1")))
	assert.True(t, got[0].Filled)
	require.Len(t, got[0].Targets, 2)
	assert.True(t, got[0].Targets[0].Executed)
	assert.True(t, got[0].Targets[0].MoveStopToBreakeven)
	assert.False(t, got[0].Targets[1].Executed)
	assert.Equal(t, 1, got[0].NextTarget())

	require.NoError(t, db.SaveTrackers("XAUUSD", nil))
	got, err = db.LoadTrackers("XAUUSD")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJournalRecordsBusEvents(t *testing.T) {
	db := openTestDB(t)
	bus := events.NewBus(16)
	at := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
	bus.SetClock(func() time.Time { return at })

	sub := bus.Subscribe("journal")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		db.Journal(ctx, sub)
		close(done)
	}()

	bus.Publish(events.Event{Type: events.TargetHit, Symbol: "XAUUSD", Ticket: 1001, PnL: dec("0.5")})
	bus.Publish(events.Event{Type: events.ExitExecuted, Symbol: "EURUSD", Ticket: 2001, PnL: dec("-0.2")})
	bus.Publish(events.Event{Type: events.AccountBreach, Severity: events.SeverityBreach, Status: string(risk.StatusDrawdownBreached)})

	require.Eventually(t, func() bool {
		recs, err := db.RecentEvents(10)
		return err == nil && len(recs) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	breaches, err := db.EventsByType(events.AccountBreach, 10)
	require.NoError(t, err)
	require.Len(t, breaches, 1)
	assert.Equal(t, string(events.SeverityBreach), breaches[0].Severity)
	assert.Equal(t, "DRAWDOWN_BREACHED", breaches[0].Status)

	pnl, err := db.RealizedPnL(at.Add(-time.Hour))
	require.NoError(t, err)
	f, _ := pnl.Float64()
	assert.InDelta(t, 0.3, f, 1e-9)
}
