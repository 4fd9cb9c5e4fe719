package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/tradeguard/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper() *Paper {
	return NewPaper(dec("10000"), map[string]types.SymbolSpec{
		"EURUSD": {Symbol: "EURUSD", PipSize: dec("0.0001"), PipValue: dec("10")},
	})
}

func TestPaperMarketOrderAndPartialClose(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetPrice("EURUSD", dec("1.1000"))

	ticket, err := p.CreateMarketOrder(ctx, OrderRequest{
		Symbol: "EURUSD", Direction: types.Long, Volume: dec("100"), StopLoss: dec("1.0500"), Comment: "manual#0",
	})
	require.NoError(t, err)

	p.SetPrice("EURUSD", dec("1.1100"))
	pnl, err := p.ClosePosition(ctx, ticket, Level(dec("60")))
	require.NoError(t, err)
	assert.True(t, pnl.Equal(dec("6")), "pnl %s", pnl) // 0.01 * 60 * 10

	positions, err := p.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Volume.Equal(dec("40")))
	assert.Equal(t, "manual", positions[0].Key().Strategy)

	_, err = p.ClosePosition(ctx, ticket, Level(dec("41")))
	assert.ErrorIs(t, err, ErrInvalidVolume)

	_, err = p.ClosePosition(ctx, ticket, nil)
	require.NoError(t, err)
	positions, _ = p.GetOpenPositions(ctx)
	assert.Empty(t, positions)
	assert.True(t, p.Balance().Equal(dec("10010")))
}

func TestPaperModifySemantics(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetPrice("EURUSD", dec("1.1000"))
	ticket, err := p.CreateMarketOrder(ctx, OrderRequest{
		Symbol: "EURUSD", Direction: types.Long, Volume: dec("1"), StopLoss: dec("1.09"), TakeProfit: dec("1.12"),
	})
	require.NoError(t, err)

	require.NoError(t, p.ModifyPosition(ctx, ticket, Level(dec("1.095")), nil))
	pos, _ := p.GetOpenPositions(ctx)
	assert.True(t, pos[0].StopLoss.Equal(dec("1.095")))
	assert.True(t, pos[0].TakeProfit.Equal(dec("1.12")), "nil leaves tp unchanged")

	require.NoError(t, p.ModifyPosition(ctx, ticket, Remove(), Remove()))
	pos, _ = p.GetOpenPositions(ctx)
	assert.True(t, pos[0].StopLoss.IsZero())
	assert.True(t, pos[0].TakeProfit.IsZero())

	assert.ErrorIs(t, p.ModifyPosition(ctx, 1, nil, nil), ErrUnknownTicket)
}

func TestPaperLimitFillAndBrokerStop(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetPrice("EURUSD", dec("1.1000"))

	_, err := p.CreateLimitOrder(ctx, OrderRequest{
		Symbol: "EURUSD", Direction: types.Long, Volume: dec("10"), Price: dec("1.0990"), StopLoss: dec("1.0950"),
	})
	require.NoError(t, err)
	orders, _ := p.GetPendingOrders(ctx)
	require.Len(t, orders, 1)

	p.SetPrice("EURUSD", dec("1.0990"))
	orders, _ = p.GetPendingOrders(ctx)
	assert.Empty(t, orders)
	positions, _ := p.GetOpenPositions(ctx)
	require.Len(t, positions, 1)

	p.SetPrice("EURUSD", dec("1.0940"))
	positions, _ = p.GetOpenPositions(ctx)
	assert.Empty(t, positions, "stop should close the position")
	assert.True(t, p.Balance().Equal(dec("9999.6")), "balance %s", p.Balance()) // -0.004 * 10 * 10
}

func TestPaperFailureInjection(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetPrice("EURUSD", dec("1.1"))

	p.FailNext(OpMarketOrder, 1)
	_, err := p.CreateMarketOrder(ctx, OrderRequest{Symbol: "EURUSD", Direction: types.Long, Volume: dec("1")})
	assert.Error(t, err)
	_, err = p.CreateMarketOrder(ctx, OrderRequest{Symbol: "EURUSD", Direction: types.Long, Volume: dec("1")})
	assert.NoError(t, err)
	assert.Equal(t, 2, p.Calls(OpMarketOrder))

	p.SetUnavailable(true)
	_, err = p.GetAccountInfo(ctx)
	assert.True(t, errors.Is(err, types.ErrBrokerUnavailable))
}

func TestSnapshotFiltersBySymbol(t *testing.T) {
	ctx := context.Background()
	p := newPaper()
	p.SetPrice("EURUSD", dec("1.1"))
	p.SetPrice("XAUUSD", dec("2000"))
	_, _ = p.CreateMarketOrder(ctx, OrderRequest{Symbol: "EURUSD", Direction: types.Long, Volume: dec("1")})
	_, _ = p.CreateMarketOrder(ctx, OrderRequest{Symbol: "XAUUSD", Direction: types.Short, Volume: dec("1")})

	snap, err := Snapshot(ctx, p, "XAUUSD")
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "XAUUSD", snap.Positions[0].Symbol)
}

func TestRESTSignsAndDecodes(t *testing.T) {
	var gotPath, gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		gotSig = r.Header.Get("X-SIGNATURE")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		switch r.URL.Path {
		case "/orders/market":
			_ = json.NewEncoder(w).Encode(map[string]int64{"ticket": 42})
		case "/positions/42/close":
			_, _ = w.Write([]byte(`{"realized_pnl":"12.5"}`))
		case "/account":
			_, _ = w.Write([]byte(`{"balance":"10000","equity":"9950.5"}`))
		case "/orders/7":
			http.Error(w, "no such order", http.StatusNotFound)
		default:
			http.Error(w, "down", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewREST(srv.URL, "key", "secret", 0)

	ticket, err := c.CreateMarketOrder(ctx, OrderRequest{Symbol: "EURUSD", Direction: types.Long, Volume: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ticket)
	assert.Equal(t, "POST /orders/market", gotPath)
	assert.NotEmpty(t, gotSig)
	assert.Contains(t, gotBody, `"symbol":"EURUSD"`)

	pnl, err := c.ClosePosition(ctx, 42, Level(dec("0.5")))
	require.NoError(t, err)
	assert.True(t, pnl.Equal(dec("12.5")))
	assert.Contains(t, gotBody, `"volume":"0.5"`)

	info, err := c.GetAccountInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.Equity.Equal(dec("9950.5")))

	err = c.CancelOrder(ctx, 7)
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrBrokerUnavailable))

	_, err = c.GetOpenPositions(ctx)
	assert.True(t, errors.Is(err, types.ErrBrokerUnavailable))
}
