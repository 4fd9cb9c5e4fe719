// Package broker defines the command contract the engine needs from a broker
// and ships a paper implementation and a REST bridge client.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

var (
	ErrUnknownTicket = errors.New("unknown ticket")
	ErrNoPrice       = errors.New("no price for symbol")
	ErrInvalidVolume = errors.New("invalid volume")
)

// OrderRequest is a new market or limit order. Zero StopLoss/TakeProfit = none.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Direction  types.Direction `json:"direction"`
	Volume     decimal.Decimal `json:"volume"`
	Price      decimal.Decimal `json:"price,omitempty"` // limit only
	StopLoss   decimal.Decimal `json:"sl,omitempty"`
	TakeProfit decimal.Decimal `json:"tp,omitempty"`
	Magic      int64           `json:"magic"`
	Comment    string          `json:"comment"`
}

// Gateway is every broker operation the engine uses.
//
// ModifyPosition: a nil level is left unchanged, a pointer to zero removes it.
// ClosePosition: a nil volume closes everything; returns realized P&L.
type Gateway interface {
	Name() string
	CreateMarketOrder(ctx context.Context, req OrderRequest) (int64, error)
	CreateLimitOrder(ctx context.Context, req OrderRequest) (int64, error)
	ModifyPosition(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error
	ClosePosition(ctx context.Context, ticket int64, volume *decimal.Decimal) (decimal.Decimal, error)
	CancelOrder(ctx context.Context, ticket int64) error
	GetOpenPositions(ctx context.Context) ([]types.Position, error)
	GetPendingOrders(ctx context.Context) ([]types.Order, error)
	GetAccountInfo(ctx context.Context) (types.AccountInfo, error)
}

// Snapshot reads positions and pending orders for one symbol
func Snapshot(ctx context.Context, gw Gateway, symbol string) (types.Snapshot, error) {
	positions, err := gw.GetOpenPositions(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	orders, err := gw.GetPendingOrders(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	snap := types.Snapshot{}
	for _, p := range positions {
		if symbol == "" || p.Symbol == symbol {
			snap.Positions = append(snap.Positions, p)
		}
	}
	for _, o := range orders {
		if symbol == "" || o.Symbol == symbol {
			snap.Orders = append(snap.Orders, o)
		}
	}
	return snap, nil
}

// Level returns a pointer for ModifyPosition
func Level(d decimal.Decimal) *decimal.Decimal { return &d }

// Remove is the ModifyPosition value that strips a level
func Remove() *decimal.Decimal { return Level(decimal.Zero) }
