package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// Compile-time interface check.
var _ Gateway = (*Paper)(nil)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER BROKER - In-memory fills for paper mode and tests
// ═══════════════════════════════════════════════════════════════════════════════
//
//   market orders fill at the last SetPrice
//   limit orders fill when price crosses them
//   broker-side SL/TP close positions on SetPrice
//   P&L = price move * volume * pip value
//
// ═══════════════════════════════════════════════════════════════════════════════

// Paper is a simulated broker
type Paper struct {
	mu sync.Mutex

	balance    decimal.Decimal
	specs      map[string]types.SymbolSpec
	prices     map[string]decimal.Decimal
	positions  map[int64]*types.Position
	orders     map[int64]*types.Order
	nextTicket int64
	now        func() time.Time

	failNext    map[string]int
	unavailable bool
	calls       map[string]int
}

// Operation names for FailNext and Calls
const (
	OpMarketOrder = "create_market_order"
	OpLimitOrder  = "create_limit_order"
	OpModify      = "modify_position"
	OpClose       = "close_position"
	OpCancel      = "cancel_order"
	OpPositions   = "get_open_positions"
	OpOrders      = "get_pending_orders"
	OpAccount     = "get_account_info"
)

// NewPaper creates a paper broker with a starting balance
func NewPaper(balance decimal.Decimal, specs map[string]types.SymbolSpec) *Paper {
	if specs == nil {
		specs = make(map[string]types.SymbolSpec)
	}
	return &Paper{
		balance:    balance,
		specs:      specs,
		prices:     make(map[string]decimal.Decimal),
		positions:  make(map[int64]*types.Position),
		orders:     make(map[int64]*types.Order),
		nextTicket: 1000,
		now:        time.Now,
		failNext:   make(map[string]int),
		calls:      make(map[string]int),
	}
}

// Name returns "paper"
func (p *Paper) Name() string { return "paper" }

// SetClock overrides time.Now
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// FailNext makes the next n calls of op fail
func (p *Paper) FailNext(op string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = n
}

// SetUnavailable makes every call fail until cleared
func (p *Paper) SetUnavailable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = v
}

// Calls returns how many times op was invoked
func (p *Paper) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Balance returns the realized balance
func (p *Paper) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// AdjustBalance books an external realized P&L (fees, swaps, tests)
func (p *Paper) AdjustBalance(delta decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = p.balance.Add(delta)
}

// enter counts the call and applies failure injection. Caller holds mu.
func (p *Paper) enter(op string) error {
	p.calls[op]++
	if p.unavailable {
		return fmt.Errorf("%s: %w", op, types.ErrBrokerUnavailable)
	}
	if n := p.failNext[op]; n > 0 {
		p.failNext[op] = n - 1
		return fmt.Errorf("%s: simulated rejection", op)
	}
	return nil
}

func (p *Paper) ticket() int64 {
	p.nextTicket++
	return p.nextTicket
}

// SetPrice moves the market, filling limits and broker-side stops/targets
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price

	for _, t := range p.sortedOrderTickets() {
		o := p.orders[t]
		if o.Symbol != symbol {
			continue
		}
		crossed := (o.Direction.IsLong() && price.LessThanOrEqual(o.Price)) ||
			(!o.Direction.IsLong() && price.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		delete(p.orders, t)
		p.positions[t] = &types.Position{
			Ticket:       t,
			Symbol:       o.Symbol,
			Direction:    o.Direction,
			Volume:       o.Volume,
			PriceOpen:    o.Price,
			PriceCurrent: price,
			StopLoss:     o.StopLoss,
			TakeProfit:   o.TakeProfit,
			Magic:        o.Magic,
			Comment:      o.Comment,
			OpenTime:     p.now(),
		}
		log.Debug().Int64("ticket", t).Str("symbol", symbol).Str("price", o.Price.String()).Msg("📄 Paper limit filled")
	}

	for _, t := range p.sortedPositionTickets() {
		pos := p.positions[t]
		if pos.Symbol != symbol {
			continue
		}
		pos.PriceCurrent = price
		pos.Profit = p.pnl(pos, price, pos.Volume)

		long := pos.Direction.IsLong()
		slHit := !pos.StopLoss.IsZero() && ((long && price.LessThanOrEqual(pos.StopLoss)) || (!long && price.GreaterThanOrEqual(pos.StopLoss)))
		tpHit := !pos.TakeProfit.IsZero() && ((long && price.GreaterThanOrEqual(pos.TakeProfit)) || (!long && price.LessThanOrEqual(pos.TakeProfit)))
		switch {
		case slHit:
			p.closeLocked(pos, pos.StopLoss, pos.Volume)
		case tpHit:
			p.closeLocked(pos, pos.TakeProfit, pos.Volume)
		}
	}
}

func (p *Paper) sortedOrderTickets() []int64 {
	ts := make([]int64, 0, len(p.orders))
	for t := range p.orders {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}

func (p *Paper) sortedPositionTickets() []int64 {
	ts := make([]int64, 0, len(p.positions))
	for t := range p.positions {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}

func (p *Paper) pnl(pos *types.Position, exit, volume decimal.Decimal) decimal.Decimal {
	move := exit.Sub(pos.PriceOpen)
	if !pos.Direction.IsLong() {
		move = move.Neg()
	}
	pipValue := decimal.NewFromInt(1)
	if spec, ok := p.specs[pos.Symbol]; ok && spec.PipValue.GreaterThan(decimal.Zero) {
		pipValue = spec.PipValue
	}
	return move.Mul(volume).Mul(pipValue)
}

func (p *Paper) closeLocked(pos *types.Position, exit, volume decimal.Decimal) decimal.Decimal {
	realized := p.pnl(pos, exit, volume)
	p.balance = p.balance.Add(realized)
	pos.Volume = pos.Volume.Sub(volume)
	if pos.Volume.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, pos.Ticket)
	} else {
		pos.Profit = p.pnl(pos, pos.PriceCurrent, pos.Volume)
	}
	return realized
}

func validateRequest(req OrderRequest) error {
	if req.Volume.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: %s", ErrInvalidVolume, req.Volume)
	}
	if req.Direction != types.Long && req.Direction != types.Short {
		return fmt.Errorf("invalid direction %q", req.Direction)
	}
	return nil
}

// CreateMarketOrder opens a position at the current price
func (p *Paper) CreateMarketOrder(_ context.Context, req OrderRequest) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpMarketOrder); err != nil {
		return 0, err
	}
	if err := validateRequest(req); err != nil {
		return 0, err
	}
	price, ok := p.prices[req.Symbol]
	if !ok {
		price = req.Price
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, req.Symbol)
	}

	t := p.ticket()
	p.positions[t] = &types.Position{
		Ticket:       t,
		Symbol:       req.Symbol,
		Direction:    req.Direction,
		Volume:       req.Volume,
		PriceOpen:    price,
		PriceCurrent: price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Magic:        req.Magic,
		Comment:      req.Comment,
		OpenTime:     p.now(),
	}
	return t, nil
}

// CreateLimitOrder queues a pending order
func (p *Paper) CreateLimitOrder(_ context.Context, req OrderRequest) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpLimitOrder); err != nil {
		return 0, err
	}
	if err := validateRequest(req); err != nil {
		return 0, err
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("limit price must be positive, got %s", req.Price)
	}

	t := p.ticket()
	p.orders[t] = &types.Order{
		Ticket:     t,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Kind:       types.Limit,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Magic:      req.Magic,
		Comment:    req.Comment,
		PlacedAt:   p.now(),
	}
	return t, nil
}

// ModifyPosition changes SL/TP. nil = unchanged, zero = removed.
func (p *Paper) ModifyPosition(_ context.Context, ticket int64, sl, tp *decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpModify); err != nil {
		return err
	}
	pos, ok := p.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	if sl != nil {
		pos.StopLoss = *sl
	}
	if tp != nil {
		pos.TakeProfit = *tp
	}
	return nil
}

// ClosePosition closes volume (nil = all) at the current price
func (p *Paper) ClosePosition(_ context.Context, ticket int64, volume *decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpClose); err != nil {
		return decimal.Zero, err
	}
	pos, ok := p.positions[ticket]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	v := pos.Volume
	if volume != nil {
		v = *volume
	}
	if v.LessThanOrEqual(decimal.Zero) || v.GreaterThan(pos.Volume) {
		return decimal.Zero, fmt.Errorf("%w: close %s of %s", ErrInvalidVolume, v, pos.Volume)
	}
	exit := pos.PriceCurrent
	if price, ok := p.prices[pos.Symbol]; ok {
		exit = price
	}
	return p.closeLocked(pos, exit, v), nil
}

// CancelOrder removes a pending order
func (p *Paper) CancelOrder(_ context.Context, ticket int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpCancel); err != nil {
		return err
	}
	if _, ok := p.orders[ticket]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	delete(p.orders, ticket)
	return nil
}

// GetOpenPositions returns copies of every open position, by ticket
func (p *Paper) GetOpenPositions(_ context.Context) ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpPositions); err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(p.positions))
	for _, t := range p.sortedPositionTickets() {
		out = append(out, *p.positions[t])
	}
	return out, nil
}

// GetPendingOrders returns copies of every pending order, by ticket
func (p *Paper) GetPendingOrders(_ context.Context) ([]types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpOrders); err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(p.orders))
	for _, t := range p.sortedOrderTickets() {
		out = append(out, *p.orders[t])
	}
	return out, nil
}

// GetAccountInfo returns balance and equity including floating P&L
func (p *Paper) GetAccountInfo(_ context.Context) (types.AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpAccount); err != nil {
		return types.AccountInfo{}, err
	}
	equity := p.balance
	for _, pos := range p.positions {
		equity = equity.Add(pos.Profit)
	}
	return types.AccountInfo{Balance: p.balance, Equity: equity}, nil
}
