// Package events carries engine events to observers: metrics, alerts, the
// journal, Redis and WebSocket clients. Publishing never blocks a cycle.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Type names an event
type Type string

const (
	EntrySuppressed    Type = "entry_suppressed"
	EntrySkipped       Type = "entry_skipped"
	OrderPlaced        Type = "order_placed"
	OrderRejected      Type = "order_rejected"
	ExitExecuted       Type = "exit_executed"
	RestrictionChanged Type = "restriction_changed"
	TargetHit          Type = "target_hit"
	StopLossMoved      Type = "stop_loss_moved"
	PositionClosed     Type = "position_closed"
	AccountChanged     Type = "account_changed"
	AccountBreach      Type = "account_breach"
)

// Severity for alert routing
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityWarn   Severity = "warn"
	SeverityBreach Severity = "breach"
)

// Event is a flat record; fields that do not apply stay zero
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Severity  Severity        `json:"severity"`
	Time      time.Time       `json:"time"`
	Symbol    string          `json:"symbol,omitempty"`
	Strategy  string          `json:"strategy,omitempty"`
	Direction string          `json:"direction,omitempty"`
	Ticket    int64           `json:"ticket,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Level     decimal.Decimal `json:"level"`
	PnL       decimal.Decimal `json:"pnl"`
	Status    string          `json:"status,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// Publisher is what producers depend on
type Publisher interface {
	Publish(e Event)
}

// Subscription is one bounded queue
type Subscription struct {
	name    string
	ch      chan Event
	bus     *Bus
	dropped atomic.Int64
}

// C returns the receive channel; closed on Unsubscribe or bus Close
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many events this subscriber lost to overflow
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Unsubscribe detaches the subscription and closes its channel
func (s *Subscription) Unsubscribe() { s.bus.remove(s) }

// ═══════════════════════════════════════════════════════════════════════════════
// BUS - fan-out with drop-oldest overflow
// ═══════════════════════════════════════════════════════════════════════════════

// Bus fans events out to subscribers
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	now    func() time.Time

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a bus whose subscribers each queue up to buffer events
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		now:    time.Now,
	}
}

// SetClock overrides time.Now for stamping events
func (b *Bus) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Subscribe registers a named subscriber
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{name: name, ch: make(chan Event, b.buffer), bus: b}
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Publish stamps e and offers it to every subscriber. When a queue is full
// its oldest event is discarded.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	b.published.Add(1)

	for s := range b.subs {
		select {
		case s.ch <- e:
			continue
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			b.dropped.Add(1)
			log.Debug().Str("subscriber", s.name).Str("type", string(e.Type)).Msg("Event queue full, dropped oldest")
		default:
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// Close detaches every subscriber
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Stats returns published and dropped totals
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// Discard is a Publisher that drops everything
type Discard struct{}

func (Discard) Publish(Event) {}

// Compile-time interface checks.
var (
	_ Publisher = (*Bus)(nil)
	_ Publisher = Discard{}
)
