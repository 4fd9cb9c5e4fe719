package restriction

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/types"
)

// SuspensionKind is what was suspended
type SuspensionKind string

const (
	SuspendedOrder      SuspensionKind = "pending_order"
	SuspendedProtection SuspensionKind = "position_protection"
)

// SuspensionRecord holds the original parameters needed to undo a suspension
type SuspensionRecord struct {
	Kind        SuspensionKind  `json:"kind"`
	Ticket      int64           `json:"ticket"`
	Symbol      string          `json:"symbol"`
	Order       *types.Order    `json:"order,omitempty"` // pending_order only
	StopLoss    decimal.Decimal `json:"sl"`              // position_protection only
	TakeProfit  decimal.Decimal `json:"tp"`
	SuspendedAt time.Time       `json:"suspended_at"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
}

type recordKey struct {
	kind   SuspensionKind
	ticket int64
}

// SuspensionStore is an in-memory store keyed by (kind, ticket)
type SuspensionStore struct {
	mu      sync.Mutex
	records map[recordKey]SuspensionRecord
}

// NewSuspensionStore creates an empty store
func NewSuspensionStore() *SuspensionStore {
	return &SuspensionStore{records: make(map[recordKey]SuspensionRecord)}
}

// Insert adds or replaces a record
func (s *SuspensionStore) Insert(rec SuspensionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{rec.Kind, rec.Ticket}] = rec
}

// Get returns the record for (kind, ticket)
func (s *SuspensionStore) Get(kind SuspensionKind, ticket int64) (SuspensionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{kind, ticket}]
	return rec, ok
}

// Remove deletes a record
func (s *SuspensionStore) Remove(kind SuspensionKind, ticket int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{kind, ticket})
}

// Has reports whether a record exists
func (s *SuspensionStore) Has(kind SuspensionKind, ticket int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[recordKey{kind, ticket}]
	return ok
}

// List returns records for symbol ("" = all) in suspension order
func (s *SuspensionStore) List(symbol string) []SuspensionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SuspensionRecord, 0, len(s.records))
	for _, r := range s.records {
		if symbol == "" || r.Symbol == symbol {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SuspendedAt.Equal(out[j].SuspendedAt) {
			return out[i].SuspendedAt.Before(out[j].SuspendedAt)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Ticket < out[j].Ticket
	})
	return out
}

// Len returns the record count for symbol ("" = all)
func (s *SuspensionStore) Len(symbol string) int {
	return len(s.List(symbol))
}

// Clear drops every record for symbol
func (s *SuspensionStore) Clear(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.records {
		if r.Symbol == symbol {
			delete(s.records, k)
			n++
		}
	}
	return n
}

// RestoreAll calls restore for every record of symbol. Successful records are
// removed; failed ones stay with Attempts incremented for the next tick.
func (s *SuspensionStore) RestoreAll(symbol string, restore func(SuspensionRecord) error) (restored int, failed []error) {
	for _, rec := range s.List(symbol) {
		if err := restore(rec); err != nil {
			rec.Attempts++
			rec.LastError = err.Error()
			s.Insert(rec)
			failed = append(failed, fmt.Errorf("%s %d: %w", rec.Kind, rec.Ticket, err))
			continue
		}
		s.Remove(rec.Kind, rec.Ticket)
		restored++
	}
	return restored, failed
}

// Load replaces the store contents, for crash recovery
func (s *SuspensionStore) Load(recs []SuspensionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[recordKey]SuspensionRecord, len(recs))
	for _, r := range recs {
		s.records[recordKey{r.Kind, r.Ticket}] = r
	}
}

// Persister writes the store for one symbol at an explicit boundary
type Persister interface {
	SaveSuspensions(symbol string, recs []SuspensionRecord) error
}
