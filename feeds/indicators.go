package feeds

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INDICATORS - ATR from bars for volatility-based risk
// ═══════════════════════════════════════════════════════════════════════════════

// Bar is one OHLC candle
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe,omitempty"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Time      time.Time       `json:"time"`
}

// ATRTracker keeps a simple Average True Range over the last N bars
type ATRTracker struct {
	mu        sync.RWMutex
	period    int
	prevClose decimal.Decimal
	ranges    []decimal.Decimal
	atr       decimal.Decimal
}

// NewATRTracker creates a tracker; period < 1 becomes 14
func NewATRTracker(period int) *ATRTracker {
	if period < 1 {
		period = 14
	}
	return &ATRTracker{
		period: period,
		ranges: make([]decimal.Decimal, 0, period),
	}
}

// Update adds one bar
func (t *ATRTracker) Update(b Bar) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// True Range = max(high-low, |high-prevClose|, |low-prevClose|)
	tr := b.High.Sub(b.Low)
	if !t.prevClose.IsZero() {
		if hpc := b.High.Sub(t.prevClose).Abs(); hpc.GreaterThan(tr) {
			tr = hpc
		}
		if lpc := b.Low.Sub(t.prevClose).Abs(); lpc.GreaterThan(tr) {
			tr = lpc
		}
	}
	t.prevClose = b.Close

	t.ranges = append(t.ranges, tr)
	if len(t.ranges) > t.period {
		t.ranges = t.ranges[1:]
	}

	sum := decimal.Zero
	for _, r := range t.ranges {
		sum = sum.Add(r)
	}
	t.atr = sum.Div(decimal.NewFromInt(int64(len(t.ranges))))
}

// ATR returns the current value
func (t *ATRTracker) ATR() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.atr
}

// Ready reports whether a full period has been seen
func (t *ATRTracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ranges) >= t.period
}

// IndicatorName maps a timeframe to its MarketData key: "" → "atr", "h1" → "atr_h1"
func IndicatorName(timeframe string) string {
	if timeframe == "" {
		return "atr"
	}
	return "atr_" + timeframe
}
