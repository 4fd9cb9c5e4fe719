// Package restriction blocks new trading around news events, market close and
// manual suspensions, and suspends/restores protective orders while blocked.
package restriction

import (
	"fmt"
	"time"
)

// AccountType decides whether market close matters
type AccountType string

const (
	// AccountDaily flattens before market close
	AccountDaily AccountType = "daily"
	// AccountSwing holds through market close
	AccountSwing AccountType = "swing"
)

// Kind of restriction trigger
type Kind string

const (
	KindNews        Kind = "news"
	KindMarketClose Kind = "market_close"
	KindManual      Kind = "manual"
	KindRestore     Kind = "restore_pending"
)

// Reason is one active block
type Reason struct {
	Kind   Kind
	Detail string
}

func (r Reason) String() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + ": " + r.Detail
}

// NewsWindow blocks [EventTime-Window, EventTime+Window]
type NewsWindow struct {
	Name      string
	EventTime time.Time
	Window    time.Duration
}

// MarketClose blocks [close-Window, close+Window] every day at Hour:Minute
type MarketClose struct {
	Hour     int
	Minute   int
	Window   time.Duration
	Location *time.Location
}

// ManualWindow blocks [Start, End]
type ManualWindow struct {
	Start  time.Time
	End    time.Time
	Reason string
}

// Rules is the read-only restriction config for one symbol
type Rules struct {
	News   []NewsWindow
	Close  *MarketClose
	Manual []ManualWindow
}

// InWindow reports whether now is inside [event-window, event+window]. Both ends inclusive.
func InWindow(now, event time.Time, window time.Duration) bool {
	return !now.Before(event.Add(-window)) && !now.After(event.Add(window))
}

// Active reports whether the market-close window contains now. The windows of
// the previous and next day are checked so a window spanning midnight works.
func (m MarketClose) Active(now time.Time) bool {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), m.Hour, m.Minute, 0, 0, loc)
	for _, d := range []int{-1, 0, 1} {
		if InWindow(local, today.AddDate(0, 0, d), m.Window) {
			return true
		}
	}
	return false
}

// Evaluate returns every block active at now. Swing accounts ignore market close.
func (r Rules) Evaluate(now time.Time, acct AccountType) []Reason {
	var reasons []Reason
	for _, n := range r.News {
		if InWindow(now, n.EventTime, n.Window) {
			reasons = append(reasons, Reason{Kind: KindNews, Detail: fmt.Sprintf("%s @ %s", n.Name, n.EventTime.Format("15:04"))})
		}
	}
	if r.Close != nil && acct == AccountDaily && r.Close.Active(now) {
		reasons = append(reasons, Reason{Kind: KindMarketClose, Detail: fmt.Sprintf("%02d:%02d", r.Close.Hour, r.Close.Minute)})
	}
	for _, m := range r.Manual {
		if !now.Before(m.Start) && !now.After(m.End) {
			reasons = append(reasons, Reason{Kind: KindManual, Detail: m.Reason})
		}
	}
	return reasons
}

// IsRestricted reports whether any block is active
func (r Rules) IsRestricted(now time.Time, acct AccountType) bool {
	return len(r.Evaluate(now, acct)) > 0
}

func hasKind(reasons []Reason, k Kind) bool {
	for _, r := range reasons {
		if r.Kind == k {
			return true
		}
	}
	return false
}
