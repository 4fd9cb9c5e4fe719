package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ACCOUNT GUARD - Cross-symbol circuit breaker on daily loss and drawdown
// ═══════════════════════════════════════════════════════════════════════════════
//
//   ACTIVE ──daily_pnl <= -limit──▶ DAILY_LOSS_BREACHED ──daily reset──▶ ACTIVE
//   ACTIVE ──drawdown >= max─────▶ DRAWDOWN_BREACHED   ──Resume()─────▶ ACTIVE
//   ACTIVE ──Stop()──────────────▶ MANUALLY_STOPPED    ──Resume()─────▶ ACTIVE
//
// Stop on a breached account keeps the breach and sets ManualHold, so the
// daily reset lands in MANUALLY_STOPPED instead of ACTIVE. A breach seen while
// manually stopped still takes over the status and fires OnBreach.
//
// Observe is the single writer. Everyone else reads Snapshot().
//
// ═══════════════════════════════════════════════════════════════════════════════

// AccountStatus of the guard
type AccountStatus string

const (
	StatusActive            AccountStatus = "ACTIVE"
	StatusDailyLossBreached AccountStatus = "DAILY_LOSS_BREACHED"
	StatusDrawdownBreached  AccountStatus = "DRAWDOWN_BREACHED"
	StatusManuallyStopped   AccountStatus = "MANUALLY_STOPPED"
)

// AccountState is the persisted guard state
type AccountState struct {
	StartingBalance decimal.Decimal `json:"starting_balance"`
	PeakBalance     decimal.Decimal `json:"peak_balance"`
	CurrentBalance  decimal.Decimal `json:"current_balance"`
	Status          AccountStatus   `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	ManualHold      bool            `json:"manual_hold,omitempty"`
	LastReset       time.Time       `json:"last_reset"`
	ChangedAt       time.Time       `json:"changed_at"`
}

// DailyPnL = current balance - balance at last daily reset
func (s AccountState) DailyPnL() decimal.Decimal {
	return s.CurrentBalance.Sub(s.StartingBalance)
}

// Drawdown as a fraction of peak balance
func (s AccountState) Drawdown() decimal.Decimal {
	if s.PeakBalance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return s.PeakBalance.Sub(s.CurrentBalance).Div(s.PeakBalance)
}

// Breached reports a loss breach (not a manual stop)
func (s AccountState) Breached() bool {
	return s.Status == StatusDailyLossBreached || s.Status == StatusDrawdownBreached
}

// GuardConfig for the account guard
type GuardConfig struct {
	DailyLossLimit decimal.Decimal // money; zero disables
	MaxDrawdownPct decimal.Decimal // percent of peak; zero disables
	ResetHour      int
	ResetMinute    int
	Location       *time.Location
	CloseOnBreach  bool
}

// AccountGuard tracks AccountState behind one mutex
type AccountGuard struct {
	mu sync.RWMutex

	cfg         GuardConfig
	state       AccountState
	initialized bool
	nextReset   time.Time
	now         func() time.Time

	// Callbacks run outside the lock
	onBreach func(AccountState)
	onChange func(AccountState)
}

// NewAccountGuard creates the guard. State is seeded by the first Observe or by Restore.
func NewAccountGuard(cfg GuardConfig) *AccountGuard {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	g := &AccountGuard{
		cfg:   cfg,
		state: AccountState{Status: StatusActive},
		now:   time.Now,
	}

	log.Info().
		Str("daily_loss_limit", cfg.DailyLossLimit.StringFixed(2)).
		Str("max_drawdown", cfg.MaxDrawdownPct.StringFixed(1)+"%").
		Str("reset", fmt.Sprintf("%02d:%02d %s", cfg.ResetHour, cfg.ResetMinute, cfg.Location)).
		Bool("close_on_breach", cfg.CloseOnBreach).
		Msg("🛡️ Account guard initialized")

	return g
}

// SetClock overrides time.Now
func (g *AccountGuard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	if g.initialized {
		g.nextReset = g.resetAfter(g.state.LastReset)
	}
}

// OnBreach registers the callback fired on a transition into a breach status
func (g *AccountGuard) OnBreach(fn func(AccountState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onBreach = fn
}

// OnChange registers the callback fired on every status change
func (g *AccountGuard) OnChange(fn func(AccountState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// CloseOnBreach reports whether a breach should close every position
func (g *AccountGuard) CloseOnBreach() bool {
	return g.cfg.CloseOnBreach
}

// Restore seeds the guard from persisted state
func (g *AccountGuard) Restore(s AccountState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s.Status == "" {
		s.Status = StatusActive
	}
	g.state = s
	g.initialized = true
	g.nextReset = g.resetAfter(s.LastReset)
	log.Info().
		Str("status", string(s.Status)).
		Str("start", s.StartingBalance.StringFixed(2)).
		Str("peak", s.PeakBalance.StringFixed(2)).
		Msg("♻️ Account state restored")
}

// Observe records a fresh balance, applies the daily reset and evaluates breaches
func (g *AccountGuard) Observe(balance decimal.Decimal) AccountStatus {
	g.mu.Lock()
	now := g.now()
	before := g.state.Status

	if !g.initialized {
		g.state.StartingBalance = balance
		g.state.PeakBalance = balance
		g.state.LastReset = now
		g.nextReset = g.resetAfter(now)
		g.initialized = true
	}

	if !now.Before(g.nextReset) {
		g.dailyReset(balance, now)
	}

	g.state.CurrentBalance = balance
	if balance.GreaterThan(g.state.PeakBalance) {
		g.state.PeakBalance = balance
	}

	breached := false
	switch g.state.Status {
	case StatusActive:
		if g.drawdownHit() {
			g.transition(StatusDrawdownBreached, "max drawdown reached", now)
			breached = true
		} else if g.dailyLossHit() {
			g.transition(StatusDailyLossBreached, "daily loss limit reached", now)
			breached = true
		}
	case StatusManuallyStopped:
		if g.drawdownHit() {
			g.state.ManualHold = true
			g.transition(StatusDrawdownBreached, "max drawdown reached", now)
			breached = true
		} else if g.dailyLossHit() {
			g.state.ManualHold = true
			g.transition(StatusDailyLossBreached, "daily loss limit reached", now)
			breached = true
		}
	case StatusDailyLossBreached:
		// Drawdown needs a manual resume, so it outranks a breach that would clear itself.
		if g.drawdownHit() {
			g.transition(StatusDrawdownBreached, "max drawdown reached", now)
			breached = true
		}
	}

	state := g.state
	onBreach, onChange := g.onBreach, g.onChange
	g.mu.Unlock()

	if breached {
		log.Error().
			Str("severity", "BREACH").
			Str("status", string(state.Status)).
			Str("daily_pnl", state.DailyPnL().StringFixed(2)).
			Str("drawdown", state.Drawdown().Mul(hundred).StringFixed(2)+"%").
			Str("balance", state.CurrentBalance.StringFixed(2)).
			Msg("🚨 ACCOUNT STOP-LOSS BREACHED")
		if onBreach != nil {
			onBreach(state)
		}
	}
	if state.Status != before && onChange != nil {
		onChange(state)
	}
	return state.Status
}

func (g *AccountGuard) dailyLossHit() bool {
	if g.cfg.DailyLossLimit.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return g.state.DailyPnL().LessThanOrEqual(g.cfg.DailyLossLimit.Neg())
}

func (g *AccountGuard) drawdownHit() bool {
	if g.cfg.MaxDrawdownPct.LessThanOrEqual(decimal.Zero) {
		return false
	}
	return g.state.Drawdown().Mul(hundred).GreaterThanOrEqual(g.cfg.MaxDrawdownPct)
}

// dailyReset rebases the day. Only DAILY_LOSS_BREACHED clears here.
func (g *AccountGuard) dailyReset(balance decimal.Decimal, now time.Time) {
	g.state.StartingBalance = balance
	g.state.LastReset = now
	g.nextReset = g.resetAfter(now)

	if g.state.Status == StatusDailyLossBreached {
		if g.state.ManualHold {
			g.state.ManualHold = false
			g.transition(StatusManuallyStopped, "daily reset, operator stop still held", now)
		} else {
			g.transition(StatusActive, "daily reset", now)
		}
	}
	log.Info().
		Str("start", balance.StringFixed(2)).
		Str("status", string(g.state.Status)).
		Time("next_reset", g.nextReset).
		Msg("🔄 Daily account reset")
}

// resetAfter returns the first scheduled reset strictly after t
func (g *AccountGuard) resetAfter(t time.Time) time.Time {
	local := t.In(g.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), g.cfg.ResetHour, g.cfg.ResetMinute, 0, 0, g.cfg.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (g *AccountGuard) transition(to AccountStatus, reason string, now time.Time) {
	g.state.Status = to
	g.state.Reason = reason
	g.state.ChangedAt = now
}

// Stop sets MANUALLY_STOPPED. Only Resume clears it. A breached account keeps
// its breach status and only gains ManualHold.
func (g *AccountGuard) Stop(reason string) {
	g.mu.Lock()
	if reason == "" {
		reason = "operator stop"
	}
	var changed bool
	if g.state.Breached() {
		changed = !g.state.ManualHold
		g.state.ManualHold = true
	} else {
		changed = g.state.Status != StatusManuallyStopped
		g.transition(StatusManuallyStopped, reason, g.now())
	}
	state, onChange := g.state, g.onChange
	g.mu.Unlock()

	log.Warn().Str("reason", reason).Str("status", string(state.Status)).Msg("⏸️ Account manually stopped")
	if changed && onChange != nil {
		onChange(state)
	}
}

// Resume clears MANUALLY_STOPPED or DRAWDOWN_BREACHED. A drawdown resume rebases
// the peak to the current balance. DAILY_LOSS_BREACHED only clears at the daily
// reset; resuming it drops the manual hold and still returns an error.
func (g *AccountGuard) Resume() error {
	g.mu.Lock()
	switch g.state.Status {
	case StatusActive:
		g.mu.Unlock()
		return nil
	case StatusDailyLossBreached:
		g.state.ManualHold = false
		next := g.nextReset
		g.mu.Unlock()
		return fmt.Errorf("daily loss breach clears at next reset (%s)", next.Format(time.RFC3339))
	case StatusDrawdownBreached:
		g.state.PeakBalance = g.state.CurrentBalance
	}
	g.state.ManualHold = false
	g.transition(StatusActive, "operator resume", g.now())
	state, onChange := g.state, g.onChange
	g.mu.Unlock()

	log.Info().Str("peak", state.PeakBalance.StringFixed(2)).Msg("▶️ Account resumed")
	if onChange != nil {
		onChange(state)
	}
	return nil
}

// Snapshot returns a copy of the current state
func (g *AccountGuard) Snapshot() AccountState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Status returns the current status
func (g *AccountGuard) Status() AccountStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Status
}

// CanEnter reports whether new entries are allowed
func (g *AccountGuard) CanEnter() bool {
	return g.Status() == StatusActive
}
