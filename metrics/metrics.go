package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - Prometheus collectors fed from the event bus
// ═══════════════════════════════════════════════════════════════════════════════

// Collector owns every tradeguard metric
type Collector struct {
	reg *prometheus.Registry

	suppressed   *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	placed       *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	exits        *prometheus.CounterVec
	restrictions *prometheus.CounterVec
	restricted   *prometheus.GaugeVec
	targets      *prometheus.CounterVec
	stopMoves    *prometheus.CounterVec
	closed       *prometheus.CounterVec
	breaches     *prometheus.CounterVec
}

// NewCollector creates and registers the metrics on a fresh registry.
// account feeds the P&L and drawdown gauges at scrape time; nil omits them.
func NewCollector(account func() risk.AccountState) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),

		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_entries_suppressed_total",
			Help: "Entries removed by the duplicate filter",
		}, []string{"symbol", "strategy"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_entries_skipped_total",
			Help: "Entries skipped for missing data, calculation failures or blocks",
		}, []string{"symbol", "strategy"}),
		placed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_orders_placed_total",
			Help: "Orders accepted by the broker",
		}, []string{"symbol", "strategy"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_orders_rejected_total",
			Help: "Broker rejections",
		}, []string{"symbol", "strategy"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_exits_executed_total",
			Help: "Positions closed by exit signals",
		}, []string{"symbol", "strategy"}),
		restrictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_restriction_transitions_total",
			Help: "Restriction state transitions",
		}, []string{"symbol", "state"}),
		restricted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tradeguard_symbol_restricted",
			Help: "1 while the symbol is restricted",
		}, []string{"symbol"}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_tp_hits_total",
			Help: "Take-profit targets executed",
		}, []string{"symbol"}),
		stopMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_stop_moves_total",
			Help: "Stop-loss modifications",
		}, []string{"symbol", "reason"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_positions_closed_total",
			Help: "Positions closed by the monitor or a flatten",
		}, []string{"symbol"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_account_breaches_total",
			Help: "Account stop-loss breaches",
		}, []string{"status"}),
	}

	c.reg.MustRegister(
		c.suppressed, c.skipped, c.placed, c.rejected, c.exits,
		c.restrictions, c.restricted, c.targets, c.stopMoves, c.closed,
		c.breaches,
	)

	if account != nil {
		c.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "tradeguard_daily_pnl",
				Help: "Balance change since the last daily reset",
			}, func() float64 { return account().DailyPnL().InexactFloat64() }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "tradeguard_drawdown_ratio",
				Help: "Drawdown from peak balance as a fraction",
			}, func() float64 { return account().Drawdown().InexactFloat64() }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "tradeguard_balance",
				Help: "Last observed account balance",
			}, func() float64 { return account().CurrentBalance.InexactFloat64() }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "tradeguard_account_active",
				Help: "1 while new entries are allowed at account level",
			}, func() float64 {
				if account().Status == risk.StatusActive {
					return 1
				}
				return 0
			}),
		)
	}
	return c
}

// Registry exposes the registry for tests and extra collectors
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Observe updates metrics from one event
func (c *Collector) Observe(e events.Event) {
	switch e.Type {
	case events.EntrySuppressed:
		c.suppressed.WithLabelValues(e.Symbol, e.Strategy).Inc()
	case events.EntrySkipped:
		c.skipped.WithLabelValues(e.Symbol, e.Strategy).Inc()
	case events.OrderPlaced:
		c.placed.WithLabelValues(e.Symbol, e.Strategy).Inc()
	case events.OrderRejected:
		c.rejected.WithLabelValues(e.Symbol, e.Strategy).Inc()
	case events.ExitExecuted:
		c.exits.WithLabelValues(e.Symbol, e.Strategy).Inc()
	case events.RestrictionChanged:
		c.restrictions.WithLabelValues(e.Symbol, e.Status).Inc()
		v := 0.0
		if e.Status == string(restriction.Restricted) {
			v = 1
		}
		c.restricted.WithLabelValues(e.Symbol).Set(v)
	case events.TargetHit:
		c.targets.WithLabelValues(e.Symbol).Inc()
	case events.StopLossMoved:
		c.stopMoves.WithLabelValues(e.Symbol, e.Reason).Inc()
	case events.PositionClosed:
		c.closed.WithLabelValues(e.Symbol).Inc()
	case events.AccountBreach:
		c.breaches.WithLabelValues(e.Status).Inc()
	}
}

// Run drains sub until ctx is done or the subscription closes
func (c *Collector) Run(ctx context.Context, sub *events.Subscription) {
	log.Info().Msg("📈 Metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
