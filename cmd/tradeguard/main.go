// Tradeguard - Risk-managed order execution engine
//
// Receives entry/exit signals from strategies and turns them into broker
// orders through a fixed pipeline:
//  1. Risk calculators size the trade and price its stop and targets
//  2. Restrictions hold new entries around news, market close and manual windows
//  3. The duplicate filter drops entries that already have a live position
//  4. The executor splits and places orders; the monitor manages targets and stops
//  5. The account guard halts everything on a daily loss or drawdown breach
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/tradeguard/bot"
	"github.com/web3guy0/tradeguard/broker"
	"github.com/web3guy0/tradeguard/core"
	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/execution"
	"github.com/web3guy0/tradeguard/feeds"
	"github.com/web3guy0/tradeguard/internal/config"
	"github.com/web3guy0/tradeguard/metrics"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/storage"
	"github.com/web3guy0/tradeguard/strategy"
	"github.com/web3guy0/tradeguard/types"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "tradeguard.toml", "engine config file (TOML)")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("config", path).Msg("Config file not found, using defaults and environment")
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", version).
		Str("mode", cfg.Mode).
		Str("account", cfg.AccountType).
		Int("symbols", len(cfg.Symbols)).
		Msg("🛡️ Tradeguard starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Tradeguard stopped with error")
	}
	log.Info().Msg("👋 Goodbye!")
}

func run(ctx context.Context, cfg *config.Config) error {
	specs := cfg.Specs()
	account, _ := cfg.Account()
	guardCfg, _ := cfg.Risk()

	// ====== STRATEGIES ======

	builder := strategy.NewDecisionBuilder(specs)
	files, rejected, err := config.LoadStrategies(cfg.StrategiesDir)
	if err != nil {
		return err
	}
	execBySymbol := make(map[string]map[string]execution.Config, len(specs))
	for _, sf := range files {
		if err := builder.Register(sf.Name, sf.Symbols, sf.Timeframes, sf.OrderKind, sf.Risk); err != nil {
			continue
		}
		def, _ := builder.Strategy(sf.Name)
		for symbol := range specs {
			if !def.Trades(symbol) {
				continue
			}
			if execBySymbol[symbol] == nil {
				execBySymbol[symbol] = make(map[string]execution.Config)
			}
			execBySymbol[symbol][sf.Name] = sf.Execution
		}
	}
	if len(builder.Names()) == 0 {
		return fmt.Errorf("no valid strategies in %s (%d rejected)", cfg.StrategiesDir, len(rejected))
	}

	// ====== CORE COMPONENTS ======

	// 1. Broker gateway
	var gw broker.Gateway
	var paper *broker.Paper
	if cfg.IsLive() {
		gw = broker.NewREST(cfg.Broker.URL, cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.Timeout.Duration)
	} else {
		paper = broker.NewPaper(decimal.NewFromFloat(cfg.Broker.PaperBalance), specs)
		gw = paper
		log.Info().Float64("balance", cfg.Broker.PaperBalance).Msg("📝 Paper trading mode")
	}

	// 2. Event bus
	bus := events.NewBus(cfg.Engine.EventBuffer)
	defer bus.Close()

	// 3. Account guard + engine
	guard := risk.NewAccountGuard(guardCfg)
	engine := core.NewEngine(core.EngineConfig{AccountInterval: cfg.Engine.AccountInterval.Duration}, gw, builder, guard, bus)

	// 4. Database
	db, err := storage.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	engine.SetStore(db)

	// 5. Symbols
	for _, sc := range cfg.Symbols {
		rules, _ := sc.Rules()
		spec := sc.Spec()
		if _, err := engine.AddSymbol(core.WorkerConfig{
			Spec:            spec,
			Rules:           rules,
			Account:         account,
			Execution:       execBySymbol[spec.Symbol],
			CycleInterval:   cfg.Engine.CycleInterval.Duration,
			MonitorInterval: cfg.Engine.MonitorInterval.Duration,
			InboxSize:       cfg.Engine.InboxSize,
		}); err != nil {
			return err
		}
	}

	// 6. Recover persisted state before any worker runs
	if _, err := core.NewReconciler(engine, db).Recover(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// ====== OBSERVERS ======

	journalSub := bus.Subscribe("journal")
	g.Go(func() error {
		db.Journal(gctx, journalSub)
		return nil
	})

	collector := metrics.NewCollector(guard.Snapshot)
	metricsSub := bus.Subscribe("metrics")
	g.Go(func() error {
		collector.Run(gctx, metricsSub)
		return nil
	})

	hub := events.NewHub()
	hubSub := bus.Subscribe("websocket")
	g.Go(func() error {
		hub.Run(gctx, hubSub)
		return nil
	})

	if cfg.HTTP.Addr != "" {
		srv := newHTTPServer(cfg.HTTP.Addr, collector, hub, engine)
		g.Go(func() error {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("🌐 HTTP server listening (/metrics, /ws, /status)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ====== SIGNAL SOURCES ======

	var sink feeds.Sink = engine
	if paper != nil {
		sink = paperSink{Engine: engine, paper: paper}
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("🔴 Redis connected")

		feed := feeds.NewRedisSignals(rdb, feeds.RedisConfig{
			SignalChannel: cfg.Redis.SignalChannel,
			MarketChannel: cfg.Redis.MarketChannel,
			ATRPeriod:     cfg.Redis.ATRPeriod,
		}, sink)
		g.Go(func() error { return feed.Run(gctx) })

		if cfg.Redis.EventChannel != "" {
			fwd := events.NewRedisForwarder(rdb, cfg.Redis.EventChannel, cfg.Redis.EventStream)
			fwdSub := bus.Subscribe("redis")
			g.Go(func() error {
				fwd.Run(gctx, fwdSub)
				return nil
			})
		}
	} else {
		log.Warn().Msg("⚠️ No Redis address - signal inbox disabled")
	}

	// ====== OPERATOR ======

	if cfg.Telegram.Token != "" {
		tg, err := bot.NewTelegramBot(cfg.Telegram.Token, cfg.Telegram.ChatID, engine)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		} else {
			tg.SetQuiet(cfg.Telegram.Quiet)
			tgSub := bus.Subscribe("telegram")
			g.Go(func() error { return tg.Run(gctx, tgSub) })
			tg.NotifyStartup(cfg.Mode)
		}
	}

	// ====== ENGINE ======

	g.Go(func() error { return engine.Run(gctx) })

	err = g.Wait()

	fmt.Fprintln(os.Stdout, renderStatus(engine.Status()))
	published, dropped := bus.Stats()
	log.Info().Int64("published", published).Int64("dropped", dropped).Msg("📊 Event bus totals")
	return err
}

// paperSink also moves simulated prices so paper positions hit their levels
type paperSink struct {
	*core.Engine
	paper *broker.Paper
}

func (s paperSink) UpdateMarket(md types.MarketData) {
	if !md.Price.IsZero() {
		s.paper.SetPrice(md.Symbol, md.Price)
	}
	s.Engine.UpdateMarket(md)
}

func newHTTPServer(addr string, collector *metrics.Collector, hub *events.Hub, engine *core.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/ws", hub)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(engine.Status()); err != nil {
			log.Warn().Err(err).Msg("Failed to encode status")
		}
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
