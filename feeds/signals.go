package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/strategy"
	"github.com/web3guy0/tradeguard/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REDIS SIGNALS - Signal inbox and market context
// ═══════════════════════════════════════════════════════════════════════════════
//
// Channels:
//   signals: {strategy_name, symbol, direction, entry_price?, exit?, reason?}
//   market:  {symbol, price, indicators:{atr:..}} snapshot
//            or {symbol, timeframe?, open, high, low, close} bar → ATR
//
// ═══════════════════════════════════════════════════════════════════════════════

// Sink receives decoded signals and market data
type Sink interface {
	Submit(sig *strategy.Signal) error
	UpdateMarket(md types.MarketData)
}

// RedisConfig names the channels
type RedisConfig struct {
	SignalChannel string
	MarketChannel string // empty disables market updates
	ATRPeriod     int
}

// RedisSignals subscribes to Redis pub/sub and feeds the engine
type RedisSignals struct {
	rdb  *redis.Client
	cfg  RedisConfig
	sink Sink
	now  func() time.Time

	mu     sync.Mutex
	atr    map[string]*ATRTracker // symbol/timeframe
	latest map[string]types.MarketData

	received atomic.Int64
	invalid  atomic.Int64
}

// NewRedisSignals creates the feed
func NewRedisSignals(rdb *redis.Client, cfg RedisConfig, sink Sink) *RedisSignals {
	if cfg.SignalChannel == "" {
		cfg.SignalChannel = "tradeguard:signals"
	}
	return &RedisSignals{
		rdb:    rdb,
		cfg:    cfg,
		sink:   sink,
		now:    time.Now,
		atr:    make(map[string]*ATRTracker),
		latest: make(map[string]types.MarketData),
	}
}

// SetClock overrides time.Now for signals without a timestamp
func (f *RedisSignals) SetClock(now func() time.Time) {
	f.now = now
}

// Run subscribes and dispatches until ctx is done
func (f *RedisSignals) Run(ctx context.Context) error {
	channels := []string{f.cfg.SignalChannel}
	if f.cfg.MarketChannel != "" {
		channels = append(channels, f.cfg.MarketChannel)
	}

	pubsub := f.rdb.Subscribe(ctx, channels...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", strings.Join(channels, ","), err)
	}
	log.Info().Strs("channels", channels).Msg("📡 Redis signal feed started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			if err := f.Handle(msg.Channel, []byte(msg.Payload)); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("Feed message dropped")
			}
		}
	}
}

// Handle decodes one message from channel
func (f *RedisSignals) Handle(channel string, payload []byte) error {
	if channel == f.cfg.MarketChannel && channel != "" {
		return f.handleMarket(payload)
	}

	f.received.Add(1)
	sig, err := DecodeSignal(payload, f.now())
	if err != nil {
		f.invalid.Add(1)
		return err
	}
	log.Debug().
		Str("strategy", sig.Strategy).
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Bool("exit", sig.Exit).
		Msg("📥 Signal received")
	return f.sink.Submit(sig)
}

// Stats returns received and invalid signal counts
func (f *RedisSignals) Stats() (received, invalid int64) {
	return f.received.Load(), f.invalid.Load()
}

type signalMsg struct {
	Strategy  string          `json:"strategy_name"`
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"`
	Entry     decimal.Decimal `json:"entry_price"`
	Exit      bool            `json:"exit"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeSignal parses and validates one signal; missing timestamps get now
func DecodeSignal(payload []byte, now time.Time) (*strategy.Signal, error) {
	var m signalMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	dir, err := types.ParseDirection(m.Direction)
	if err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}

	b := strategy.NewSignal().
		Strategy(m.Strategy).
		Symbol(strings.ToUpper(m.Symbol)).
		Entry(m.Entry).
		Reason(m.Reason).
		At(m.Timestamp)
	if dir == types.Short {
		b.Short()
	}
	if m.Exit {
		b.Exit()
	}

	sig := b.Build()
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	return sig, nil
}

type marketMsg struct {
	Symbol     string                     `json:"symbol"`
	Price      decimal.Decimal            `json:"price"`
	Indicators map[string]decimal.Decimal `json:"indicators"`
	Time       time.Time                  `json:"time"`

	// Bar fields
	Timeframe string          `json:"timeframe"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
}

func (f *RedisSignals) handleMarket(payload []byte) error {
	var m marketMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("decode market data: %w", err)
	}
	if m.Symbol == "" {
		return fmt.Errorf("market data missing symbol")
	}
	if m.Time.IsZero() {
		m.Time = f.now()
	}
	symbol := strings.ToUpper(m.Symbol)

	f.mu.Lock()
	md, ok := f.latest[symbol]
	if !ok {
		md = types.MarketData{Symbol: symbol}
	}
	// Copy so the engine never shares our map
	ind := make(map[string]decimal.Decimal, len(md.Indicators)+len(m.Indicators)+1)
	for k, v := range md.Indicators {
		ind[k] = v
	}

	if !m.High.IsZero() || !m.Low.IsZero() {
		bar := Bar{Symbol: symbol, Timeframe: strings.ToLower(m.Timeframe), Open: m.Open, High: m.High, Low: m.Low, Close: m.Close, Time: m.Time}
		key := symbol + "/" + bar.Timeframe
		t, ok := f.atr[key]
		if !ok {
			t = NewATRTracker(f.cfg.ATRPeriod)
			f.atr[key] = t
		}
		t.Update(bar)
		ind[IndicatorName(bar.Timeframe)] = t.ATR()
		if m.Price.IsZero() {
			md.Price = bar.Close
		}
	}
	if !m.Price.IsZero() {
		md.Price = m.Price
	}
	for k, v := range m.Indicators {
		ind[strings.ToLower(k)] = v
	}
	md.Indicators = ind
	md.Time = m.Time
	f.latest[symbol] = md
	f.mu.Unlock()

	f.sink.UpdateMarket(md)
	return nil
}
