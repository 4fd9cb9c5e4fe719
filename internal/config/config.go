package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
	"github.com/web3guy0/tradeguard/types"
)

// Config holds all configuration for the engine
type Config struct {
	Mode          string `toml:"mode"` // paper | live
	Debug         bool   `toml:"debug"`
	AccountType   string `toml:"account_type"`
	StrategiesDir string `toml:"strategies_dir"`

	Engine   EngineConfig   `toml:"engine"`
	Guard    GuardConfig    `toml:"guard"`
	Broker   BrokerConfig   `toml:"broker"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Telegram TelegramConfig `toml:"telegram"`
	HTTP     HTTPConfig     `toml:"http"`

	Symbols []SymbolConfig `toml:"symbols"`
}

// EngineConfig holds loop timing
type EngineConfig struct {
	CycleInterval   duration `toml:"cycle_interval"`
	MonitorInterval duration `toml:"monitor_interval"`
	AccountInterval duration `toml:"account_interval"`
	InboxSize       int      `toml:"inbox_size"`
	EventBuffer     int      `toml:"event_buffer"`
}

// GuardConfig is the account stop-loss block
type GuardConfig struct {
	DailyLossLimit float64 `toml:"daily_loss_limit"`
	MaxDrawdownPct float64 `toml:"max_drawdown_pct"`
	ResetTime      string  `toml:"reset_time"` // HH:MM
	Timezone       string  `toml:"timezone"`
	CloseOnBreach  bool    `toml:"close_on_breach"`
}

// BrokerConfig selects the gateway
type BrokerConfig struct {
	URL          string   `toml:"url"`
	APIKey       string   `toml:"api_key"`
	APISecret    string   `toml:"api_secret"`
	Timeout      duration `toml:"timeout"`
	PaperBalance float64  `toml:"paper_balance"`
}

// DatabaseConfig - postgres:// DSN or SQLite path
type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// RedisConfig for the signal inbox and event forwarding; empty Addr disables Redis
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	SignalChannel string `toml:"signal_channel"`
	MarketChannel string `toml:"market_channel"`
	EventChannel  string `toml:"event_channel"`
	EventStream   string `toml:"event_stream"`
	ATRPeriod     int    `toml:"atr_period"`
}

// TelegramConfig for alerts and operator commands
type TelegramConfig struct {
	Token  string `toml:"token"`
	ChatID int64  `toml:"chat_id"`
	Quiet  bool   `toml:"quiet"`
}

// HTTPConfig serves /metrics, /ws and /status; empty Addr disables it
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// SymbolConfig is one traded symbol with its restriction rules
type SymbolConfig struct {
	Symbol      string         `toml:"symbol"`
	PipSize     float64        `toml:"pip_size"`
	PipValue    float64        `toml:"pip_value"`
	VolumeStep  float64        `toml:"volume_step"`
	MinVolume   float64        `toml:"min_volume"`
	News        []NewsConfig   `toml:"news"`
	MarketClose *CloseConfig   `toml:"market_close"`
	Manual      []ManualConfig `toml:"manual"`
}

// NewsConfig is one scheduled event
type NewsConfig struct {
	Name          string    `toml:"name"`
	Time          time.Time `toml:"time"`
	WindowMinutes int       `toml:"window_minutes"`
}

// CloseConfig is the daily market close
type CloseConfig struct {
	Time          string `toml:"time"` // HH:MM
	Timezone      string `toml:"timezone"`
	WindowMinutes int    `toml:"window_minutes"`
}

// ManualConfig is an operator suspension interval
type ManualConfig struct {
	Start  time.Time `toml:"start"`
	End    time.Time `toml:"end"`
	Reason string    `toml:"reason"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a paper-trading config that runs without external services
func Defaults() Config {
	return Config{
		Mode:          "paper",
		AccountType:   string(restriction.AccountDaily),
		StrategiesDir: "strategies",
		Engine: EngineConfig{
			CycleInterval:   duration{time.Second},
			MonitorInterval: duration{300 * time.Millisecond},
			AccountInterval: duration{5 * time.Second},
			InboxSize:       64,
			EventBuffer:     256,
		},
		Guard: GuardConfig{
			ResetTime:     "00:00",
			Timezone:      "UTC",
			CloseOnBreach: true,
		},
		Broker: BrokerConfig{
			Timeout:      duration{10 * time.Second},
			PaperBalance: 10000,
		},
		Database: DatabaseConfig{DSN: "data/tradeguard.db"},
		Redis: RedisConfig{
			SignalChannel: "tradeguard:signals",
			MarketChannel: "tradeguard:market",
			EventChannel:  "tradeguard:events",
			EventStream:   "tradeguard:journal",
			ATRPeriod:     14,
		},
	}
}

// Validate checks cross-field rules
func (c *Config) Validate() error {
	switch c.Mode {
	case "paper":
	case "live":
		if c.Broker.URL == "" {
			return fmt.Errorf("config: live mode requires broker.url")
		}
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	if _, err := c.Account(); err != nil {
		return err
	}
	if _, err := c.Risk(); err != nil {
		return err
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols configured")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		name := strings.ToUpper(s.Symbol)
		if name == "" {
			return fmt.Errorf("config: symbol without name")
		}
		if seen[name] {
			return fmt.Errorf("config: symbol %s configured twice", name)
		}
		seen[name] = true
		if s.PipSize <= 0 || s.PipValue <= 0 {
			return fmt.Errorf("config: %s needs positive pip_size and pip_value", name)
		}
		if _, err := s.Rules(); err != nil {
			return err
		}
	}
	return nil
}

// IsLive reports whether orders go to a real broker
func (c *Config) IsLive() bool { return c.Mode == "live" }

// Account parses account_type
func (c *Config) Account() (restriction.AccountType, error) {
	switch t := restriction.AccountType(strings.ToLower(c.AccountType)); t {
	case restriction.AccountDaily, restriction.AccountSwing:
		return t, nil
	}
	return "", fmt.Errorf("config: unknown account_type %q", c.AccountType)
}

// Risk builds the account guard config
func (c *Config) Risk() (risk.GuardConfig, error) {
	loc, err := time.LoadLocation(c.Guard.Timezone)
	if err != nil {
		return risk.GuardConfig{}, fmt.Errorf("config: guard timezone: %w", err)
	}
	h, m, err := parseClock(c.Guard.ResetTime)
	if err != nil {
		return risk.GuardConfig{}, fmt.Errorf("config: guard reset_time: %w", err)
	}
	if c.Guard.DailyLossLimit < 0 || c.Guard.MaxDrawdownPct < 0 || c.Guard.MaxDrawdownPct > 100 {
		return risk.GuardConfig{}, fmt.Errorf("config: guard limits out of range")
	}
	return risk.GuardConfig{
		DailyLossLimit: decimal.NewFromFloat(c.Guard.DailyLossLimit),
		MaxDrawdownPct: decimal.NewFromFloat(c.Guard.MaxDrawdownPct),
		ResetHour:      h,
		ResetMinute:    m,
		Location:       loc,
		CloseOnBreach:  c.Guard.CloseOnBreach,
	}, nil
}

// Specs returns every symbol spec by name
func (c *Config) Specs() map[string]types.SymbolSpec {
	specs := make(map[string]types.SymbolSpec, len(c.Symbols))
	for _, s := range c.Symbols {
		spec := s.Spec()
		specs[spec.Symbol] = spec
	}
	return specs
}

// Spec converts to the domain spec
func (s SymbolConfig) Spec() types.SymbolSpec {
	return types.SymbolSpec{
		Symbol:     strings.ToUpper(s.Symbol),
		PipSize:    decimal.NewFromFloat(s.PipSize),
		PipValue:   decimal.NewFromFloat(s.PipValue),
		VolumeStep: decimal.NewFromFloat(s.VolumeStep),
		MinVolume:  decimal.NewFromFloat(s.MinVolume),
	}
}

// Rules converts the restriction blocks
func (s SymbolConfig) Rules() (restriction.Rules, error) {
	var r restriction.Rules
	for _, n := range s.News {
		if n.Time.IsZero() || n.WindowMinutes <= 0 {
			return r, fmt.Errorf("config: %s news %q needs time and window_minutes", s.Symbol, n.Name)
		}
		r.News = append(r.News, restriction.NewsWindow{
			Name:      n.Name,
			EventTime: n.Time,
			Window:    time.Duration(n.WindowMinutes) * time.Minute,
		})
	}
	if mc := s.MarketClose; mc != nil {
		h, m, err := parseClock(mc.Time)
		if err != nil {
			return r, fmt.Errorf("config: %s market_close: %w", s.Symbol, err)
		}
		tz := mc.Timezone
		if tz == "" {
			tz = "UTC"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return r, fmt.Errorf("config: %s market_close timezone: %w", s.Symbol, err)
		}
		if mc.WindowMinutes <= 0 {
			return r, fmt.Errorf("config: %s market_close needs window_minutes", s.Symbol)
		}
		r.Close = &restriction.MarketClose{
			Hour:     h,
			Minute:   m,
			Window:   time.Duration(mc.WindowMinutes) * time.Minute,
			Location: loc,
		}
	}
	for _, w := range s.Manual {
		if !w.End.After(w.Start) {
			return r, fmt.Errorf("config: %s manual window ends before it starts", s.Symbol)
		}
		r.Manual = append(r.Manual, restriction.ManualWindow{Start: w.Start, End: w.End, Reason: w.Reason})
	}
	return r, nil
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
