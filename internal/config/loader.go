package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults(), then .env, then
// TRADEGUARD_* environment overrides. An empty path skips the file.
// The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s: unknown keys %v", path, undecoded)
		}
	}

	// Missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and endpoints at deploy time
func applyEnvOverrides(cfg *Config) {
	cfg.Mode = getEnv("TRADEGUARD_MODE", cfg.Mode)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.AccountType = getEnv("TRADEGUARD_ACCOUNT_TYPE", cfg.AccountType)
	cfg.StrategiesDir = getEnv("TRADEGUARD_STRATEGIES_DIR", cfg.StrategiesDir)

	// Engine
	cfg.Engine.CycleInterval.Duration = getEnvDuration("TRADEGUARD_CYCLE_INTERVAL", cfg.Engine.CycleInterval.Duration)
	cfg.Engine.AccountInterval.Duration = getEnvDuration("TRADEGUARD_ACCOUNT_INTERVAL", cfg.Engine.AccountInterval.Duration)

	// Guard
	cfg.Guard.DailyLossLimit = getEnvFloat("TRADEGUARD_DAILY_LOSS_LIMIT", cfg.Guard.DailyLossLimit)
	cfg.Guard.MaxDrawdownPct = getEnvFloat("TRADEGUARD_MAX_DRAWDOWN_PCT", cfg.Guard.MaxDrawdownPct)
	cfg.Guard.CloseOnBreach = getEnvBool("TRADEGUARD_CLOSE_ON_BREACH", cfg.Guard.CloseOnBreach)

	// Broker
	cfg.Broker.URL = getEnv("TRADEGUARD_BROKER_URL", cfg.Broker.URL)
	cfg.Broker.APIKey = getEnv("TRADEGUARD_BROKER_API_KEY", cfg.Broker.APIKey)
	cfg.Broker.APISecret = getEnv("TRADEGUARD_BROKER_API_SECRET", cfg.Broker.APISecret)
	cfg.Broker.PaperBalance = getEnvFloat("TRADEGUARD_PAPER_BALANCE", cfg.Broker.PaperBalance)

	// Database
	cfg.Database.DSN = getEnv("TRADEGUARD_DATABASE_DSN", cfg.Database.DSN)
	cfg.Database.DSN = getEnv("DATABASE_URL", cfg.Database.DSN)

	// Redis
	cfg.Redis.Addr = getEnv("TRADEGUARD_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("TRADEGUARD_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("TRADEGUARD_REDIS_DB", cfg.Redis.DB)

	// Telegram
	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.ChatID = getEnvInt64("TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)

	// HTTP
	cfg.HTTP.Addr = getEnv("TRADEGUARD_HTTP_ADDR", cfg.HTTP.Addr)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
