// Package config defines the top-level configuration for the R-25 trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by R25_* environment variables.
type Config struct {
	Deriv    DerivConfig    `toml:"deriv"`
	Symbols  []string       `toml:"symbols"`
	Risk     RiskConfig     `toml:"risk"`
	Trade    TradeConfig    `toml:"trade"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Strategy StrategyConfig `toml:"strategy"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// DerivConfig holds Deriv WebSocket API endpoints and credentials.
type DerivConfig struct {
	WSHost         string   `toml:"ws_host"`
	AppID          string   `toml:"app_id"`
	APIToken       string   `toml:"api_token"`
	RequestTimeout duration `toml:"request_timeout"`
	FetchRetries   int      `toml:"fetch_retries"`
}

// RiskConfig holds the portfolio-wide risk limits enforced by the risk guard.
type RiskConfig struct {
	MaxDailyLoss       float64  `toml:"max_daily_loss"`
	CooldownAfterLosses int     `toml:"cooldown_after_losses"`
	Cooldown           duration `toml:"cooldown"`
	MaxTradesPerWindow int      `toml:"max_trades_per_window"`
	FrequencyWindow    duration `toml:"frequency_window"`
	DailyResetTimezone string   `toml:"daily_reset_timezone"`
}

// TradeConfig holds per-trade sizing and monitoring parameters.
type TradeConfig struct {
	Stake              float64  `toml:"stake"`
	Multiplier         int      `toml:"multiplier"`
	TakeProfitPercent  float64  `toml:"take_profit_percent"`
	StopLossPercent    float64  `toml:"stop_loss_percent"`
	MonitorInterval    duration `toml:"monitor_interval"`
	MonitorRetries     int      `toml:"monitor_retries"`
	MonitorBackoffBase duration `toml:"monitor_backoff_base"`
	MaxTradeDuration   duration `toml:"max_trade_duration"`
}

// ScannerConfig holds the scan orchestrator cadence parameters.
type ScannerConfig struct {
	CycleInterval   duration `toml:"cycle_interval"`
	EvaluateTimeout duration `toml:"evaluate_timeout"`
	EventBufferSize int      `toml:"event_buffer_size"`
}

// StrategyConfig holds signal-engine parameters.
type StrategyConfig struct {
	Name            string `toml:"name"`
	TrendCandles    int    `toml:"trend_candles"`
	MinCandles      int    `toml:"min_candles"`
	ConfirmCandles  int    `toml:"confirm_candles"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade journal.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the risk-state snapshot.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for trade archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Deriv: DerivConfig{
			WSHost:         "wss://ws.derivws.com/websockets/v3",
			AppID:          "1089",
			RequestTimeout: duration{15 * time.Second},
			FetchRetries:   3,
		},
		Symbols: []string{"R_25"},
		Risk: RiskConfig{
			MaxDailyLoss:        100.0,
			CooldownAfterLosses: 3,
			Cooldown:            duration{30 * time.Minute},
			MaxTradesPerWindow:  10,
			FrequencyWindow:     duration{24 * time.Hour},
			DailyResetTimezone:  "UTC",
		},
		Trade: TradeConfig{
			Stake:              10.0,
			Multiplier:         100,
			TakeProfitPercent:  15.0,
			StopLossPercent:    5.0,
			MonitorInterval:    duration{5 * time.Second},
			MonitorRetries:     5,
			MonitorBackoffBase: duration{2 * time.Second},
			MaxTradeDuration:   duration{time.Hour},
		},
		Scanner: ScannerConfig{
			CycleInterval:   duration{time.Minute},
			EvaluateTimeout: duration{10 * time.Second},
			EventBufferSize: 256,
		},
		Strategy: StrategyConfig{
			Name:           "trend_follow",
			TrendCandles:   20,
			MinCandles:     30,
			ConfirmCandles: 2,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "r25bot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "r25bot-archive",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{"TRADE_OPENED", "TRADE_CLOSED", "BOT_STATE_CHANGED", "RECONCILIATION_ACTION"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. A validation failure must
// prevent the bot from entering RUNNING.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Deriv
	if c.Deriv.WSHost == "" {
		errs = append(errs, "deriv: ws_host must not be empty")
	}
	if c.Deriv.AppID == "" {
		errs = append(errs, "deriv: app_id must not be empty")
	}
	if c.Deriv.APIToken == "" {
		errs = append(errs, "deriv: api_token must not be empty")
	}
	if c.Deriv.RequestTimeout.Duration <= 0 {
		errs = append(errs, "deriv: request_timeout must be positive")
	}
	if c.Deriv.FetchRetries < 1 {
		errs = append(errs, "deriv: fetch_retries must be >= 1")
	}

	// Symbols
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol must be configured")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "symbols: empty symbol name")
			continue
		}
		if seen[s] {
			errs = append(errs, fmt.Sprintf("symbols: duplicate symbol %q", s))
		}
		seen[s] = true
	}

	// Risk
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0")
	}
	if c.Risk.CooldownAfterLosses < 1 {
		errs = append(errs, "risk: cooldown_after_losses must be >= 1")
	}
	if c.Risk.Cooldown.Duration <= 0 {
		errs = append(errs, "risk: cooldown must be positive")
	}
	if c.Risk.MaxTradesPerWindow < 1 {
		errs = append(errs, "risk: max_trades_per_window must be >= 1")
	}
	if c.Risk.FrequencyWindow.Duration <= 0 {
		errs = append(errs, "risk: frequency_window must be positive")
	}
	if _, err := time.LoadLocation(c.Risk.DailyResetTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("risk: invalid daily_reset_timezone %q", c.Risk.DailyResetTimezone))
	}

	// Trade
	if c.Trade.Stake <= 0 {
		errs = append(errs, "trade: stake must be > 0")
	}
	if c.Trade.Multiplier < 1 {
		errs = append(errs, "trade: multiplier must be >= 1")
	}
	if c.Trade.TakeProfitPercent <= 0 {
		errs = append(errs, "trade: take_profit_percent must be > 0")
	}
	if c.Trade.StopLossPercent <= 0 {
		errs = append(errs, "trade: stop_loss_percent must be > 0")
	}
	if c.Trade.MonitorInterval.Duration <= 0 {
		errs = append(errs, "trade: monitor_interval must be positive")
	}
	if c.Trade.MonitorRetries < 1 {
		errs = append(errs, "trade: monitor_retries must be >= 1")
	}

	// Scanner
	if c.Scanner.CycleInterval.Duration <= 0 {
		errs = append(errs, "scanner: cycle_interval must be positive")
	}
	if c.Scanner.EvaluateTimeout.Duration <= 0 {
		errs = append(errs, "scanner: evaluate_timeout must be positive")
	}
	if c.Scanner.EventBufferSize < 1 {
		errs = append(errs, "scanner: event_buffer_size must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
