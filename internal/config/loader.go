package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies R25_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known R25_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Deriv ──
	setStr(&cfg.Deriv.WSHost, "R25_DERIV_WS_HOST")
	setStr(&cfg.Deriv.AppID, "R25_DERIV_APP_ID")
	setStr(&cfg.Deriv.APIToken, "R25_DERIV_API_TOKEN")
	setDuration(&cfg.Deriv.RequestTimeout, "R25_DERIV_REQUEST_TIMEOUT")
	setInt(&cfg.Deriv.FetchRetries, "R25_DERIV_FETCH_RETRIES")

	// ── Symbols ──
	setStringSlice(&cfg.Symbols, "R25_SYMBOLS")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDailyLoss, "R25_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.CooldownAfterLosses, "R25_RISK_COOLDOWN_AFTER_LOSSES")
	setDuration(&cfg.Risk.Cooldown, "R25_RISK_COOLDOWN")
	setInt(&cfg.Risk.MaxTradesPerWindow, "R25_RISK_MAX_TRADES_PER_WINDOW")
	setDuration(&cfg.Risk.FrequencyWindow, "R25_RISK_FREQUENCY_WINDOW")
	setStr(&cfg.Risk.DailyResetTimezone, "R25_RISK_DAILY_RESET_TIMEZONE")

	// ── Trade ──
	setFloat64(&cfg.Trade.Stake, "R25_TRADE_STAKE")
	setInt(&cfg.Trade.Multiplier, "R25_TRADE_MULTIPLIER")
	setFloat64(&cfg.Trade.TakeProfitPercent, "R25_TRADE_TAKE_PROFIT_PERCENT")
	setFloat64(&cfg.Trade.StopLossPercent, "R25_TRADE_STOP_LOSS_PERCENT")
	setDuration(&cfg.Trade.MonitorInterval, "R25_TRADE_MONITOR_INTERVAL")
	setInt(&cfg.Trade.MonitorRetries, "R25_TRADE_MONITOR_RETRIES")
	setDuration(&cfg.Trade.MaxTradeDuration, "R25_TRADE_MAX_TRADE_DURATION")

	// ── Scanner ──
	setDuration(&cfg.Scanner.CycleInterval, "R25_SCANNER_CYCLE_INTERVAL")
	setDuration(&cfg.Scanner.EvaluateTimeout, "R25_SCANNER_EVALUATE_TIMEOUT")
	setInt(&cfg.Scanner.EventBufferSize, "R25_SCANNER_EVENT_BUFFER_SIZE")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "R25_STRATEGY_NAME")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "R25_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "R25_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "R25_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "R25_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "R25_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "R25_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "R25_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "R25_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "R25_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "R25_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "R25_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "R25_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "R25_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "R25_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "R25_S3_REGION")
	setStr(&cfg.S3.Bucket, "R25_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "R25_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "R25_S3_SECRET_KEY")
	setInt(&cfg.S3.RetentionDays, "R25_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "R25_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "R25_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "R25_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "R25_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "R25_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
