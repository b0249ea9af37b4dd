package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Denny-smart/R-25V1/internal/blob/s3"
	"github.com/Denny-smart/R-25V1/internal/cache/redis"
	"github.com/Denny-smart/R-25V1/internal/config"
	"github.com/Denny-smart/R-25V1/internal/domain"
	"github.com/Denny-smart/R-25V1/internal/engine"
	"github.com/Denny-smart/R-25V1/internal/notify"
	"github.com/Denny-smart/R-25V1/internal/platform/deriv"
	"github.com/Denny-smart/R-25V1/internal/risk"
	"github.com/Denny-smart/R-25V1/internal/scanner"
	"github.com/Denny-smart/R-25V1/internal/store/postgres"
	"github.com/Denny-smart/R-25V1/internal/strategy"
)

// Dependencies bundles every constructed collaborator the application runs.
// It is built by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Broker       *deriv.Client
	Guard        *risk.Guard
	Engine       *engine.Engine
	Orchestrator *scanner.Orchestrator
	Bus          *notify.Bus

	TradeStore     domain.TradeStore
	RiskStateStore domain.RiskStateStore

	// Archiver is nil when S3 archiving is disabled.
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete implementations from the configuration and
// returns them with a cleanup function that releases resources in reverse
// construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL trade journal ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())

	// --- Redis risk-state persistence ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.RiskStateStore = redis.NewRiskStateStore(redisClient)

	// --- S3 trade archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.TradeStore,
			cfg.S3.RetentionDays,
			logger,
		)
	}

	// --- Event bus and notification channels ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Bus = notify.NewBus(cfg.Scanner.EventBufferSize, senders, cfg.Notify.Events, logger)

	// --- Deriv broker connection ---
	deps.Broker = deriv.NewClient(deriv.Config{
		WSHost:         cfg.Deriv.WSHost,
		AppID:          cfg.Deriv.AppID,
		APIToken:       cfg.Deriv.APIToken,
		Currency:       "USD",
		Multiplier:     cfg.Trade.Multiplier,
		RequestTimeout: cfg.Deriv.RequestTimeout.Duration,
		FetchRetries:   cfg.Deriv.FetchRetries,
	}, logger)
	if err := deps.Broker.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: deriv: %w", err)
	}
	closers = append(closers, func() { _ = deps.Broker.Close() })

	// --- Risk guard, trade engine, scanner ---
	deps.Guard, err = risk.NewGuard(risk.Config{
		MaxDailyLoss:        cfg.Risk.MaxDailyLoss,
		CooldownAfterLosses: cfg.Risk.CooldownAfterLosses,
		Cooldown:            cfg.Risk.Cooldown.Duration,
		MaxTradesPerWindow:  cfg.Risk.MaxTradesPerWindow,
		FrequencyWindow:     cfg.Risk.FrequencyWindow.Duration,
		DailyResetTimezone:  cfg.Risk.DailyResetTimezone,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: risk guard: %w", err)
	}

	deps.Engine = engine.New(deps.Broker, deps.Guard, deps.TradeStore, deps.RiskStateStore, deps.Bus, engine.Config{
		Stake:              cfg.Trade.Stake,
		MonitorInterval:    cfg.Trade.MonitorInterval.Duration,
		MonitorRetries:     cfg.Trade.MonitorRetries,
		MonitorBackoffBase: cfg.Trade.MonitorBackoffBase.Duration,
		MaxTradeDuration:   cfg.Trade.MaxTradeDuration.Duration,
		BrokerTimeout:      cfg.Deriv.RequestTimeout.Duration,
	}, logger)

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewTrendFollow(strategy.Config{
		TrendCandles:      cfg.Strategy.TrendCandles,
		MinCandles:        cfg.Strategy.MinCandles,
		ConfirmCandles:    cfg.Strategy.ConfirmCandles,
		TakeProfitPercent: cfg.Trade.TakeProfitPercent,
		StopLossPercent:   cfg.Trade.StopLossPercent,
	}))
	strat, err := registry.Get(cfg.Strategy.Name)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	deps.Orchestrator = scanner.New(
		scanner.Config{
			Symbols:         cfg.Symbols,
			CycleInterval:   cfg.Scanner.CycleInterval.Duration,
			EvaluateTimeout: cfg.Scanner.EvaluateTimeout.Duration,
		},
		deps.Broker,
		deps.Broker,
		strat,
		deps.Guard,
		deps.Engine,
		deps.TradeStore,
		deps.RiskStateStore,
		deps.Bus,
		logger,
	)

	return deps, cleanup, nil
}
