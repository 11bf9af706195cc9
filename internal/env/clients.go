package environment

import (
	"context"
	"log/slog"
	"time"

	"rackforge/internal/config"
	"rackforge/internal/infra/compute"
	"rackforge/internal/infra/sqlite3"
	"rackforge/internal/infra/telegram"
	"rackforge/internal/infra/tripay"
)

type Clients struct {
	SQLiteDB    *sqlite3.DB
	Tripay      *tripay.Client
	Compute     *compute.Client
	TelegramBot *telegram.Client
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tripayClient := tripay.NewClient(tripay.Config{
		BaseURL:      cfg.Tripay.BaseURL,
		APIKey:       cfg.Tripay.APIKey,
		PrivateKey:   cfg.Tripay.PrivateKey,
		MerchantCode: cfg.Tripay.MerchantCode,
		Timeout:      cfg.Tripay.Timeout,
		RateRPS:      cfg.Tripay.RateLimit.RPS,
		RateBurst:    cfg.Tripay.RateLimit.Burst,
	}, logger)

	computeClient := compute.NewClient(compute.Config{
		BaseURL:   cfg.Compute.BaseURL,
		Token:     cfg.Compute.Token,
		Timeout:   cfg.Compute.Timeout,
		RateRPS:   cfg.Compute.RateLimit.RPS,
		RateBurst: cfg.Compute.RateLimit.Burst,
	}, logger)

	telegramBot, err := provideTelegramBot(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Clients{
		SQLiteDB:    sqliteDB,
		Tripay:      tripayClient,
		Compute:     computeClient,
		TelegramBot: telegramBot,
	}, nil
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	maxLifetimeStr := cfg.DB.MaxLifetime
	if maxLifetimeStr == "" {
		maxLifetimeStr = "5m"
	}
	maxLifetime, err := time.ParseDuration(maxLifetimeStr)
	if err != nil {
		return nil, err
	}

	opts := []sqlite3.Option{
		sqlite3.WithDSN(cfg.DB.Path),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(maxLifetime),
	}

	return sqlite3.New(ctx, opts...)
}

// provideTelegramBot returns nil when no token is configured; operator
// alerts are optional.
func provideTelegramBot(cfg config.Config, logger *slog.Logger) (*telegram.Client, error) {
	if cfg.Telegram.BotToken == "" {
		return nil, nil
	}

	client, err := telegram.NewClient(cfg.Telegram.BotToken, logger)
	if err != nil {
		return nil, err
	}

	return client, nil
}
