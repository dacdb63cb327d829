// Package app wires configuration into a ready-to-use portfolio service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/aggregator"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/credentials"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/retry"
	"github.com/portfolio-aggregator/internal/service"
	"github.com/portfolio-aggregator/internal/storage"
)

// App holds the wired components and the connections they own
type App struct {
	Oracle     *price.Oracle
	Aggregator *aggregator.Aggregator
	Statuses   *aggregator.MemoryStatusSink
	Portfolio  *service.PortfolioService

	closers []func()
}

// Options overrides pieces of the default wiring, mostly for tests
type Options struct {
	Credentials aggregator.CredentialProvider
	PriceSource price.Source
}

// New builds the application from cfg. Optional backends that are disabled
// in cfg are skipped; enabled ones that cannot be reached fail the build.
func New(cfg *config.Config, logger *logging.Logger, opts Options) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	connect := retry.DefaultConfig()
	connect.MaxAttempts = cfg.Database.ConnectAttempts
	ctx := context.Background()

	oracleOpts := []price.Option{
		price.WithTTL(cfg.Cache.PriceTTL),
		price.WithLogger(logger),
	}
	if cfg.Cache.PriceStore == "redis" {
		var cache *storage.RedisCache
		err := retry.Do(ctx, connect, logger.WithField("backend", "redis"), func(ctx context.Context, attempt int) error {
			var err error
			cache, err = storage.NewRedisCache(&cfg.Database.Redis)
			return err
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = cache.Close() })
		oracleOpts = append(oracleOpts, price.WithStore(storage.NewRedisPriceStore(cache)))
		logger.Info("using Redis price store")
	}

	source := opts.PriceSource
	if source == nil {
		source = price.NewCoinGeckoClient(cfg.Providers.CoinGeckoURL, cfg.Providers.CoinGeckoAPIKey,
			cfg.Providers.HTTPTimeout, cfg.Providers.CoinGeckoPerSec)
	}
	a.Oracle = price.NewOracle(source, oracleOpts...)

	creds := opts.Credentials
	if creds == nil {
		creds = credentials.NewEnvProvider()
	}

	a.Statuses = aggregator.NewMemoryStatusSink()
	adapters := adapter.NewDefaultAdapters(cfg.Providers, a.Oracle, logger)
	for _, ad := range adapters {
		if c, ok := ad.(adapter.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	a.Aggregator = aggregator.New(adapters, creds,
		aggregator.WithStatusSink(a.Statuses),
		aggregator.WithPriceSource(a.Oracle),
		aggregator.WithLogger(logger),
	)

	svcOpts := []service.Option{
		service.WithStatusReader(a.Statuses),
		service.WithFiatCurrency(cfg.Cache.FiatCurrency),
		service.WithLogger(logger),
	}

	if cfg.Database.Postgres.Enabled {
		var pg *storage.PostgresDB
		err := retry.Do(ctx, connect, logger.WithField("backend", "postgres"), func(ctx context.Context, attempt int) error {
			var err error
			pg, err = storage.NewPostgresDB(&cfg.Database.Postgres)
			return err
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := storage.RunMigrations(cfg.Database.Postgres.URL(), cfg.Database.Postgres.MigrationsPath); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		svcOpts = append(svcOpts, service.WithSnapshotRepository(storage.NewSnapshotRepository(pg.Pool())))
		logger.Info("valuation snapshots enabled")
	}

	if cfg.Database.ClickHouse.Enabled {
		var ch *storage.ClickHouseDB
		err := retry.Do(ctx, connect, logger.WithField("backend", "clickhouse"), func(ctx context.Context, attempt int) error {
			var err error
			ch, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
			return err
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = ch.Close() })
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		_, err = storage.RunClickHouseMigrations(migrateCtx, ch, cfg.Database.ClickHouse.MigrationsPath, logger)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		svcOpts = append(svcOpts, service.WithTradeRepository(storage.NewTradeRepository(ch)))
		logger.Info("trade history enabled")
	}

	a.Portfolio = service.NewPortfolioService(a.Aggregator, a.Oracle, svcOpts...)
	ok = true
	return a, nil
}

// Close releases every connection in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
