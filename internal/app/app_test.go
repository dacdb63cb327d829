package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/credentials"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct{}

func (staticSource) SimplePrice(ctx context.Context, ids []string) (map[string]price.Quote, error) {
	return map[string]price.Quote{}, nil
}

func (staticSource) FiatRate(ctx context.Context, currency string) (float64, error) {
	return 0.5, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: config.ProvidersConfig{
			HTTPTimeout:       time.Second,
			RequestsPerSecond: 10,
		},
		Cache: config.CacheConfig{
			PriceTTL:     time.Minute,
			PriceStore:   "memory",
			FiatCurrency: "gbp",
		},
	}
}

func TestNewWithoutBackends(t *testing.T) {
	a, err := New(testConfig(), logging.NewNopLogger(), Options{
		Credentials: credentials.NewMapProvider(nil),
		PriceSource: staticSource{},
	})
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.closers, 1, "the Solana RPC fallback is released on Close")

	view, err := a.Portfolio.Refresh(context.Background())
	require.NoError(t, err)

	assert.Empty(t, view.Holdings)
	assert.Empty(t, view.Errors, "unconfigured platforms are not errors")
	assert.Equal(t, "gbp", view.FiatCurrency)
	assert.Equal(t, 0.5, view.FiatRate)

	infos := a.Portfolio.Platforms()
	require.Len(t, infos, 6)
	for _, info := range infos {
		assert.Equal(t, types.StatusUnconfigured, info.Status, info.Platform)
	}

	_, err = a.Portfolio.Snapshots(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err, "snapshot history is disabled")
}

func TestNewWithRedisPriceStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig()
	cfg.Cache.PriceStore = "redis"
	cfg.Database.Redis = config.RedisConfig{Host: mr.Host(), Port: mr.Port(), MaxConnections: 2}

	a, err := New(cfg, logging.NewNopLogger(), Options{
		Credentials: credentials.NewMapProvider(nil),
		PriceSource: staticSource{},
	})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Oracle.GetPrices(context.Background(), []string{"BTC"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("portfolio:prices:ts"), "quotes are merged into Redis")
}

func TestNewFailsOnUnreachableRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	cfg := testConfig()
	cfg.Cache.PriceStore = "redis"
	cfg.Database.Redis = config.RedisConfig{Host: host, Port: port, MaxConnections: 1}

	_, err = New(cfg, logging.NewNopLogger(), Options{PriceSource: staticSource{}})
	assert.Error(t, err)
}

func TestNewRetriesBackendConnect(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	cfg := testConfig()
	cfg.Cache.PriceStore = "redis"
	cfg.Database.Redis = config.RedisConfig{Host: host, Port: port, MaxConnections: 1}
	cfg.Database.ConnectAttempts = 2

	_, err = New(cfg, logging.NewNopLogger(), Options{PriceSource: staticSource{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestCloseReleasesAdapters(t *testing.T) {
	a, err := New(testConfig(), logging.NewNopLogger(), Options{
		Credentials: credentials.NewMapProvider(nil),
		PriceSource: staticSource{},
	})
	require.NoError(t, err)

	require.NotEmpty(t, a.closers)
	a.Close()
	assert.Nil(t, a.closers)
	a.Close()
}
