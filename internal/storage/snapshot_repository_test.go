package storage

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/portfolio-aggregator/internal/valuation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postgresForTest connects to a local Postgres with migrations applied, or skips
func postgresForTest(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           envOr("POSTGRES_HOST", "localhost"),
		Port:           envOr("POSTGRES_PORT", "5432"),
		Database:       envOr("POSTGRES_DB", "portfolio"),
		User:           envOr("POSTGRES_USER", "portfolio"),
		Password:       os.Getenv("POSTGRES_PASSWORD"),
		MaxConnections: 2,
	}
	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, RunMigrations(cfg.URL(), "../../migrations/postgres"))
	return db
}

func TestSnapshotRepositoryRoundTrip(t *testing.T) {
	db := postgresForTest(t)
	ctx := testContext(t)
	repo := NewSnapshotRepository(db.Pool())

	takenAt := time.Now().UTC().Truncate(time.Microsecond)
	snapshot := &models.ValuationSnapshot{
		RunID:            uuid.NewString(),
		TakenAt:          takenAt,
		TotalValueUSD:    1000,
		Change24hUSD:     50,
		Change24hPercent: 5.26,
		FiatCurrency:     "eur",
		FiatRate:         0.92,
		ByPlatform: []valuation.PlatformValue{
			{Platform: types.PlatformEthereum, ValueUSD: 1000, SharePercent: 100, HoldingsCount: 1},
		},
		Holdings: []types.Holding{
			{Platform: types.PlatformEthereum, Asset: "ETH", Amount: 0.5, CurrentPriceUSD: 2000, CurrentValueUSD: 1000},
		},
		Errors: []types.PlatformError{{Platform: types.PlatformBitcoin, Error: "Esplora error: 503"}},
	}

	require.NoError(t, repo.Create(ctx, snapshot))
	assert.NotEmpty(t, snapshot.ID)

	// the same run is stored once
	dup := *snapshot
	dup.ID = ""
	require.NoError(t, repo.Create(ctx, &dup))

	got, err := repo.GetByDateRange(ctx, takenAt.Add(-time.Second), takenAt.Add(time.Second))
	require.NoError(t, err)

	var matches []*models.ValuationSnapshot
	for _, s := range got {
		if s.RunID == snapshot.RunID {
			matches = append(matches, s)
		}
	}
	require.Len(t, matches, 1)
	assert.Equal(t, snapshot.ID, matches[0].ID)
	assert.Equal(t, snapshot.ByPlatform, matches[0].ByPlatform)
	assert.Equal(t, "ETH", matches[0].Holdings[0].Asset)
	assert.Equal(t, "Esplora error: 503", matches[0].Errors[0].Error)
	assert.InDelta(t, 920, matches[0].TotalValueFiat(), 1e-9)

	latest, err := repo.GetLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.TakenAt.Before(takenAt))
}
