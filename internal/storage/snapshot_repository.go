package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-aggregator/internal/models"
)

// SnapshotRepository stores valuation snapshots in Postgres
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{
		pool: pool,
	}
}

const snapshotColumns = `
	id,
	run_id,
	taken_at,
	total_value_usd,
	change_24h_usd,
	change_24h_percent,
	fiat_currency,
	fiat_rate,
	by_platform,
	holdings,
	errors,
	created_at`

// Create stores a snapshot, assigning an id when it has none
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *models.ValuationSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	byPlatformJSON, err := json.Marshal(snapshot.ByPlatform)
	if err != nil {
		return fmt.Errorf("failed to marshal platform breakdown: %w", err)
	}
	holdingsJSON, err := json.Marshal(snapshot.Holdings)
	if err != nil {
		return fmt.Errorf("failed to marshal holdings: %w", err)
	}
	errorsJSON, err := json.Marshal(snapshot.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal platform errors: %w", err)
	}

	query := `INSERT INTO valuation_snapshots (` + snapshotColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO NOTHING`

	_, err = r.pool.Exec(
		ctx,
		query,
		snapshot.ID,
		snapshot.RunID,
		snapshot.TakenAt,
		snapshot.TotalValueUSD,
		snapshot.Change24hUSD,
		snapshot.Change24hPercent,
		snapshot.FiatCurrency,
		snapshot.FiatRate,
		byPlatformJSON,
		holdingsJSON,
		errorsJSON,
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// GetByDateRange returns snapshots taken within [from, to] in chronological order
func (r *SnapshotRepository) GetByDateRange(ctx context.Context, from, to time.Time) ([]*models.ValuationSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM valuation_snapshots
		WHERE taken_at >= $1
			AND taken_at <= $2
		ORDER BY taken_at ASC`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.ValuationSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return snapshots, nil
}

// GetLatest returns the most recent snapshot, or nil when there is none
func (r *SnapshotRepository) GetLatest(ctx context.Context) (*models.ValuationSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM valuation_snapshots
		ORDER BY taken_at DESC
		LIMIT 1`

	snapshot, err := scanSnapshot(r.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// DeleteOlderThan removes snapshots older than the retention period. A
// negative retention keeps everything.
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-retention)
	result, err := r.pool.Exec(ctx, `DELETE FROM valuation_snapshots WHERE taken_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return result.RowsAffected(), nil
}

// Count returns the number of stored snapshots
func (r *SnapshotRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM valuation_snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

func scanSnapshot(row pgx.Row) (*models.ValuationSnapshot, error) {
	var snapshot models.ValuationSnapshot
	var byPlatformJSON, holdingsJSON, errorsJSON []byte

	err := row.Scan(
		&snapshot.ID,
		&snapshot.RunID,
		&snapshot.TakenAt,
		&snapshot.TotalValueUSD,
		&snapshot.Change24hUSD,
		&snapshot.Change24hPercent,
		&snapshot.FiatCurrency,
		&snapshot.FiatRate,
		&byPlatformJSON,
		&holdingsJSON,
		&errorsJSON,
		&snapshot.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
	}

	if err := json.Unmarshal(byPlatformJSON, &snapshot.ByPlatform); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platform breakdown: %w", err)
	}
	if err := json.Unmarshal(holdingsJSON, &snapshot.Holdings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal holdings: %w", err)
	}
	if err := json.Unmarshal(errorsJSON, &snapshot.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal platform errors: %w", err)
	}

	return &snapshot, nil
}
