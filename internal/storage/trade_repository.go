package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-aggregator/internal/types"
)

// TradeFilters narrows trade history queries
type TradeFilters struct {
	Platform *types.Platform
	Asset    *string
	DateFrom *time.Time
	DateTo   *time.Time
	Limit    int
}

// TradeRepository persists trade history in ClickHouse. Rows are keyed by the
// source-namespaced trade id, so re-inserting a run replaces earlier copies
// on merge.
type TradeRepository struct {
	db *ClickHouseDB
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *ClickHouseDB) *TradeRepository {
	return &TradeRepository{db: db}
}

// BatchInsert writes trades in one batch
func (r *TradeRepository) BatchInsert(ctx context.Context, trades []types.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO trades (
			id, date, platform, type, asset, amount, price_usd, total_value_usd, fees_usd,
			cost_basis_usd, gain_loss_usd, tx_hash, source, notes, raw
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, t := range trades {
		raw := "{}"
		if len(t.Raw) > 0 {
			raw = string(t.Raw)
		}

		err = batch.Append(
			t.ID,
			t.Date.UTC(),
			string(t.Platform),
			string(t.Type),
			t.Asset,
			t.Amount,
			t.PriceUSD,
			t.TotalValueUSD,
			t.FeesUSD,
			t.CostBasisUSD,
			t.GainLossUSD,
			t.TxHash,
			string(t.Source),
			t.Notes,
			raw,
		)
		if err != nil {
			return fmt.Errorf("failed to append trade %s: %w", t.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// List returns trades newest first
func (r *TradeRepository) List(ctx context.Context, filters *TradeFilters) ([]types.TradeRecord, error) {
	query, args := buildTradeQuery(filters)

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []types.TradeRecord
	for rows.Next() {
		var (
			t                           types.TradeRecord
			platform, tradeType, source string
			raw                         string
			costBasis, gainLoss         *float64
			txHash, notes               *string
		)
		if err := rows.Scan(
			&t.ID, &t.Date, &platform, &tradeType, &t.Asset, &t.Amount, &t.PriceUSD,
			&t.TotalValueUSD, &t.FeesUSD, &costBasis, &gainLoss, &txHash, &source, &notes, &raw,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Platform = types.Platform(platform)
		t.Type = types.TradeType(tradeType)
		t.Source = types.TradeSource(source)
		t.CostBasisUSD = costBasis
		t.GainLossUSD = gainLoss
		t.TxHash = txHash
		t.Notes = notes
		if raw != "" && raw != "{}" {
			t.Raw = []byte(raw)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// Count returns the number of distinct trades stored for a platform, or for
// all platforms when platform is empty
func (r *TradeRepository) Count(ctx context.Context, platform types.Platform) (int64, error) {
	query := "SELECT count() FROM trades FINAL"
	var args []interface{}
	if platform != "" {
		query += " WHERE platform = ?"
		args = append(args, string(platform))
	}

	var count uint64
	if err := r.db.Conn().QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return int64(count), nil // #nosec G115 - row counts fit in int64
}

// buildTradeQuery renders the SELECT for filters; FINAL collapses rows
// re-inserted by later runs
func buildTradeQuery(filters *TradeFilters) (string, []interface{}) {
	var where []string
	var args []interface{}

	limit := 100
	if filters != nil {
		if filters.Platform != nil {
			where = append(where, "platform = ?")
			args = append(args, string(*filters.Platform))
		}
		if filters.Asset != nil {
			// NFT collections and Solana mints are not upper-case symbols
			where = append(where, "lower(asset) = lower(?)")
			args = append(args, *filters.Asset)
		}
		if filters.DateFrom != nil {
			where = append(where, "date >= ?")
			args = append(args, filters.DateFrom.UTC())
		}
		if filters.DateTo != nil {
			where = append(where, "date <= ?")
			args = append(args, filters.DateTo.UTC())
		}
		if filters.Limit > 0 {
			limit = filters.Limit
		}
	}

	var b strings.Builder
	b.WriteString(`SELECT id, date, platform, type, asset, amount, price_usd, total_value_usd, fees_usd,
		cost_basis_usd, gain_loss_usd, tx_hash, source, notes, raw
		FROM trades FINAL`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(fmt.Sprintf(" ORDER BY date DESC, id ASC LIMIT %d", limit))

	return b.String(), args
}
