// Package service ties aggregation, valuation and persistence together into
// the portfolio view served by the API.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/circuitbreaker"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/portfolio-aggregator/internal/valuation"
)

// Aggregator fetches every configured platform
type Aggregator interface {
	FetchAll(ctx context.Context) types.AggregatorResult
	TestConnection(ctx context.Context, platform types.Platform) error
	Platforms() []types.Platform
	Health() map[types.Platform][]adapter.ProviderHealth
}

// FiatRates converts USD totals into the display currency
type FiatRates interface {
	GetFiatRate(ctx context.Context, currency string) float64
}

// StatusReader exposes the latest per-platform connection status
type StatusReader interface {
	Snapshot() map[types.Platform]types.ConnectionStatus
}

// SnapshotRepository persists valuation snapshots
type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *models.ValuationSnapshot) error
	GetByDateRange(ctx context.Context, from, to time.Time) ([]*models.ValuationSnapshot, error)
	DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// TradeRepository persists trade history
type TradeRepository interface {
	BatchInsert(ctx context.Context, trades []types.TradeRecord) error
	List(ctx context.Context, filters *storage.TradeFilters) ([]types.TradeRecord, error)
}

// PortfolioView is the result of one refresh
type PortfolioView struct {
	RunID          string                `json:"runId"`
	UpdatedAt      time.Time             `json:"updatedAt"`
	Valuation      valuation.Valuation   `json:"valuation"`
	FiatCurrency   string                `json:"fiatCurrency"`
	FiatRate       float64               `json:"fiatRate"`
	TotalValueFiat float64               `json:"totalValueFiat"`
	Holdings       []types.Holding       `json:"holdings"`
	Trades         []types.TradeRecord   `json:"trades"`
	Errors         []types.PlatformError `json:"errors"`
}

// PlatformInfo describes one registered platform
type PlatformInfo struct {
	Platform types.Platform           `json:"platform"`
	Status   types.ConnectionStatus   `json:"status,omitempty"`
	Health   []adapter.ProviderHealth `json:"health,omitempty"`
}

// PortfolioService refreshes and serves the aggregated portfolio
type PortfolioService struct {
	aggregator   Aggregator
	fiat         FiatRates
	status       StatusReader
	snapshots    SnapshotRepository
	trades       TradeRepository
	monitor      *RefreshMonitor
	fiatCurrency string
	logger       *logging.Logger
	now          func() time.Time

	// guard persistence writes so a dead database is not hit every refresh
	snapshotBreaker *circuitbreaker.CircuitBreaker
	tradeBreaker    *circuitbreaker.CircuitBreaker

	// refreshMu serializes refreshes; mu guards latest
	refreshMu sync.Mutex
	mu        sync.RWMutex
	latest    *PortfolioView
}

// Option configures a PortfolioService
type Option func(*PortfolioService)

// WithSnapshotRepository enables snapshot persistence
func WithSnapshotRepository(repo SnapshotRepository) Option {
	return func(s *PortfolioService) { s.snapshots = repo }
}

// WithTradeRepository enables trade history persistence
func WithTradeRepository(repo TradeRepository) Option {
	return func(s *PortfolioService) { s.trades = repo }
}

// WithStatusReader sets where platform statuses are read from
func WithStatusReader(status StatusReader) Option {
	return func(s *PortfolioService) { s.status = status }
}

// WithFiatCurrency sets the display currency
func WithFiatCurrency(currency string) Option {
	return func(s *PortfolioService) {
		if currency != "" {
			s.fiatCurrency = currency
		}
	}
}

// WithLogger sets the service logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *PortfolioService) { s.logger = logger }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *PortfolioService) { s.now = now }
}

// NewPortfolioService creates a portfolio service
func NewPortfolioService(agg Aggregator, fiat FiatRates, opts ...Option) *PortfolioService {
	s := &PortfolioService{
		aggregator:   agg,
		fiat:         fiat,
		monitor:      NewRefreshMonitor(),
		fiatCurrency: "eur",
		logger:       logging.GetGlobalLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.snapshots != nil {
		s.snapshotBreaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("snapshots"), s.logger)
	}
	if s.trades != nil {
		s.tradeBreaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("trades"), s.logger)
	}
	return s
}

// Refresh runs one aggregation, values it and stores the result as the
// latest view. Persistence failures are logged and never fail the refresh.
func (s *PortfolioService) Refresh(ctx context.Context) (*PortfolioView, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := s.now()
	runID := uuid.NewString()
	logger := s.logger.WithField("run_id", runID)

	result := s.aggregator.FetchAll(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val := valuation.Compute(result.Holdings)
	rate := 1.0
	if s.fiat != nil {
		rate = s.fiat.GetFiatRate(ctx, s.fiatCurrency)
	}

	view := &PortfolioView{
		RunID:          runID,
		UpdatedAt:      s.now().UTC(),
		Valuation:      val,
		FiatCurrency:   s.fiatCurrency,
		FiatRate:       rate,
		TotalValueFiat: val.TotalValueUSD * rate,
		Holdings:       result.Holdings,
		Trades:         result.Trades,
		Errors:         result.Errors,
	}

	s.persist(ctx, view, logger)

	s.mu.Lock()
	s.latest = view
	s.mu.Unlock()

	s.monitor.RecordRefresh(s.now().Sub(start), result.Errors)
	logger.WithFields(map[string]interface{}{
		"total_value_usd": val.TotalValueUSD,
		"errors":          len(result.Errors),
	}).Info("portfolio refreshed")

	return view, nil
}

func (s *PortfolioService) persist(ctx context.Context, view *PortfolioView, logger *logging.Logger) {
	if s.snapshots != nil {
		snapshot := &models.ValuationSnapshot{
			RunID:            view.RunID,
			TakenAt:          view.UpdatedAt,
			TotalValueUSD:    view.Valuation.TotalValueUSD,
			Change24hUSD:     view.Valuation.Change24hUSD,
			Change24hPercent: view.Valuation.Change24hPercent,
			FiatCurrency:     view.FiatCurrency,
			FiatRate:         view.FiatRate,
			ByPlatform:       view.Valuation.ByPlatform,
			Holdings:         view.Holdings,
			Errors:           view.Errors,
		}
		err := s.snapshotBreaker.Execute(func() error {
			return s.snapshots.Create(ctx, snapshot)
		})
		logPersistError(logger, err, "failed to store valuation snapshot")
	}

	if s.trades != nil && len(view.Trades) > 0 {
		err := s.tradeBreaker.Execute(func() error {
			return s.trades.BatchInsert(ctx, view.Trades)
		})
		logPersistError(logger, err, "failed to store trade history")
	}
}

func logPersistError(logger *logging.Logger, err error, msg string) {
	switch {
	case err == nil:
	case circuitbreaker.IsOpen(err):
		logger.WithError(err).Debug("persistence skipped")
	default:
		logger.WithError(err).Warn(msg)
	}
}

// Latest returns the most recent view, refreshing once when there is none
func (s *PortfolioService) Latest(ctx context.Context) (*PortfolioView, error) {
	s.mu.RLock()
	view := s.latest
	s.mu.RUnlock()

	if view != nil {
		s.monitor.RecordCachedRead()
		return view, nil
	}
	return s.Refresh(ctx)
}

// Trades returns trades from the latest view filtered by platform and asset,
// newest first, capped at limit when limit is positive
func (s *PortfolioService) Trades(ctx context.Context, platform types.Platform, asset string, limit int) ([]types.TradeRecord, error) {
	view, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}

	trades := make([]types.TradeRecord, 0, len(view.Trades))
	for _, t := range view.Trades {
		if platform != "" && t.Platform != platform {
			continue
		}
		if asset != "" && !strings.EqualFold(t.Asset, asset) {
			continue
		}
		trades = append(trades, t)
		if limit > 0 && len(trades) == limit {
			break
		}
	}
	return trades, nil
}

// TradeHistory queries persisted trades across runs
func (s *PortfolioService) TradeHistory(ctx context.Context, filters *storage.TradeFilters) ([]types.TradeRecord, error) {
	if s.trades == nil {
		return nil, apperrors.NewFeatureDisabledError("trade history")
	}
	return s.trades.List(ctx, filters)
}

// Snapshots returns persisted valuation snapshots taken within [from, to]
func (s *PortfolioService) Snapshots(ctx context.Context, from, to time.Time) ([]*models.ValuationSnapshot, error) {
	if s.snapshots == nil {
		return nil, apperrors.NewFeatureDisabledError("snapshot history")
	}
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	return s.snapshots.GetByDateRange(ctx, from, to)
}

// PruneSnapshots removes snapshots older than retention. It is a no-op when
// snapshot persistence is disabled.
func (s *PortfolioService) PruneSnapshots(ctx context.Context, retention time.Duration) (int64, error) {
	if s.snapshots == nil || retention <= 0 {
		return 0, nil
	}
	deleted, err := s.snapshots.DeleteOlderThan(ctx, retention)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("pruned valuation snapshots")
	}
	return deleted, nil
}

// Platforms lists every registered platform with its last status and
// upstream health
func (s *PortfolioService) Platforms() []PlatformInfo {
	var statuses map[types.Platform]types.ConnectionStatus
	if s.status != nil {
		statuses = s.status.Snapshot()
	}
	health := s.aggregator.Health()

	platforms := s.aggregator.Platforms()
	infos := make([]PlatformInfo, 0, len(platforms))
	for _, p := range platforms {
		// platforms not yet run have no status
		infos = append(infos, PlatformInfo{Platform: p, Status: statuses[p], Health: health[p]})
	}
	return infos
}

// TestConnection runs one platform once
func (s *PortfolioService) TestConnection(ctx context.Context, platform types.Platform) error {
	return s.aggregator.TestConnection(ctx, platform)
}

// Stats returns refresh statistics and the state of persistence breakers
func (s *PortfolioService) Stats() *RefreshStats {
	stats := s.monitor.GetStats()
	for _, cb := range []*circuitbreaker.CircuitBreaker{s.snapshotBreaker, s.tradeBreaker} {
		if cb != nil {
			stats.Persistence = append(stats.Persistence, cb.GetStats())
		}
	}
	return stats
}
