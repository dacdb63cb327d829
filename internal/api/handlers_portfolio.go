package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

const (
	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// handleGetPortfolio handles GET /api/portfolio - the full latest view
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.portfolioService.Latest(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleRefresh handles POST /api/portfolio/refresh - run a new aggregation
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	view, err := s.portfolioService.Refresh(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleGetHoldings handles GET /api/holdings?platform=
func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	platform, ok := parsePlatform(w, r.URL.Query().Get("platform"))
	if !ok {
		return
	}

	view, err := s.portfolioService.Latest(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	holdings := make([]types.Holding, 0, len(view.Holdings))
	for _, h := range view.Holdings {
		if platform == "" || h.Platform == platform {
			holdings = append(holdings, h)
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"holdings":  holdings,
		"updatedAt": view.UpdatedAt,
	})
}

// handleGetValuation handles GET /api/valuation
func (s *Server) handleGetValuation(w http.ResponseWriter, r *http.Request) {
	view, err := s.portfolioService.Latest(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"valuation":      view.Valuation,
		"fiatCurrency":   view.FiatCurrency,
		"fiatRate":       view.FiatRate,
		"totalValueFiat": view.TotalValueFiat,
		"errors":         view.Errors,
		"updatedAt":      view.UpdatedAt,
	})
}

// handleGetTrades handles GET /api/trades?platform=&asset=&limit=
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	platform, ok := parsePlatform(w, query.Get("platform"))
	if !ok {
		return
	}

	trades, err := s.portfolioService.Trades(r.Context(), platform, strings.TrimSpace(query.Get("asset")), parseLimit(query.Get("limit")))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// handleGetTradeHistory handles GET /api/trades/history?platform=&asset=&from=&to=&limit=
func (s *Server) handleGetTradeHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	platform, ok := parsePlatform(w, query.Get("platform"))
	if !ok {
		return
	}

	filters := &storage.TradeFilters{Limit: parseLimit(query.Get("limit"))}
	if platform != "" {
		filters.Platform = &platform
	}
	if asset := strings.TrimSpace(query.Get("asset")); asset != "" {
		filters.Asset = &asset
	}
	if from, ok := parseTimeParam(w, "from", query.Get("from")); !ok {
		return
	} else if !from.IsZero() {
		filters.DateFrom = &from
	}
	if to, ok := parseTimeParam(w, "to", query.Get("to")); !ok {
		return
	} else if !to.IsZero() {
		filters.DateTo = &to
	}

	trades, err := s.portfolioService.TradeHistory(r.Context(), filters)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// handleGetSnapshots handles GET /api/snapshots?from=&to=. The range
// defaults to the last 30 days.
func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	to, ok := parseTimeParam(w, "to", query.Get("to"))
	if !ok {
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	from, ok := parseTimeParam(w, "from", query.Get("from"))
	if !ok {
		return
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	snapshots, err := s.portfolioService.Snapshots(r.Context(), from, to)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"from":      from,
		"to":        to,
	})
}

// handleGetStats handles GET /api/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.portfolioService.Stats())
}

// parsePlatform validates an optional platform parameter, writing a 400 on
// unknown values
func parsePlatform(w http.ResponseWriter, value string) (types.Platform, bool) {
	if value == "" {
		return "", true
	}
	platform := types.Platform(strings.ToLower(value))
	if !platform.IsValid() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Unknown platform", map[string]interface{}{
			"platform": value,
		})
		return "", false
	}
	return platform, true
}

// parseLimit returns the default for missing or invalid values and caps the rest
func parseLimit(value string) int {
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return defaultTradeLimit
	}
	if limit > maxTradeLimit {
		return maxTradeLimit
	}
	return limit
}

// parseTimeParam accepts RFC3339 timestamps or YYYY-MM-DD dates. A missing
// value yields the zero time.
func parseTimeParam(w http.ResponseWriter, name, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, true
	}
	respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid "+name+" parameter", map[string]interface{}{
		"parameter": name,
		"expected":  "RFC3339 timestamp or YYYY-MM-DD",
	})
	return time.Time{}, false
}
