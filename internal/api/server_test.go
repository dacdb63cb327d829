package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/service"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/portfolio-aggregator/internal/valuation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock service for testing
type mockPortfolioService struct {
	view         *service.PortfolioView
	latestErr    error
	refreshes    int
	tradesArgs   []interface{}
	historyArgs  *storage.TradeFilters
	historyErr   error
	snapshotFrom time.Time
	snapshotTo   time.Time
	snapshotErr  error
	testErr      error
	panicOnStats bool
}

func (m *mockPortfolioService) Latest(ctx context.Context) (*service.PortfolioView, error) {
	return m.view, m.latestErr
}

func (m *mockPortfolioService) Refresh(ctx context.Context) (*service.PortfolioView, error) {
	m.refreshes++
	return m.view, m.latestErr
}

func (m *mockPortfolioService) Trades(ctx context.Context, platform types.Platform, asset string, limit int) ([]types.TradeRecord, error) {
	m.tradesArgs = []interface{}{platform, asset, limit}
	return m.view.Trades, nil
}

func (m *mockPortfolioService) TradeHistory(ctx context.Context, filters *storage.TradeFilters) ([]types.TradeRecord, error) {
	m.historyArgs = filters
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return []types.TradeRecord{}, nil
}

func (m *mockPortfolioService) Snapshots(ctx context.Context, from, to time.Time) ([]*models.ValuationSnapshot, error) {
	m.snapshotFrom, m.snapshotTo = from, to
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	return []*models.ValuationSnapshot{{RunID: "run-1", TotalValueUSD: 1000}}, nil
}

func (m *mockPortfolioService) Platforms() []service.PlatformInfo {
	return []service.PlatformInfo{
		{Platform: types.PlatformEthereum, Status: types.StatusConnected},
		{Platform: types.PlatformCryptoCom, Status: types.StatusUnconfigured},
	}
}

func (m *mockPortfolioService) TestConnection(ctx context.Context, platform types.Platform) error {
	return m.testErr
}

func (m *mockPortfolioService) Stats() *service.RefreshStats {
	if m.panicOnStats {
		panic("stats exploded")
	}
	return &service.RefreshStats{Refreshes: 3}
}

func sampleView() *service.PortfolioView {
	return &service.PortfolioView{
		RunID:     "run-1",
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Valuation: valuation.Valuation{
			TotalValueUSD:    1000,
			Change24hUSD:     100,
			Change24hPercent: 11.11,
			ByPlatform:       []valuation.PlatformValue{{Platform: types.PlatformEthereum, ValueUSD: 1000, SharePercent: 100, HoldingsCount: 2}},
		},
		FiatCurrency:   "eur",
		FiatRate:       0.9,
		TotalValueFiat: 900,
		Holdings: []types.Holding{
			{Asset: "ETH", Platform: types.PlatformEthereum, Amount: 0.25, CurrentValueUSD: 750},
			{Asset: "BTC", Platform: types.PlatformBitcoin, Amount: 0.004, CurrentValueUSD: 250},
		},
		Trades: []types.TradeRecord{{ID: "eth-0x1", Platform: types.PlatformEthereum, Asset: "ETH"}},
		Errors: []types.PlatformError{{Platform: types.PlatformSolana, Error: "Helius error: 429"}},
	}
}

func newTestServer(svc *mockPortfolioService) *Server {
	return NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", RequestsPerSec: 1000, Burst: 1000}, svc, logging.NewNopLogger())
}

func serve(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealth(t *testing.T) {
	w, body := serve(t, newTestServer(&mockPortfolioService{}), "GET", "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetPortfolio(t *testing.T) {
	w, body := serve(t, newTestServer(&mockPortfolioService{view: sampleView()}), "GET", "/api/portfolio")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, 900.0, body["totalValueFiat"])
	assert.Len(t, body["holdings"], 2)
}

func TestRefresh(t *testing.T) {
	svc := &mockPortfolioService{view: sampleView()}
	s := newTestServer(svc)

	w, _ := serve(t, s, "POST", "/api/portfolio/refresh")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.refreshes)

	w, body := serve(t, s, "GET", "/api/portfolio/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, ErrCodeMethodNotAllowed, body["error"].(map[string]interface{})["code"])
	assert.Equal(t, 1, svc.refreshes)
}

func TestUnknownRoutesUseErrorBody(t *testing.T) {
	s := newTestServer(&mockPortfolioService{view: sampleView()})

	tests := []struct {
		method   string
		target   string
		wantCode int
		wantErr  string
	}{
		{"POST", "/health", http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
		{"GET", "/api/platforms/ethereum/test", http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
		{"GET", "/api/nope", http.StatusNotFound, ErrCodeNotFound},
		{"GET", "/", http.StatusNotFound, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w, body := serve(t, s, tt.method, tt.target)
			assert.Equal(t, tt.wantCode, w.Code)
			require.NotNil(t, body)
			assert.Equal(t, tt.wantErr, body["error"].(map[string]interface{})["code"])
		})
	}
}

func TestGetHoldingsFiltersPlatform(t *testing.T) {
	s := newTestServer(&mockPortfolioService{view: sampleView()})

	w, body := serve(t, s, "GET", "/api/holdings?platform=Bitcoin")
	require.Equal(t, http.StatusOK, w.Code)
	holdings := body["holdings"].([]interface{})
	require.Len(t, holdings, 1)
	assert.Equal(t, "BTC", holdings[0].(map[string]interface{})["asset"])

	w, body = serve(t, s, "GET", "/api/holdings?platform=dogechain")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrCodeInvalidInput, body["error"].(map[string]interface{})["code"])
}

func TestGetValuation(t *testing.T) {
	w, body := serve(t, newTestServer(&mockPortfolioService{view: sampleView()}), "GET", "/api/valuation")

	require.Equal(t, http.StatusOK, w.Code)
	val := body["valuation"].(map[string]interface{})
	assert.Equal(t, 1000.0, val["totalValueUsd"])
	assert.Equal(t, 100.0, val["change24hUsd"])
	assert.Equal(t, "eur", body["fiatCurrency"])
	assert.Len(t, body["errors"], 1)
}

func TestGetTradesPassesFilters(t *testing.T) {
	svc := &mockPortfolioService{view: sampleView()}
	w, body := serve(t, newTestServer(svc), "GET", "/api/trades?platform=ethereum&asset=eth&limit=5000")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, []interface{}{types.PlatformEthereum, "eth", maxTradeLimit}, svc.tradesArgs)
}

func TestTradesAssetKeepsCase(t *testing.T) {
	svc := &mockPortfolioService{view: sampleView()}
	s := newTestServer(svc)

	w, _ := serve(t, s, "GET", "/api/trades?asset=NFT%3A%20CryptoPunks")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NFT: CryptoPunks", svc.tradesArgs[1])

	mint := "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	w, _ = serve(t, s, "GET", "/api/trades/history?asset="+mint)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.historyArgs.Asset)
	assert.Equal(t, mint, *svc.historyArgs.Asset)
}

func TestGetTradeHistory(t *testing.T) {
	svc := &mockPortfolioService{}
	s := newTestServer(svc)

	w, _ := serve(t, s, "GET", "/api/trades/history?platform=hyperliquid&from=2024-01-01&to=2024-02-01T00:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.historyArgs.Platform)
	assert.Equal(t, types.PlatformHyperliquid, *svc.historyArgs.Platform)
	assert.Nil(t, svc.historyArgs.Asset)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *svc.historyArgs.DateFrom)
	assert.Equal(t, defaultTradeLimit, svc.historyArgs.Limit)

	w, _ = serve(t, s, "GET", "/api/trades/history?from=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.historyErr = apperrors.NewFeatureDisabledError("trade history")
	w, body := serve(t, s, "GET", "/api/trades/history")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "FEATURE_DISABLED", body["error"].(map[string]interface{})["code"])
}

func TestGetSnapshots(t *testing.T) {
	svc := &mockPortfolioService{}
	s := newTestServer(svc)

	w, body := serve(t, s, "GET", "/api/snapshots?from=2024-03-01&to=2024-03-31")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), svc.snapshotFrom)

	// default range is the last 30 days
	w, _ = serve(t, s, "GET", "/api/snapshots")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, svc.snapshotTo.AddDate(0, 0, -30), svc.snapshotFrom)

	svc.snapshotErr = apperrors.NewInvalidParameterError("to", "must not be before from")
	w, _ = serve(t, s, "GET", "/api/snapshots?from=2024-03-31&to=2024-03-01")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPlatforms(t *testing.T) {
	w, body := serve(t, newTestServer(&mockPortfolioService{}), "GET", "/api/platforms")

	require.Equal(t, http.StatusOK, w.Code)
	platforms := body["platforms"].([]interface{})
	require.Len(t, platforms, 2)
	assert.Equal(t, "crypto.com", platforms[1].(map[string]interface{})["platform"])
}

func TestTestPlatform(t *testing.T) {
	tests := []struct {
		name        string
		platform    string
		err         error
		wantStatus  int
		wantSuccess interface{}
	}{
		{"success", "bitcoin", nil, http.StatusOK, true},
		{"platform failure in body", "crypto.com", apperrors.NewApplicationError("Crypto.com", 10002, "UNAUTHORIZED"), http.StatusOK, false},
		{"unconfigured", "blur", apperrors.NewUnconfiguredError(types.PlatformBlur, "addresses"), http.StatusPreconditionFailed, nil},
		{"no adapter", "other", apperrors.NewNotFoundError("platform", "other"), http.StatusNotFound, nil},
		{"unknown platform", "nope", nil, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockPortfolioService{testErr: tt.err})
			w, body := serve(t, s, "POST", "/api/platforms/"+tt.platform+"/test")

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantSuccess != nil {
				assert.Equal(t, tt.wantSuccess, body["success"])
			}
		})
	}
}

func TestServiceErrorsHideInternals(t *testing.T) {
	svc := &mockPortfolioService{latestErr: apperrors.NewInternalError("boom", context.DeadlineExceeded)}
	w, body := serve(t, newTestServer(svc), "GET", "/api/portfolio")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "An internal error occurred", body["error"].(map[string]interface{})["message"])
}

func TestRecoveryMiddleware(t *testing.T) {
	w, body := serve(t, newTestServer(&mockPortfolioService{panicOnStats: true}), "GET", "/api/stats")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, body["error"].(map[string]interface{})["code"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&mockPortfolioService{})
	req := httptest.NewRequest("OPTIONS", "/api/platforms/bitcoin/test", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
