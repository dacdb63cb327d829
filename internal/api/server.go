// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/service"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

// PortfolioServiceInterface defines the portfolio operations the API serves
type PortfolioServiceInterface interface {
	Latest(ctx context.Context) (*service.PortfolioView, error)
	Refresh(ctx context.Context) (*service.PortfolioView, error)
	Trades(ctx context.Context, platform types.Platform, asset string, limit int) ([]types.TradeRecord, error)
	TradeHistory(ctx context.Context, filters *storage.TradeFilters) ([]types.TradeRecord, error)
	Snapshots(ctx context.Context, from, to time.Time) ([]*models.ValuationSnapshot, error)
	Platforms() []service.PlatformInfo
	TestConnection(ctx context.Context, platform types.Platform) error
	Stats() *service.RefreshStats
}

// Server represents the HTTP API server.
type Server struct {
	router           *mux.Router
	handler          http.Handler
	httpServer       *http.Server
	portfolioService PortfolioServiceInterface
	logger           *logging.Logger
	config           *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, portfolioService PortfolioServiceInterface, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:           mux.NewRouter(),
		portfolioService: portfolioService,
		logger:           logger.WithField("component", "api"),
		config:           config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	// CORS wraps the router so preflights never reach method matching
	s.handler = CORSMiddleware(s.router)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// routes live on the root router so a wrong method yields 405, not a
	// subrouter 404
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Portfolio endpoints
	r.HandleFunc("/api/portfolio", s.handleGetPortfolio).Methods("GET")
	r.HandleFunc("/api/portfolio/refresh", s.handleRefresh).Methods("POST")
	r.HandleFunc("/api/holdings", s.handleGetHoldings).Methods("GET")
	r.HandleFunc("/api/valuation", s.handleGetValuation).Methods("GET")
	r.HandleFunc("/api/trades", s.handleGetTrades).Methods("GET")
	r.HandleFunc("/api/trades/history", s.handleGetTradeHistory).Methods("GET")
	r.HandleFunc("/api/snapshots", s.handleGetSnapshots).Methods("GET")
	r.HandleFunc("/api/stats", s.handleGetStats).Methods("GET")

	// Platform endpoints
	r.HandleFunc("/api/platforms", s.handleGetPlatforms).Methods("GET")
	r.HandleFunc("/api/platforms/{platform}/test", s.handleTestPlatform).Methods("POST")
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, ErrCodeNotFound, "route not found: "+r.URL.Path, nil)
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed,
		r.Method+" is not allowed on "+r.URL.Path, nil)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-aggregator",
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
