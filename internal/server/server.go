package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantdesk/alertpool/internal/domain"
	"github.com/quantdesk/alertpool/internal/server/handler"
	"github.com/quantdesk/alertpool/internal/server/middleware"
	"github.com/quantdesk/alertpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     []string // if empty, authentication is disabled
	RateLimit   int      // requests per window per client; 0 disables limiting
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Pools     *handler.PoolHandler
	Trading   *handler.TradingHandler
	Positions *handler.PositionHandler
	Ledger    *handler.LedgerHandler
	Webhook   *handler.WebhookHandler
}

// Server is the headless HTTP + WebSocket API server for the pool engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, rate limiting, logging, auth) and attaches the
// WebSocket hub. The limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check and status. Health is exempted from auth below so that
	// load balancer checks work without a key.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Pool endpoints.
	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)

	// Trading endpoints.
	mux.HandleFunc("POST /api/pools/{id}/allocations", handlers.Trading.Allocate)
	mux.HandleFunc("POST /api/pools/{id}/sales", handlers.Trading.Sell)
	mux.HandleFunc("DELETE /api/pools/{id}/sales/{saleId}", handlers.Trading.DiscardSale)
	mux.HandleFunc("POST /api/pools/{id}/refresh", handlers.Trading.Refresh)

	// Position endpoints.
	mux.HandleFunc("GET /api/pools/{id}/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/pools/{id}/positions/history", handlers.Positions.ListHistory)

	// Ledger endpoint.
	mux.HandleFunc("GET /api/pools/{id}/ledger", handlers.Ledger.ListLedger)

	// Inbound alert webhook.
	mux.HandleFunc("POST /api/webhooks/alerts", handlers.Webhook.ReceiveAlert)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if no API keys are configured). The
	// webhook endpoint carries its own HMAC signature, so it bypasses API
	// key checks along with the health endpoint.
	h = middleware.Auth(cfg.APIKeys, "/api/health", "/api/webhooks/alerts")(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
