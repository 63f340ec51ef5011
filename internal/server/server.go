// Package server exposes the operator HTTP API, the Prometheus endpoint and
// the dashboard websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/densitybot/internal/server/handler"
	"github.com/alanyoungcy/densitybot/internal/server/middleware"
	"github.com/alanyoungcy/densitybot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the per-client request budget per RateWindow. Zero
	// disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers. Positions.ClosePosition and Safety
// are only registered in trade mode, when Safety is non-nil.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Market    *handler.MarketHandler
	Positions *handler.PositionHandler
	Safety    *handler.SafetyHandler
	Events    *handler.EventHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// limiter and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter middleware.Allower, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/orderbook/{symbol}", handlers.Market.GetOrderBook)
	mux.HandleFunc("GET /api/densities/{symbol}", handlers.Market.GetDensities)
	mux.HandleFunc("GET /api/history/{symbol}", handlers.Market.GetHistory)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)

	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/archives", handlers.Events.ListArchives)

	if handlers.Safety != nil {
		mux.HandleFunc("POST /api/positions/{symbol}/close", handlers.Positions.ClosePosition)
		mux.HandleFunc("POST /api/safety/disable", handlers.Safety.Disable)
		mux.HandleFunc("POST /api/safety/enable", handlers.Safety.Enable)
		mux.HandleFunc("POST /api/safety/reset", handlers.Safety.Reset)
	}

	mux.Handle("GET /metrics", promhttp.Handler())

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
