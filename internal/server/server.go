// Package server exposes the operator HTTP API: health, engine status
// and control, open positions, trade history, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftline/riskbot/internal/server/handler"
	"github.com/driftline/riskbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	Metrics     bool
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Engine    *handler.EngineHandler
	Positions *handler.PositionHandler
	Stats     *handler.StatsHandler
}

// Server is the operator-facing HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wires the middleware chain
// (CORS, logging, auth).
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Liveness and readiness carry no auth requirement.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", handlers.Health.Ready)

	mux.HandleFunc("GET /api/status", handlers.Engine.GetStatus)
	mux.HandleFunc("POST /api/engine/start", handlers.Engine.Start)
	mux.HandleFunc("POST /api/engine/stop", handlers.Engine.Stop)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{symbol}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{symbol}/close", handlers.Positions.ClosePosition)

	mux.HandleFunc("GET /api/stats/trades", handlers.Stats.ListTrades)
	mux.HandleFunc("GET /api/stats/daily", handlers.Stats.ListDaily)
	mux.HandleFunc("GET /api/stats/summary", handlers.Stats.Summary)

	if cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
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
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start listens until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
