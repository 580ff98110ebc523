// Package server exposes the engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/equitydesk/vestd/internal/domain"
	"github.com/equitydesk/vestd/internal/server/handler"
	"github.com/equitydesk/vestd/internal/server/middleware"
	"github.com/equitydesk/vestd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per second per client IP; 0 disables
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Grants *handler.GrantHandler
}

// Server is the HTTP + WebSocket API server for the vesting engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. A nil limiter disables rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Grant lifecycle.
	mux.HandleFunc("POST /api/grants", handlers.Grants.CreateGrant)
	mux.HandleFunc("GET /api/grants", handlers.Grants.ListGrants)
	mux.HandleFunc("GET /api/grants/{id}", handlers.Grants.GetGrant)
	mux.HandleFunc("POST /api/grants/{id}/cancel", handlers.Grants.CancelGrant)

	// Vesting ledger and exercise.
	mux.HandleFunc("POST /api/grants/{id}/advance", handlers.Grants.AdvanceVesting)
	mux.HandleFunc("POST /api/grants/{id}/exercise", handlers.Grants.ExerciseOptions)

	// Read projections.
	mux.HandleFunc("GET /api/grants/{id}/projection", handlers.Grants.GetProjection)
	mux.HandleFunc("GET /api/grants/{id}/schedule", handlers.Grants.GetSchedule)
	mux.HandleFunc("GET /api/grants/{id}/events", handlers.Grants.ListEvents)
	mux.HandleFunc("GET /api/grants/{id}/exercises", handlers.Grants.ListExercises)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second, logger)(h)
	}

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
