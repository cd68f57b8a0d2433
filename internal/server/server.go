// Package server exposes the custodian's HTTP + WebSocket API: user
// broadcasts, admin settlement, the audit log, and the wallet bridge socket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/server/handler"
	"github.com/hivewager/custodian/internal/server/middleware"
)

const (
	apiRateLimit  = 60
	apiRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminToken protects every /api route except the health check.
	AdminToken string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Broadcast  *handler.BroadcastHandler
	Settlement *handler.SettlementHandler
	Audit      *handler.AuditHandler
}

// WalletSocket is the websocket endpoint the self-custody wallet bridge
// serves.
type WalletSocket interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

// Server is the HTTP + WebSocket API server for the custodian subsystem.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. The rate limiter is
// optional; when nil, per-IP API limiting is skipped.
func NewServer(cfg Config, handlers Handlers, wallet WalletSocket, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Authenticated API routes. The platform backend is the only intended
	// caller; end users never hit these directly.
	authed := http.NewServeMux()
	authed.HandleFunc("POST /api/broadcast", handlers.Broadcast.Broadcast)
	authed.HandleFunc("POST /api/predictions/{id}/settle", handlers.Settlement.Settle)
	authed.HandleFunc("POST /api/predictions/{id}/void", handlers.Settlement.Void)
	authed.HandleFunc("GET /api/audit", handlers.Audit.List)
	mux.Handle("/api/", middleware.Auth(cfg.AdminToken)(authed))

	// Wallet bridge socket. Sessions are authenticated upstream; the bridge
	// only correlates sign requests with responses.
	if wallet != nil {
		mux.HandleFunc("GET /ws/wallet", wallet.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil {
		h = middleware.RateLimit(limiter, apiRateLimit, apiRateWindow)(h)
	}
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
