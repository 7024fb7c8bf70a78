package gamehost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerConfig holds game-host HTTP server configuration.
type ServerConfig struct {
	Listen            string
	Token             string
	HeartbeatInterval time.Duration
}

// Server exposes the host over HTTP: session preparation, the per-session
// event stream, manual actions, and continuations.
type Server struct {
	config    ServerConfig
	host      *Host
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// NewServer creates the HTTP front end for a host.
func NewServer(config ServerConfig, host *Host, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		host:      host,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking). ctx also bounds every hosted
// agent run.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes(ctx)

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE endpoints are long-lived streams.
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("game host starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("game host shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router. runCtx bounds hosted agent
// runs started by stream subscriptions.
func (s *Server) setupRoutes(runCtx context.Context) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated
	r.Get("/healthz", s.handleHealthz)

	// Protected
	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/v1/sessions", s.handlePrepare)
		r.Get("/v1/sessions/{session_id}/events", s.handleEvents(runCtx))
		r.Post("/v1/sessions/{session_id}/actions", s.handleAction)
		r.Post("/v1/sessions/{session_id}/continue", s.handleContinue)
		r.Get("/v1/games/{game_id}/scorecards", s.handleScorecards)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
