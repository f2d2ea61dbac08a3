// Package web exposes the ingestion pipeline over HTTP for deployments that
// forward bucket notifications as webhooks instead of invoking a function.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvrefinery/internal/config"
	"github.com/JonMunkholm/csvrefinery/internal/ingest"
	"github.com/JonMunkholm/csvrefinery/internal/trigger"
	"github.com/JonMunkholm/csvrefinery/internal/web/middleware"
)

// Ingester runs one ingestion. *ingest.Service satisfies it.
type Ingester interface {
	Handle(ctx context.Context, obj trigger.Object) (*ingest.Outcome, error)
}

// OutcomeLister returns recent outcomes, newest first. *history.Recorder satisfies it.
type OutcomeLister interface {
	Recent(ctx context.Context, limit int) ([]ingest.Outcome, error)
}

// Server is the HTTP front end of the pipeline.
type Server struct {
	ingester Ingester
	limiter  *ingest.Limiter
	history  OutcomeLister
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithHistory enables GET /v1/outcomes.
func WithHistory(h OutcomeLister) Option {
	return func(s *Server) { s.history = h }
}

// NewServer creates a new Server instance.
func NewServer(ingester Ingester, limiter *ingest.Limiter, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		ingester: ingester,
		limiter:  limiter,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys))

		r.Post("/events", s.handleEvent)
		r.Get("/schemas", s.handleListSchemas)
		r.Get("/schemas/{schemaKey}", s.handleGetSchema)
		r.Get("/outcomes", s.handleListOutcomes)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for running ingestions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if n := s.limiter.Active(); n > 0 {
		slog.Info("waiting for ingestions to complete", "active", n)
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error",
			"error", err,
			"request_id", chimw.GetReqID(r.Context()),
		)
	}
}

// ingestTimeout bounds one ingestion; WriteTimeout must exceed it.
func (s *Server) ingestTimeout() time.Duration {
	return s.cfg.Pipeline.Timeout
}
