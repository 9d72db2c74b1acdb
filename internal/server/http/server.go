// Package httpserver provides the HTTP REST API for the corpus service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/canonical"
	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/pipeline"
	"github.com/scholium/corpus-service/internal/query"
	"github.com/scholium/corpus-service/internal/repository"
)

// QueryPreparer prepares raw queries for retrieval.
type QueryPreparer interface {
	Prepare(ctx context.Context, raw string, opts query.Options) (*domain.PreparedQuery, error)
}

// SearchRunner executes one retrieval pipeline run.
type SearchRunner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// CanonicalRunner triggers canonicalization runs.
type CanonicalRunner interface {
	RunFull(ctx context.Context, runAt time.Time) (*canonical.RunSummary, error)
	RunIncremental(ctx context.Context, runAt time.Time, window time.Duration) (*canonical.RunSummary, error)
}

// CanonicalReader serves the canonical view.
type CanonicalReader interface {
	ListActive(ctx context.Context, limit, offset int) ([]repository.CanonicalSummary, error)
	Duplicates(ctx context.Context, canonicalID uuid.UUID) ([]domain.DuplicateLink, error)
	Exists(ctx context.Context, canonicalID uuid.UUID) (bool, error)
}

// RunEventSink receives run lifecycle notifications. May be nil.
type RunEventSink interface {
	RunCompleted(ctx context.Context, summary canonical.RunSummary)
	RunFailed(ctx context.Context, summary canonical.RunSummary, runErr error)
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	preparer   QueryPreparer
	pipeline   SearchRunner
	engine     CanonicalRunner
	canonicals CanonicalReader
	events     RunEventSink
	health     HealthChecker
	registry   *prometheus.Registry
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates an HTTP server with all dependencies. events may be nil
// when run-event publishing is disabled; registry may be nil to omit /metrics.
func NewServer(
	cfg Config,
	preparer QueryPreparer,
	searchRunner SearchRunner,
	engine CanonicalRunner,
	canonicals CanonicalReader,
	events RunEventSink,
	health HealthChecker,
	registry *prometheus.Registry,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		preparer:   preparer,
		pipeline:   searchRunner,
		engine:     engine,
		canonicals: canonicals,
		events:     events,
		health:     health,
		registry:   registry,
		logger:     logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/queries/prepare", s.prepareQuery)
		r.Post("/searches", s.runSearch)
		r.Get("/canonical", s.listCanonical)
		r.Get("/canonical/{canonicalID}/duplicates", s.listDuplicates)
		r.Post("/canonicalization/runs", s.startCanonicalizationRun)
	})

	return r
}

// Router exposes the handler tree. Test hook.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
