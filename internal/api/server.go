package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/volley/internal/auth"
	"github.com/mattjoyce/volley/internal/config"
	"github.com/mattjoyce/volley/internal/dispatch"
	"github.com/mattjoyce/volley/internal/events"
	"github.com/mattjoyce/volley/internal/history"
)

// Dispatcher runs dispatches and reports cumulative totals.
type Dispatcher interface {
	Run(ctx context.Context, req dispatch.Request) (*dispatch.Report, error)
	Totals() dispatch.Totals
}

// RequestBuilder turns per-call overrides into a full dispatch request.
type RequestBuilder func(now time.Time, o config.Overrides) (dispatch.Request, error)

// HistoryReader reads persisted dispatches.
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]history.Summary, error)
	Get(ctx context.Context, dispatchID string) (*history.Record, error)
}

// CounterSource exposes the telemetry counters.
type CounterSource interface {
	Snapshot() map[string]int64
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (every scope).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxConcurrent bounds the dispatches running through POST /dispatch.
	MaxConcurrent int
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher Dispatcher
	requests   RequestBuilder
	runs       HistoryReader
	counters   CounterSource
	events     *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
	semaphore  chan struct{}
}

// New creates a new API server instance. runs and counters may be nil.
func New(config Config, dispatcher Dispatcher, requests RequestBuilder, runs HistoryReader, counters CounterSource, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		requests:   requests,
		runs:       runs,
		counters:   counters,
		events:     hub,
		logger:     logger,
		startedAt:  time.Now(),
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Dispatches run synchronously and are bounded only by their own deadline.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
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

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeDispatchRW)).Post("/dispatch", s.handleDispatch)
		r.With(s.requireScopes(auth.ScopeDispatchRO)).Get("/counters", s.handleCounters)
		r.With(s.requireScopes(auth.ScopeDispatchRO)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeRunsRO)).Get("/runs", s.handleListRuns)
		r.With(s.requireScopes(auth.ScopeRunsRO)).Get("/runs/{dispatchID}", s.handleGetRun)
	})

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
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
