// Package stub serves a fake step-execution endpoint speaking the same JSON shape as
// remote.HTTPClient. It backs the adapter tests and `volley stub` for local load runs.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/volley/internal/remote"
)

// Config controls how the stub answers.
type Config struct {
	// Latency is slept before every answer.
	Latency time.Duration

	// FailRatio in [0,1] is the share of calls answered with 503. Failures are spread
	// deterministically: call n fails when floor(n*ratio) advances.
	FailRatio float64

	// Status is reported for calls that do not fail. Defaults to Success.
	Status remote.ExecutionStatus
}

// Server is the fake endpoint.
type Server struct {
	cfg    Config
	calls  atomic.Int64
	fails  atomic.Int64
	logger *slog.Logger
	server *http.Server
}

// New creates a stub server.
func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.Status == "" {
		cfg.Status = remote.StatusSuccess
	}
	if cfg.FailRatio < 0 {
		cfg.FailRatio = 0
	}
	if cfg.FailRatio > 1 {
		cfg.FailRatio = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{cfg: cfg, logger: logger}
}

// Calls returns the number of execute requests received.
func (s *Server) Calls() int64 { return s.calls.Load() }

// Failures returns the number of execute requests answered with 503.
func (s *Server) Failures() int64 { return s.fails.Load() }

// Handler returns the chi router serving the endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/", s.handleExecute)
	r.Post("/execute", s.handleExecute)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start serves on listen until ctx is cancelled.
func (s *Server) Start(ctx context.Context, listen string) error {
	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("stub endpoint starting", "listen", listen, "latency", s.cfg.Latency, "fail_ratio", s.cfg.FailRatio)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stub shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("stub server error: %w", err)
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	n := s.calls.Add(1)

	var req remote.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-r.Context().Done():
			return
		}
	}

	if s.shouldFail(n) {
		s.fails.Add(1)
		http.Error(w, "step executor unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(remote.ExecuteResponse{Status: s.cfg.Status})
}

func (s *Server) shouldFail(n int64) bool {
	if s.cfg.FailRatio <= 0 {
		return false
	}
	return int64(float64(n)*s.cfg.FailRatio) > int64(float64(n-1)*s.cfg.FailRatio)
}
