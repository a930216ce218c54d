package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/volley/internal/config"
	"github.com/mattjoyce/volley/internal/dispatch"
	"github.com/mattjoyce/volley/internal/history"
	"github.com/mattjoyce/volley/internal/partition"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		InFlight:      len(s.semaphore),
	})
}

// handleDispatch runs one dispatch synchronously. If the client goes away the
// channels stop between attempts and the partial report is still recorded.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body DispatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	overrides, err := body.overrides()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := s.requests(time.Now(), overrides)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	default:
		s.writeError(w, http.StatusTooManyRequests, "too many dispatches in flight")
		return
	}

	report, err := s.dispatcher.Run(r.Context(), req)
	switch {
	case report != nil:
		resp := DispatchResponse{Report: report}
		if err != nil {
			s.logger.Error("dispatch finished with audit failure", "dispatch_id", report.DispatchID, "error", err)
			resp.AuditError = err.Error()
		}
		respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, dispatch.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, partition.ErrNoCapacity):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("dispatch failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "dispatch failed")
	}
}

func (b DispatchRequest) overrides() (config.Overrides, error) {
	o := config.Overrides{
		Channels:  b.Channels,
		QueueSize: b.QueueSize,
		AuditLog:  b.AuditLog,
	}
	if b.Channels < 0 {
		return o, errors.New("channels must not be negative")
	}
	if b.RunFor != "" {
		d, err := time.ParseDuration(b.RunFor)
		if err != nil || d <= 0 {
			return o, errors.New("run_for must be a positive duration")
		}
		o.RunFor = d
	}
	if b.Timeout != "" {
		d, err := time.ParseDuration(b.Timeout)
		if err != nil || d <= 0 {
			return o, errors.New("timeout must be a positive duration")
		}
		o.Timeout = d
	}
	return o, nil
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	resp := CountersResponse{Totals: s.dispatcher.Totals()}
	if s.counters != nil {
		resp.Telemetry = s.counters.Snapshot()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list dispatches", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}
	if runs == nil {
		runs = []history.Summary{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	id := chi.URLParam(r, "dispatchID")

	rec, err := s.runs.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "dispatch not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load dispatch", "dispatch_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load dispatch")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
