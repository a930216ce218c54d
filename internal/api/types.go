package api

import (
	"github.com/mattjoyce/volley/internal/dispatch"
)

// DispatchRequest is the JSON body of POST /dispatch. Omitted fields keep the
// configured values.
type DispatchRequest struct {
	Channels  int    `json:"channels,omitempty"`
	QueueSize *int   `json:"queue_size,omitempty"`
	RunFor    string `json:"run_for,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	AuditLog  *bool  `json:"audit_log,omitempty"`
}

// DispatchResponse is returned by POST /dispatch.
type DispatchResponse struct {
	Report *dispatch.Report `json:"report"`
	// AuditError is set when the audit log could not be written.
	AuditError string `json:"audit_error,omitempty"`
}

// CountersResponse is returned by GET /counters.
type CountersResponse struct {
	Totals    dispatch.Totals  `json:"totals"`
	Telemetry map[string]int64 `json:"telemetry,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	InFlight      int    `json:"dispatches_in_flight"`
}
