package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest wraps every Request validation failure.
var ErrInvalidRequest = errors.New("invalid dispatch request")

// Request is the immutable configuration of one dispatch.
type Request struct {
	// TotalWork is the requested number of calls across all channels.
	TotalWork int

	// Channels is the requested channel count, clamped to available capacity.
	Channels int

	// Timeout bounds every individual call.
	Timeout time.Duration

	// Deadline is the absolute time after which no channel starts a new attempt.
	Deadline time.Time

	// AuditLog also records successful attempts.
	AuditLog bool

	Interface  string
	Step       string
	Address    string
	ServerName string
	LogDir     string
}

// Validate checks the request before any channel starts.
func (r Request) Validate() error {
	switch {
	case r.TotalWork < 0:
		return fmt.Errorf("%w: total work %d is negative", ErrInvalidRequest, r.TotalWork)
	case r.Channels < 1:
		return fmt.Errorf("%w: channel count %d is below 1", ErrInvalidRequest, r.Channels)
	case r.Timeout <= 0:
		return fmt.Errorf("%w: per-call timeout must be positive", ErrInvalidRequest)
	case r.Deadline.IsZero():
		return fmt.Errorf("%w: deadline is not set", ErrInvalidRequest)
	case r.Interface == "":
		return fmt.Errorf("%w: interface name is empty", ErrInvalidRequest)
	case r.Step == "":
		return fmt.Errorf("%w: step name is empty", ErrInvalidRequest)
	}
	return nil
}

// Assignment is one channel's share of the work.
type Assignment struct {
	Channel int
	Quota   int
}

// Outcome is the classified result of one attempt. OutcomeFailed means the remote
// answered with a non-success execution status; the fault outcomes mirror
// remote.FaultKind.
type Outcome string

const (
	OutcomeNotExecuted Outcome = "NotExecuted"
	OutcomeSuccess     Outcome = "Success"
	OutcomeFailed      Outcome = "Failed"
	OutcomeTimeout     Outcome = "Timeout"
	OutcomeTransport   Outcome = "Transport"
	OutcomeConcurrent  Outcome = "Concurrent"
	OutcomeGeneric     Outcome = "Generic"
)

// Attempt is the record of a single call.
type Attempt struct {
	DispatchID string        `json:"dispatch_id"`
	AttemptID  string        `json:"attempt_id"`
	Channel    int           `json:"channel"`
	Outcome    Outcome       `json:"outcome"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	At         time.Time     `json:"at"`
	Detail     string        `json:"detail,omitempty"`
}

// Failed reports whether the attempt counts as a failure.
func (a Attempt) Failed() bool { return a.Outcome != OutcomeSuccess }

// ChannelResult is a channel's tally at loop exit.
type ChannelResult struct {
	Channel   int    `json:"channel"`
	Quota     int    `json:"quota"`
	Issued    int    `json:"issued"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Responses int    `json:"responses"`
	Status    Status `json:"status"`

	// StopReason is why the loop ended (one of the Stop constants).
	StopReason string `json:"stop_reason"`
}

// Report is the consolidated outcome of a dispatch.
type Report struct {
	DispatchID     string          `json:"dispatch_id"`
	Interface      string          `json:"interface"`
	Step           string          `json:"step"`
	ServerName     string          `json:"server_name,omitempty"`
	Status         Status          `json:"status"`
	TotalWork      int             `json:"total_work"`
	Channels       int             `json:"channels"`
	Quota          int             `json:"quota"`
	Workers        int             `json:"workers"`
	IO             int             `json:"io"`
	Issued         int             `json:"issued"`
	Succeeded      int             `json:"succeeded"`
	Responses      int             `json:"responses"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Elapsed        time.Duration   `json:"elapsed_ns"`
	AuditPath      string          `json:"audit_path,omitempty"`
	ChannelResults []ChannelResult `json:"channel_results"`
}

// ElapsedSeconds is the whole-second wall time of the dispatch.
func (r *Report) ElapsedSeconds() int { return int(r.Elapsed / time.Second) }

// Totals are the dispatcher's read-only cumulative counters.
type Totals struct {
	RequestsIssued    int64 `json:"requests_issued"`
	ResponsesReceived int64 `json:"responses_received"`
	ElapsedSeconds    int64 `json:"elapsed_seconds"`
	Dispatches        int64 `json:"dispatches"`
}
