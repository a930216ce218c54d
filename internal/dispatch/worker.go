package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/volley/internal/audit"
	"github.com/mattjoyce/volley/internal/events"
	"github.com/mattjoyce/volley/internal/remote"
	"github.com/mattjoyce/volley/internal/telemetry"
)

// Stop reasons reported on ChannelResult.
const (
	StopQuota     = "quota"
	StopDeadline  = "deadline"
	StopCancelled = "cancelled"
	StopClient    = "client"
)

// AttemptEvent is the payload of an attempt.completed event.
type AttemptEvent struct {
	Channel   int     `json:"channel"`
	AttemptID string  `json:"attempt_id"`
	Outcome   Outcome `json:"outcome"`
	ElapsedMS int64   `json:"elapsed_ms"`
	Detail    string  `json:"detail,omitempty"`
}

// channelWorker drives one channel's serial attempt loop. Everything on it is owned by
// the channel goroutine except the shared recorder, sink, hub and dispatcher counters.
type channelWorker struct {
	dispatchID string
	assignment Assignment
	req        Request

	clients  remote.Factory
	recorder *audit.Recorder
	sink     telemetry.Sink
	hub      *events.Hub
	counters *counters
	now      func() time.Time
	logger   *slog.Logger

	// attempts holds what was handed to the recorder, for history.
	attempts []Attempt
}

func (w *channelWorker) run(ctx context.Context) ChannelResult {
	result := ChannelResult{
		Channel: w.assignment.Channel,
		Quota:   w.assignment.Quota,
		Status:  StatusSuccess,
	}
	defer func() {
		w.logger.Debug("channel finished",
			"issued", result.Issued,
			"succeeded", result.Succeeded,
			"status", result.Status.String(),
			"stop_reason", result.StopReason)
		w.hub.Publish(events.ChannelFinished, w.dispatchID, result)
	}()

	var client remote.Client
	defer func() {
		if client == nil {
			return
		}
		if err := client.Close(); err != nil {
			w.logger.Warn("failed to close remote client", "error", err)
		}
	}()

	for {
		if reason := w.stopReason(ctx, result.Issued); reason != "" {
			result.StopReason = reason
			return result
		}

		if client == nil {
			c, err := w.clients(w.assignment.Channel)
			if err != nil {
				w.clientFailed(err)
				result.Issued++
				result.Failed++
				result.Status = result.Status.Escalate(StatusPartialError)
				result.StopReason = StopClient
				return result
			}
			client = c
		}

		attempt, responded := w.attempt(ctx, client)
		result.Issued++
		if responded {
			result.Responses++
		}
		if attempt.Failed() {
			result.Failed++
			result.Status = result.Status.Escalate(StatusPartialError)
		} else {
			result.Succeeded++
		}
	}
}

// stopReason is evaluated at the top of every iteration only; a call already in
// flight always runs to completion.
func (w *channelWorker) stopReason(ctx context.Context, issued int) string {
	switch {
	case !w.now().Before(w.req.Deadline):
		return StopDeadline
	case ctx.Err() != nil:
		return StopCancelled
	case issued >= w.assignment.Quota:
		return StopQuota
	}
	return ""
}

func (w *channelWorker) attempt(ctx context.Context, client remote.Client) (Attempt, bool) {
	attempt := Attempt{
		DispatchID: w.dispatchID,
		AttemptID:  uuid.NewString(),
		Channel:    w.assignment.Channel,
		Outcome:    OutcomeNotExecuted,
	}

	w.signal(telemetry.ActionRequest)
	w.counters.requests.Add(1)

	attempt.At = w.now()
	start := time.Now()
	resp := w.call(ctx, client, attempt.AttemptID)
	attempt.Elapsed = time.Since(start)

	responded := resp.Fault == nil
	if responded {
		w.counters.responses.Add(1)
		w.signal(telemetry.ActionResponse)
	}

	attempt.Outcome, attempt.Detail = classify(resp)
	w.record(attempt)
	return attempt, responded
}

// call runs one Execute with the per-call timeout. The call context is detached from
// dispatch cancellation so shutdown never interrupts a call in flight.
func (w *channelWorker) call(ctx context.Context, client remote.Client, attemptID string) (resp remote.Response) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.req.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			resp = remote.Faulted(fmt.Errorf("remote client panic: %v", r))
		}
	}()
	return client.Execute(callCtx, attemptID, w.req.Interface, w.req.Step)
}

func (w *channelWorker) clientFailed(err error) {
	attempt := Attempt{
		DispatchID: w.dispatchID,
		AttemptID:  uuid.NewString(),
		Channel:    w.assignment.Channel,
		Outcome:    OutcomeGeneric,
		At:         w.now(),
		Detail:     fmt.Sprintf("create remote client: %v", err),
	}
	w.logger.Error("failed to create remote client", "error", err)
	w.record(attempt)
}

func (w *channelWorker) record(a Attempt) {
	if a.Failed() || w.req.AuditLog {
		w.recorder.Record(audit.AttemptLine{
			AttemptID: a.AttemptID,
			Outcome:   string(a.Outcome),
			Channel:   a.Channel,
			Elapsed:   a.Elapsed,
			At:        a.At,
			Detail:    a.Detail,
		})
		w.attempts = append(w.attempts, a)
	}
	if a.Failed() {
		w.logger.Debug("attempt failed", "attempt_id", a.AttemptID, "outcome", string(a.Outcome), "detail", a.Detail)
	}

	w.hub.Publish(events.AttemptCompleted, w.dispatchID, AttemptEvent{
		Channel:   a.Channel,
		AttemptID: a.AttemptID,
		Outcome:   a.Outcome,
		ElapsedMS: a.Elapsed.Milliseconds(),
		Detail:    a.Detail,
	})
}

func (w *channelWorker) signal(action telemetry.Action) {
	scopes := telemetry.Scopes(w.req.Interface, w.req.Step, action, w.assignment.Channel)
	if err := telemetry.Emit(w.sink, scopes); err != nil {
		w.recorder.Errors().Log(fmt.Errorf("telemetry %s signal on channel %d: %w", action, w.assignment.Channel, err))
	}
}

// classify maps a response to an outcome and its audit detail.
func classify(resp remote.Response) (Outcome, string) {
	if f := resp.Fault; f != nil {
		switch f.Kind {
		case remote.FaultTimeout:
			return OutcomeTimeout, f.Detail()
		case remote.FaultConcurrent:
			return OutcomeConcurrent, f.Detail()
		case remote.FaultTransport:
			return OutcomeTransport, f.Detail()
		default:
			return OutcomeGeneric, f.Detail()
		}
	}
	if resp.OK() {
		return OutcomeSuccess, ""
	}
	return OutcomeFailed, fmt.Sprintf("remote execution status %s", resp.Status)
}
