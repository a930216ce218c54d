package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/volley/internal/audit"
	"github.com/mattjoyce/volley/internal/events"
	"github.com/mattjoyce/volley/internal/log"
	"github.com/mattjoyce/volley/internal/partition"
	"github.com/mattjoyce/volley/internal/remote"
	"github.com/mattjoyce/volley/internal/telemetry"
)

// HistoryStore persists finished dispatches.
type HistoryStore interface {
	SaveDispatch(ctx context.Context, report *Report, attempts []Attempt) error
}

// StartedEvent is the payload of a dispatch.started event.
type StartedEvent struct {
	Interface string    `json:"interface"`
	Step      string    `json:"step"`
	TotalWork int       `json:"total_work"`
	Channels  int       `json:"channels"`
	Quota     int       `json:"quota"`
	Deadline  time.Time `json:"deadline"`
}

type counters struct {
	requests   atomic.Int64
	responses  atomic.Int64
	lastSecs   atomic.Int64
	dispatches atomic.Int64
}

// Dispatcher runs dispatches. A single Dispatcher may run several dispatches at once;
// each gets its own recorder and workers, while Totals accumulate across all of them.
type Dispatcher struct {
	clients   remote.Factory
	capacity  partition.CapacityProvider
	telemetry telemetry.Sink
	history   HistoryStore
	hub       *events.Hub
	logger    *slog.Logger
	now       func() time.Time

	counters counters
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCapacity sets the capacity provider queried once per dispatch.
func WithCapacity(p partition.CapacityProvider) Option {
	return func(d *Dispatcher) { d.capacity = p }
}

// WithTelemetry sets the counter sink.
func WithTelemetry(s telemetry.Sink) Option {
	return func(d *Dispatcher) { d.telemetry = s }
}

// WithHistory persists every finished dispatch.
func WithHistory(h HistoryStore) Option {
	return func(d *Dispatcher) { d.history = h }
}

// WithEvents publishes progress events to hub.
func WithEvents(hub *events.Hub) Option {
	return func(d *Dispatcher) { d.hub = hub }
}

// WithLogger sets the base logger; dispatch and channel fields are added per run.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the clock used for deadline checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher that builds one remote client per channel with clients.
func New(clients remote.Factory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clients:   clients,
		capacity:  partition.Host{},
		telemetry: telemetry.Nop{},
		logger:    log.WithComponent("dispatch"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Totals returns the cumulative counters. ElapsedSeconds is that of the most recently
// finished dispatch.
func (d *Dispatcher) Totals() Totals {
	return Totals{
		RequestsIssued:    d.counters.requests.Load(),
		ResponsesReceived: d.counters.responses.Load(),
		ElapsedSeconds:    d.counters.lastSecs.Load(),
		Dispatches:        d.counters.dispatches.Load(),
	}
}

// RunDispatch runs one dispatch and returns only its overall status.
func (d *Dispatcher) RunDispatch(ctx context.Context, req Request) (Status, error) {
	report, err := d.Run(ctx, req)
	if report == nil {
		return StatusAllError, err
	}
	return report.Status, err
}

// Run executes one dispatch and blocks until every channel has stopped.
//
// Invalid requests and missing capacity fail before any channel starts. Once channels
// have run, the report is always returned; a non-nil error alongside it means the
// audit log could not be written.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if d.clients == nil {
		return nil, fmt.Errorf("%w: no remote client factory", ErrInvalidRequest)
	}

	capacity := d.capacity.Available()
	plan, err := partition.Plan(req.TotalWork, req.Channels, capacity)
	if err != nil {
		return nil, fmt.Errorf("partition work: %w", err)
	}

	dispatchID := uuid.NewString()
	logger := log.WithDispatch(d.logger, dispatchID)

	dest := audit.Destination{Dir: req.LogDir, Interface: req.Interface, Step: req.Step}
	fields := audit.Fields{
		DispatchID: dispatchID,
		Interface:  req.Interface,
		Step:       req.Step,
		Workers:    capacity.Workers,
		IO:         capacity.IO,
		Channels:   plan.Channels,
		QueueSize:  req.TotalWork,
		Quota:      plan.Quota,
		ServerName: req.ServerName,
	}
	recorder := audit.NewRecorder(dest, fields, audit.WithErrorSink(audit.NewErrorSink(dest, fields, logger)))

	startedAt := d.now()
	start := time.Now()
	logger.Info("dispatch started",
		"interface", req.Interface,
		"step", req.Step,
		"total_work", req.TotalWork,
		"channels", plan.Channels,
		"quota", plan.Quota,
		"planned", plan.Planned(),
		"deadline", req.Deadline)
	d.hub.Publish(events.DispatchStarted, dispatchID, StartedEvent{
		Interface: req.Interface,
		Step:      req.Step,
		TotalWork: req.TotalWork,
		Channels:  plan.Channels,
		Quota:     plan.Quota,
		Deadline:  req.Deadline,
	})

	workers := make([]*channelWorker, plan.Channels)
	results := make([]ChannelResult, plan.Channels)
	var wg sync.WaitGroup
	for i := range workers {
		channel := i + 1
		workers[i] = &channelWorker{
			dispatchID: dispatchID,
			assignment: Assignment{Channel: channel, Quota: plan.Quota},
			req:        req,
			clients:    d.clients,
			recorder:   recorder,
			sink:       d.telemetry,
			hub:        d.hub,
			counters:   &d.counters,
			now:        d.now,
			logger:     log.WithChannel(logger, channel),
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = workers[i].run(ctx)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	report := assemble(dispatchID, req, plan, results)
	report.StartedAt = startedAt
	report.FinishedAt = d.now()
	report.Elapsed = elapsed
	report.AuditPath = recorder.Path()

	d.counters.lastSecs.Store(int64(report.ElapsedSeconds()))
	d.counters.dispatches.Add(1)

	recorder.RecordReport(audit.ReportLine{
		Status:    report.Status.String(),
		Elapsed:   elapsed,
		At:        report.FinishedAt,
		Issued:    report.Issued,
		Succeeded: report.Succeeded,
		Responses: report.Responses,
	})

	var flushErr error
	if _, err := recorder.Flush(); err != nil {
		logger.Error("failed to flush audit log", "path", recorder.Path(), "error", err)
		flushErr = fmt.Errorf("flush audit log: %w", err)
	}

	if d.history != nil {
		var attempts []Attempt
		for _, w := range workers {
			attempts = append(attempts, w.attempts...)
		}
		if err := d.history.SaveDispatch(context.WithoutCancel(ctx), report, attempts); err != nil {
			recorder.Errors().Log(fmt.Errorf("save dispatch history: %w", err))
		}
	}

	logger.Info("dispatch finished",
		"status", report.Status.String(),
		"issued", report.Issued,
		"succeeded", report.Succeeded,
		"responses", report.Responses,
		"elapsed", elapsed)
	d.hub.Publish(events.DispatchFinished, dispatchID, report)

	return report, flushErr
}

func assemble(dispatchID string, req Request, plan partition.Partition, results []ChannelResult) *Report {
	report := &Report{
		DispatchID:     dispatchID,
		Interface:      req.Interface,
		Step:           req.Step,
		ServerName:     req.ServerName,
		Status:         Aggregate(results),
		TotalWork:      req.TotalWork,
		Channels:       plan.Channels,
		Quota:          plan.Quota,
		Workers:        plan.Capacity.Workers,
		IO:             plan.Capacity.IO,
		ChannelResults: results,
	}
	for _, r := range results {
		report.Issued += r.Issued
		report.Succeeded += r.Succeeded
		report.Responses += r.Responses
	}
	return report
}
