package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/volley/internal/api"
	"github.com/mattjoyce/volley/internal/audit"
	"github.com/mattjoyce/volley/internal/config"
	"github.com/mattjoyce/volley/internal/dispatch"
	"github.com/mattjoyce/volley/internal/events"
	"github.com/mattjoyce/volley/internal/history"
	"github.com/mattjoyce/volley/internal/lock"
	"github.com/mattjoyce/volley/internal/log"
	"github.com/mattjoyce/volley/internal/partition"
	"github.com/mattjoyce/volley/internal/remote"
	"github.com/mattjoyce/volley/internal/storage"
	"github.com/mattjoyce/volley/internal/telemetry"
	"github.com/mattjoyce/volley/internal/tui"
)

// engine is everything a dispatch needs besides the request.
type engine struct {
	dispatcher *dispatch.Dispatcher
	history    *history.Store
	counters   *telemetry.Counters
	hub        *events.Hub
	db         *sql.DB
}

func (e *engine) Close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}

// newEngine wires the dispatcher for req. History is skipped when withHistory is false.
func newEngine(ctx context.Context, cfg *config.Config, req dispatch.Request, withHistory bool) (*engine, error) {
	e := &engine{
		counters: telemetry.NewCounters(),
		hub:      events.NewHub(1024),
	}
	opts := []dispatch.Option{
		dispatch.WithCapacity(partition.Host{Max: cfg.Dispatch.MaxChannels}),
		dispatch.WithTelemetry(e.counters),
		dispatch.WithEvents(e.hub),
		dispatch.WithLogger(log.WithComponent("dispatch")),
	}

	if withHistory {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open history database: %w", err)
		}
		e.db = db
		e.history = history.New(db)
		opts = append(opts, dispatch.WithHistory(e.history))
	}

	e.dispatcher = dispatch.New(remote.HTTPFactory(req.Address, req.Timeout), opts...)
	return e, nil
}

func destinationOf(req dispatch.Request) audit.Destination {
	return audit.Destination{Dir: req.LogDir, Interface: req.Interface, Step: req.Step}
}

func runDispatch(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	channels := fs.Int("channels", 0, "Number of channels (default from config)")
	queueSize := fs.Int("queue-size", 0, "Total work items (default from config)")
	timeout := fs.Duration("timeout", 0, "Per-call timeout (default from config)")
	runFor := fs.Duration("run-for", 0, "Deadline relative to now")
	deadline := fs.String("deadline", "", "Absolute deadline (RFC 3339)")
	auditLog := fs.Bool("audit-log", false, "Record successful attempts in the audit log too")
	noHistory := fs.Bool("no-history", false, "Do not record the dispatch in the history database")
	watch := fs.Bool("watch", false, "Show live progress in a TUI")
	jsonOut := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", fs.Arg(0))
		return exitFatal
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var overrides config.Overrides
	overrides.Channels = *channels
	overrides.Timeout = *timeout
	overrides.RunFor = *runFor
	if set["queue-size"] {
		overrides.QueueSize = queueSize
	}
	if set["audit-log"] {
		overrides.AuditLog = auditLog
	}
	if *deadline != "" {
		t, err := time.Parse(time.RFC3339, *deadline)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --deadline: %v\n", err)
			return exitFatal
		}
		overrides.Deadline = t
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFatal
	}

	var logOut io.Writer = os.Stderr
	if *watch {
		logOut = io.Discard
	}
	log.SetupWriter(cfg.Service.LogLevel, logOut)
	logger := log.WithComponent("main")

	req, err := cfg.Request(time.Now(), overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid dispatch request: %v\n", err)
		return exitFatal
	}

	auditLock, err := lock.AcquireAudit(destinationOf(req))
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			fmt.Fprintf(os.Stderr, "Another volley process is writing this audit log: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to lock audit log: %v\n", err)
		}
		return exitFatal
	}
	defer auditLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, req, !*noHistory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitFatal
	}
	defer eng.Close()

	logger.Info("volley run starting", "version", version, "config", cfg.SourcePath, "deadline", req.Deadline)

	var report *dispatch.Report
	if *watch {
		report, err = runWatched(ctx, eng, req)
	} else {
		report, err = eng.dispatcher.Run(ctx, req)
	}
	if report == nil {
		fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
		return exitFatal
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report JSON: %v\n", err)
			return exitFatal
		}
		fmt.Println(string(data))
	} else {
		printReport(os.Stdout, report)
	}
	return exitCode(report.Status)
}

// runWatched runs the dispatch behind the progress TUI. Quitting the TUI early
// cancels the dispatch, which stops every channel before its next attempt.
func runWatched(ctx context.Context, eng *engine, req dispatch.Request) (*dispatch.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, unsubscribe := tui.Subscribe(eng.hub)

	type result struct {
		report *dispatch.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := eng.dispatcher.Run(ctx, req)
		unsubscribe()
		done <- result{report, err}
	}()

	if _, err := tea.NewProgram(tui.New(ch, tui.ExitOnFinish()), tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
	}
	cancel()

	res := <-done
	return res.report, res.err
}

func exitCode(s dispatch.Status) int {
	switch s {
	case dispatch.StatusSuccess:
		return exitOK
	case dispatch.StatusPartialError:
		return exitPartialError
	default:
		return exitAllError
	}
}

func printReport(w io.Writer, r *dispatch.Report) {
	fmt.Fprintf(w, "Dispatch %s  %s/%s on %s\n", r.DispatchID, r.Interface, r.Step, r.ServerName)
	fmt.Fprintf(w, "Status:     %s\n", r.Status)
	fmt.Fprintf(w, "Channels:   %d (quota %d, workers %d, io %d)\n", r.Channels, r.Quota, r.Workers, r.IO)
	fmt.Fprintf(w, "Work:       %d issued of %d, %d succeeded, %d responses\n", r.Issued, r.TotalWork, r.Succeeded, r.Responses)
	fmt.Fprintf(w, "Elapsed:    %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Audit log:  %s\n", r.AuditPath)
	if len(r.ChannelResults) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-4s %-8s %-8s %-8s %-13s %s\n", "CH", "ISSUED", "OK", "FAILED", "STATUS", "STOP")
	for _, c := range r.ChannelResults {
		fmt.Fprintf(w, "%-4d %-8d %-8d %-8d %-13s %s\n", c.Channel, c.Issued, c.Succeeded, c.Failed, c.Status, c.StopReason)
	}
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFatal
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "API is disabled; set api.enabled: true in the config")
		return exitFatal
	}

	log.SetupWriter(cfg.Service.LogLevel, os.Stderr)
	logger := log.WithComponent("main")

	// Validate the defaults once so a broken config fails at startup, not per request.
	req, err := cfg.Request(time.Now(), config.Overrides{})
	if err != nil {
		logger.Error("invalid dispatch defaults", "error", err)
		return exitFatal
	}

	auditLock, err := lock.AcquireAudit(destinationOf(req))
	if err != nil {
		logger.Error("failed to lock audit log (another instance may be running)", "error", err)
		return exitFatal
	}
	defer auditLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, req, true)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return exitFatal
	}
	defer eng.Close()

	server := api.New(api.Config{
		Listen:        cfg.API.Listen,
		APIKey:        cfg.API.Auth.APIKey,
		Tokens:        cfg.TokenConfigs(),
		MaxConcurrent: cfg.API.MaxConcurrent,
	}, eng.dispatcher, cfg.Request, eng.history, eng.counters, eng.hub, log.WithComponent("api"))

	logger.Info("volley serve starting", "version", version, "config", cfg.SourcePath, "listen", cfg.API.Listen)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server stopped", "error", err)
		return exitFatal
	}
	logger.Info("volley serve stopped")
	return exitOK
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "API URL")
	apiKey := fs.String("api-key", os.Getenv("VOLLEY_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or VOLLEY_API_KEY env var.")
		return exitFatal
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := tui.New(tui.Stream(ctx, *apiURL, *apiKey, 3*time.Second))
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return exitFatal
	}
	return exitOK
}
