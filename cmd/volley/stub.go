package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/volley/internal/log"
	"github.com/mattjoyce/volley/internal/remote"
	"github.com/mattjoyce/volley/internal/remote/stub"
)

func runStub(args []string) int {
	fs := flag.NewFlagSet("stub", flag.ContinueOnError)
	listen := fs.String("listen", "127.0.0.1:9090", "Listen address")
	latency := fs.Duration("latency", 0, "Delay before every answer")
	failRatio := fs.Float64("fail-ratio", 0, "Share of calls answered with 503, 0 to 1")
	status := fs.String("status", string(remote.StatusSuccess), "Execution status reported for calls that do not fail")
	logLevel := fs.String("log-level", "info", "Log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}
	if *failRatio < 0 || *failRatio > 1 {
		fmt.Fprintln(os.Stderr, "--fail-ratio must be between 0 and 1")
		return exitFatal
	}

	log.SetupWriter(*logLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := stub.New(stub.Config{
		Latency:   *latency,
		FailRatio: *failRatio,
		Status:    remote.ExecutionStatus(*status),
	}, log.WithComponent("stub"))
	if err := s.Start(ctx, *listen); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Stub failed: %v\n", err)
		return exitFatal
	}
	fmt.Fprintf(os.Stderr, "Stub stopped after %d calls (%d failed)\n", s.Calls(), s.Failures())
	return exitOK
}
