package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattjoyce/volley/internal/config"
	"github.com/mattjoyce/volley/internal/history"
	"github.com/mattjoyce/volley/internal/storage"
)

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		printHistoryNounHelp(os.Stderr)
		return exitFatal
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return exitOK
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		return runHistoryList(actionArgs)
	case "show":
		return runHistoryShow(actionArgs)
	case "prune":
		return runHistoryPrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return exitFatal
	}
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: volley history <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: list [--limit N] [--json], show <id> [--json], prune --keep N")
}

// openHistory loads the config and opens its history database.
func openHistory(configPath string) (*history.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return history.New(db), func() { _ = db.Close() }, nil
}

// parseWithPositional lets flags follow a positional argument, as in `show <id> --json`.
func parseWithPositional(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum dispatches to list")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}

	store, closeDB, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	defer closeDB()

	runs, err := store.List(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list dispatches: %v\n", err)
		return exitFatal
	}

	if *jsonOut {
		if runs == nil {
			runs = []history.Summary{}
		}
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No dispatches recorded.")
		return exitOK
	}
	printSummaries(os.Stdout, runs)
	return exitOK
}

func printSummaries(w io.Writer, runs []history.Summary) {
	fmt.Fprintf(w, "%-36s  %-20s  %-13s  %-8s  %-8s  %s\n", "DISPATCH", "STARTED", "STATUS", "ISSUED", "OK", "STEP")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %-13s  %-8d  %-8d  %s/%s\n",
			r.DispatchID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.Issued,
			r.Succeeded,
			r.Interface, r.Step)
	}
}

func runHistoryShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positional, err := parseWithPositional(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: volley history show <id> [--config PATH] [--json]")
		return exitFatal
	}

	store, closeDB, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	defer closeDB()

	rec, err := store.Get(context.Background(), positional[0])
	if errors.Is(err, history.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Dispatch not found: %s\n", positional[0])
		return exitFatal
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load dispatch: %v\n", err)
		return exitFatal
	}

	if *jsonOut {
		return printJSON(rec)
	}
	printReport(os.Stdout, rec.Report)
	if len(rec.Attempts) > 0 {
		fmt.Println()
		fmt.Printf("Recorded attempts (%d):\n", len(rec.Attempts))
		for _, a := range rec.Attempts {
			fmt.Printf("  %s  ch %-4d %-11s %8s  %s\n",
				a.At.Local().Format("15:04:05.000"), a.Channel, a.Outcome, a.Elapsed.Round(time.Millisecond), a.Detail)
		}
	}
	return exitOK
}

func runHistoryPrune(args []string) int {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	keep := fs.Int("keep", -1, "Number of newest dispatches to keep")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}
	if *keep < 0 {
		fmt.Fprintln(os.Stderr, "Usage: volley history prune --keep N [--config PATH]")
		return exitFatal
	}

	store, closeDB, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	defer closeDB()

	n, err := store.Prune(context.Background(), *keep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune history: %v\n", err)
		return exitFatal
	}
	fmt.Printf("Pruned %d dispatches, kept the newest %d\n", n, *keep)
	return exitOK
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return exitFatal
	}
	fmt.Println(string(data))
	return exitOK
}
