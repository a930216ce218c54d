package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes for `volley run`; other commands use 0 and 1 only.
const (
	exitOK           = 0
	exitFatal        = 1
	exitPartialError = 2
	exitAllError     = 3
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return exitFatal
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return exitOK
		}
		return runDispatch(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return exitOK
		}
		return runServe(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return exitOK
		}
		return runWatch(args)
	case "stub":
		if hasHelpFlag(args) {
			printStubHelp()
			return exitOK
		}
		return runStub(args)

	// --- NOUNS ---
	case "history":
		return runHistoryNoun(args)
	case "config":
		return runConfigNoun(args)

	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return exitFatal
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitFatal
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: volley version [--json]")
		return exitFatal
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return exitFatal
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("volley %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`volley - Deadline-bounded multi-channel remote step dispatcher

Usage:
  volley <command> [flags]
  volley <noun> <action> [flags]

Commands:
  run               Run one dispatch and print its report
  serve             Serve the HTTP API (POST /dispatch, /runs, /events)
  watch             Follow a running API server's dispatches in a TUI
  stub              Serve a fake step-execution endpoint for local runs

History Commands:
  history list      List recorded dispatches, newest first
  history show <id> Show one dispatch with its recorded attempts
  history prune     Keep only the newest N dispatches

Config Commands:
  config check      Validate syntax and integrity
  config lock       Record the config file's BLAKE3 hash in .checksums

General:
  version           Show version information
  help              Show this help message

Exit codes for 'run':
  0  Success       every issued attempt succeeded (or none was issued)
  2  PartialError  at least one attempt failed and at least one succeeded
  3  AllError      attempts were issued and none succeeded
  1  fatal error before or outside the dispatch
`)
}

func printRunHelp() {
	fmt.Println("Usage: volley run [--config PATH] [--channels N] [--queue-size W] [--timeout D]")
	fmt.Println("                  [--run-for D | --deadline RFC3339] [--audit-log] [--no-history] [--watch] [--json]")
	fmt.Println("Run one dispatch with the configured defaults and the given overrides.")
}

func printServeHelp() {
	fmt.Println("Usage: volley serve [--config PATH]")
	fmt.Println("Serve the HTTP API in the foreground until interrupted.")
}

func printWatchHelp() {
	fmt.Println("Usage: volley watch [--api-url URL] [--api-key KEY]")
	fmt.Println()
	fmt.Println("Follow dispatches run through a volley API server.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or VOLLEY_API_KEY env var)")
}

func printStubHelp() {
	fmt.Println("Usage: volley stub [--listen ADDR] [--latency D] [--fail-ratio F] [--status NAME]")
	fmt.Println("Serve a fake step-execution endpoint.")
}
