package e2e

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/volley/internal/api"
	"github.com/mattjoyce/volley/internal/config"
	"github.com/mattjoyce/volley/internal/dispatch"
	"github.com/mattjoyce/volley/internal/events"
	"github.com/mattjoyce/volley/internal/history"
	"github.com/mattjoyce/volley/internal/log"
	"github.com/mattjoyce/volley/internal/partition"
	"github.com/mattjoyce/volley/internal/remote"
	"github.com/mattjoyce/volley/internal/remote/stub"
	"github.com/mattjoyce/volley/internal/storage"
	"github.com/mattjoyce/volley/internal/telemetry"
	"github.com/mattjoyce/volley/internal/tui"
)

const token = "e2e-token"

type stack struct {
	cfg      *config.Config
	endpoint *stub.Server
	api      *httptest.Server
}

func newStack(t *testing.T, failRatio float64) *stack {
	t.Helper()
	tmpDir := t.TempDir()

	endpoint := stub.New(stub.Config{FailRatio: failRatio}, nil)
	remoteSrv := httptest.NewServer(endpoint.Handler())
	t.Cleanup(remoteSrv.Close)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
dispatch:
  address: %s
  interface: Billing
  step: Settle
  channels: 4
  queue_size: 40
  timeout: 2s
  run_for: 30s
  audit_log: true
  server_name: e2e-host
  log_dir: %s
state:
  path: %s
api:
  enabled: true
  auth:
    tokens:
      - token: %s
        scopes: ["dispatch:rw", "runs:ro"]
`, remoteSrv.URL, filepath.Join(tmpDir, "logs"), filepath.Join(tmpDir, "history.db"), token)))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := history.New(db)

	counters := telemetry.NewCounters()
	hub := events.NewHub(1024)
	d := dispatch.New(
		remote.HTTPFactory(cfg.Dispatch.Address, cfg.Dispatch.Timeout),
		dispatch.WithCapacity(partition.Static{Workers: 16, IO: 4}),
		dispatch.WithTelemetry(counters),
		dispatch.WithEvents(hub),
		dispatch.WithHistory(store),
		dispatch.WithLogger(log.Discard()),
	)

	server := api.New(api.Config{Tokens: cfg.TokenConfigs(), MaxConcurrent: 2},
		d, cfg.Request, store, counters, hub, log.Discard())
	apiSrv := httptest.NewServer(server.Handler())
	t.Cleanup(apiSrv.Close)

	return &stack{cfg: cfg, endpoint: endpoint, api: apiSrv}
}

func (s *stack) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, s.api.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestDispatchThroughAPI(t *testing.T) {
	s := newStack(t, 0.25)

	var resp api.DispatchResponse
	if code := s.call(t, http.MethodPost, "/dispatch", nil, &resp); code != http.StatusOK {
		t.Fatalf("POST /dispatch = %d", code)
	}
	report := resp.Report
	if report.Status != dispatch.StatusPartialError {
		t.Fatalf("status = %s, want PartialError", report.Status)
	}
	if report.Issued != 40 || report.Succeeded != 30 {
		t.Fatalf("issued/succeeded = %d/%d, want 40/30", report.Issued, report.Succeeded)
	}
	if got := s.endpoint.Calls(); got != 40 {
		t.Fatalf("endpoint saw %d calls, want 40", got)
	}

	// One line per attempt plus the consolidated line.
	f, err := os.Open(report.AuditPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(records) != 41 {
		t.Fatalf("audit log has %d lines, want 41", len(records))
	}

	var rec history.Record
	if code := s.call(t, http.MethodGet, "/runs/"+report.DispatchID, nil, &rec); code != http.StatusOK {
		t.Fatalf("GET /runs/{id} = %d", code)
	}
	if len(rec.Attempts) != 40 {
		t.Fatalf("history has %d attempts, want 40", len(rec.Attempts))
	}

	var counters api.CountersResponse
	if code := s.call(t, http.MethodGet, "/counters", nil, &counters); code != http.StatusOK {
		t.Fatalf("GET /counters = %d", code)
	}
	if counters.Totals.RequestsIssued != 40 || counters.Totals.Dispatches != 1 {
		t.Fatalf("totals = %+v", counters.Totals)
	}
	if counters.Telemetry["Call Total"] != 40 {
		t.Fatalf("telemetry Call Total = %d, want 40", counters.Telemetry["Call Total"])
	}
}

func TestRemoteWatcherFollowsDispatch(t *testing.T) {
	s := newStack(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	stream := tui.Stream(ctx, s.api.URL, token, 50*time.Millisecond)

	var resp api.DispatchResponse
	if code := s.call(t, http.MethodPost, "/dispatch", map[string]any{"queue_size": 8, "channels": 2}, &resp); code != http.StatusOK {
		t.Fatalf("POST /dispatch = %d", code)
	}

	m := tui.New(nil)
	for m.Report() == nil {
		select {
		case ev, ok := <-stream:
			if !ok {
				t.Fatal("stream closed before dispatch.finished")
			}
			next, _ := m.Update(ev)
			m = next.(tui.Model)
		case <-ctx.Done():
			t.Fatal("timed out waiting for dispatch.finished")
		}
	}

	if m.Report().DispatchID != resp.Report.DispatchID {
		t.Fatalf("watched %s, dispatched %s", m.Report().DispatchID, resp.Report.DispatchID)
	}
	if m.Report().Issued != 8 || m.Report().Status != dispatch.StatusSuccess {
		t.Fatalf("watched report = %+v", m.Report())
	}
}

func TestAPIRejectsInvalidOverrides(t *testing.T) {
	s := newStack(t, 0)
	if code := s.call(t, http.MethodPost, "/dispatch", map[string]any{"timeout": "never"}, nil); code != http.StatusBadRequest {
		t.Fatalf("POST /dispatch = %d, want 400", code)
	}
	if got := s.endpoint.Calls(); got != 0 {
		t.Fatalf("endpoint saw %d calls, want 0", got)
	}
}
