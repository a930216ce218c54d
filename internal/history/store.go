// Package history persists finished dispatch reports and the attempts the recorder
// captured for them, so past runs can be listed and inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/volley/internal/dispatch"
)

// ErrNotFound is returned by Get for an unknown dispatch id.
var ErrNotFound = errors.New("dispatch not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store reads and writes dispatch history in SQLite.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Summary is one row of List.
type Summary struct {
	DispatchID string          `json:"dispatch_id"`
	Interface  string          `json:"interface"`
	Step       string          `json:"step"`
	Status     dispatch.Status `json:"status"`
	Issued     int             `json:"issued"`
	Succeeded  int             `json:"succeeded"`
	StartedAt  time.Time       `json:"started_at"`
	Elapsed    time.Duration   `json:"elapsed_ns"`
}

// Record is a stored dispatch with its recorded attempts.
type Record struct {
	Report   *dispatch.Report   `json:"report"`
	Attempts []dispatch.Attempt `json:"attempts"`
}

// SaveDispatch stores the report and attempts in one transaction.
func (s *Store) SaveDispatch(ctx context.Context, report *dispatch.Report, attempts []dispatch.Attempt) error {
	if report == nil || report.DispatchID == "" {
		return fmt.Errorf("report has no dispatch id")
	}
	channels, err := json.Marshal(report.ChannelResults)
	if err != nil {
		return fmt.Errorf("encode channel results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO dispatch_run(
  id, interface, step, server_name, status, total_work, channels, quota, workers, io,
  issued, succeeded, responses, started_at, finished_at, elapsed_ns, audit_path, channel_results
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, report.DispatchID, report.Interface, report.Step, report.ServerName, report.Status.String(),
		report.TotalWork, report.Channels, report.Quota, report.Workers, report.IO,
		report.Issued, report.Succeeded, report.Responses,
		report.StartedAt.UTC().Format(timeLayout), report.FinishedAt.UTC().Format(timeLayout),
		int64(report.Elapsed), report.AuditPath, string(channels))
	if err != nil {
		return fmt.Errorf("insert dispatch run: %w", err)
	}

	if len(attempts) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO dispatch_attempt(id, dispatch_id, channel, outcome, elapsed_ns, at, detail)
VALUES(?, ?, ?, ?, ?, ?, ?);
`)
		if err != nil {
			return fmt.Errorf("prepare attempt insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, a := range attempts {
			if _, err := stmt.ExecContext(ctx, a.AttemptID, report.DispatchID, a.Channel, string(a.Outcome),
				int64(a.Elapsed), a.At.UTC().Format(timeLayout), a.Detail); err != nil {
				return fmt.Errorf("insert attempt %s: %w", a.AttemptID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// List returns the most recent dispatches first. limit <= 0 means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, interface, step, status, issued, succeeded, started_at, elapsed_ns
FROM dispatch_run
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum      Summary
			statusS  string
			startedS string
			elapsed  int64
		)
		if err := rows.Scan(&sum.DispatchID, &sum.Interface, &sum.Step, &statusS, &sum.Issued, &sum.Succeeded, &startedS, &elapsed); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		if sum.Status, err = dispatch.ParseStatus(statusS); err != nil {
			return nil, err
		}
		sum.StartedAt = parseTime(startedS)
		sum.Elapsed = time.Duration(elapsed)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	return out, nil
}

// Get loads one dispatch and its attempts.
func (s *Store) Get(ctx context.Context, dispatchID string) (*Record, error) {
	var (
		r         dispatch.Report
		serverN   sql.NullString
		auditPath sql.NullString
		statusS   string
		startedS  string
		finishedS string
		elapsed   int64
		channels  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, interface, step, server_name, status, total_work, channels, quota, workers, io,
  issued, succeeded, responses, started_at, finished_at, elapsed_ns, audit_path, channel_results
FROM dispatch_run
WHERE id = ?;
`, dispatchID).Scan(
		&r.DispatchID, &r.Interface, &r.Step, &serverN, &statusS, &r.TotalWork, &r.Channels, &r.Quota, &r.Workers, &r.IO,
		&r.Issued, &r.Succeeded, &r.Responses, &startedS, &finishedS, &elapsed, &auditPath, &channels,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dispatchID)
	}
	if err != nil {
		return nil, fmt.Errorf("get dispatch: %w", err)
	}

	if r.Status, err = dispatch.ParseStatus(statusS); err != nil {
		return nil, err
	}
	r.ServerName = serverN.String
	r.AuditPath = auditPath.String
	r.StartedAt = parseTime(startedS)
	r.FinishedAt = parseTime(finishedS)
	r.Elapsed = time.Duration(elapsed)
	if err := json.Unmarshal([]byte(channels), &r.ChannelResults); err != nil {
		return nil, fmt.Errorf("decode channel results: %w", err)
	}

	attempts, err := s.attempts(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	return &Record{Report: &r, Attempts: attempts}, nil
}

func (s *Store) attempts(ctx context.Context, dispatchID string) ([]dispatch.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, channel, outcome, elapsed_ns, at, detail
FROM dispatch_attempt
WHERE dispatch_id = ?
ORDER BY at ASC, rowid ASC;
`, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []dispatch.Attempt
	for rows.Next() {
		var (
			a       dispatch.Attempt
			outcome string
			elapsed int64
			atS     string
			detail  sql.NullString
		)
		if err := rows.Scan(&a.AttemptID, &a.Channel, &outcome, &elapsed, &atS, &detail); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.DispatchID = dispatchID
		a.Outcome = dispatch.Outcome(outcome)
		a.Elapsed = time.Duration(elapsed)
		a.At = parseTime(atS)
		a.Detail = detail.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep dispatches, with their attempts, and returns
// how many dispatches were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const stale = `SELECT id FROM dispatch_run WHERE id NOT IN (
  SELECT id FROM dispatch_run ORDER BY started_at DESC, rowid DESC LIMIT ?
)`
	if _, err := tx.ExecContext(ctx, `DELETE FROM dispatch_attempt WHERE dispatch_id IN (`+stale+`);`, keep); err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM dispatch_run WHERE id IN (`+stale+`);`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune dispatches: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
