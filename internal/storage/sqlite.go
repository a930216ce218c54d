package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the history database at path and ensures
// the dispatch tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates the dispatch history tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatch_run (
  id              TEXT PRIMARY KEY,
  interface       TEXT NOT NULL,
  step            TEXT NOT NULL,
  server_name     TEXT,
  status          TEXT NOT NULL,
  total_work      INTEGER NOT NULL,
  channels        INTEGER NOT NULL,
  quota           INTEGER NOT NULL,
  workers         INTEGER NOT NULL,
  io              INTEGER NOT NULL,
  issued          INTEGER NOT NULL,
  succeeded       INTEGER NOT NULL,
  responses       INTEGER NOT NULL,
  started_at      TEXT NOT NULL,
  finished_at     TEXT NOT NULL,
  elapsed_ns      INTEGER NOT NULL,
  audit_path      TEXT,
  channel_results JSON NOT NULL DEFAULT '[]'
);`,
		`CREATE TABLE IF NOT EXISTS dispatch_attempt (
  id          TEXT PRIMARY KEY,
  dispatch_id TEXT NOT NULL REFERENCES dispatch_run(id) ON DELETE CASCADE,
  channel     INTEGER NOT NULL,
  outcome     TEXT NOT NULL,
  elapsed_ns  INTEGER NOT NULL,
  at          TEXT NOT NULL,
  detail      TEXT
);`,
		`CREATE INDEX IF NOT EXISTS dispatch_run_started_at_idx ON dispatch_run(started_at);`,
		`CREATE INDEX IF NOT EXISTS dispatch_run_interface_step_idx ON dispatch_run(interface, step);`,
		`CREATE INDEX IF NOT EXISTS dispatch_attempt_dispatch_idx ON dispatch_attempt(dispatch_id, channel);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
