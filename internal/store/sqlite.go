package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/seantiz/porter/internal/model"

	_ "modernc.org/sqlite"
)

const createLaunchesTable = `
CREATE TABLE IF NOT EXISTS launches (
    id           TEXT PRIMARY KEY,
    sandbox_name TEXT NOT NULL,
    process_id   TEXT,
    trigger_kind TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    error_kind   TEXT,
    error_detail TEXT,
    created_at   DATETIME NOT NULL,
    resolved_at  DATETIME
)`

const createSyncRunsTable = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id          TEXT PRIMARY KEY,
    outcome     TEXT NOT NULL,
    detail      TEXT,
    duration_ms INTEGER,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createLaunchesTable, createSyncRunsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordLaunch inserts a resolved gateway launch attempt.
func (s *SQLiteStore) RecordLaunch(ctx context.Context, rec *model.LaunchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO launches (
			id, sandbox_name, process_id, trigger_kind, outcome,
			error_kind, error_detail, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SandboxName, rec.ProcessID, rec.Trigger, rec.Outcome,
		rec.ErrorKind, rec.ErrorDetail, rec.CreatedAt, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert launch: %w", err)
	}
	return nil
}

// ListLaunches returns launch records ordered newest first.
func (s *SQLiteStore) ListLaunches(ctx context.Context, limit int) ([]*model.LaunchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sandbox_name, process_id, trigger_kind, outcome,
			error_kind, error_detail, created_at, resolved_at
		FROM launches ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list launches: %w", err)
	}
	defer rows.Close()

	var records []*model.LaunchRecord
	for rows.Next() {
		rec := &model.LaunchRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.SandboxName, &rec.ProcessID, &rec.Trigger, &rec.Outcome,
			&rec.ErrorKind, &rec.ErrorDetail, &rec.CreatedAt, &rec.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan launch: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate launches: %w", err)
	}

	return records, nil
}

// RecordSyncRun inserts a finished backup sync run.
func (s *SQLiteStore) RecordSyncRun(ctx context.Context, run *model.SyncRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (
			id, outcome, detail, duration_ms, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Outcome, run.Detail, run.DurationMS, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns sync runs ordered newest first.
func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, outcome, detail, duration_ms, started_at, finished_at
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		run := &model.SyncRun{}
		if err := rows.Scan(
			&run.ID, &run.Outcome, &run.Detail, &run.DurationMS, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}

	return runs, nil
}
