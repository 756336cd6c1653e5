// Package store keeps the local run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"vpsrenew/internal/logging"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the renewal workflow.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    *time.Time
	State         string // scheduler state at decision time
	Attempted     bool
	Outcome       string // renewed, skipped, failed
	Expiration    *time.Time
	NewExpiration *time.Time
	Error         string
}

// ChallengeRecord is one backend attempt against a challenge.
type ChallengeRecord struct {
	RunID      string
	Occurrence string
	Backend    string
	Variant    string
	Outcome    string
	Digits     string
	Reason     string
	CreatedAt  time.Time
}

// History is the sqlite-backed run log.
type History struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// OpenHistory opens (creating if needed) the database at path. ":memory:"
// is accepted for tests.
func OpenHistory(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	h := &History{db: db, dbPath: path}
	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		state TEXT DEFAULT '',
		attempted INTEGER DEFAULT 0,
		outcome TEXT DEFAULT '',
		expiration DATETIME,
		new_expiration DATETIME,
		error TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS challenge_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		occurrence TEXT NOT NULL,
		backend TEXT NOT NULL,
		outcome TEXT NOT NULL,
		digits TEXT DEFAULT '',
		reason TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON challenge_attempts(run_id);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history tables: %w", err)
	}
	return runMigrations(h.db)
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// StartRun inserts a run row.
func (h *History) StartRun(ctx context.Context, run Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, state, expiration) VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.State, nullTime(run.Expiration))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	logging.Store("run %s started", run.ID)
	return nil
}

// FinishRun records the final state of a run.
func (h *History) FinishRun(ctx context.Context, run Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	res, err := h.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, state = ?, attempted = ?, outcome = ?,
			expiration = ?, new_expiration = ?, error = ?
		WHERE id = ?`,
		finished.UTC(), run.State, run.Attempted, run.Outcome,
		nullTime(run.Expiration), nullTime(run.NewExpiration), run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	logging.Store("run %s finished: outcome=%s", run.ID, run.Outcome)
	return nil
}

// RecordAttempts appends challenge attempts for a run.
func (h *History) RecordAttempts(ctx context.Context, records []ChallengeRecord) error {
	if len(records) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO challenge_attempts (run_id, occurrence, backend, variant, outcome, digits, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, r.RunID, r.Occurrence, r.Backend, r.Variant, r.Outcome, r.Digits, r.Reason, created.UTC()); err != nil {
			return fmt.Errorf("failed to insert attempt: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, state, attempted, outcome, expiration, new_expiration, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run.
func (h *History) Get(ctx context.Context, id string) (*Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	row := h.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, state, attempted, outcome, expiration, new_expiration, error
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Attempts returns the challenge attempts recorded for a run, oldest first.
func (h *History) Attempts(ctx context.Context, runID string) ([]ChallengeRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, occurrence, backend, variant, outcome, digits, reason, created_at
		FROM challenge_attempts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []ChallengeRecord
	for rows.Next() {
		var r ChallengeRecord
		if err := rows.Scan(&r.RunID, &r.Occurrence, &r.Backend, &r.Variant, &r.Outcome, &r.Digits, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var run Run
	var finished, exp, newExp sql.NullTime
	if err := s.Scan(&run.ID, &run.StartedAt, &finished, &run.State, &run.Attempted, &run.Outcome, &exp, &newExp, &run.Error); err != nil {
		return Run{}, err
	}
	run.FinishedAt = timePtr(finished)
	run.Expiration = timePtr(exp)
	run.NewExpiration = timePtr(newExp)
	return run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
