package runs

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; mismatched databases are rejected with guidance.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// ErrRunActive indicates another run already holds the running slot.
var ErrRunActive = errors.New("another run is already running")

// ErrTerminal indicates an attempted transition out of a terminal status.
var ErrTerminal = errors.New("run already in terminal status")

// ErrNotFound indicates the run ID is unknown.
var ErrNotFound = errors.New("run not found")

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store manages run lifecycle persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Create inserts a new queued run covering the given phases.
func (s *Store) Create(ctx context.Context, phases []string) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Phases:    append([]string(nil), phases...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, status, phases, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			run.ID, string(run.Status), strings.Join(run.Phases, ","), formatTime(now), formatTime(now),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Begin transitions a queued run to running. Fails with ErrRunActive when a
// different run already holds the running slot.
func (s *Store) Begin(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var active int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM runs WHERE status = ? AND id != ?", string(StatusRunning), id,
		).Scan(&active); err != nil {
			return fmt.Errorf("count running: %w", err)
		}
		if active > 0 {
			return ErrRunActive
		}
		now := formatTime(time.Now().UTC())
		res, err := tx.ExecContext(ctx,
			"UPDATE runs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?",
			string(StatusRunning), now, now, id, string(StatusQueued),
		)
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return s.explainMissingTransition(ctx, tx, id)
		}
		return nil
	})
}

// UpdateProgress records phase-boundary progress for a running run.
func (s *Store) UpdateProgress(ctx context.Context, id, currentPhase string, percent float64, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE runs SET current_phase = ?, progress_percent = ?, message = ?, updated_at = ? WHERE id = ? AND status = ?",
			currentPhase, percent, message, formatTime(time.Now().UTC()), id, string(StatusRunning),
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s is not running", ErrNotFound, id)
		}
		return nil
	})
}

// Finish transitions a run to a terminal status. Terminal statuses are
// immutable: finishing an already-terminal run returns ErrTerminal.
func (s *Store) Finish(ctx context.Context, id string, status Status, message, report string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now().UTC())
		res, err := tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, message = ?, report = ?, completed_at = ?, updated_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(status), message, report, now, now, id, string(StatusQueued), string(StatusRunning),
		)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return s.explainMissingTransition(ctx, tx, id)
		}
		return nil
	})
}

func (s *Store) explainMissingTransition(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if parsed, ok := ParseStatus(status); ok && parsed.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, status)
	}
	return fmt.Errorf("run %s in unexpected status %s", id, status)
}

// Get fetches one run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// Active returns the currently running run, or nil.
func (s *Store) Active(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE status = ? LIMIT 1", string(StatusRunning))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SweepStuck fails runs that have been running longer than timeout. Used by
// the operator-facing sweep, never by the orchestrator itself.
func (s *Store) SweepStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().UTC().Add(-timeout))
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET status = ?, message = ?, completed_at = ?, updated_at = ?
			 WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
			string(StatusFailed), "swept: exceeded stuck-run timeout", formatTime(time.Now().UTC()),
			formatTime(time.Now().UTC()), string(StatusRunning), cutoff,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

const selectColumns = `SELECT id, status, phases, current_phase, progress_percent, message, report,
	created_at, updated_at, started_at, completed_at FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		status     string
		phases     string
		createdAt  string
		updatedAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
	)
	err := row.Scan(&run.ID, &status, &phases, &run.CurrentPhase, &run.ProgressPercent,
		&run.Message, &run.Report, &createdAt, &updatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	parsed, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("run %s has unknown status %q", run.ID, status)
	}
	run.Status = parsed
	if phases != "" {
		run.Phases = strings.Split(phases, ",")
	}
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.CompletedAt = &t
	}
	return &run, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
