// Package history is the supplemented run-history ledger SPEC_FULL.md
// §5 describes: a local, audit-only SQLite record of every engine run
// and the per-file events it emitted, mirroring the role the teacher's
// sqlc BackupOperation table plays for its `history`/`log` CLI
// commands. It is never consulted by the engine to decide backup
// correctness — only the metadata document is — so recording here is
// purely additive. Grounded on the teacher's internal/database
// package for the SQLite-connection-plus-migration wiring pattern,
// using hand-written queries via database/sql instead of the teacher's
// sqlc-generated code, since no sqlc schema/config is available to
// regenerate from.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zarniwp/cuba/internal/history/migrations"
	"github.com/zarniwp/cuba/internal/message"
)

// Store persists run and file-event records to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path,
// applying any pending migrations. Pass ":memory:" for an ephemeral
// store, e.g. in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: one writer at a time

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// StartRun records the beginning of a run, per spec.md §4.9's state
// machine entering Preparing.
func (s *Store) StartRun(ctx context.Context, runID, profile, operation string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, profile, operation, started_at, final_state) VALUES (?, ?, ?, ?, ?)`,
		runID, profile, operation, startedAt.UTC(), "Running")
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// RunSummary carries the counters FinishRun records alongside a run's
// terminal state, mirroring engine.Result's fields without importing
// internal/engine (history is a sink subscriber, not an engine
// collaborator, per SPEC_FULL.md §5).
type RunSummary struct {
	FinalState    string
	FilesUploaded int
	FilesSkipped  int
	FilesMissing  int
	FilesDeleted  int
	FilesFailed   int
	BytesUploaded int64
}

// FinishRun records a run's terminal state and summary counters.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, summary RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, final_state = ?, files_uploaded = ?, files_skipped = ?,
			files_missing = ?, files_deleted = ?, files_failed = ?, bytes_uploaded = ?
		WHERE id = ?`,
		finishedAt.UTC(), summary.FinalState, summary.FilesUploaded, summary.FilesSkipped,
		summary.FilesMissing, summary.FilesDeleted, summary.FilesFailed, summary.BytesUploaded, runID)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// Run is one recorded run, for ListRuns.
type Run struct {
	ID            string
	Profile       string
	Operation     string
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	FinalState    string
	FilesUploaded int
	FilesFailed   int
	BytesUploaded int64
}

// ListRuns returns the most recent runs across every profile, newest
// first, up to limit. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, profile, operation, started_at, finished_at, final_state, files_uploaded, files_failed, bytes_uploaded
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Profile, &r.Operation, &r.StartedAt, &r.FinishedAt, &r.FinalState, &r.FilesUploaded, &r.FilesFailed, &r.BytesUploaded); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FileEvent is one recorded per-file state transition, for ListFileEvents.
type FileEvent struct {
	RunID        string
	RelativePath string
	Action       string
	Bytes        int64
	Error        sql.NullString
	RecordedAt   time.Time
}

// ListFileEvents returns the most recent events for relativePath within
// profile, newest first, up to limit, analogous to the teacher's
// `log FILENAME` command.
func (s *Store) ListFileEvents(ctx context.Context, profile, relativePath string, limit int) ([]FileEvent, error) {
	query := `SELECT run_id, relative_path, action, bytes, error, recorded_at
		FROM file_events WHERE profile = ? AND relative_path = ? ORDER BY recorded_at DESC`
	args := []any{profile, relativePath}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing file events: %w", err)
	}
	defer rows.Close()

	var out []FileEvent
	for rows.Next() {
		var e FileEvent
		if err := rows.Scan(&e.RunID, &e.RelativePath, &e.Action, &e.Bytes, &e.Error, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning file event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// recordFileEvent inserts one file_events row for a FileResult message.
func (s *Store) recordFileEvent(ctx context.Context, runID, profile string, f *message.FileResultPayload, at time.Time) error {
	var errText sql.NullString
	if f.Err != nil {
		errText = sql.NullString{String: f.Err.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_events (run_id, profile, relative_path, action, bytes, error, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, profile, f.RelativePath, f.Action.String(), f.Bytes, errText, at.UTC())
	return err
}
