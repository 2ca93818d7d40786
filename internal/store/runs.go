package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Run kinds.
const (
	RunBootstrap = "bootstrap"
	RunTick      = "tick"
	RunRecovery  = "recovery"
	RunResync    = "resync"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one recorded sync operation.
type Run struct {
	ID              string         `db:"id"`
	Kind            string         `db:"kind"`
	Status          string         `db:"status"`
	StartedAtMs     int64          `db:"started_at"`
	FinishedAtMs    sql.NullInt64  `db:"finished_at"`
	MessagesWritten int64          `db:"messages_written"`
	MessagesDeleted int64          `db:"messages_deleted"`
	FetchFailures   int64          `db:"fetch_failures"`
	CursorBefore    sql.NullString `db:"cursor_before"`
	CursorAfter     sql.NullString `db:"cursor_after"`
	ErrorMessage    sql.NullString `db:"error_message"`
}

// StartedAt returns the run start time.
func (r *Run) StartedAt() time.Time {
	return time.UnixMilli(r.StartedAtMs)
}

// FinishedAt returns the run end time, or the zero time while running.
func (r *Run) FinishedAt() time.Time {
	if !r.FinishedAtMs.Valid {
		return time.Time{}
	}
	return time.UnixMilli(r.FinishedAtMs.Int64)
}

// RunStats are the counters written when a run ends.
type RunStats struct {
	MessagesWritten int64
	MessagesDeleted int64
	FetchFailures   int64
	CursorAfter     string
}

// StartRun records a new running operation of the given kind and returns
// its ID. Earlier runs of the same kind still marked running are failed as
// superseded.
func (s *Store) StartRun(kind, cursorBefore string) (string, error) {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET status = ?, error_message = 'superseded by new run', finished_at = ?
		WHERE kind = ? AND status = ?`, RunFailed, now, kind, RunRunning)
	if err != nil {
		return "", cacheErr("start run", err)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(`
		INSERT INTO sync_runs (id, kind, status, started_at, cursor_before)
		VALUES (?, ?, ?, ?, ?)`,
		id, kind, RunRunning, now, sql.NullString{String: cursorBefore, Valid: cursorBefore != ""})
	if err != nil {
		return "", cacheErr("start run", err)
	}
	return id, nil
}

// FinishRun marks a run completed.
func (s *Store) FinishRun(id string, stats RunStats) error {
	return s.endRun(id, RunCompleted, stats, "")
}

// FailRun marks a run failed with the given message.
func (s *Store) FailRun(id string, stats RunStats, errMsg string) error {
	return s.endRun(id, RunFailed, stats, errMsg)
}

func (s *Store) endRun(id, status string, stats RunStats, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs
		SET status = ?,
		    finished_at = ?,
		    messages_written = ?,
		    messages_deleted = ?,
		    fetch_failures = ?,
		    cursor_after = ?,
		    error_message = ?
		WHERE id = ?`,
		status, time.Now().UnixMilli(),
		stats.MessagesWritten, stats.MessagesDeleted, stats.FetchFailures,
		sql.NullString{String: stats.CursorAfter, Valid: stats.CursorAfter != ""},
		sql.NullString{String: errMsg, Valid: errMsg != ""},
		id)
	return cacheErr("end run", err)
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	err := s.db.Select(&runs, `
		SELECT id, kind, status, started_at, finished_at, messages_written, messages_deleted,
		       fetch_failures, cursor_before, cursor_after, error_message
		FROM sync_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, cacheErr("recent runs", err)
	}
	return runs, nil
}
