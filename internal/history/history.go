// Package history keeps a queryable sqlite index of completed runs. The
// per-run JSON files remain the durable record; this index only serves the
// status surface, so losing it loses nothing that cannot be rebuilt.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run statuses stored in the index.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one indexed run outcome.
type Run struct {
	RunID        string
	TaskID       string
	TaskName     string
	Tenant       string
	StartTime    time.Time
	EndTime      time.Time
	Status       string
	Error        string
	FilesChanged int
	CommitID     string
}

// TaskStats aggregates outcomes for a single task id.
type TaskStats struct {
	TaskID    string
	Total     int
	Failed    int
	LastRunAt time.Time
}

// Index is the sqlite-backed run index.
type Index struct {
	db *sql.DB
}

// Open creates or opens the index database at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &Index{db: db}
	if err := idx.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) initSchema(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("set pragma: %w", err)
	}
	if _, err := x.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id        TEXT PRIMARY KEY,
			task_id       TEXT NOT NULL,
			task_name     TEXT NOT NULL DEFAULT '',
			tenant        TEXT NOT NULL DEFAULT '',
			start_time    DATETIME NOT NULL,
			end_time      DATETIME NOT NULL,
			status        TEXT NOT NULL,
			error         TEXT NOT NULL DEFAULT '',
			files_changed INTEGER NOT NULL DEFAULT 0,
			commit_id     TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	if _, err := x.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_runs_task_time ON runs(task_id, start_time DESC);
	`); err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}
	return nil
}

// RecordRun upserts a run outcome. Re-recording the same run id replaces the
// previous row, so retried writes are harmless.
func (x *Index) RecordRun(ctx context.Context, run Run) error {
	if run.RunID == "" {
		return fmt.Errorf("run has no run_id")
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, task_id, task_name, tenant, start_time, end_time, status, error, files_changed, commit_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			task_id = excluded.task_id,
			task_name = excluded.task_name,
			tenant = excluded.tenant,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			status = excluded.status,
			error = excluded.error,
			files_changed = excluded.files_changed,
			commit_id = excluded.commit_id
	`, run.RunID, run.TaskID, run.TaskName, run.Tenant,
		run.StartTime.UTC(), run.EndTime.UTC(), run.Status, run.Error,
		run.FilesChanged, run.CommitID)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first, optionally filtered by
// tenant.
func (x *Index) RecentRuns(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT run_id, task_id, task_name, tenant, start_time, end_time, status, error, files_changed, commit_id
		FROM runs`
	args := []any{}
	if tenantID != "" {
		query += " WHERE tenant = ?"
		args = append(args, tenantID)
	}
	query += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.TaskName, &r.Tenant,
			&r.StartTime, &r.EndTime, &r.Status, &r.Error,
			&r.FilesChanged, &r.CommitID); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates run outcomes per task, ordered by most recent activity.
func (x *Index) Stats(ctx context.Context) ([]TaskStats, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT task_id,
		       COUNT(*),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       MAX(start_time)
		FROM runs
		GROUP BY task_id
		ORDER BY MAX(start_time) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query task stats: %w", err)
	}
	defer rows.Close()

	var out []TaskStats
	for rows.Next() {
		var s TaskStats
		var last string
		if err := rows.Scan(&s.TaskID, &s.Total, &s.Failed, &last); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		s.LastRunAt = parseSQLiteTime(last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// parseSQLiteTime handles the formats sqlite reports for MAX(datetime).
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t
		}
	}
	return time.Time{}
}
