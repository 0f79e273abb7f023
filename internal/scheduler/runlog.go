package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Run statuses recorded in the per-run log files.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is the persisted outcome of a single scheduled run, written as
// one JSON file per run so logs survive independently of any index.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id"`
	TaskName  string    `json:"task_name"`
	Tenant    string    `json:"tenant"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// RunLog writes one file per run under its directory.
type RunLog struct {
	dir string
}

func NewRunLog(dir string) *RunLog {
	return &RunLog{dir: dir}
}

// Write persists the record as <dir>/<run_id>.json.
func (l *RunLog) Write(rec RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run record has no run_id")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create run log dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	path := filepath.Join(l.dir, rec.RunID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit run record: %w", err)
	}
	return nil
}

// Read loads a single run record by ID.
func (l *RunLog) Read(runID string) (RunRecord, error) {
	var rec RunRecord
	data, err := os.ReadFile(filepath.Join(l.dir, runID+".json"))
	if err != nil {
		return rec, fmt.Errorf("read run record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode run record %s: %w", runID, err)
	}
	return rec, nil
}
