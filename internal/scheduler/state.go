package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// PendingRun records a task dispatch that has not yet completed. Entries that
// survive a restart identify runs interrupted by a crash; they are surfaced
// to the operator, never re-executed.
type PendingRun struct {
	TaskID    string    `json:"task_id"`
	RunID     string    `json:"run_id"`
	Tenant    string    `json:"tenant"`
	StartedAt time.Time `json:"started_at"`
}

type stateFileBody struct {
	Pending []PendingRun `json:"pending"`
}

// StateFile is the crash-recovery journal. Every write goes through a temp
// file and rename so a crash mid-write leaves the previous state intact.
type StateFile struct {
	path string

	mu      sync.Mutex
	pending map[string]PendingRun
	orphans []PendingRun
}

// OpenState loads the state file at path, capturing any leftover entries as
// orphans and starting with an empty pending set. A missing or unreadable
// file yields an empty state.
func OpenState(path string) (*StateFile, error) {
	s := &StateFile{path: path, pending: make(map[string]PendingRun)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var body stateFileBody
	if err := json.Unmarshal(data, &body); err != nil {
		// A corrupt journal means we cannot tell what was in flight.
		// Treat it as empty rather than refuse to start.
		return s, nil
	}
	s.orphans = body.Pending
	return s, nil
}

// Orphans returns the runs that were pending when the previous process died.
func (s *StateFile) Orphans() []PendingRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingRun, len(s.orphans))
	copy(out, s.orphans)
	return out
}

// MarkPending journals a run before it is dispatched.
func (s *StateFile) MarkPending(run PendingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[run.RunID] = run
	return s.flushLocked()
}

// Clear removes a completed run from the journal.
func (s *StateFile) Clear(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, runID)
	return s.flushLocked()
}

// Reset discards the orphan set and persists the current (empty) pending set.
// Called once at startup after orphans have been surfaced.
func (s *StateFile) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans = nil
	return s.flushLocked()
}

func (s *StateFile) flushLocked() error {
	body := stateFileBody{Pending: make([]PendingRun, 0, len(s.pending))}
	for _, run := range s.pending {
		body.Pending = append(body.Pending, run)
	}
	sort.Slice(body.Pending, func(i, j int) bool {
		return body.Pending[i].StartedAt.Before(body.Pending[j].StartedAt)
	})

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}
