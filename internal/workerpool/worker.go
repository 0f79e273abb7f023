// Package workerpool provides the bounded set of task executors. A worker is
// one unit of execution capacity, bound to at most one task at a time, backed
// by either a local subprocess or a remote streaming endpoint.
package workerpool

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// State is a worker's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Task is one unit of work handed to a worker.
type Task struct {
	ID     string
	Prompt string
	Env    map[string]string
}

// Result is the outcome of one task execution. Execution errors are captured
// here, never thrown past the pool boundary.
type Result struct {
	WorkerID     string
	TaskID       string
	Success      bool
	FilesChanged []string
	CommitID     string
	Output       string
	ErrorMessage string
	Duration     time.Duration
}

// Worker executes one task at a time against its runner.
type Worker struct {
	id       string
	endpoint string // "local" or the remote URL
	runner   Runner

	mu            sync.Mutex
	state         State
	reserved      bool
	currentTaskID string
	startedAt     time.Time
	output        string
	cancel        context.CancelFunc
}

func newWorker(id, endpoint string, runner Runner) *Worker {
	return &Worker{id: id, endpoint: endpoint, runner: runner, state: StateIdle}
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Endpoint reports where this worker executes ("local" or a remote URL).
func (w *Worker) Endpoint() string { return w.endpoint }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CurrentTaskID returns the task the worker is or was last bound to.
func (w *Worker) CurrentTaskID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTaskID
}

// Output returns the transcript of the last execution.
func (w *Worker) Output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.output
}

// Execute runs the task to completion. It rejects a worker that is already
// running; any dispatch error or remote disconnect transitions the worker to
// failed and is reported inside the Result.
func (w *Worker) Execute(ctx context.Context, task Task) Result {
	w.mu.Lock()
	if w.state == StateRunning {
		w.mu.Unlock()
		return Result{
			WorkerID:     w.id,
			TaskID:       task.ID,
			Success:      false,
			ErrorMessage: fmt.Sprintf("worker %s is already running task %s", w.id, w.currentTaskID),
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.state = StateRunning
	w.currentTaskID = task.ID
	w.startedAt = time.Now()
	w.output = ""
	w.cancel = cancel
	w.mu.Unlock()

	transcript, err := w.runner.Run(runCtx, task.Prompt, task.Env)
	duration := time.Since(w.startedAt)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.output = transcript
	w.cancel = nil

	if err != nil {
		// A kill arrives as context cancellation; keep the failed state it
		// already set.
		if w.state != StateFailed {
			w.state = StateFailed
		}
		_ = w.runner.Close()
		return Result{
			WorkerID:     w.id,
			TaskID:       task.ID,
			Success:      false,
			Output:       transcript,
			ErrorMessage: err.Error(),
			Duration:     duration,
		}
	}

	w.state = StateCompleted
	return Result{
		WorkerID:     w.id,
		TaskID:       task.ID,
		Success:      true,
		FilesChanged: extractChangedFiles(transcript),
		CommitID:     extractCommitID(transcript),
		Output:       transcript,
		Duration:     duration,
	}
}

// Kill forcibly terminates a running execution and marks the worker failed.
// Used for timeout enforcement and pool teardown. Killing a non-running
// worker is a no-op.
func (w *Worker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	w.state = StateFailed
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.runner.Close()
}

// tryAcquire reserves the worker for a caller. A reserved worker is skipped
// by Pool.Get until released, so two callers can never claim the same worker
// between Get and Execute.
func (w *Worker) tryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reserved || w.state == StateRunning {
		return false
	}
	w.state = StateIdle
	w.reserved = true
	w.currentTaskID = ""
	w.output = ""
	return true
}

// release resets a non-running worker to idle. Returns false for a running
// worker, which must be killed first.
func (w *Worker) release() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateRunning {
		return false
	}
	w.state = StateIdle
	w.reserved = false
	w.currentTaskID = ""
	w.output = ""
	return true
}

// Transcript side-effect patterns. Agent transcripts report changed files as
// status lines ("M path", "modified: path") and the resulting commit as
// "commit <sha>".
var (
	changedFilePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*[MAD]\s+(\S+)$`),
		regexp.MustCompile(`(?mi)^\s*(?:modified|created|deleted):\s*(\S+)$`),
	}
	commitPattern = regexp.MustCompile(`(?mi)\bcommit\s+([0-9a-f]{7,40})\b`)
)

func extractChangedFiles(transcript string) []string {
	var files []string
	seen := map[string]struct{}{}
	for _, pat := range changedFilePatterns {
		for _, m := range pat.FindAllStringSubmatch(transcript, -1) {
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			files = append(files, m[1])
		}
	}
	return files
}

func extractCommitID(transcript string) string {
	if m := commitPattern.FindStringSubmatch(transcript); m != nil {
		return m[1]
	}
	return ""
}
