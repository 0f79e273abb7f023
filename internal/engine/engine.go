// Package engine runs one task end to end: it claims a worker, executes the
// prompt against the tenant's context, and folds the outcome back into
// episodic memory, the context document, and the run-history index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stancsz/agentcore/internal/brain"
	"github.com/stancsz/agentcore/internal/contextstore"
	"github.com/stancsz/agentcore/internal/episodic"
	"github.com/stancsz/agentcore/internal/history"
	"github.com/stancsz/agentcore/internal/otel"
	"github.com/stancsz/agentcore/internal/shared"
	"github.com/stancsz/agentcore/internal/tenant"
	"github.com/stancsz/agentcore/internal/workerpool"
)

// ErrSaturated reports that no worker became free within the acquire window.
var ErrSaturated = errors.New("worker pool saturated")

// Task is one unit of work for the engine. Tenant empty means the default
// tenant.
type Task struct {
	ID     string
	Name   string
	Prompt string
	Tenant string
}

// Config holds the engine's dependencies.
type Config struct {
	Pool     *workerpool.Pool
	Contexts *contextstore.Manager
	Episodes *episodic.Store
	History  *history.Index // optional
	Logger   *slog.Logger
	Metrics  *otel.Metrics // optional
	Tracer   trace.Tracer  // optional

	TaskTimeout time.Duration // per-run execution budget; defaults to 30m
	AcquireWait time.Duration // how long to wait for a free worker; defaults to 2m
}

// Engine orchestrates single task runs.
type Engine struct {
	pool     *workerpool.Pool
	contexts *contextstore.Manager
	episodes *episodic.Store
	history  *history.Index
	logger   *slog.Logger
	metrics  *otel.Metrics
	tracer   trace.Tracer

	taskTimeout time.Duration
	acquireWait time.Duration
}

// New creates an Engine with the given config.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Minute
	}
	acquireWait := cfg.AcquireWait
	if acquireWait <= 0 {
		acquireWait = 2 * time.Minute
	}
	return &Engine{
		pool:        cfg.Pool,
		contexts:    cfg.Contexts,
		episodes:    cfg.Episodes,
		history:     cfg.History,
		logger:      logger,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		taskTimeout: taskTimeout,
		acquireWait: acquireWait,
	}
}

// RunTask executes the task on a pool worker and records the outcome. The
// returned error is the task-level failure, already phrased for operators.
func (e *Engine) RunTask(ctx context.Context, task Task, runID string) error {
	tenantID := task.Tenant
	if tenantID == "" {
		tenantID = shared.DefaultTenant
	}
	if err := tenant.ValidateID(tenantID); err != nil {
		return e.fail(ctx, task, tenantID, err)
	}

	ctx = shared.WithTenant(ctx, tenantID)
	ctx = shared.WithTaskID(ctx, task.ID)
	ctx = shared.WithRunID(ctx, runID)
	if e.tracer != nil {
		var span trace.Span
		ctx, span = otel.StartSpan(ctx, e.tracer, "engine.run_task",
			otel.AttrTenant.String(tenantID),
			otel.AttrTaskID.String(task.ID),
			otel.AttrRunID.String(runID),
		)
		defer span.End()
	}

	prompt := e.buildPrompt(ctx, task, tenantID)

	worker, err := e.acquireWorker(ctx)
	if err != nil {
		return e.fail(ctx, task, tenantID, err)
	}
	defer func() {
		if worker.State() == workerpool.StateRunning {
			worker.Kill()
		}
		if err := e.pool.Release(worker); err != nil {
			e.logger.Error("failed to release worker", "worker_id", worker.ID(), "error", err)
		}
	}()

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, e.taskTimeout)
	defer cancel()

	result := e.pool.Execute(execCtx, worker, workerpool.Task{
		ID:     task.ID,
		Prompt: prompt,
		Env:    map[string]string{"AGENTCORE_COMPANY": tenantID, "AGENTCORE_RUN_ID": runID},
	})
	duration := time.Since(start)

	if e.metrics != nil {
		attrs := metric.WithAttributes(
			otel.AttrTenant.String(tenantID),
			otel.AttrTaskID.String(task.ID),
		)
		e.metrics.TaskDuration.Record(ctx, duration.Seconds(), attrs)
		if !result.Success {
			e.metrics.TaskFailures.Add(ctx, 1, attrs)
		}
	}

	e.recordEpisode(ctx, task, tenantID, result, duration)
	e.updateContext(ctx, task, tenantID, result)
	e.recordHistory(ctx, task, tenantID, runID, result, start)

	if !result.Success {
		reason := result.ErrorMessage
		if reason == "" {
			reason = "worker reported failure"
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", e.taskTimeout)
		}
		return e.fail(ctx, task, tenantID, errors.New(reason))
	}

	e.logger.Info("task completed",
		"task_id", task.ID,
		"tenant", tenantID,
		"run_id", runID,
		"worker_id", result.WorkerID,
		"duration", duration,
		"files_changed", len(result.FilesChanged),
		"commit_id", result.CommitID,
	)
	return nil
}

// acquireWorker polls the pool until a worker frees up or the acquire window
// closes. Saturation is an error, never an indefinite block.
func (e *Engine) acquireWorker(ctx context.Context) (*workerpool.Worker, error) {
	const pollEvery = 250 * time.Millisecond

	deadline := time.Now().Add(e.acquireWait)
	for {
		if w := e.pool.Get(); w != nil {
			return w, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after waiting %s", ErrSaturated, e.acquireWait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

// buildPrompt prefixes the task prompt with the tenant's standing goals and
// constraints so every run sees the shared context.
func (e *Engine) buildPrompt(ctx context.Context, task Task, tenantID string) string {
	doc, err := e.contexts.Read(ctx, tenantID)
	if err != nil {
		e.logger.Warn("context unavailable; running with bare prompt",
			"tenant", tenantID, "error", err)
		return task.Prompt
	}

	var b strings.Builder
	if goals := doc.Goals(); len(goals) > 0 {
		b.WriteString("Current goals:\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if constraints := doc.Constraints(); len(constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if recent := doc.RecentChanges(); len(recent) > 0 {
		b.WriteString("Recent changes:\n")
		for _, r := range recent {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if b.Len() == 0 {
		return task.Prompt
	}
	b.WriteString("\nTask:\n")
	b.WriteString(task.Prompt)
	return b.String()
}

// recordEpisode stores the run in the tenant's episodic memory. The solution
// is the model's final message when the transcript carries one, else the
// transcript tail.
func (e *Engine) recordEpisode(ctx context.Context, task Task, tenantID string, result workerpool.Result, duration time.Duration) {
	solution := brain.Parse(result.Output).FinalMessage
	if solution == "" {
		solution = transcriptTail(result.Output, 2000)
	}
	if !result.Success {
		solution = "FAILED: " + result.ErrorMessage
	}

	ep := episodic.Episode{
		TaskID:     task.ID,
		TenantID:   tenantID,
		Request:    task.Prompt,
		Solution:   solution,
		Artifacts:  result.FilesChanged,
		DurationMs: duration.Milliseconds(),
	}
	if result.CommitID != "" {
		ep.Tags = []string{"commit:" + result.CommitID}
	}
	if _, err := e.episodes.Store(ctx, ep); err != nil {
		e.logger.Warn("failed to store episode",
			"task_id", task.ID, "tenant", tenantID, "error", err)
	}
}

// updateContext appends the run outcome to the tenant's recent_changes.
func (e *Engine) updateContext(ctx context.Context, task Task, tenantID string, result workerpool.Result) {
	outcome := "completed"
	if !result.Success {
		outcome = "failed"
	}
	change := fmt.Sprintf("%s: task %s %s", time.Now().UTC().Format("2006-01-02"), task.ID, outcome)
	if n := len(result.FilesChanged); n > 0 {
		change += fmt.Sprintf(" (%d files changed)", n)
	}

	partial := map[string]any{
		contextstore.KeyRecentChanges: []any{change},
	}
	if _, err := e.contexts.Update(ctx, tenantID, partial); err != nil {
		e.logger.Warn("failed to update context",
			"task_id", task.ID, "tenant", tenantID, "error", err)
	}
}

func (e *Engine) recordHistory(ctx context.Context, task Task, tenantID, runID string, result workerpool.Result, start time.Time) {
	if e.history == nil {
		return
	}
	run := history.Run{
		RunID:        runID,
		TaskID:       task.ID,
		TaskName:     task.Name,
		Tenant:       tenantID,
		StartTime:    start,
		EndTime:      time.Now(),
		Status:       history.RunStatusCompleted,
		FilesChanged: len(result.FilesChanged),
		CommitID:     result.CommitID,
	}
	if !result.Success {
		run.Status = history.RunStatusFailed
		run.Error = result.ErrorMessage
	}
	if err := e.history.RecordRun(ctx, run); err != nil {
		e.logger.Warn("failed to index run", "run_id", runID, "error", err)
	}
}

// fail logs and phrases a task failure for operators.
func (e *Engine) fail(ctx context.Context, task Task, tenantID string, cause error) error {
	e.logger.Error("task failed",
		"task_id", task.ID,
		"tenant", tenantID,
		"run_id", shared.RunID(ctx),
		"error", cause,
	)
	return fmt.Errorf("task %s for company %s failed: %w", task.ID, tenantID, cause)
}

func transcriptTail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
