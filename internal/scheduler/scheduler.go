// Package scheduler evaluates the tasks file against a minute-resolution
// cron clock and dispatches due tasks to the engine, journaling each run so
// crashes are visible on the next start.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/stancsz/agentcore/internal/config"
	"github.com/stancsz/agentcore/internal/shared"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Runner executes one scheduled task to completion. The returned error marks
// the run failed in its log; the scheduler itself never stops on task errors.
type Runner interface {
	RunScheduled(ctx context.Context, task ScheduledTask, runID string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task ScheduledTask, runID string) error

func (f RunnerFunc) RunScheduled(ctx context.Context, task ScheduledTask, runID string) error {
	return f(ctx, task, runID)
}

// Config holds the dependencies for the scheduler.
type Config struct {
	TasksPath string
	Runner    Runner
	State     *StateFile
	RunLog    *RunLog
	Logger    *slog.Logger
	Interval  time.Duration // tick interval; defaults to 1 minute if zero

	// Reload, when non-nil, triggers a tasks-file reload on each event.
	Reload <-chan config.ReloadEvent
}

type entry struct {
	task ScheduledTask
	next time.Time
}

// Scheduler ticks at the configured interval, fires every task whose cron
// schedule has come due, and records the outcome of each run.
type Scheduler struct {
	tasksPath string
	runner    Runner
	state     *StateFile
	runLog    *RunLog
	logger    *slog.Logger
	interval  time.Duration
	reload    <-chan config.ReloadEvent

	mu       sync.Mutex
	entries  []*entry
	inflight map[string]bool // task IDs currently executing

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasksPath: cfg.TasksPath,
		runner:    cfg.Runner,
		state:     cfg.State,
		runLog:    cfg.RunLog,
		logger:    logger,
		interval:  interval,
		reload:    cfg.Reload,
		inflight:  make(map[string]bool),
	}
}

// Start surfaces orphaned runs from the previous process, loads the tasks
// file, and begins the scheduling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	for _, orphan := range s.state.Orphans() {
		s.logger.Warn("run interrupted by previous shutdown; not resumed",
			"run_id", orphan.RunID,
			"task_id", orphan.TaskID,
			"tenant", orphan.Tenant,
			"started_at", orphan.StartedAt,
		)
	}
	if err := s.state.Reset(); err != nil {
		s.logger.Error("failed to reset scheduler state", "error", err)
	}

	if err := s.reloadTasks(); err != nil {
		s.logger.Error("failed to load tasks file", "path", s.tasksPath, "error", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval, "tasks", len(s.entries))
}

// Stop cancels the scheduling loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		case ev, ok := <-s.reload:
			if !ok {
				s.reload = nil
				continue
			}
			s.logger.Info("tasks file changed; reloading", "path", ev.Path)
			if err := s.reloadTasks(); err != nil {
				s.logger.Error("reload failed; keeping previous tasks", "error", err)
			}
		}
	}
}

// reloadTasks replaces the entry set from the tasks file, preserving the
// next-run time of entries whose id and cron expression are unchanged.
func (s *Scheduler) reloadTasks() error {
	tasks, err := LoadTasks(s.tasksPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make(map[string]*entry, len(s.entries))
	for _, e := range s.entries {
		prev[e.task.ID] = e
	}

	now := time.Now()
	entries := make([]*entry, 0, len(tasks))
	for _, task := range tasks {
		e := &entry{task: task}
		if old, ok := prev[task.ID]; ok && old.task.Cron == task.Cron {
			e.next = old.next
		} else {
			next, err := NextRunTime(task.Cron, now)
			if err != nil {
				return err
			}
			e.next = next
		}
		entries = append(entries, e)
	}
	s.entries = entries
	return nil
}

// tick fires every entry whose next-run time has come due.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(ctx, e, now)
	}
}

// fire advances the entry's schedule and dispatches the task in a background
// goroutine. A task still running from a previous slot is skipped, not
// queued behind itself.
func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) {
	s.mu.Lock()
	next, err := NextRunTime(e.task.Cron, now)
	if err == nil {
		e.next = next
	}
	if s.inflight[e.task.ID] {
		s.mu.Unlock()
		s.logger.Warn("task still running from previous slot; skipping",
			"task_id", e.task.ID,
		)
		return
	}
	s.inflight[e.task.ID] = true
	s.mu.Unlock()

	task := e.task
	runID := shared.NewRunID()
	s.logger.Info("task due",
		"task_id", task.ID,
		"task_name", task.Name,
		"run_id", runID,
		"next_run_at", next,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, task.ID)
			s.mu.Unlock()
		}()
		_ = s.execute(ctx, task, runID)
	}()
}

// RunNow fires the named task immediately, outside its cron schedule, and
// waits for it to finish. Used by the one-shot run command.
func (s *Scheduler) RunNow(ctx context.Context, taskID string) error {
	s.mu.Lock()
	loaded := len(s.entries) > 0
	s.mu.Unlock()
	if !loaded {
		if err := s.reloadTasks(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	var task *ScheduledTask
	for _, e := range s.entries {
		if e.task.ID == taskID {
			t := e.task
			task = &t
			break
		}
	}
	s.mu.Unlock()
	if task == nil {
		return fmt.Errorf("unknown task id %q in %s", taskID, s.tasksPath)
	}
	return s.execute(ctx, *task, shared.NewRunID())
}

// execute journals the run, invokes the runner, and records the outcome.
func (s *Scheduler) execute(ctx context.Context, task ScheduledTask, runID string) error {
	tenantID := task.Company
	start := time.Now()

	if err := s.state.MarkPending(PendingRun{
		TaskID:    task.ID,
		RunID:     runID,
		Tenant:    tenantID,
		StartedAt: start,
	}); err != nil {
		s.logger.Error("failed to journal run; dispatching anyway",
			"run_id", runID, "error", err,
		)
	}

	runErr := s.runner.RunScheduled(ctx, task, runID)

	rec := RunRecord{
		RunID:     runID,
		TaskID:    task.ID,
		TaskName:  task.Name,
		Tenant:    tenantID,
		StartTime: start,
		EndTime:   time.Now(),
		Status:    RunStatusCompleted,
	}
	if runErr != nil {
		rec.Status = RunStatusFailed
		rec.Error = runErr.Error()
		s.logger.Error("scheduled run failed",
			"run_id", runID,
			"task_id", task.ID,
			"error", runErr,
		)
	} else {
		s.logger.Info("scheduled run completed",
			"run_id", runID,
			"task_id", task.ID,
			"duration", rec.EndTime.Sub(start),
		)
	}

	if err := s.runLog.Write(rec); err != nil {
		s.logger.Error("failed to write run record", "run_id", runID, "error", err)
	}
	if err := s.state.Clear(runID); err != nil {
		s.logger.Error("failed to clear run journal", "run_id", runID, "error", err)
	}
	return runErr
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
