package main

import (
	"context"
	"fmt"
	"os"

	"github.com/stancsz/agentcore/internal/config"
	"github.com/stancsz/agentcore/internal/engine"
	"github.com/stancsz/agentcore/internal/scheduler"
)

// runDaemonCommand starts the scheduler loop and runs until interrupted.
func runDaemonCommand(ctx context.Context, company string) int {
	a, err := openApp(ctx, company, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close(context.Background())

	pool := a.newPool()
	defer pool.Shutdown()

	idx, err := a.openHistory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open history index: %v\n", err)
		return 1
	}
	defer idx.Close()

	eng := a.newEngine(pool, idx)

	state, err := scheduler.OpenState(a.statePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open scheduler state: %v\n", err)
		return 1
	}

	watcher := config.NewWatcher(a.logger, a.cfg.TasksPath())
	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("task file watching disabled", "error", err)
	}

	sched := scheduler.NewScheduler(scheduler.Config{
		TasksPath: a.cfg.TasksPath(),
		Runner:    schedulerRunner(a, eng),
		State:     state,
		RunLog:    scheduler.NewRunLog(a.runsDir()),
		Logger:    a.logger,
		Interval:  a.cfg.SchedulerInterval(),
		Reload:    watcher.Events(),
	})

	a.logger.Info("agentcore daemon starting",
		"version", Version,
		"home", a.cfg.HomeDir,
		"pool_size", a.cfg.Workers.PoolSize,
	)
	sched.Start(ctx)

	<-ctx.Done()
	sched.Stop()
	return 0
}

// schedulerRunner adapts the engine to the scheduler's Runner interface,
// defaulting the tenant to the daemon-wide company when a task names none.
func schedulerRunner(a *app, eng *engine.Engine) scheduler.Runner {
	return scheduler.RunnerFunc(func(ctx context.Context, task scheduler.ScheduledTask, runID string) error {
		tenantID := task.Company
		if tenantID == "" {
			tenantID = a.cfg.Company
		}
		return eng.RunTask(ctx, engine.Task{
			ID:     task.ID,
			Name:   task.Name,
			Prompt: task.Prompt,
			Tenant: tenantID,
		}, runID)
	})
}
