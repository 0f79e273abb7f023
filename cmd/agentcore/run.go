package main

import (
	"context"
	"fmt"
	"os"

	"github.com/stancsz/agentcore/internal/scheduler"
)

// runRunCommand executes one task from the tasks file immediately and waits
// for it to finish.
func runRunCommand(ctx context.Context, company string, quiet bool, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: agentcore run <task-id>")
		return 2
	}
	taskID := args[0]

	a, err := openApp(ctx, company, quiet)
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

	state, err := scheduler.OpenState(a.statePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open scheduler state: %v\n", err)
		return 1
	}

	eng := a.newEngine(pool, idx)
	sched := scheduler.NewScheduler(scheduler.Config{
		TasksPath: a.cfg.TasksPath(),
		Runner:    schedulerRunner(a, eng),
		State:     state,
		RunLog:    scheduler.NewRunLog(a.runsDir()),
		Logger:    a.logger,
	})

	if err := sched.RunNow(ctx, taskID); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("task %s completed\n", taskID)
	return 0
}
