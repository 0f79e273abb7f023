package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stancsz/agentcore/internal/scheduler"
)

// runStatusCommand prints recent runs, per-task statistics, and any runs
// orphaned by an unclean shutdown.
func runStatusCommand(ctx context.Context, quiet bool, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "number of recent runs to show")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	a, err := openApp(ctx, "", quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close(context.Background())

	state, err := scheduler.OpenState(a.statePath())
	if err == nil {
		if orphans := state.Orphans(); len(orphans) > 0 {
			fmt.Println("INTERRUPTED RUNS (not resumed):")
			for _, o := range orphans {
				fmt.Printf("  %s  task %s  company %s  started %s\n",
					o.RunID, o.TaskID, o.Tenant, o.StartedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()
		}
	}

	idx, err := a.openHistory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "open history index: %v\n", err)
		return 1
	}
	defer idx.Close()

	runs, err := idx.RecentRuns(ctx, "", *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query runs: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return 0
	}

	fmt.Println("RECENT RUNS:")
	for _, r := range runs {
		line := fmt.Sprintf("  %s  %-9s  task %s  company %s  %s",
			r.StartTime.Format("2006-01-02 15:04"), r.Status, r.TaskID, r.Tenant,
			r.EndTime.Sub(r.StartTime).Round(time.Second))
		if r.Error != "" {
			line += "  (" + r.Error + ")"
		}
		fmt.Println(line)
	}

	stats, err := idx.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query stats: %v\n", err)
		return 1
	}
	fmt.Println("\nPER-TASK:")
	for _, s := range stats {
		fmt.Printf("  %-24s  %d runs, %d failed, last %s\n",
			s.TaskID, s.Total, s.Failed, s.LastRunAt.Format("2006-01-02 15:04"))
	}
	return 0
}
