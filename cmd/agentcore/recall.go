package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
)

// runRecallCommand searches the tenant's episodic memory.
func runRecallCommand(ctx context.Context, company string, quiet bool, args []string) int {
	fs := flag.NewFlagSet("recall", flag.ContinueOnError)
	limit := fs.Int("limit", 5, "maximum number of episodes to return")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: agentcore [-company <id>] recall [-limit <n>] <query>")
		return 2
	}
	query := strings.Join(fs.Args(), " ")

	a, err := openApp(ctx, company, quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close(context.Background())

	tenantID := a.tenantID()
	episodes, err := a.episodes.Recall(ctx, query, *limit, tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recall for company %s: %v\n", tenantID, err)
		return 1
	}
	if len(episodes) == 0 {
		fmt.Println("no matching episodes")
		return 0
	}

	for _, ep := range episodes {
		fmt.Printf("%s  [%s]  task %s\n", ep.Timestamp.Format("2006-01-02 15:04"), ep.ID, ep.TaskID)
		fmt.Printf("  request:  %s\n", firstLine(ep.Request))
		fmt.Printf("  solution: %s\n", firstLine(ep.Solution))
		if len(ep.Artifacts) > 0 {
			fmt.Printf("  files:    %s\n", strings.Join(ep.Artifacts, ", "))
		}
		fmt.Println()
	}
	return 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
