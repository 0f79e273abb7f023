package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE:
  %s daemon                   Start the scheduler daemon

SUBCOMMANDS:
  %s run <task-id>            Run one scheduled task immediately
  %s context show             Print the company context document
  %s context clear            Reset the company context to its defaults
  %s recall <query>           Search episodic memory
                              Flags: -limit <n> (default 5)
  %s status                   Show recent runs and per-task statistics

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  AGENTCORE_HOME          Data directory (default: ~/.agentcore)

EXAMPLES:
  Start the daemon:       %s daemon
  Run a task now:         %s -company acme run nightly-report
  Inspect context:        %s -company acme context show
  Search memory:          %s -company acme recall "auth bug"
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	company := flag.String("company", "", "company (tenant) the command operates on")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	// Quiet logs (file-only) for one-shot interactive commands so output
	// stays readable; the daemon always logs to stdout as well.
	quietLogs := isatty.IsTerminal(os.Stdout.Fd())

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
	case "version":
		fmt.Println(Version)
	case "daemon":
		os.Exit(runDaemonCommand(ctx, *company))
	case "run":
		os.Exit(runRunCommand(ctx, *company, quietLogs, args[1:]))
	case "context":
		os.Exit(runContextCommand(ctx, *company, quietLogs, args[1:]))
	case "recall":
		os.Exit(runRecallCommand(ctx, *company, quietLogs, args[1:]))
	case "status":
		os.Exit(runStatusCommand(ctx, quietLogs, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}
