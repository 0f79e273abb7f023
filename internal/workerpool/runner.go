package workerpool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Runner executes one task prompt and returns the textual transcript.
// Implementations are either a local subprocess or a remote streaming
// endpoint; the pool does not care which.
type Runner interface {
	Run(ctx context.Context, prompt string, env map[string]string) (string, error)
	Close() error
}

// LocalRunner executes tasks as local subprocesses, feeding the prompt on
// stdin and collecting stdout+stderr as the transcript. Context cancellation
// kills the process.
type LocalRunner struct {
	Command string
	Args    []string
	Dir     string
}

func NewLocalRunner(command string, args []string) *LocalRunner {
	return &LocalRunner{Command: command, Args: args}
}

func (r *LocalRunner) Run(ctx context.Context, prompt string, env map[string]string) (string, error) {
	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	cmd.Stdin = bytes.NewReader([]byte(prompt))
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctx.Err() != nil {
		return out.String(), fmt.Errorf("task terminated: %w", ctx.Err())
	}
	if err != nil {
		return out.String(), fmt.Errorf("run %s: %w", r.Command, err)
	}
	return out.String(), nil
}

func (r *LocalRunner) Close() error { return nil }
