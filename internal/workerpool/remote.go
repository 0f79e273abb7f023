package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrRemoteUnavailable wraps transport failures talking to the remote
// execution endpoint. The pool converts it into a failed Result; it never
// escapes the pool boundary.
var ErrRemoteUnavailable = errors.New("remote worker endpoint unavailable")

// remote wire messages. The endpoint receives run_task and streams back
// output frames until done or error.
type remoteRequest struct {
	Type   string            `json:"type"`
	TaskID string            `json:"task_id"`
	Prompt string            `json:"prompt"`
	Env    map[string]string `json:"env,omitempty"`
}

type remoteFrame struct {
	Type   string `json:"type"` // "output", "done", "error"
	TaskID string `json:"task_id,omitempty"`
	Data   string `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RemoteRunner runs tasks against a persistent streaming endpoint. The
// connection is dialed lazily on first use and reused across tasks; any
// error tears it down so the next task redials.
type RemoteRunner struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	seq  int
}

func NewRemoteRunner(url string, logger *slog.Logger) *RemoteRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteRunner{url: url, logger: logger}
}

func (r *RemoteRunner) Run(ctx context.Context, prompt string, env map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.ensureConn(ctx)
	if err != nil {
		return "", err
	}

	r.seq++
	req := remoteRequest{
		Type:   "run_task",
		TaskID: fmt.Sprintf("rt-%d", r.seq),
		Prompt: prompt,
		Env:    env,
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		r.teardown()
		return "", fmt.Errorf("%w: send run_task: %v", ErrRemoteUnavailable, err)
	}

	var transcript strings.Builder
	for {
		var frame remoteFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			r.teardown()
			return transcript.String(), fmt.Errorf("%w: stream interrupted: %v", ErrRemoteUnavailable, err)
		}
		switch frame.Type {
		case "output":
			transcript.WriteString(frame.Data)
		case "done":
			return transcript.String(), nil
		case "error":
			// Endpoint-reported task failure; connection is still healthy.
			return transcript.String(), fmt.Errorf("remote task failed: %s", frame.Error)
		default:
			r.logger.Warn("remote worker sent unknown frame", "type", frame.Type)
		}
	}
}

func (r *RemoteRunner) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrRemoteUnavailable, r.url, err)
	}
	r.logger.Debug("remote worker connection established", "url", r.url)
	r.conn = conn
	return conn, nil
}

func (r *RemoteRunner) teardown() {
	if r.conn != nil {
		_ = r.conn.Close(websocket.StatusInternalError, "transport error")
		r.conn = nil
	}
}

func (r *RemoteRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close(websocket.StatusNormalClosure, "bye")
	r.conn = nil
	return err
}
