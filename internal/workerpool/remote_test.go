package workerpool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// fakeEndpoint streams scripted frames for each run_task request.
func fakeEndpoint(t *testing.T, frames func(req remoteRequest) []remoteFrame) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			var req remoteRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			if req.Type != "run_task" {
				continue
			}
			for _, frame := range frames(req) {
				if err := wsjson.Write(ctx, conn, frame); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + ts.URL[len("http"):]
}

func TestRemoteRunnerStreamsTranscript(t *testing.T) {
	ts := fakeEndpoint(t, func(req remoteRequest) []remoteFrame {
		return []remoteFrame{
			{Type: "output", TaskID: req.TaskID, Data: "step one\n"},
			{Type: "output", TaskID: req.TaskID, Data: "step two\n"},
			{Type: "done", TaskID: req.TaskID},
		}
	})

	runner := NewRemoteRunner(wsURL(ts), nil)
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := runner.Run(ctx, "do the thing", map[string]string{"AGENTCORE_COMPANY": "acme"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "step one\nstep two\n" {
		t.Errorf("transcript = %q", out)
	}

	// Second run reuses the same connection.
	out, err = runner.Run(ctx, "again", nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !strings.Contains(out, "step one") {
		t.Errorf("transcript = %q", out)
	}
}

func TestRemoteRunnerErrorFrameIsTaskFailure(t *testing.T) {
	ts := fakeEndpoint(t, func(req remoteRequest) []remoteFrame {
		return []remoteFrame{
			{Type: "output", TaskID: req.TaskID, Data: "partial\n"},
			{Type: "error", TaskID: req.TaskID, Error: "tool exploded"},
		}
	})

	runner := NewRemoteRunner(wsURL(ts), nil)
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := runner.Run(ctx, "p", nil)
	if err == nil || !strings.Contains(err.Error(), "tool exploded") {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, ErrRemoteUnavailable) {
		t.Error("endpoint-reported failure must not count as transport failure")
	}
	if out != "partial\n" {
		t.Errorf("partial transcript = %q", out)
	}
}

func TestRemoteRunnerUnreachable(t *testing.T) {
	runner := NewRemoteRunner("ws://127.0.0.1:1", nil)
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := runner.Run(ctx, "p", nil)
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
}
