package memoryrpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// memoryServer is an in-memory remote memory service speaking the JSON-RPC
// protocol over WebSocket.
func memoryServer(t *testing.T) (*httptest.Server, map[string]map[string]any) {
	t.Helper()
	data := map[string]map[string]any{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		ctx := r.Context()
		for {
			var req struct {
				ID     int64          `json:"id"`
				Method string         `json:"method"`
				Params map[string]any `json:"params"`
			}
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			key, _ := req.Params["key"].(string)
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			switch req.Method {
			case "memory.recall":
				if v, ok := data[key]; ok {
					resp["result"] = map[string]any{"found": true, "value": v}
				} else {
					resp["result"] = map[string]any{"found": false}
				}
			case "memory.store":
				value, _ := req.Params["value"].(map[string]any)
				data[key] = value
				resp["result"] = map[string]any{}
			default:
				resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
			}
			if err := wsjson.Write(ctx, conn, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts, data
}

func wsURL(ts *httptest.Server) string {
	return "ws" + ts.URL[len("http"):]
}

func TestStoreThenRecall(t *testing.T) {
	ts, _ := memoryServer(t)
	client := NewClient(wsURL(ts), nil)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Store(ctx, "context:acme", map[string]any{"goals": []any{"g1"}}, map[string]string{"tenant": "acme"}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	value, found, err := client.Recall(ctx, "context:acme")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if !found {
		t.Fatal("stored key not found")
	}
	if _, ok := value["goals"]; !ok {
		t.Errorf("value = %v, want goals key", value)
	}
}

func TestRecallMissingKey(t *testing.T) {
	ts, _ := memoryServer(t)
	client := NewClient(wsURL(ts), nil)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, found, err := client.Recall(ctx, "context:nobody")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if found {
		t.Error("missing key reported as found")
	}
}

func TestUnreachableEndpointIsErrUnavailable(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/memory", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := client.Recall(ctx, "context:acme")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestConnectionReusedAcrossCalls(t *testing.T) {
	ts, _ := memoryServer(t)
	client := NewClient(wsURL(ts), nil)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := client.Store(ctx, "k", map[string]any{"n": "v"}, nil); err != nil {
			t.Fatalf("Store %d: %v", i, err)
		}
	}
	if client.conn == nil {
		t.Error("connection should stay open for reuse")
	}
}
