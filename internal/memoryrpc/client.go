// Package memoryrpc is the client side of the remote memory service: two
// JSON-RPC operations, recall and store, carried over a persistent WebSocket.
// The service is treated as unreliable; every caller keeps a local fallback.
package memoryrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrUnavailable wraps every transport-level failure so call sites can test
// with errors.Is and take their local fallback path.
var ErrUnavailable = errors.New("remote memory service unavailable")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type recallParams struct {
	Key string `json:"key"`
}

type recallResult struct {
	Found bool           `json:"found"`
	Value map[string]any `json:"value,omitempty"`
}

type storeParams struct {
	Key      string            `json:"key"`
	Value    map[string]any    `json:"value"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Client holds one lazily-dialed WebSocket connection, reused across calls
// and torn down on any error so the next call redials.
type Client struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, logger: logger}
}

// Recall fetches the value stored under key. found is false both for an
// explicit not-found answer and for an empty value.
func (c *Client) Recall(ctx context.Context, key string) (map[string]any, bool, error) {
	var result recallResult
	if err := c.call(ctx, "memory.recall", recallParams{Key: key}, &result); err != nil {
		return nil, false, err
	}
	if !result.Found || result.Value == nil {
		return nil, false, nil
	}
	return result.Value, true, nil
}

// Store writes value under key with optional metadata.
func (c *Client) Store(ctx context.Context, key string, value map[string]any, metadata map[string]string) error {
	return c.call(ctx, "memory.store", storeParams{Key: key, Value: value, Metadata: metadata}, nil)
}

// Close tears down the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	c.conn = nil
	return err
}

// call performs one request/response round trip. The connection mutex also
// serializes calls so responses cannot interleave.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}

	c.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		c.teardown()
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, method, err)
	}

	var resp rpcResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		c.teardown()
		return fmt.Errorf("%w: read %s response: %v", ErrUnavailable, method, err)
	}
	if resp.Error != nil {
		// An application-level error is not a transport failure; the
		// connection stays up.
		return fmt.Errorf("remote memory %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, c.url, err)
	}
	c.logger.Debug("remote memory connection established", "url", c.url)
	c.conn = conn
	return conn, nil
}

func (c *Client) teardown() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusInternalError, "transport error")
		c.conn = nil
	}
}
