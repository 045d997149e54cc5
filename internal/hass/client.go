// Package hass is the Home Assistant WebSocket API client. Home Assistant
// owns the Zigbee radio; this process talks to it for the device registry,
// entity states, and raw ZHA cluster attribute access.
package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// CommandError is a command rejected by Home Assistant, as opposed to a
// connection problem. The code comes from the API ("not_found",
// "service_not_found", "unknown_error", ...).
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("home assistant: %s (%s)", e.Message, e.Code)
}

var errConnClosed = errors.New("connection closed")

// Client is a minimal Home Assistant WebSocket client: authenticate, send
// id-tagged commands, match responses by id. It redials lazily on the next
// call after a connection drops; there is no background reconnect loop.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	pending map[int64]chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

// envelope covers every server-to-client message shape we care about.
type envelope struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *CommandError   `json:"error"`
	Message string          `json:"message"`
}

// NewClient prepares a client for the given WebSocket URL, typically
// ws://host:8123/api/websocket. No connection is made until the first call.
func NewClient(url, token string, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		token:  token,
		logger: logger.With("component", "hass"),
	}
}

// Call sends one command and waits for its result. The payload must not
// contain an "id" field; the client assigns it.
func (c *Client) Call(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	conn := c.conn
	c.nextID++
	id := c.nextID
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload["id"] = id
	if err := wsjson.Write(ctx, conn, payload); err != nil {
		c.dropConn(conn, err)
		return nil, fmt.Errorf("send command: %w", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case res := <-ch:
		return res.result, res.err
	}
}

// connectLocked dials and authenticates. Caller holds c.mu.
func (c *Client) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	// Registry list responses can be large on big installations.
	conn.SetReadLimit(16 << 20)

	var hello envelope
	if err := wsjson.Read(dialCtx, conn, &hello); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close(websocket.StatusProtocolError, "unexpected handshake")
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	auth := map[string]any{"type": "auth", "access_token": c.token}
	if err := wsjson.Write(dialCtx, conn, auth); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return fmt.Errorf("send auth: %w", err)
	}

	var reply envelope
	if err := wsjson.Read(dialCtx, conn, &reply); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Type != "auth_ok" {
		conn.Close(websocket.StatusPolicyViolation, "auth rejected")
		return fmt.Errorf("authentication rejected: %s", reply.Message)
	}

	c.conn = conn
	c.pending = make(map[int64]chan callResult)
	go c.readLoop(conn)

	c.logger.Info("connected", "url", c.url)
	return nil
}

// readLoop dispatches results to waiting calls until the connection dies.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := wsjson.Read(context.Background(), conn, &env); err != nil {
			c.dropConn(conn, err)
			return
		}
		if env.Type != "result" {
			continue // events and pongs are not used here
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			continue
		}

		if env.Success {
			ch <- callResult{result: env.Result}
		} else {
			cmdErr := env.Error
			if cmdErr == nil {
				cmdErr = &CommandError{Code: "unknown_error", Message: "command failed"}
			}
			ch <- callResult{err: cmdErr}
		}
	}
}

// dropConn tears down a dead connection and fails every waiting call.
func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return // a newer connection already replaced this one
	}
	c.conn = nil
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	conn.Close(websocket.StatusInternalError, "connection reset")
	for _, ch := range pending {
		ch <- callResult{err: fmt.Errorf("%w: %v", errConnClosed, cause)}
	}
	c.logger.Warn("connection lost", "err", cause)
}

// Close shuts the connection down. Calls made afterwards will redial.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.dropConn(conn, errors.New("client closed"))
	}
}
