package hass

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// fakeServer speaks just enough of the Home Assistant WebSocket protocol for
// the client: auth handshake, then id-tagged commands answered by handle.
type fakeServer struct {
	srv    *httptest.Server
	token  string
	handle func(msg map[string]any) (any, *CommandError)
}

func newFakeServer(t *testing.T, handle func(msg map[string]any) (any, *CommandError)) *fakeServer {
	t.Helper()
	f := &fakeServer{token: "secret-token", handle: handle}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		if err := wsjson.Write(ctx, conn, map[string]any{"type": "auth_required"}); err != nil {
			return
		}
		var auth map[string]any
		if err := wsjson.Read(ctx, conn, &auth); err != nil {
			return
		}
		if auth["access_token"] != f.token {
			wsjson.Write(ctx, conn, map[string]any{"type": "auth_invalid", "message": "bad token"})
			return
		}
		if err := wsjson.Write(ctx, conn, map[string]any{"type": "auth_ok"}); err != nil {
			return
		}

		for {
			var msg map[string]any
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			reply := map[string]any{"id": msg["id"], "type": "result"}
			result, cmdErr := f.handle(msg)
			if cmdErr != nil {
				reply["success"] = false
				reply["error"] = cmdErr
			} else {
				reply["success"] = true
				reply["result"] = result
			}
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func newTestClient(t *testing.T, f *fakeServer, token string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(f.url(), token, logger)
	t.Cleanup(c.Close)
	return c
}

func TestClientCallRoundTrip(t *testing.T) {
	f := newFakeServer(t, func(msg map[string]any) (any, *CommandError) {
		if msg["type"] != "get_states" {
			t.Errorf("command = %v, want get_states", msg["type"])
		}
		return []map[string]any{{"entity_id": "sensor.t", "state": "21.0"}}, nil
	})
	c := newTestClient(t, f, "secret-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := c.Call(ctx, map[string]any{"type": "get_states"})
	if err != nil {
		t.Fatal(err)
	}

	var states []map[string]any
	if err := json.Unmarshal(raw, &states); err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 || states[0]["entity_id"] != "sensor.t" {
		t.Errorf("states = %v", states)
	}
}

func TestClientCommandError(t *testing.T) {
	f := newFakeServer(t, func(msg map[string]any) (any, *CommandError) {
		return nil, &CommandError{Code: "not_found", Message: "no such device"}
	})
	c := newTestClient(t, f, "secret-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Call(ctx, map[string]any{"type": "zha/devices"})

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v, want CommandError", err)
	}
	if cmdErr.Code != "not_found" {
		t.Errorf("code = %q, want not_found", cmdErr.Code)
	}
}

func TestClientRejectedAuth(t *testing.T) {
	f := newFakeServer(t, func(msg map[string]any) (any, *CommandError) { return nil, nil })
	c := newTestClient(t, f, "wrong-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Call(ctx, map[string]any{"type": "get_states"}); err == nil {
		t.Fatal("expected auth error")
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	f := newFakeServer(t, func(msg map[string]any) (any, *CommandError) {
		return msg["echo"], nil
	})
	c := newTestClient(t, f, "secret-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(n int) {
			raw, err := c.Call(ctx, map[string]any{"type": "ping", "echo": n})
			if err != nil {
				done <- err
				return
			}
			var got int
			if err := json.Unmarshal(raw, &got); err != nil {
				done <- err
				return
			}
			if got != n {
				done <- errors.New("response matched to wrong call")
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}
