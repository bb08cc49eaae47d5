// Copyright 2025 The Conduit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
)

const fakeSessionId = "0123456789abcdef0123456789abcdef"

func TestPendingMapDeliver(t *testing.T) {
	p := newPendingMap()
	ch := p.register("req_1")

	delivered := p.deliver(&jsonrpc.BaseMessage{
		Jsonrpc: jsonrpc.JSONRPC_VERSION,
		Id:      "req_1",
		Result:  json.RawMessage(`{"ok":true}`),
	})
	if !delivered {
		t.Fatal("expected the response to be delivered")
	}
	select {
	case msg := <-ch:
		if string(msg.Result) != `{"ok":true}` {
			t.Fatalf("unexpected result: %s", msg.Result)
		}
	default:
		t.Fatal("response was not queued on the waiter channel")
	}

	// A second delivery of the same id finds no waiter.
	if p.deliver(&jsonrpc.BaseMessage{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: "req_1", Result: json.RawMessage(`{}`)}) {
		t.Fatal("expected a duplicate response to be dropped")
	}
}

func TestPendingMapIgnoresNonResponses(t *testing.T) {
	p := newPendingMap()
	p.register("req_1")

	if p.deliver(&jsonrpc.BaseMessage{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: "req_1", Method: "ping"}) {
		t.Fatal("requests should not be delivered to waiters")
	}
	if p.deliver(&jsonrpc.BaseMessage{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: "req_2", Result: json.RawMessage(`{}`)}) {
		t.Fatal("unmatched responses should be dropped")
	}
}

func TestPendingMapFailAll(t *testing.T) {
	p := newPendingMap()
	ch := p.register("req_1")

	p.failAll()
	select {
	case msg := <-ch:
		if msg.Error == nil || msg.Error.Message != "connection closed" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	default:
		t.Fatal("waiter was not released")
	}
}

func TestInboundRouter(t *testing.T) {
	var mu sync.Mutex
	var sent []any
	var notified []string

	pending := newPendingMap()
	r := &inboundRouter{
		pending: pending,
		onNotify: func(method string, params json.RawMessage) {
			mu.Lock()
			notified = append(notified, method)
			mu.Unlock()
		},
		onRequest: func(ctx context.Context, method string, params json.RawMessage) (any, error) {
			return map[string]any{"roots": []any{}}, nil
		},
		send: func(msg any) error {
			mu.Lock()
			sent = append(sent, msg)
			mu.Unlock()
			return nil
		},
	}

	ch := pending.register("req_1")
	r.route(&jsonrpc.BaseMessage{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: "req_1", Result: json.RawMessage(`{}`)})
	select {
	case <-ch:
	default:
		t.Fatal("response was not routed to the pending table")
	}

	r.route(&jsonrpc.BaseMessage{Jsonrpc: jsonrpc.JSONRPC_VERSION, Method: "notifications/tools/list_changed"})
	mu.Lock()
	gotNotified := len(notified) == 1 && notified[0] == "notifications/tools/list_changed"
	mu.Unlock()
	if !gotNotified {
		t.Fatalf("unexpected notifications: %v", notified)
	}

	// Server-initiated requests are served on their own goroutine.
	r.route(&jsonrpc.BaseMessage{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: "srv_1", Method: "roots/list"})
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no reply was sent for the server request")
		}
		time.Sleep(time.Millisecond)
	}
	reply, ok := sent[0].(jsonrpc.JSONRPCResponse)
	if !ok {
		t.Fatalf("unexpected reply type %T", sent[0])
	}
	if reply.Id != "srv_1" {
		t.Fatalf("unexpected reply id: %v", reply.Id)
	}
}

func TestInboundRouterWithoutRequestHandler(t *testing.T) {
	var mu sync.Mutex
	var sent []any
	r := &inboundRouter{
		pending: newPendingMap(),
		send: func(msg any) error {
			mu.Lock()
			sent = append(sent, msg)
			mu.Unlock()
			return nil
		},
	}

	r.route(&jsonrpc.BaseMessage{Jsonrpc: jsonrpc.JSONRPC_VERSION, Id: "srv_1", Method: "sampling/createMessage"})
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no error reply was sent")
		}
		time.Sleep(time.Millisecond)
	}
	reply, ok := sent[0].(jsonrpc.JSONRPCError)
	if !ok {
		t.Fatalf("unexpected reply type %T", sent[0])
	}
	if reply.Error.Code != jsonrpc.METHOD_NOT_FOUND {
		t.Fatalf("unexpected error code: %d", reply.Error.Code)
	}
}

// fakeStreamableServer answers the single-POST-endpoint wire protocol.
func fakeStreamableServer(t *testing.T, lastSession *string) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("unable to read request body: %s", err)
			return
		}
		*lastSession = r.Header.Get("Mcp-Session-Id")

		var msg map[string]any
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Errorf("unable to decode request body %q: %s", body, err)
			return
		}
		method, _ := msg["method"].(string)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case method == "initialize":
			w.Header().Set("Mcp-Session-Id", fakeSessionId)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg["id"],
				"result": map[string]any{
					"protocolVersion": "2025-06-18",
					"capabilities":    map[string]any{"tools": map[string]any{}},
					"serverInfo":      map[string]any{"name": "Conduit", "version": "0.0.0"},
				},
			})
		case strings.HasPrefix(method, "notifications/"):
			w.WriteHeader(http.StatusAccepted)
		case method == "tools/call":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg["id"],
				"result": map[string]any{
					"content": []any{map[string]any{"type": "text", "text": "5"}},
					"isError": false,
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      msg["id"],
				"error":   map[string]any{"code": -32601, "message": "invalid method " + method},
			})
		}
	})
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestStreamableHTTPSession(t *testing.T) {
	var lastSession string
	ts := fakeStreamableServer(t, &lastSession)
	transport := NewStreamableHTTP(ts.URL)
	c := New(transport)
	defer c.Close()

	result, err := c.Initialize(context.Background(), "test", "0.0.0", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if result.ServerInfo.Name != "Conduit" {
		t.Fatalf("unexpected server info: %+v", result.ServerInfo)
	}
	if transport.SessionID() != fakeSessionId {
		t.Fatalf("unexpected session id %q", transport.SessionID())
	}

	callResult, err := c.CallTool(context.Background(), "add", map[string]any{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(callResult.Content) != 1 || callResult.Content[0].Text != "5" {
		t.Fatalf("unexpected tool result: %+v", callResult)
	}
	// The learned session id rides along on later requests.
	if lastSession != fakeSessionId {
		t.Fatalf("unexpected session header %q", lastSession)
	}
}

func TestStreamableHTTPServerError(t *testing.T) {
	var lastSession string
	ts := fakeStreamableServer(t, &lastSession)
	transport := NewStreamableHTTP(ts.URL)

	_, err := transport.Request(context.Background(), "no/such/method", map[string]any{})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.Code != -32601 {
		t.Fatalf("unexpected error code: %d", serverErr.Code)
	}
}

func TestStreamableHTTPEventStreamResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg map[string]any
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Errorf("unable to decode request body %q: %s", body, err)
			return
		}
		id, _ := msg["id"].(string)
		w.Header().Set("Content-Type", "text/event-stream")
		// A notification precedes the response on the stream.
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tasks/status\",\"params\":{}}\n\n")
		fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":%q,\"result\":{\"ok\":true}}\n\n", id)
	}))
	defer ts.Close()
	transport := NewStreamableHTTP(ts.URL)

	raw, err := transport.Request(context.Background(), "tools/call", map[string]any{"name": "add"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unable to parse result %q: %s", raw, err)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestStreamableHTTPEventStreamWithoutResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tasks/status\",\"params\":{}}\n\n")
	}))
	defer ts.Close()
	transport := NewStreamableHTTP(ts.URL)

	if _, err := transport.Request(context.Background(), "tools/call", map[string]any{"name": "add"}); err == nil {
		t.Fatal("expected an error when the stream ends without a response")
	}
}

func TestStreamableHTTPStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()
	transport := NewStreamableHTTP(ts.URL)

	if _, err := transport.Request(context.Background(), "ping", map[string]any{}); err == nil {
		t.Fatal("expected an error for a non-200 status")
	}
	if err := transport.Notify(context.Background(), "notifications/initialized", nil); err == nil {
		t.Fatal("expected an error for a non-202 status")
	}
}

func TestStreamableHTTPAuthToken(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()
	transport := NewStreamableHTTP(ts.URL, WithAuthToken("secret"))

	if err := transport.Notify(context.Background(), "notifications/initialized", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected Authorization header %q", gotAuth)
	}
}
