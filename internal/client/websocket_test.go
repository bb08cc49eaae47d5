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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
)

// fakeWebSocketServer echoes request methods back as results and records
// notifications on the returned channel.
func fakeWebSocketServer(t *testing.T) (string, chan string) {
	t.Helper()
	notifications := make(chan string, 16)
	upgrader := websocket.Upgrader{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("unable to upgrade connection: %s", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := jsonrpc.DecodeBaseMessage(data)
			if err != nil {
				t.Errorf("unable to decode frame %q: %s", data, err)
				return
			}
			switch {
			case msg.IsNotification():
				notifications <- msg.Method
			case msg.IsRequest():
				reply, err := json.Marshal(jsonrpc.NewResponse(msg.Id, map[string]any{"echo": msg.Method}))
				if err != nil {
					t.Errorf("unable to marshal reply: %s", err)
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), notifications
}

func TestWebSocketRoundTrip(t *testing.T) {
	wsURL, notifications := fakeWebSocketServer(t)

	transport, err := DialWebSocket(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := transport.Request(ctx, "ping", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unable to decode result: %s", err)
	}
	if result["echo"] != "ping" {
		t.Fatalf("unexpected result: %v", result)
	}

	if err := transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	select {
	case method := <-notifications:
		if method != "notifications/initialized" {
			t.Fatalf("unexpected notification %q", method)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestWebSocketClose(t *testing.T) {
	wsURL, _ := fakeWebSocketServer(t)

	transport, err := DialWebSocket(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	// Close is idempotent.
	if err := transport.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := transport.Request(ctx, "ping", nil); err == nil {
		t.Fatal("expected an error on a closed transport")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusBadRequest)
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	if _, err := DialWebSocket(context.Background(), wsURL, nil); err == nil {
		t.Fatal("expected a handshake error")
	}
}
