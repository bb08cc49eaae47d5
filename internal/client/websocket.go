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
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
)

// WebSocket is a duplex transport over a single websocket connection. Both
// peers can originate requests at any time.
type WebSocket struct {
	conn    *websocket.Conn
	router  *inboundRouter
	pending *pendingMap

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// WebSocketOption tunes a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWSNotificationHandler consumes server notifications.
func WithWSNotificationHandler(h NotificationHandler) WebSocketOption {
	return func(t *WebSocket) { t.router.onNotify = h }
}

// WithWSRequestHandler serves server-initiated requests.
func WithWSRequestHandler(h RequestHandler) WebSocketOption {
	return func(t *WebSocket) { t.router.onRequest = h }
}

// DialWebSocket connects to a ws:// or wss:// URL and starts the read loop.
func DialWebSocket(ctx context.Context, wsURL string, header http.Header, opts ...WebSocketOption) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket handshake failed: %w", err)
	}
	pending := newPendingMap()
	t := &WebSocket{
		conn:    conn,
		pending: pending,
		router:  &inboundRouter{pending: pending},
	}
	t.router.send = t.writeMessage
	for _, opt := range opts {
		opt(t)
	}
	go t.readLoop()
	return t, nil
}

func (t *WebSocket) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.pending.failAll()
			return
		}
		msg, err := jsonrpc.DecodeBaseMessage(data)
		if err != nil {
			continue
		}
		t.router.route(msg)
	}
}

// writeMessage serializes concurrent writers; gorilla connections allow at
// most one writer at a time.
func (t *WebSocket) writeMessage(payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to marshal message: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	return nil
}

// Request sends a request and waits for the matching response frame.
func (t *WebSocket) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := nextRequestId()
	ch := t.pending.register(id)
	defer t.pending.remove(id)

	if err := t.writeMessage(jsonrpc.NewRequest(id, method, params)); err != nil {
		return nil, err
	}
	select {
	case msg := <-ch:
		return resultOf(msg)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a notification frame.
func (t *WebSocket) Notify(ctx context.Context, method string, params any) error {
	return t.writeMessage(jsonrpc.NewNotification(method, params))
}

// Close sends a close frame and tears the connection down.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	t.pending.failAll()
	return t.conn.Close()
}

var _ Transport = &WebSocket{}
