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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
)

// SSE talks to a dual-endpoint MCP server: a GET event stream paired with a
// POST ingress whose URL the server announces in the first endpoint event.
type SSE struct {
	streamURL string
	client    *http.Client

	decoder *sseDecoder
	router  *inboundRouter
	pending *pendingMap

	mu        sync.Mutex
	endpoint  string
	sessionId string
	cancel    context.CancelFunc
	closed    bool
}

// SSEOption tunes an SSE transport.
type SSEOption func(*SSE)

// WithSSEHTTPClient substitutes the underlying HTTP client.
func WithSSEHTTPClient(c *http.Client) SSEOption {
	return func(t *SSE) { t.client = c }
}

// WithSSENotificationHandler consumes server notifications.
func WithSSENotificationHandler(h NotificationHandler) SSEOption {
	return func(t *SSE) { t.router.onNotify = h }
}

// WithSSERequestHandler serves server-initiated requests.
func WithSSERequestHandler(h RequestHandler) SSEOption {
	return func(t *SSE) { t.router.onRequest = h }
}

// NewSSE returns an unconnected transport for the given stream URL. Call
// Connect before the first request.
func NewSSE(streamURL string, opts ...SSEOption) *SSE {
	pending := newPendingMap()
	t := &SSE{
		streamURL: streamURL,
		client:    &http.Client{},
		pending:   pending,
		router:    &inboundRouter{pending: pending},
	}
	t.router.send = t.postMessage
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens the event stream and waits for the endpoint handshake. The
// given context bounds the handshake only; the stream itself lives until
// Close.
func (t *SSE) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	// Propagate a handshake cancellation to the stream request.
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-handshakeDone:
		}
	}()
	defer close(handshakeDone)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status %d on event stream", resp.StatusCode)
	}
	t.decoder = newSSEDecoder(resp.Body)

	// The first event names the message endpoint.
	event, err := t.decoder.ReadEvent()
	if err != nil {
		t.decoder.Close()
		return fmt.Errorf("unable to read endpoint event: %w", err)
	}
	if event.Type != "endpoint" {
		t.decoder.Close()
		return fmt.Errorf("expected endpoint event, got %q", event.Type)
	}
	endpoint, err := t.resolveEndpoint(event.Data)
	if err != nil {
		t.decoder.Close()
		return err
	}
	t.mu.Lock()
	t.endpoint = endpoint
	if u, parseErr := url.Parse(endpoint); parseErr == nil {
		t.sessionId = u.Query().Get("session_id")
	}
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

// resolveEndpoint turns the announced (possibly relative) endpoint into an
// absolute URL on the stream's host.
func (t *SSE) resolveEndpoint(raw string) (string, error) {
	base, err := url.Parse(t.streamURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// SessionID reports the id minted by the server for this stream.
func (t *SSE) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionId
}

func (t *SSE) readLoop() {
	for {
		event, err := t.decoder.ReadEvent()
		if err != nil {
			t.pending.failAll()
			return
		}
		switch event.Type {
		case "heartbeat", "endpoint":
			continue
		}
		msg, err := jsonrpc.DecodeBaseMessage([]byte(event.Data))
		if err != nil {
			continue
		}
		t.router.route(msg)
	}
}

func (t *SSE) postMessage(payload any) error {
	t.mu.Lock()
	endpoint := t.endpoint
	t.mu.Unlock()
	if endpoint == "" {
		return fmt.Errorf("transport is not connected")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to marshal message: %w", err)
	}
	resp, err := t.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Request sends a request over the POST ingress and waits for the response
// on the event stream.
func (t *SSE) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := nextRequestId()
	ch := t.pending.register(id)
	defer t.pending.remove(id)

	if err := t.postMessage(jsonrpc.NewRequest(id, method, params)); err != nil {
		return nil, err
	}
	select {
	case msg := <-ch:
		return resultOf(msg)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a notification over the POST ingress.
func (t *SSE) Notify(ctx context.Context, method string, params any) error {
	return t.postMessage(jsonrpc.NewNotification(method, params))
}

// Close tears the event stream down and releases all waiters.
func (t *SSE) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.pending.failAll()
	if t.decoder != nil {
		return t.decoder.Close()
	}
	return nil
}

var _ Transport = &SSE{}

// connectTimeout bounds the endpoint handshake when the caller's context has
// no deadline.
const connectTimeout = 30 * time.Second

// Dial is a convenience constructor: it builds the transport and connects.
func Dial(ctx context.Context, streamURL string, opts ...SSEOption) (*SSE, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	t := NewSSE(streamURL, opts...)
	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}
