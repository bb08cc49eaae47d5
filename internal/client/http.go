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
	"strings"
	"sync"
	"time"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
	"github.com/conduit-mcp/conduit/internal/mcp"
)

const headerSessionId = "Mcp-Session-Id"

// StreamableHTTP talks to a single-POST-endpoint MCP server. The session id
// learned from the initialize response header rides along on every
// subsequent request.
type StreamableHTTP struct {
	endpoint  string
	client    *http.Client
	authToken string

	mu        sync.Mutex
	sessionId string
}

// StreamableHTTPOption tunes a StreamableHTTP transport.
type StreamableHTTPOption func(*StreamableHTTP)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(c *http.Client) StreamableHTTPOption {
	return func(t *StreamableHTTP) { t.client = c }
}

// WithAuthToken sends the token as a bearer Authorization header.
func WithAuthToken(token string) StreamableHTTPOption {
	return func(t *StreamableHTTP) { t.authToken = token }
}

// NewStreamableHTTP returns a transport POSTing to the given endpoint.
func NewStreamableHTTP(endpoint string, opts ...StreamableHTTPOption) *StreamableHTTP {
	t := &StreamableHTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionID reports the session id learned during initialize.
func (t *StreamableHTTP) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionId
}

func (t *StreamableHTTP) post(ctx context.Context, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	t.mu.Lock()
	if t.sessionId != "" {
		req.Header.Set(headerSessionId, t.sessionId)
	}
	t.mu.Unlock()
	return t.client.Do(req)
}

// Request sends one request and decodes the response body.
func (t *StreamableHTTP) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := nextRequestId()
	resp, err := t.post(ctx, jsonrpc.NewRequest(id, method, params))
	if err != nil {
		return nil, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if method == mcp.INITIALIZE {
		if sid := resp.Header.Get(headerSessionId); sid != "" {
			t.mu.Lock()
			t.sessionId = sid
			t.mu.Unlock()
		}
	}

	// Servers may answer with a plain JSON body or stream the reply as
	// server-sent events.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readEventStream(resp.Body, jsonrpc.IdString(id))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}
	msg, err := jsonrpc.DecodeBaseMessage(body)
	if err != nil {
		return nil, fmt.Errorf("unable to decode response: %w", err)
	}
	return resultOf(msg)
}

// readEventStream scans an event-stream response body for the response
// matching the request id. Interleaved notifications are skipped.
func readEventStream(body io.ReadCloser, id string) (json.RawMessage, error) {
	decoder := newSSEDecoder(body)
	for {
		event, err := decoder.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("stream ended before a response for %q arrived", id)
			}
			return nil, fmt.Errorf("unable to read event stream: %w", err)
		}
		if event.Data == "" {
			continue
		}
		msg, err := jsonrpc.DecodeBaseMessage([]byte(event.Data))
		if err != nil {
			continue
		}
		if !msg.IsResponse() || jsonrpc.IdString(msg.Id) != id {
			continue
		}
		return resultOf(msg)
	}
}

// Notify sends a notification; the server acknowledges with 202.
func (t *StreamableHTTP) Notify(ctx context.Context, method string, params any) error {
	resp, err := t.post(ctx, jsonrpc.NewNotification(method, params))
	if err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the transport holds no persistent connection.
func (t *StreamableHTTP) Close() error { return nil }

var _ Transport = &StreamableHTTP{}
