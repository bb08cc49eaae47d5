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

// Package session correlates server-initiated requests with client replies
// and carries the per-connection state of one MCP peer.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
)

// SendFunc is the transport-provided one-way writer. Sessions hold only this
// thin handle, never the transport itself.
type SendFunc func(msg any) error

// RequestTimeoutError reports that SendRequest hit its deadline before the
// client replied. The pending entry is removed; a late response is dropped.
type RequestTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Method, e.Timeout)
}

// ClientError is an error response received from the peer.
type ClientError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Message)
}

// Session is the bidirectional conversational state of one connection.
type Session struct {
	id     string
	sendFn SendFunc

	capMu        sync.RWMutex
	capabilities map[string]interface{}

	pendingMu sync.Mutex
	pending   map[string]chan *jsonrpc.BaseMessage

	stateMu sync.Mutex
	state   map[string]interface{}

	requestCounter atomic.Int64

	// sendMu serializes writes so messages enqueued from a single caller
	// arrive in enqueue order.
	sendMu sync.Mutex
}

// New returns a Session writing through sendFn.
func New(id string, sendFn SendFunc) *Session {
	return &Session{
		id:      id,
		sendFn:  sendFn,
		pending: make(map[string]chan *jsonrpc.BaseMessage),
		state:   make(map[string]interface{}),
	}
}

// ID returns the server-minted session id.
func (s *Session) ID() string { return s.id }

// SetCapabilities records the capability mapping advertised by the client.
func (s *Session) SetCapabilities(caps map[string]interface{}) {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	s.capabilities = caps
}

// Capabilities returns the client capability mapping.
func (s *Session) Capabilities() map[string]interface{} {
	s.capMu.RLock()
	defer s.capMu.RUnlock()
	return s.capabilities
}

func (s *Session) hasCapability(path ...string) bool {
	s.capMu.RLock()
	defer s.capMu.RUnlock()
	var cur interface{} = s.capabilities
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return false
		}
		cur, ok = m[key]
		if !ok {
			return false
		}
	}
	return true
}

// SupportsSampling reports whether the client advertised sampling.
func (s *Session) SupportsSampling() bool { return s.hasCapability("sampling") }

// SupportsSamplingTools reports whether the client advertised tool use
// during sampling.
func (s *Session) SupportsSamplingTools() bool { return s.hasCapability("sampling", "tools") }

// SupportsElicitation reports whether the client advertised elicitation.
func (s *Session) SupportsElicitation() bool { return s.hasCapability("elicitation") }

// SupportsRoots reports whether the client advertised roots listing.
func (s *Session) SupportsRoots() bool { return s.hasCapability("roots") }

// SetState stores an application scratch value.
func (s *Session) SetState(key string, value interface{}) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state[key] = value
}

// State retrieves an application scratch value.
func (s *Session) State(key string) (interface{}, bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

// Send writes a message to the client out-of-band.
func (s *Session) Send(msg any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendFn(msg)
}

// Notify sends a JSON-RPC notification to the client.
func (s *Session) Notify(method string, params any) error {
	return s.Send(jsonrpc.NewNotification(method, params))
}

// SendRequest sends a server-initiated request and waits for the matching
// response. The pending entry is removed whether or not the wait succeeded;
// a late response is silently dropped. The pending-table lock is never held
// during the wait.
func (s *Session) SendRequest(ctx context.Context, method string, params any, timeout time.Duration) (interface{}, error) {
	id := fmt.Sprintf("srv_%d", s.requestCounter.Add(1))

	ch := make(chan *jsonrpc.BaseMessage, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.Send(jsonrpc.NewRequest(id, method, params)); err != nil {
		return nil, fmt.Errorf("unable to send request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, &ClientError{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}
		}
		var result interface{}
		if len(msg.Result) > 0 {
			if err := decodeResult(msg.Result, &result); err != nil {
				return nil, fmt.Errorf("unable to decode result: %w", err)
			}
		}
		return result, nil
	case <-timer.C:
		return nil, &RequestTimeoutError{Method: method, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleResponse routes a client-posted response to its pending request.
// It returns false when the message is not a response or no request matches;
// duplicate deliveries are silently ignored.
func (s *Session) HandleResponse(msg *jsonrpc.BaseMessage) bool {
	if !msg.IsResponse() {
		return false
	}
	id := jsonrpc.IdString(msg.Id)

	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	if ok {
		// One-shot delivery; later matches find no entry.
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- msg:
	default:
	}
	return true
}

// PendingCount reports the number of in-flight server-initiated requests.
func (s *Session) PendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}
