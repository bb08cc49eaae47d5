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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
)

// Stdio runs an MCP server as a subprocess and exchanges newline-delimited
// JSON-RPC messages over its stdin and stdout.
type Stdio struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	router  *inboundRouter
	pending *pendingMap

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// StdioOption tunes a Stdio transport.
type StdioOption func(*Stdio)

// WithStdioNotificationHandler consumes server notifications.
func WithStdioNotificationHandler(h NotificationHandler) StdioOption {
	return func(t *Stdio) { t.router.onNotify = h }
}

// WithStdioRequestHandler serves server-initiated requests.
func WithStdioRequestHandler(h RequestHandler) StdioOption {
	return func(t *Stdio) { t.router.onRequest = h }
}

// StartStdio launches the command and starts reading its stdout. The
// subprocess inherits stderr so its logs surface with the parent's.
func StartStdio(ctx context.Context, name string, args []string, opts ...StdioOption) (*Stdio, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("unable to open stdout pipe: %w", err)
	}
	pending := newPendingMap()
	t := &Stdio{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		pending: pending,
		router:  &inboundRouter{pending: pending},
	}
	t.router.send = t.writeMessage
	for _, opt := range opts {
		opt(t)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("unable to start %s: %w", name, err)
	}
	go t.readLoop()
	return t, nil
}

func (t *Stdio) readLoop() {
	scanner := bufio.NewScanner(t.stdout)
	// Tool results can be large; a line must fit in one buffer.
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.DecodeBaseMessage(line)
		if err != nil {
			continue
		}
		t.router.route(msg)
	}
	t.pending.failAll()
}

func (t *Stdio) writeMessage(payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to marshal message: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := fmt.Fprintf(t.stdin, "%s\n", body); err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	return nil
}

// Request sends a request line and waits for the matching response line.
func (t *Stdio) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
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

// Notify sends a notification line.
func (t *Stdio) Notify(ctx context.Context, method string, params any) error {
	return t.writeMessage(jsonrpc.NewNotification(method, params))
}

// Close closes stdin so the subprocess sees EOF, then waits for it to exit.
func (t *Stdio) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.pending.failAll()
	_ = t.stdin.Close()
	return t.cmd.Wait()
}

var _ Transport = &Stdio{}
