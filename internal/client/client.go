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

// Package client provides outbound MCP transports: streamable HTTP, SSE,
// WebSocket, and subprocess stdio.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
	"github.com/conduit-mcp/conduit/internal/mcp"
)

// Transport is one outbound connection to an MCP server.
type Transport interface {
	// Request sends a request and waits for the matching response's result.
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Notify sends a fire-and-forget notification.
	Notify(ctx context.Context, method string, params any) error
	Close() error
}

// ServerError is a JSON-RPC error response received from the server.
type ServerError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// requestIds mints client-side request ids, shared across transports.
var requestIds atomic.Int64

func nextRequestId() string {
	return fmt.Sprintf("req_%d", requestIds.Add(1))
}

// pendingMap correlates in-flight requests with their responses on duplex
// transports.
type pendingMap struct {
	mu      sync.Mutex
	waiting map[string]chan *jsonrpc.BaseMessage
}

func newPendingMap() *pendingMap {
	return &pendingMap{waiting: make(map[string]chan *jsonrpc.BaseMessage)}
}

func (p *pendingMap) register(id string) chan *jsonrpc.BaseMessage {
	ch := make(chan *jsonrpc.BaseMessage, 1)
	p.mu.Lock()
	p.waiting[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingMap) remove(id string) {
	p.mu.Lock()
	delete(p.waiting, id)
	p.mu.Unlock()
}

// deliver routes a response to its waiter. Unmatched responses are dropped.
func (p *pendingMap) deliver(msg *jsonrpc.BaseMessage) bool {
	if !msg.IsResponse() {
		return false
	}
	id := jsonrpc.IdString(msg.Id)
	p.mu.Lock()
	ch, ok := p.waiting[id]
	if ok {
		delete(p.waiting, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- msg:
	default:
	}
	return true
}

// failAll releases every waiter with a transport error, used on shutdown.
func (p *pendingMap) failAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.waiting {
		select {
		case ch <- &jsonrpc.BaseMessage{
			Jsonrpc: jsonrpc.JSONRPC_VERSION,
			Id:      id,
			Error:   &jsonrpc.McpError{Code: jsonrpc.INTERNAL_ERROR, Message: "connection closed"},
		}:
		default:
		}
		delete(p.waiting, id)
	}
}

// resultOf unwraps a response message into its result, converting error
// responses into ServerError.
func resultOf(msg *jsonrpc.BaseMessage) (json.RawMessage, error) {
	if msg.Error != nil {
		return nil, &ServerError{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}
	}
	return msg.Result, nil
}

// Client wraps a Transport with typed helpers for the protocol's methods.
type Client struct {
	transport Transport
}

// New returns a Client speaking over the given transport.
func New(t Transport) *Client {
	return &Client{transport: t}
}

// Close shuts the underlying transport down.
func (c *Client) Close() error { return c.transport.Close() }

// Initialize performs the protocol handshake and reports the server's info
// and capabilities.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string, capabilities map[string]any) (*mcp.InitializeResult, error) {
	raw, err := c.transport.Request(ctx, mcp.INITIALIZE, mcp.InitializeParams{
		ProtocolVersion: mcp.PROTOCOL_VERSION,
		Capabilities:    capabilities,
		ClientInfo:      mcp.Implementation{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return nil, err
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unable to parse initialize result: %w", err)
	}
	if err := c.transport.Notify(ctx, mcp.NOTIFICATION_INITIALIZED, map[string]any{}); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.transport.Request(ctx, mcp.PING, map[string]any{})
	return err
}

// ListTools fetches one page of tools.
func (c *Client) ListTools(ctx context.Context, cursor mcp.Cursor) (*mcp.ListToolsResult, error) {
	raw, err := c.transport.Request(ctx, mcp.TOOLS_LIST, mcp.PaginatedParams{Cursor: cursor})
	if err != nil {
		return nil, err
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unable to parse tools/list result: %w", err)
	}
	return &result, nil
}

// CallTool invokes a tool by name.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	raw, err := c.transport.Request(ctx, mcp.TOOLS_CALL, mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unable to parse tools/call result: %w", err)
	}
	return &result, nil
}

// ReadResource fetches a resource's contents by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	raw, err := c.transport.Request(ctx, mcp.RESOURCES_READ, mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result mcp.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unable to parse resources/read result: %w", err)
	}
	return &result, nil
}

// GetPrompt renders a prompt by name.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	raw, err := c.transport.Request(ctx, mcp.PROMPTS_GET, mcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var result mcp.GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unable to parse prompts/get result: %w", err)
	}
	return &result, nil
}
