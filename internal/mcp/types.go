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

// Package mcp defines the Model Context Protocol message types served and
// consumed by the dispatcher and the transports.
package mcp

// SERVER_NAME is the server name used in Implementation.
const SERVER_NAME = "Conduit"

// PROTOCOL_VERSION is the version of the MCP protocol this server speaks.
const PROTOCOL_VERSION = "2025-06-18"

// Meta is the free-form `_meta` mapping carried by requests and results.
type Meta map[string]interface{}

// Result represents a response for the request query.
type Result struct {
	// This result property is reserved by the protocol to allow clients and
	// servers to attach additional metadata to their responses.
	Meta Meta `json:"_meta,omitempty"`
}

/* Initialization */

// Implementation describes the name and version of an MCP implementation.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams defines the MCP client during an initialize request.
type InitializeParams struct {
	// The latest version of the Model Context Protocol that the client supports.
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      Implementation         `json:"clientInfo"`
}

// ListChanged represents whether the server supports notifications for
// changes to a capability.
type ListChanged struct {
	ListChanged *bool `json:"listChanged,omitempty"`
}

// ServerCapabilities represents capabilities that this server may support.
type ServerCapabilities struct {
	Tools       *ListChanged           `json:"tools,omitempty"`
	Resources   *ListChanged           `json:"resources,omitempty"`
	Prompts     *ListChanged           `json:"prompts,omitempty"`
	Logging     map[string]interface{} `json:"logging,omitempty"`
	Completions map[string]interface{} `json:"completions,omitempty"`
}

// InitializeResult is sent after receiving an initialize request from the
// client.
type InitializeResult struct {
	Result
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	// Instructions describing how to use the server and its features.
	Instructions string `json:"instructions,omitempty"`
}

/* Pagination */

// Cursor is an opaque token used to represent a cursor for pagination.
type Cursor string

// PaginatedParams carries the cursor of a list request.
type PaginatedParams struct {
	// An opaque token representing the current pagination position.
	// If provided, the server should return results starting after this cursor.
	Cursor Cursor `json:"cursor,omitempty"`
	Meta   Meta   `json:"_meta,omitempty"`
}

// PaginatedResult carries the cursor of a list response.
type PaginatedResult struct {
	Result
	// An opaque token representing the pagination position after the last
	// returned result. If present, there may be more results available.
	NextCursor Cursor `json:"nextCursor,omitempty"`
}

/* Content */

// The sender or recipient of messages and data in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TextContent represents text provided to or from an LLM.
type TextContent struct {
	Type string `json:"type"`
	// The text content of the message.
	Text string `json:"text"`
}

// NewTextContent returns a TextContent wrapping the given text.
func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}

// Icon describes an icon a client may render next to a tool or resource.
type Icon struct {
	Src      string `json:"src"`
	MimeType string `json:"mimeType,omitempty"`
	Sizes    string `json:"sizes,omitempty"`
}

/* Tools */

// ToolManifest is the representation of a tool sent to clients.
type ToolManifest struct {
	Name         string                 `json:"name"`
	Title        string                 `json:"title,omitempty"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  map[string]interface{} `json:"inputSchema"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	Icons        []Icon                 `json:"icons,omitempty"`
	Meta         Meta                   `json:"_meta,omitempty"`
}

// ListToolsResult is the server's response to a tools/list request.
type ListToolsResult struct {
	PaginatedResult
	Tools []ToolManifest `json:"tools"`
}

// CallToolParams are the parameters of a tools/call request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Meta      Meta                   `json:"_meta,omitempty"`
}

// CallToolResult is the server's response to a tool call.
//
// Any errors that originate from the tool SHOULD be reported inside the
// result object, with `isError` set to true, _not_ as an MCP protocol-level
// error response. Otherwise, the LLM would not be able to see that an error
// occurred and self-correct.
type CallToolResult struct {
	Result
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError"`
}

/* Resources */

// ResourceManifest is the representation of a resource sent to clients.
type ResourceManifest struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Icons       []Icon `json:"icons,omitempty"`
	Meta        Meta   `json:"_meta,omitempty"`
}

// ResourceTemplateManifest is the representation of a resource template sent
// to clients.
type ResourceTemplateManifest struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the server's response to a resources/list request.
type ListResourcesResult struct {
	PaginatedResult
	Resources []ResourceManifest `json:"resources"`
}

// ListResourceTemplatesResult is the server's response to a
// resources/templates/list request.
type ListResourceTemplatesResult struct {
	PaginatedResult
	ResourceTemplates []ResourceTemplateManifest `json:"resourceTemplates"`
}

// ReadResourceParams are the parameters of a resources/read request.
type ReadResourceParams struct {
	URI  string `json:"uri"`
	Meta Meta   `json:"_meta,omitempty"`
}

// ResourceContents is one entry of a resources/read response. Either Text or
// Blob is set, never both.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the server's response to a resources/read request.
type ReadResourceResult struct {
	Result
	Contents []ResourceContents `json:"contents"`
}

/* Prompts */

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptManifest is the representation of a prompt sent to clients.
type PromptManifest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ListPromptsResult is the server's response to a prompts/list request.
type ListPromptsResult struct {
	PaginatedResult
	Prompts []PromptManifest `json:"prompts"`
}

// GetPromptParams are the parameters of a prompts/get request.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Meta      Meta              `json:"_meta,omitempty"`
}

// PromptMessage is one rendered message of a prompt.
type PromptMessage struct {
	Role    Role        `json:"role"`
	Content TextContent `json:"content"`
}

// GetPromptResult is the server's response to a prompts/get request.
type GetPromptResult struct {
	Result
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

/* Completion */

// CompleteParams are the parameters of a completion/complete request.
type CompleteParams struct {
	Ref struct {
		Type string `json:"type"`
		Name string `json:"name,omitempty"`
		URI  string `json:"uri,omitempty"`
	} `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
}

// CompleteResult is the server's response to a completion/complete request.
type CompleteResult struct {
	Result
	Completion struct {
		Values  []string `json:"values"`
		Total   int      `json:"total,omitempty"`
		HasMore bool     `json:"hasMore,omitempty"`
	} `json:"completion"`
}

/* Tasks */

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskSubmitted     TaskStatus = "submitted"
	TaskWorking       TaskStatus = "working"
	TaskInputRequired TaskStatus = "input_required"
	TaskCompleted     TaskStatus = "completed"
	TaskFailed        TaskStatus = "failed"
	TaskCancelled     TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is sticky.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskStatusNotification is the params payload of notifications/tasks/status.
type TaskStatusNotification struct {
	TaskId        string     `json:"taskId"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	Error         string     `json:"error,omitempty"`
}

/* Sampling */

// SamplingMessage is one message of a sampling/createMessage exchange.
type SamplingMessage struct {
	Role    Role          `json:"role"`
	Content []TextContent `json:"content"`
}

// CreateMessageParams are the parameters of a sampling/createMessage request.
type CreateMessageParams struct {
	Messages      []SamplingMessage `json:"messages"`
	SystemPrompt  string            `json:"systemPrompt,omitempty"`
	MaxTokens     int               `json:"maxTokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	StopSequences []string          `json:"stopSequences,omitempty"`
	Meta          Meta              `json:"_meta,omitempty"`
}

/* Roots */

// Root is one entry of a roots/list response.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}
