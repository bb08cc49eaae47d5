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

// Package dispatch routes decoded JSON-RPC messages to the registries and the
// task table, and produces the outbound JSON-RPC reply.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
	"github.com/conduit-mcp/conduit/internal/log"
	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/registry"
	"github.com/conduit-mcp/conduit/internal/session"
	"github.com/conduit-mcp/conduit/internal/task"
	"github.com/conduit-mcp/conduit/internal/telemetry"
	"github.com/conduit-mcp/conduit/internal/util"
)

// Handler serves one extension method. The returned value becomes the
// JSON-RPC result.
type Handler func(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error)

// Options tune a Dispatcher.
type Options struct {
	// Version is reported in serverInfo during initialize.
	Version string
	// Instructions is the optional usage text reported during initialize.
	Instructions string
	// PageSize bounds list responses. Zero or negative disables pagination.
	PageSize int
	// Instrumentation carries the tool-call counter; nil disables it.
	Instrumentation *telemetry.Instrumentation
}

// Dispatcher is the method router of the server. One instance serves all
// transports; it is safe for concurrent use after setup.
type Dispatcher struct {
	view   registry.View
	base   *registry.Registry
	tasks  *task.Registry
	opts   Options
	logger log.Logger

	mu         sync.RWMutex
	extensions map[string]Handler
	// requestTasks maps the ids of task-spawning requests to their task ids
	// so notifications/cancelled can reach the task. Entries are dropped when
	// the task reaches a terminal state; taskRequests is the reverse index.
	requestTasks map[string]string
	taskRequests map[string]string
}

// New returns a Dispatcher serving the given view. The base registry carries
// the tool-call counter; tasks may be nil when background execution is not
// offered.
func New(view registry.View, base *registry.Registry, tasks *task.Registry, logger log.Logger, opts Options) *Dispatcher {
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}
	d := &Dispatcher{
		view:         view,
		base:         base,
		tasks:        tasks,
		opts:         opts,
		logger:       logger,
		extensions:   make(map[string]Handler),
		requestTasks: make(map[string]string),
		taskRequests: make(map[string]string),
	}
	if tasks != nil {
		tasks.OnTerminal(d.releaseTask)
	}
	return d
}

func (d *Dispatcher) trackTask(requestId, taskId string) {
	d.mu.Lock()
	d.requestTasks[requestId] = taskId
	d.taskRequests[taskId] = requestId
	d.mu.Unlock()
}

// releaseTask drops the request mapping of a finished task.
func (d *Dispatcher) releaseTask(taskId string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	requestId, ok := d.taskRequests[taskId]
	if !ok {
		return
	}
	delete(d.taskRequests, taskId)
	delete(d.requestTasks, requestId)
}

// RegisterMethod adds an extension route. Built-in methods cannot be
// shadowed.
func (d *Dispatcher) RegisterMethod(method string, h Handler) error {
	if _, ok := builtins[method]; ok {
		return fmt.Errorf("method %q is built in", method)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.extensions[method]; ok {
		return fmt.Errorf("method %q already registered", method)
	}
	d.extensions[method] = h
	return nil
}

var builtins = map[string]struct{}{
	mcp.INITIALIZE:               {},
	mcp.PING:                     {},
	mcp.TOOLS_LIST:               {},
	mcp.TOOLS_CALL:               {},
	mcp.RESOURCES_LIST:           {},
	mcp.RESOURCES_READ:           {},
	mcp.RESOURCES_TEMPLATES_LIST: {},
	mcp.PROMPTS_LIST:             {},
	mcp.PROMPTS_GET:              {},
	mcp.COMPLETION_COMPLETE:      {},
	mcp.LOGGING_SET_LEVEL:        {},
	mcp.TASKS_GET:                {},
	mcp.TASKS_CANCEL:             {},
}

// Dispatch decodes one raw body and routes it. The returned value is the
// reply to send, or nil when the message produces none (notifications).
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte, sess *session.Session) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return jsonrpc.NewError(nil, jsonrpc.INVALID_REQUEST, "not supporting batch requests", nil)
	}
	msg, err := jsonrpc.DecodeBaseMessage(trimmed)
	if err != nil {
		return jsonrpc.NewError(nil, jsonrpc.PARSE_ERROR, err.Error(), nil)
	}
	return d.DispatchMessage(ctx, msg, sess)
}

// DispatchMessage routes a decoded message.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg *jsonrpc.BaseMessage, sess *session.Session) any {
	switch {
	case msg.IsNotification():
		d.handleNotification(ctx, msg, sess)
		return nil
	case msg.IsRequest():
		return d.handleRequest(ctx, msg, sess)
	default:
		return jsonrpc.NewError(msg.Id, jsonrpc.INVALID_REQUEST, "message is neither request nor notification", nil)
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, msg *jsonrpc.BaseMessage, sess *session.Session) any {
	meta := metaOf(msg.Params)
	info := &RequestInfo{ID: msg.Id, Meta: meta, Session: sess}
	if sess != nil {
		info.SessionID = sess.ID()
	}
	if sid, ok := meta[mcp.META_SESSION_ID].(string); ok && sid != "" {
		// Transports stamp the session id; an existing value wins.
		info.SessionID = sid
	}
	if token, ok := meta[mcp.META_PROGRESS_TOKEN]; ok {
		info.ProgressToken = token
	}
	ctx = WithRequestInfo(ctx, info)

	result, err := d.route(ctx, msg, sess)
	if err != nil {
		code, message := errorCode(err)
		return jsonrpc.NewError(msg.Id, code, message, nil)
	}
	return jsonrpc.NewResponse(msg.Id, result)
}

func (d *Dispatcher) route(ctx context.Context, msg *jsonrpc.BaseMessage, sess *session.Session) (any, error) {
	switch msg.Method {
	case mcp.INITIALIZE:
		return d.initialize(msg.Params, sess)
	case mcp.PING:
		return map[string]any{}, nil
	case mcp.TOOLS_LIST:
		return d.listTools(msg.Params)
	case mcp.TOOLS_CALL:
		return d.callTool(ctx, msg, sess)
	case mcp.RESOURCES_LIST:
		return d.listResources(msg.Params)
	case mcp.RESOURCES_READ:
		return d.readResource(ctx, msg.Params)
	case mcp.RESOURCES_TEMPLATES_LIST:
		return d.listTemplates(msg.Params)
	case mcp.PROMPTS_LIST:
		return d.listPrompts(msg.Params)
	case mcp.PROMPTS_GET:
		return d.getPrompt(ctx, msg.Params)
	case mcp.COMPLETION_COMPLETE:
		return d.complete(msg.Params)
	case mcp.LOGGING_SET_LEVEL:
		return d.setLogLevel(msg.Params, sess)
	case mcp.TASKS_GET:
		return d.taskStatus(msg.Params)
	case mcp.TASKS_CANCEL:
		return d.taskCancel(msg.Params, sess)
	}

	d.mu.RLock()
	h, ok := d.extensions[msg.Method]
	d.mu.RUnlock()
	if ok {
		return h(ctx, sess, msg.Params)
	}
	return nil, &jsonrpc.McpError{Code: jsonrpc.METHOD_NOT_FOUND, Message: fmt.Sprintf("invalid method %s", msg.Method)}
}

func (d *Dispatcher) handleNotification(ctx context.Context, msg *jsonrpc.BaseMessage, sess *session.Session) {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		logger = d.logger
	}
	switch msg.Method {
	case mcp.NOTIFICATION_INITIALIZED:
		logger.DebugContext(ctx, "client session initialized")
	case mcp.NOTIFICATION_CANCELLED:
		d.handleCancelled(ctx, msg.Params, sess)
	default:
		logger.DebugContext(ctx, fmt.Sprintf("ignoring notification %q", msg.Method))
	}
}

func (d *Dispatcher) handleCancelled(ctx context.Context, params json.RawMessage, sess *session.Session) {
	var p struct {
		RequestId jsonrpc.RequestId `json:"requestId"`
		Reason    string            `json:"reason,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil || p.RequestId == nil {
		return
	}
	d.mu.Lock()
	taskId, ok := d.requestTasks[jsonrpc.IdString(p.RequestId)]
	d.mu.Unlock()
	if !ok || d.tasks == nil {
		return
	}
	_ = d.tasks.Cancel(taskId, p.Reason, sess)
}

/* initialize */

func (d *Dispatcher) initialize(params json.RawMessage, sess *session.Session) (any, error) {
	var p mcp.InitializeParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, registry.Validationf("invalid initialize params: %s", err)
		}
	}
	if sess != nil {
		sess.SetCapabilities(p.Capabilities)
	}
	listChanged := false
	return mcp.InitializeResult{
		ProtocolVersion: mcp.PROTOCOL_VERSION,
		Capabilities: mcp.ServerCapabilities{
			Tools:       &mcp.ListChanged{ListChanged: &listChanged},
			Resources:   &mcp.ListChanged{ListChanged: &listChanged},
			Prompts:     &mcp.ListChanged{ListChanged: &listChanged},
			Logging:     map[string]any{},
			Completions: map[string]any{},
		},
		ServerInfo: mcp.Implementation{
			Name:    mcp.SERVER_NAME,
			Version: d.opts.Version,
		},
		Instructions: d.opts.Instructions,
	}, nil
}

/* tools */

func (d *Dispatcher) listTools(params json.RawMessage) (any, error) {
	cursor, err := cursorOf(params)
	if err != nil {
		return nil, err
	}
	all := d.view.ListTools()
	manifests := make([]mcp.ToolManifest, 0, len(all))
	for _, t := range all {
		manifests = append(manifests, t.Manifest())
	}
	page, next := mcp.Paginate(manifests, cursor, d.opts.PageSize)
	result := mcp.ListToolsResult{Tools: page}
	result.NextCursor = next
	return result, nil
}

func (d *Dispatcher) callTool(ctx context.Context, msg *jsonrpc.BaseMessage, sess *session.Session) (any, error) {
	var p mcp.CallToolParams
	if err := decodeParams(msg.Params, &p); err != nil {
		return nil, registry.Validationf("invalid tools/call params: %s", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, registry.Validationf("tool name must not be empty")
	}
	tool, err := d.view.GetTool(p.Name)
	if err != nil {
		return nil, err
	}
	if err := tool.ValidateInput(p.Arguments); err != nil {
		return nil, err
	}

	asTask, err := task.ValidateTaskMeta(tool, p.Meta)
	if err != nil {
		return nil, registry.Validationf("%s", err)
	}
	if asTask {
		if d.tasks == nil {
			return nil, registry.Validationf("task execution is not enabled")
		}
		t, err := d.tasks.Submit(tool, p.Arguments, task.TTLFromMeta(p.Meta), sess)
		if err != nil {
			return nil, registry.Validationf("%s", err)
		}
		d.trackTask(jsonrpc.IdString(msg.Id), t.ID())
		// The worker may have finished before the mapping was recorded.
		if t.Snapshot().Status.IsTerminal() {
			d.releaseTask(t.ID())
		}
		result := mcp.CallToolResult{Content: []mcp.TextContent{}}
		result.Meta = mcp.Meta{mcp.META_TASK: map[string]any{"taskId": t.ID()}}
		return result, nil
	}

	value, err := tool.Invoke(ctx, p.Arguments, true)
	if d.base != nil {
		d.base.CountToolCall()
	}
	d.countToolInvoke(ctx, p.Name, err == nil)
	if err != nil {
		return nil, err
	}
	if r, ok := value.(mcp.CallToolResult); ok {
		return r, nil
	}
	return mcp.CallToolResult{
		Content: []mcp.TextContent{mcp.NewTextContent(renderValue(value))},
		IsError: false,
	}, nil
}

func (d *Dispatcher) countToolInvoke(ctx context.Context, name string, ok bool) {
	if d.opts.Instrumentation == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	d.opts.Instrumentation.ToolInvoke.Add(
		ctx,
		1,
		metric.WithAttributes(attribute.String("conduit.tool.name", name)),
		metric.WithAttributes(attribute.String("conduit.operation.status", status)),
	)
}

/* resources */

func (d *Dispatcher) listResources(params json.RawMessage) (any, error) {
	cursor, err := cursorOf(params)
	if err != nil {
		return nil, err
	}
	all := d.view.ListResources()
	manifests := make([]mcp.ResourceManifest, 0, len(all))
	for _, r := range all {
		manifests = append(manifests, r.Manifest())
	}
	page, next := mcp.Paginate(manifests, cursor, d.opts.PageSize)
	result := mcp.ListResourcesResult{Resources: page}
	result.NextCursor = next
	return result, nil
}

func (d *Dispatcher) listTemplates(params json.RawMessage) (any, error) {
	cursor, err := cursorOf(params)
	if err != nil {
		return nil, err
	}
	all := d.view.ListTemplates()
	manifests := make([]mcp.ResourceTemplateManifest, 0, len(all))
	for _, t := range all {
		manifests = append(manifests, t.Manifest())
	}
	page, next := mcp.Paginate(manifests, cursor, d.opts.PageSize)
	result := mcp.ListResourceTemplatesResult{ResourceTemplates: page}
	result.NextCursor = next
	return result, nil
}

func (d *Dispatcher) readResource(ctx context.Context, params json.RawMessage) (any, error) {
	var p mcp.ReadResourceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, registry.Validationf("invalid resources/read params: %s", err)
	}
	if p.URI == "" {
		return nil, registry.Validationf("resource uri must not be empty")
	}

	// Exact URI first, then the templates in registration order.
	if r, err := d.view.GetResource(p.URI); err == nil {
		content, err := r.Read(ctx, nil)
		if err != nil {
			return nil, err
		}
		return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{content.Contents(p.URI)}}, nil
	}
	t, matchParams := d.view.MatchTemplate(p.URI)
	if t == nil {
		return nil, &registry.NotFoundError{Kind: "resource", Name: p.URI}
	}
	if t.Provider == nil {
		return nil, fmt.Errorf("template %q has no provider", t.URITemplate)
	}
	content, err := t.Provider(ctx, matchParams)
	if err != nil {
		return nil, err
	}
	return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{content.Contents(p.URI)}}, nil
}

/* prompts */

func (d *Dispatcher) listPrompts(params json.RawMessage) (any, error) {
	cursor, err := cursorOf(params)
	if err != nil {
		return nil, err
	}
	all := d.view.ListPrompts()
	manifests := make([]mcp.PromptManifest, 0, len(all))
	for _, p := range all {
		manifests = append(manifests, p.Manifest())
	}
	page, next := mcp.Paginate(manifests, cursor, d.opts.PageSize)
	result := mcp.ListPromptsResult{Prompts: page}
	result.NextCursor = next
	return result, nil
}

func (d *Dispatcher) getPrompt(ctx context.Context, params json.RawMessage) (any, error) {
	var p mcp.GetPromptParams
	if err := decodeParams(params, &p); err != nil {
		return nil, registry.Validationf("invalid prompts/get params: %s", err)
	}
	prompt, err := d.view.GetPrompt(p.Name)
	if err != nil {
		return nil, err
	}
	messages, err := prompt.Render(ctx, p.Arguments)
	if err != nil {
		return nil, err
	}
	return mcp.GetPromptResult{Description: prompt.Description, Messages: messages}, nil
}

/* completion */

func (d *Dispatcher) complete(params json.RawMessage) (any, error) {
	var p mcp.CompleteParams
	if err := decodeParams(params, &p); err != nil {
		return nil, registry.Validationf("invalid completion/complete params: %s", err)
	}
	switch p.Ref.Type {
	case "ref/prompt":
		if _, err := d.view.GetPrompt(p.Ref.Name); err != nil {
			return nil, err
		}
	case "ref/resource":
		if _, err := d.view.GetResource(p.Ref.URI); err != nil {
			if t, _ := d.view.MatchTemplate(p.Ref.URI); t == nil {
				return nil, err
			}
		}
	default:
		return nil, registry.Validationf("invalid completion ref type %q", p.Ref.Type)
	}
	// No completion sources are registered; an empty values list tells the
	// client there is nothing to offer.
	result := mcp.CompleteResult{}
	result.Completion.Values = []string{}
	return result, nil
}

/* logging */

func (d *Dispatcher) setLogLevel(params json.RawMessage, sess *session.Session) (any, error) {
	var p struct {
		Level string `json:"level"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, registry.Validationf("invalid logging/setLevel params: %s", err)
	}
	if _, err := log.SeverityToLevel(p.Level); err != nil {
		return nil, registry.Validationf("invalid log level %q", p.Level)
	}
	if sess != nil {
		sess.SetState("logLevel", p.Level)
	}
	return map[string]any{}, nil
}

/* tasks */

func (d *Dispatcher) taskStatus(params json.RawMessage) (any, error) {
	if d.tasks == nil {
		return nil, registry.Validationf("task execution is not enabled")
	}
	var p struct {
		TaskId string `json:"taskId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, registry.Validationf("invalid tasks/get params: %s", err)
	}
	t, err := d.tasks.Get(p.TaskId)
	if err != nil {
		return nil, err
	}
	return t.Snapshot(), nil
}

func (d *Dispatcher) taskCancel(params json.RawMessage, sess *session.Session) (any, error) {
	if d.tasks == nil {
		return nil, registry.Validationf("task execution is not enabled")
	}
	var p struct {
		TaskId string `json:"taskId"`
		Reason string `json:"reason,omitempty"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, registry.Validationf("invalid tasks/cancel params: %s", err)
	}
	if err := d.tasks.Cancel(p.TaskId, p.Reason, sess); err != nil {
		return nil, err
	}
	t, err := d.tasks.Get(p.TaskId)
	if err != nil {
		return nil, err
	}
	return t.Snapshot(), nil
}

/* helpers */

func decodeParams(params json.RawMessage, v any) error {
	return util.DecodeJSON(bytes.NewReader(params), v)
}

// metaOf extracts params._meta without decoding the full params shape.
func metaOf(params json.RawMessage) mcp.Meta {
	if len(params) == 0 {
		return nil
	}
	var p struct {
		Meta mcp.Meta `json:"_meta"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil
	}
	return p.Meta
}

func cursorOf(params json.RawMessage) (mcp.Cursor, error) {
	if len(params) == 0 {
		return "", nil
	}
	var p mcp.PaginatedParams
	if err := decodeParams(params, &p); err != nil {
		return "", registry.Validationf("invalid list params: %s", err)
	}
	return p.Cursor, nil
}

// renderValue converts a tool's return value into the text payload of a
// CallToolResult. Integral floats render without a fractional part, so a
// numeric 5 comes back as "5".
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// errorCode maps an error to its JSON-RPC code per the error-kind table.
func errorCode(err error) (int, string) {
	var mcpErr *jsonrpc.McpError
	if errors.As(err, &mcpErr) {
		return mcpErr.Code, mcpErr.Message
	}
	var nf *registry.NotFoundError
	if errors.As(err, &nf) {
		return jsonrpc.METHOD_NOT_FOUND, err.Error()
	}
	var ve *registry.ValidationError
	if errors.As(err, &ve) {
		return jsonrpc.INVALID_PARAMS, err.Error()
	}
	var te *registry.ToolTimeoutError
	if errors.As(err, &te) {
		return jsonrpc.INTERNAL_ERROR, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return jsonrpc.INTERNAL_ERROR, "timeout: " + err.Error()
	}
	return jsonrpc.INTERNAL_ERROR, err.Error()
}
