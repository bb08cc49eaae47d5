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

package task

import (
	"context"
	"time"

	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/session"
)

type contextKey string

const taskKey contextKey = "task"

// Handle is the view of a running task handed to tool code through its
// context. It outlives neither the worker nor the task.
type Handle struct {
	task     *Task
	registry *Registry
	sess     *session.Session
}

func withTask(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, taskKey, h)
}

// FromContext retrieves the task handle, if the invocation runs as a task.
func FromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(taskKey).(*Handle)
	return h, ok
}

// ReportStatus updates the task's status message and pushes a working-status
// notification. Outside a task context it is a no-op.
func ReportStatus(ctx context.Context, message string) {
	h, ok := FromContext(ctx)
	if !ok {
		return
	}
	h.ReportStatus(message)
}

// TaskID returns the id of the running task.
func (h *Handle) TaskID() string { return h.task.id }

// Cancelled reports whether cancellation was requested; cooperative tools
// check it between steps.
func (h *Handle) Cancelled() bool { return h.task.Cancelled() }

// ReportStatus updates the status message of a working task and notifies the
// client. Terminal tasks ignore it.
func (h *Handle) ReportStatus(message string) {
	h.task.mu.Lock()
	if h.task.status.IsTerminal() {
		h.task.mu.Unlock()
		return
	}
	h.task.statusMessage = message
	h.task.mu.Unlock()
	h.registry.notifyStatus(h.sess, h.task, message)
}

// Elicit pauses the task in input_required while asking the client for
// input, then resumes it as working.
func (h *Handle) Elicit(ctx context.Context, message string, schema map[string]interface{}, timeout time.Duration) (interface{}, error) {
	if h.sess == nil {
		return nil, &session.RequestTimeoutError{Method: mcp.ELICITATION_CREATE, Timeout: 0}
	}
	if h.task.transition(mcp.TaskInputRequired) {
		h.registry.notifyStatus(h.sess, h.task, message)
	}
	result, err := h.sess.Elicit(ctx, message, schema, timeout)
	if h.task.transition(mcp.TaskWorking) {
		h.registry.notifyStatus(h.sess, h.task, "")
	}
	return result, err
}
