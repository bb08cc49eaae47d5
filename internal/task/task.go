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

// Package task runs tools as background invocations with an observable
// lifecycle: submitted -> working -> {completed | failed | cancelled}, with
// input_required allowed to interpose before completion.
package task

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/registry"
	"github.com/conduit-mcp/conduit/internal/session"
	"github.com/google/uuid"
)

// DefaultCapacity is the minimum size of the task table.
const DefaultCapacity = 1024

// DefaultTTL is the retention of a terminal task when the request named none.
const DefaultTTL = 10 * time.Minute

// Task is one background invocation of a tool.
type Task struct {
	mu            sync.Mutex
	id            string
	toolName      string
	arguments     map[string]any
	status        mcp.TaskStatus
	statusMessage string
	result        any
	err           string
	ttl           time.Duration
	createdAt     time.Time
	doneAt        time.Time

	cancel    context.CancelFunc
	cancelled bool
}

// Snapshot is a point-in-time copy of a task's lifecycle record.
type Snapshot struct {
	ID            string         `json:"taskId"`
	ToolName      string         `json:"toolName"`
	Status        mcp.TaskStatus `json:"status"`
	StatusMessage string         `json:"statusMessage,omitempty"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	TTL           int64          `json:"ttl,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ID returns the opaque task id.
func (t *Task) ID() string { return t.id }

// Snapshot returns a copy of the current lifecycle record.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:            t.id,
		ToolName:      t.toolName,
		Status:        t.status,
		StatusMessage: t.statusMessage,
		Result:        t.result,
		Error:         t.err,
		TTL:           t.ttl.Milliseconds(),
		CreatedAt:     t.createdAt,
	}
}

// transition moves the task to a new status. Terminal states are sticky.
func (t *Task) transition(status mcp.TaskStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	t.status = status
	if status.IsTerminal() {
		t.doneAt = time.Now()
	}
	return true
}

// Cancelled reports whether cooperative cancellation was requested.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Registry is the bounded table of background tasks.
type Registry struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	capacity int

	onTerminal func(taskId string)
}

// NewRegistry returns a Registry holding at least DefaultCapacity entries.
func NewRegistry(capacity int) *Registry {
	if capacity < DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Registry{
		tasks:    make(map[string]*Task),
		capacity: capacity,
	}
}

// OnTerminal registers a hook invoked after a task reaches a terminal state.
func (r *Registry) OnTerminal(fn func(taskId string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTerminal = fn
}

func (r *Registry) notifyTerminal(id string) {
	r.mu.Lock()
	fn := r.onTerminal
	r.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// Submit allocates a task, returns immediately, and schedules the tool
// invocation on a worker. Lifecycle notifications flow through the session's
// send callback. A missing ttl falls back to DefaultTTL so every terminal
// task is eventually swept.
func (r *Registry) Submit(tool *registry.Tool, args map[string]any, ttl time.Duration, sess *session.Session) (*Task, error) {
	if tool.TaskSupport == registry.TaskNone {
		return nil, fmt.Errorf("tool %q does not support tasks", tool.Name)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:        uuid.New().String(),
		toolName:  tool.Name,
		arguments: args,
		status:    mcp.TaskSubmitted,
		ttl:       ttl,
		createdAt: time.Now(),
		cancel:    cancel,
	}

	r.mu.Lock()
	r.evictLocked()
	r.tasks[t.id] = t
	r.order = append(r.order, t.id)
	r.mu.Unlock()

	if sess != nil {
		_ = sess.Notify(mcp.NOTIFICATION_TASKS_CREATED, map[string]any{
			"_meta": map[string]any{
				mcp.META_RELATED_TASK: map[string]any{"taskId": t.id},
			},
		})
	}

	go r.run(workerCtx, t, tool, args, sess)
	return t, nil
}

func (r *Registry) run(ctx context.Context, t *Task, tool *registry.Tool, args map[string]any, sess *session.Session) {
	if !t.transition(mcp.TaskWorking) {
		return
	}
	r.notifyStatus(sess, t, "")

	ctx = withTask(ctx, &Handle{task: t, registry: r, sess: sess})
	result, err := tool.Invoke(ctx, args, false)

	if t.Cancelled() {
		// cancel() already transitioned and notified.
		return
	}
	if err != nil {
		t.mu.Lock()
		t.err = err.Error()
		t.mu.Unlock()
		if t.transition(mcp.TaskFailed) {
			r.notifyStatusError(sess, t, err.Error())
			r.notifyTerminal(t.id)
		}
		return
	}
	t.mu.Lock()
	t.result = result
	t.mu.Unlock()
	if t.transition(mcp.TaskCompleted) {
		r.notifyStatus(sess, t, "")
		r.notifyTerminal(t.id)
	}
}

func (r *Registry) notifyStatus(sess *session.Session, t *Task, statusMessage string) {
	if sess == nil {
		return
	}
	snap := t.Snapshot()
	n := mcp.TaskStatusNotification{TaskId: t.id, Status: snap.Status}
	if statusMessage != "" {
		n.StatusMessage = statusMessage
	}
	_ = sess.Notify(mcp.NOTIFICATION_TASKS_STATUS, n)
}

func (r *Registry) notifyStatusError(sess *session.Session, t *Task, errMsg string) {
	if sess == nil {
		return
	}
	snap := t.Snapshot()
	_ = sess.Notify(mcp.NOTIFICATION_TASKS_STATUS, mcp.TaskStatusNotification{
		TaskId: t.id,
		Status: snap.Status,
		Error:  errMsg,
	})
}

// evictLocked makes room for one more entry, oldest terminal entries first.
func (r *Registry) evictLocked() {
	if len(r.order) < r.capacity {
		return
	}
	for i, id := range r.order {
		t := r.tasks[id]
		t.mu.Lock()
		terminal := t.status.IsTerminal()
		t.mu.Unlock()
		if terminal {
			delete(r.tasks, id)
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
	// No terminal entry to reclaim; drop the oldest outright.
	delete(r.tasks, r.order[0])
	r.order = r.order[1:]
}

// Get returns a task by id.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, &registry.NotFoundError{Kind: "task", Name: id}
	}
	return t, nil
}

// Cancel requests cooperative cancellation. Terminal states ignore it.
func (r *Registry) Cancel(id, reason string, sess *session.Session) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return nil
	}
	t.cancelled = true
	if reason != "" {
		t.statusMessage = reason
	}
	t.mu.Unlock()

	t.cancel()
	if t.transition(mcp.TaskCancelled) {
		r.notifyStatus(sess, t, reason)
		r.notifyTerminal(t.id)
	}
	return nil
}

// Len reports the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Sweep drops terminal tasks whose ttl elapsed. The server runs it
// periodically.
func (r *Registry) Sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, id := range r.order {
		t := r.tasks[id]
		t.mu.Lock()
		expired := t.status.IsTerminal() && t.ttl > 0 && now.Sub(t.doneAt) > t.ttl
		t.mu.Unlock()
		if expired {
			delete(r.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// CleanupRoutine sweeps expired tasks until the context ends.
func (r *Registry) CleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// ValidateTaskMeta checks the task metadata of a tools/call request against
// the tool's declared support.
func ValidateTaskMeta(tool *registry.Tool, meta mcp.Meta) (bool, error) {
	_, wantsTask := meta[mcp.META_TASK]
	switch tool.TaskSupport {
	case registry.TaskNone:
		if wantsTask {
			return false, fmt.Errorf("tool %q does not support tasks", tool.Name)
		}
		return false, nil
	case registry.TaskRequired:
		if !wantsTask {
			return false, fmt.Errorf("tool %q requires task execution", tool.Name)
		}
		return true, nil
	default:
		return wantsTask, nil
	}
}

// TTLFromMeta extracts an optional ttl (milliseconds) from the task metadata.
func TTLFromMeta(meta mcp.Meta) time.Duration {
	raw, ok := meta[mcp.META_TASK]
	if !ok {
		return 0
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m["ttl"].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	default:
		if s, ok := v.(fmt.Stringer); ok {
			ms, err := parseMillis(s.String())
			if err == nil {
				return ms
			}
		}
		return 0
	}
}

func parseMillis(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
