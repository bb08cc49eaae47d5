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

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// TaskSupport describes whether a tool may run as a background task.
type TaskSupport int

const (
	// TaskNone tools always run inline.
	TaskNone TaskSupport = iota
	// TaskOptional tools run as a task when the caller asks for one.
	TaskOptional
	// TaskRequired tools only run as a task.
	TaskRequired
)

// ToolHandler is the invocation function of a tool.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one invocable entry of a ToolRegistry. Tools are registered at
// server setup and immutable thereafter; transforms produce derived copies.
type Tool struct {
	Name         string
	Title        string
	Description  string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Icons        []mcp.Icon
	// Timeout bounds one invocation. Zero disables enforcement.
	Timeout     time.Duration
	TaskSupport TaskSupport
	Handler     ToolHandler

	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
}

// Manifest returns the wire representation of the tool.
func (t *Tool) Manifest() mcp.ToolManifest {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return mcp.ToolManifest{
		Name:         t.Name,
		Title:        t.Title,
		Description:  t.Description,
		InputSchema:  schema,
		OutputSchema: t.OutputSchema,
		Icons:        t.Icons,
	}
}

// ValidateInput checks the arguments against the tool's input schema.
func (t *Tool) ValidateInput(args map[string]any) error {
	if t.InputSchema == nil {
		return nil
	}
	t.compileOnce.Do(func() {
		// Round-trip through JSON so yaml-decoded schemas compile too.
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			t.compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
		if err != nil {
			t.compileErr = fmt.Errorf("unmarshal schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", doc); err != nil {
			t.compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		t.compiled, t.compileErr = c.Compile("schema.json")
	})
	if t.compileErr != nil {
		return fmt.Errorf("tool %q schema: %w", t.Name, t.compileErr)
	}

	// Normalize the instance the same way so json.Number values compare as
	// plain JSON numbers.
	b, err := json.Marshal(args)
	if err != nil {
		return Validationf("unable to marshal arguments: %s", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return Validationf("unable to decode arguments: %s", err)
	}
	if err := t.compiled.Validate(instance); err != nil {
		return Validationf("invalid arguments for tool %q: %s", t.Name, err)
	}
	return nil
}

// Invoke validates nothing and runs the handler, enforcing the tool's timeout
// when enforceTimeout is set. On timeout the handler keeps running in the
// background and its result is discarded.
func (t *Tool) Invoke(ctx context.Context, args map[string]any, enforceTimeout bool) (any, error) {
	if t.Handler == nil {
		return nil, fmt.Errorf("tool %q has no handler", t.Name)
	}
	if !enforceTimeout || t.Timeout <= 0 {
		return t.Handler(ctx, args)
	}

	// The handler observes cancellation through its context; the caller is
	// released at the deadline either way.
	invokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.Timeout)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		v, err := t.Handler(invokeCtx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-invokeCtx.Done():
		return nil, &ToolTimeoutError{Tool: t.Name, Timeout: t.Timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
