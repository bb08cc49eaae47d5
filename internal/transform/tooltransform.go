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

package transform

import (
	"context"
	"fmt"

	"github.com/conduit-mcp/conduit/internal/registry"
)

// ArgTransform rewrites one argument of a tool's input schema.
type ArgTransform struct {
	// Rename is the name the argument is exposed under. Empty keeps the
	// parent's name.
	Rename string
	// Hide removes the argument from the exposed schema. Hidden arguments
	// need a Default, which is injected at invocation time.
	Hide bool
	// Default is injected when the caller omits the argument.
	Default any
	// HasDefault distinguishes an explicit nil default from no default.
	HasDefault bool
	// Require marks the argument required in the exposed schema.
	Require bool
	// Schema replaces the argument's schema fragment.
	Schema map[string]any
}

// ToolTransform rewrites one tool: a new name, description, and per-argument
// rename/hide/default/require/schema overrides.
type ToolTransform struct {
	// Tool is the name of the parent tool to rewrite.
	Tool string
	// Rename is the exposed name. Empty keeps the parent's name.
	Rename string
	// Description replaces the parent's description when non-empty.
	Description string
	// Args maps parent argument names to their overrides.
	Args map[string]ArgTransform
}

// Validate rejects contradictory argument overrides up front.
func (tt ToolTransform) Validate() error {
	for name, a := range tt.Args {
		if a.Hide && a.Require {
			return fmt.Errorf("argument %q of tool %q cannot be both hidden and required", name, tt.Tool)
		}
		if a.Hide && !a.HasDefault {
			return fmt.Errorf("hidden argument %q of tool %q needs a default value", name, tt.Tool)
		}
	}
	return nil
}

// Tools applies a set of tool transforms to a view. Transforms referencing
// unknown tools are inert; invalid transforms panic at construction since
// they are programming errors in server setup.
func Tools(transforms ...ToolTransform) Middleware {
	byTool := make(map[string]ToolTransform, len(transforms))
	for _, tt := range transforms {
		if err := tt.Validate(); err != nil {
			panic(err)
		}
		byTool[tt.Tool] = tt
	}
	// Exposed name -> parent name, for lookups.
	reverse := make(map[string]string, len(transforms))
	for _, tt := range transforms {
		if tt.Rename != "" {
			reverse[tt.Rename] = tt.Tool
		}
	}
	return func(next registry.View) registry.View {
		return &toolTransformView{View: next, byTool: byTool, reverse: reverse}
	}
}

type toolTransformView struct {
	registry.View
	byTool  map[string]ToolTransform
	reverse map[string]string
}

func (v *toolTransformView) ListTools() []*registry.Tool {
	inner := v.View.ListTools()
	out := make([]*registry.Tool, 0, len(inner))
	for _, t := range inner {
		tt, ok := v.byTool[t.Name]
		if !ok {
			out = append(out, t)
			continue
		}
		out = append(out, applyToolTransform(t, tt))
	}
	return out
}

func (v *toolTransformView) GetTool(name string) (*registry.Tool, error) {
	parent := name
	if p, ok := v.reverse[name]; ok {
		parent = p
	} else if tt, ok := v.byTool[name]; ok && tt.Rename != "" {
		// The parent name is shadowed by its rename.
		return nil, &registry.NotFoundError{Kind: "tool", Name: name}
	}
	t, err := v.View.GetTool(parent)
	if err != nil {
		return nil, err
	}
	if tt, ok := v.byTool[t.Name]; ok {
		return applyToolTransform(t, tt), nil
	}
	return t, nil
}

// applyToolTransform builds the derived tool: rewritten schema and a handler
// that reconstructs the parent's argument map before delegating.
func applyToolTransform(t *registry.Tool, tt ToolTransform) *registry.Tool {
	name := t.Name
	if tt.Rename != "" {
		name = tt.Rename
	}
	description := t.Description
	if tt.Description != "" {
		description = tt.Description
	}

	derived := &registry.Tool{
		Name:         name,
		Title:        t.Title,
		Description:  description,
		InputSchema:  transformSchema(t.InputSchema, tt.Args),
		OutputSchema: t.OutputSchema,
		Icons:        t.Icons,
		Timeout:      t.Timeout,
		TaskSupport:  t.TaskSupport,
	}

	parent := t
	derived.Handler = func(ctx context.Context, args map[string]any) (any, error) {
		rebuilt := make(map[string]any, len(args))
		// Exposed name -> parent name.
		renames := make(map[string]string)
		for parentName, a := range tt.Args {
			if a.Rename != "" {
				renames[a.Rename] = parentName
			}
		}
		for k, val := range args {
			if orig, ok := renames[k]; ok {
				rebuilt[orig] = val
				continue
			}
			rebuilt[k] = val
		}
		for parentName, a := range tt.Args {
			if a.Hide {
				// Hidden arguments always carry their default, even if a caller
				// smuggled a value past the exposed schema.
				rebuilt[parentName] = a.Default
				continue
			}
			if _, ok := rebuilt[parentName]; !ok && a.HasDefault {
				rebuilt[parentName] = a.Default
			}
		}
		return parent.Invoke(ctx, rebuilt, false)
	}
	return derived
}

// transformSchema rewrites a JSON-schema object per the argument overrides.
// The parent schema is never mutated.
func transformSchema(schema map[string]any, args map[string]ArgTransform) map[string]any {
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := make(map[string]any, len(schema))
	for k, val := range schema {
		out[k] = val
	}

	props := map[string]any{}
	if raw, ok := schema["properties"].(map[string]any); ok {
		for k, val := range raw {
			props[k] = val
		}
	}
	required := requiredSet(schema)

	for parentName, a := range args {
		prop, exists := props[parentName]
		if a.Schema != nil {
			prop = a.Schema
			exists = true
		}
		if a.Hide {
			delete(props, parentName)
			delete(required, parentName)
			continue
		}
		exposed := parentName
		if a.Rename != "" {
			exposed = a.Rename
			delete(props, parentName)
			if required[parentName] {
				delete(required, parentName)
				required[exposed] = true
			}
		}
		if exists {
			props[exposed] = prop
		}
		if a.Require {
			required[exposed] = true
		}
	}

	out["properties"] = props
	if len(required) > 0 {
		names := make([]string, 0, len(required))
		if raw, ok := schema["required"].([]any); ok {
			// Preserve the parent's ordering for surviving entries.
			for _, r := range raw {
				s, ok := r.(string)
				if !ok {
					continue
				}
				mapped := s
				if a, ok := args[s]; ok && a.Rename != "" {
					mapped = a.Rename
				}
				if required[mapped] {
					names = append(names, mapped)
					delete(required, mapped)
				}
			}
		}
		for name := range required {
			names = append(names, name)
		}
		out["required"] = names
	} else {
		delete(out, "required")
	}
	return out
}

func requiredSet(schema map[string]any) map[string]bool {
	set := map[string]bool{}
	raw, ok := schema["required"].([]any)
	if !ok {
		return set
	}
	for _, r := range raw {
		if s, ok := r.(string); ok {
			set[s] = true
		}
	}
	return set
}
