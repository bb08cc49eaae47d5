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

// PromptsAsTools exposes the prompt registry through two synthetic tools,
// list_prompts and get_prompt, for clients that only speak tool calls.
func PromptsAsTools() Middleware {
	return func(next registry.View) registry.View {
		return &syntheticToolsView{View: next, tools: promptTools(next)}
	}
}

// ResourcesAsTools exposes the resource registry through list_resources and
// read_resource.
func ResourcesAsTools() Middleware {
	return func(next registry.View) registry.View {
		return &syntheticToolsView{View: next, tools: resourceTools(next)}
	}
}

type syntheticToolsView struct {
	registry.View
	tools []*registry.Tool
}

func (v *syntheticToolsView) ListTools() []*registry.Tool {
	inner := v.View.ListTools()
	out := make([]*registry.Tool, 0, len(inner)+len(v.tools))
	out = append(out, inner...)
	out = append(out, v.tools...)
	return out
}

func (v *syntheticToolsView) GetTool(name string) (*registry.Tool, error) {
	for _, t := range v.tools {
		if t.Name == name {
			return t, nil
		}
	}
	return v.View.GetTool(name)
}

func promptTools(next registry.View) []*registry.Tool {
	return []*registry.Tool{
		{
			Name:        "list_prompts",
			Description: "List the available prompts and their arguments.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				prompts := next.ListPrompts()
				manifests := make([]any, 0, len(prompts))
				for _, p := range prompts {
					manifests = append(manifests, p.Manifest())
				}
				return map[string]any{"prompts": manifests}, nil
			},
		},
		{
			Name:        "get_prompt",
			Description: "Render a prompt by name with the given arguments.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"arguments": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "string"},
					},
				},
				"required": []any{"name"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				name, _ := args["name"].(string)
				p, err := next.GetPrompt(name)
				if err != nil {
					return nil, err
				}
				messages, err := p.Render(ctx, stringMap(args["arguments"]))
				if err != nil {
					return nil, err
				}
				return map[string]any{"messages": messages}, nil
			},
		},
	}
}

func resourceTools(next registry.View) []*registry.Tool {
	return []*registry.Tool{
		{
			Name:        "list_resources",
			Description: "List the available resources and resource templates.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				resources := next.ListResources()
				manifests := make([]any, 0, len(resources))
				for _, r := range resources {
					manifests = append(manifests, r.Manifest())
				}
				templates := next.ListTemplates()
				templateManifests := make([]any, 0, len(templates))
				for _, t := range templates {
					templateManifests = append(templateManifests, t.Manifest())
				}
				return map[string]any{
					"resources":         manifests,
					"resourceTemplates": templateManifests,
				}, nil
			},
		},
		{
			Name:        "read_resource",
			Description: "Read a resource by URI.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"uri": map[string]any{"type": "string"},
				},
				"required": []any{"uri"},
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				uri, _ := args["uri"].(string)
				if r, err := next.GetResource(uri); err == nil {
					content, err := r.Read(ctx, nil)
					if err != nil {
						return nil, err
					}
					return map[string]any{"contents": []any{content.Contents(uri)}}, nil
				}
				t, params := next.MatchTemplate(uri)
				if t == nil {
					return nil, &registry.NotFoundError{Kind: "resource", Name: uri}
				}
				if t.Provider == nil {
					return nil, fmt.Errorf("template %q has no provider", t.URITemplate)
				}
				content, err := t.Provider(ctx, params)
				if err != nil {
					return nil, err
				}
				return map[string]any{"contents": []any{content.Contents(uri)}}, nil
			},
		},
	}
}

func stringMap(raw any) map[string]string {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}
