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
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/conduit-mcp/conduit/internal/registry"
)

func queryRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	err := r.AddTool(&registry.Tool{
		Name:        "run_query",
		Description: "Run a SQL query.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql":      map[string]any{"type": "string"},
				"database": map[string]any{"type": "string"},
				"limit":    map[string]any{"type": "integer"},
			},
			"required": []any{"sql", "database"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return r
}

func TestToolTransformValidate(t *testing.T) {
	testCases := []struct {
		name  string
		tt    ToolTransform
		isErr bool
	}{
		{
			name: "valid",
			tt: ToolTransform{
				Tool: "run_query",
				Args: map[string]ArgTransform{
					"database": {Hide: true, Default: "main", HasDefault: true},
				},
			},
		},
		{
			name: "hidden and required",
			tt: ToolTransform{
				Tool: "run_query",
				Args: map[string]ArgTransform{
					"database": {Hide: true, Require: true, Default: "main", HasDefault: true},
				},
			},
			isErr: true,
		},
		{
			name: "hidden without default",
			tt: ToolTransform{
				Tool: "run_query",
				Args: map[string]ArgTransform{
					"database": {Hide: true},
				},
			},
			isErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tt.Validate()
			if tc.isErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tc.isErr && err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
		})
	}
}

func TestToolsPanicsOnInvalidTransform(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an invalid transform")
		}
	}()
	Tools(ToolTransform{
		Tool: "run_query",
		Args: map[string]ArgTransform{"database": {Hide: true}},
	})
}

func TestToolTransformRename(t *testing.T) {
	v := Chain(queryRegistry(t), Tools(ToolTransform{
		Tool:        "run_query",
		Rename:      "search",
		Description: "Search the main database.",
	}))

	tool, err := v.GetTool("search")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if tool.Description != "Search the main database." {
		t.Fatalf("unexpected description: %q", tool.Description)
	}

	// The parent name is shadowed by its rename.
	_, err = v.GetTool("run_query")
	var nf *registry.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	tools := v.ListTools()
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestToolTransformHiddenDefault(t *testing.T) {
	v := Chain(queryRegistry(t), Tools(ToolTransform{
		Tool: "run_query",
		Args: map[string]ArgTransform{
			"database": {Hide: true, Default: "main", HasDefault: true},
		},
	}))

	tool, err := v.GetTool("run_query")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	props := tool.InputSchema["properties"].(map[string]any)
	if _, ok := props["database"]; ok {
		t.Fatal("hidden argument should be removed from the exposed schema")
	}
	required := tool.InputSchema["required"].([]string)
	if !reflect.DeepEqual(required, []string{"sql"}) {
		t.Fatalf("unexpected required list: %v", required)
	}

	got, err := tool.Invoke(context.Background(), map[string]any{"sql": "select 1"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	args := got.(map[string]any)
	if args["database"] != "main" {
		t.Fatalf("hidden default not injected: %v", args)
	}

	// A smuggled value never overrides the pinned default.
	got, err = tool.Invoke(context.Background(), map[string]any{"sql": "select 1", "database": "other"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	args = got.(map[string]any)
	if args["database"] != "main" {
		t.Fatalf("hidden argument should be pinned to its default: %v", args)
	}
}

func TestToolTransformArgRename(t *testing.T) {
	v := Chain(queryRegistry(t), Tools(ToolTransform{
		Tool: "run_query",
		Args: map[string]ArgTransform{
			"sql":   {Rename: "statement"},
			"limit": {Default: 100, HasDefault: true},
		},
	}))

	tool, err := v.GetTool("run_query")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	props := tool.InputSchema["properties"].(map[string]any)
	if _, ok := props["statement"]; !ok {
		t.Fatalf("renamed argument missing from schema: %v", props)
	}
	if _, ok := props["sql"]; ok {
		t.Fatal("the parent argument name should be gone from the schema")
	}
	required := tool.InputSchema["required"].([]string)
	sort.Strings(required)
	if !reflect.DeepEqual(required, []string{"database", "statement"}) {
		t.Fatalf("unexpected required list: %v", required)
	}

	got, err := tool.Invoke(context.Background(), map[string]any{"statement": "select 1", "database": "main"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	args := got.(map[string]any)
	if args["sql"] != "select 1" {
		t.Fatalf("renamed argument not mapped back: %v", args)
	}
	if args["limit"] != 100 {
		t.Fatalf("default not injected for omitted argument: %v", args)
	}
}

func TestToolTransformUntouchedToolsPassThrough(t *testing.T) {
	r := queryRegistry(t)
	if err := r.AddTool(&registry.Tool{Name: "other", Handler: func(context.Context, map[string]any) (any, error) { return nil, nil }}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	v := Chain(r, Tools(ToolTransform{Tool: "run_query", Rename: "search"}))

	tool, err := v.GetTool("other")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if tool.Name != "other" {
		t.Fatalf("unexpected name: %q", tool.Name)
	}
}
