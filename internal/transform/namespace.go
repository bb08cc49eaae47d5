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
	"strings"

	"github.com/conduit-mcp/conduit/internal/registry"
)

// Namespace prefixes tool and prompt names with "<prefix>_" and inserts
// "<prefix>/" after the URI scheme of resources and templates. Lookups
// reverse the mapping, so reverse(transform(name)) == name.
func Namespace(prefix string) Middleware {
	return func(next registry.View) registry.View {
		return &namespaceView{prefix: prefix, next: next}
	}
}

type namespaceView struct {
	prefix string
	next   registry.View
}

var _ registry.View = &namespaceView{}

func (v *namespaceView) addName(name string) string { return v.prefix + "_" + name }

func (v *namespaceView) stripName(name string) (string, bool) {
	return strings.CutPrefix(name, v.prefix+"_")
}

// addURI inserts the prefix segment after the scheme; URIs without a scheme
// are prefixed like a path.
func (v *namespaceView) addURI(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i+3] + v.prefix + "/" + uri[i+3:]
	}
	return v.prefix + "/" + uri
}

func (v *namespaceView) stripURI(uri string) (string, bool) {
	if i := strings.Index(uri, "://"); i >= 0 {
		rest, ok := strings.CutPrefix(uri[i+3:], v.prefix+"/")
		if !ok {
			return "", false
		}
		return uri[:i+3] + rest, true
	}
	return strings.CutPrefix(uri, v.prefix+"/")
}

func (v *namespaceView) ListTools() []*registry.Tool {
	inner := v.next.ListTools()
	out := make([]*registry.Tool, 0, len(inner))
	for _, t := range inner {
		out = append(out, derivedTool(t, v.addName(t.Name)))
	}
	return out
}

func (v *namespaceView) GetTool(name string) (*registry.Tool, error) {
	parent, ok := v.stripName(name)
	if !ok {
		return nil, &registry.NotFoundError{Kind: "tool", Name: name}
	}
	t, err := v.next.GetTool(parent)
	if err != nil {
		return nil, err
	}
	return derivedTool(t, name), nil
}

func (v *namespaceView) ListResources() []*registry.Resource {
	inner := v.next.ListResources()
	out := make([]*registry.Resource, 0, len(inner))
	for _, r := range inner {
		out = append(out, derivedResource(r, v.addURI(r.URI)))
	}
	return out
}

func (v *namespaceView) GetResource(uri string) (*registry.Resource, error) {
	parent, ok := v.stripURI(uri)
	if !ok {
		return nil, &registry.NotFoundError{Kind: "resource", Name: uri}
	}
	r, err := v.next.GetResource(parent)
	if err != nil {
		return nil, err
	}
	return derivedResource(r, uri), nil
}

func (v *namespaceView) ListTemplates() []*registry.ResourceTemplate {
	inner := v.next.ListTemplates()
	out := make([]*registry.ResourceTemplate, 0, len(inner))
	for _, t := range inner {
		out = append(out, derivedTemplate(t, v.addURI(t.URITemplate)))
	}
	return out
}

func (v *namespaceView) MatchTemplate(uri string) (*registry.ResourceTemplate, map[string]string) {
	parent, ok := v.stripURI(uri)
	if !ok {
		return nil, nil
	}
	t, params := v.next.MatchTemplate(parent)
	if t == nil {
		return nil, nil
	}
	return derivedTemplate(t, v.addURI(t.URITemplate)), params
}

func (v *namespaceView) ListPrompts() []*registry.Prompt {
	inner := v.next.ListPrompts()
	out := make([]*registry.Prompt, 0, len(inner))
	for _, p := range inner {
		out = append(out, derivedPrompt(p, v.addName(p.Name)))
	}
	return out
}

func (v *namespaceView) GetPrompt(name string) (*registry.Prompt, error) {
	parent, ok := v.stripName(name)
	if !ok {
		return nil, &registry.NotFoundError{Kind: "prompt", Name: name}
	}
	p, err := v.next.GetPrompt(parent)
	if err != nil {
		return nil, err
	}
	return derivedPrompt(p, name), nil
}

// derivedTool copies the visible fields of a tool under a new name. The
// handler, schemas, and timeout are shared with the parent.
func derivedTool(t *registry.Tool, name string) *registry.Tool {
	return &registry.Tool{
		Name:         name,
		Title:        t.Title,
		Description:  t.Description,
		InputSchema:  t.InputSchema,
		OutputSchema: t.OutputSchema,
		Icons:        t.Icons,
		Timeout:      t.Timeout,
		TaskSupport:  t.TaskSupport,
		Handler:      t.Handler,
	}
}

func derivedResource(r *registry.Resource, uri string) *registry.Resource {
	out := *r
	out.URI = uri
	return &out
}

func derivedTemplate(t *registry.ResourceTemplate, pattern string) *registry.ResourceTemplate {
	return &registry.ResourceTemplate{
		URITemplate: pattern,
		Name:        t.Name,
		Description: t.Description,
		MimeType:    t.MimeType,
		Provider:    t.Provider,
	}
}

func derivedPrompt(p *registry.Prompt, name string) *registry.Prompt {
	out := *p
	out.Name = name
	return &out
}
