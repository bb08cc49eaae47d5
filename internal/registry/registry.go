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

// Package registry holds the keyed collections of tools, resources, resource
// templates, and prompts that the dispatcher serves.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// View is the read surface the dispatcher works against. The base Registry
// implements it; transforms wrap one View around another.
type View interface {
	ListTools() []*Tool
	GetTool(name string) (*Tool, error)
	ListResources() []*Resource
	GetResource(uri string) (*Resource, error)
	ListTemplates() []*ResourceTemplate
	// MatchTemplate returns the first registered template matching the URI,
	// along with the extracted parameters. Registration order wins on overlap.
	MatchTemplate(uri string) (*ResourceTemplate, map[string]string)
	ListPrompts() []*Prompt
	GetPrompt(name string) (*Prompt, error)
}

// Registry is the base implementation of View. Registration happens at
// server setup; the read path takes shared locks only.
type Registry struct {
	mu        sync.RWMutex
	toolOrder []string
	tools     map[string]*Tool

	resourceOrder []string
	resources     map[string]*Resource

	templates []*ResourceTemplate

	promptOrder []string
	prompts     map[string]*Prompt

	// toolCalls counts completed tool invocations, success or failure.
	toolCalls atomic.Int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		resources: make(map[string]*Resource),
		prompts:   make(map[string]*Prompt),
	}
}

var _ View = &Registry{}

// AddTool registers a tool. Two tools never share a name.
func (r *Registry) AddTool(t *Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.toolOrder = append(r.toolOrder, t.Name)
	return nil
}

// ListTools returns tools in registration order.
func (r *Registry) ListTools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// GetTool looks a tool up by name.
func (r *Registry) GetTool(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Kind: "tool", Name: name}
	}
	return t, nil
}

// AddResource registers a resource by exact URI.
func (r *Registry) AddResource(res *Resource) error {
	if res.URI == "" {
		return fmt.Errorf("resource uri must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resources[res.URI]; ok {
		return fmt.Errorf("resource %q already registered", res.URI)
	}
	r.resources[res.URI] = res
	r.resourceOrder = append(r.resourceOrder, res.URI)
	return nil
}

// ListResources returns resources in registration order.
func (r *Registry) ListResources() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Resource, 0, len(r.resourceOrder))
	for _, uri := range r.resourceOrder {
		out = append(out, r.resources[uri])
	}
	return out
}

// GetResource looks a resource up by exact URI.
func (r *Registry) GetResource(uri string) (*Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[uri]
	if !ok {
		return nil, &NotFoundError{Kind: "resource", Name: uri}
	}
	return res, nil
}

// AddTemplate registers a resource template. Overlapping patterns are
// permitted; the first registered match wins on read.
func (r *Registry) AddTemplate(t *ResourceTemplate) error {
	if err := t.Compile(); err != nil {
		return fmt.Errorf("unable to compile template %q: %w", t.URITemplate, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.templates {
		if existing.URITemplate == t.URITemplate {
			return fmt.Errorf("template %q already registered", t.URITemplate)
		}
	}
	r.templates = append(r.templates, t)
	return nil
}

// ListTemplates returns templates in registration order.
func (r *Registry) ListTemplates() []*ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ResourceTemplate, len(r.templates))
	copy(out, r.templates)
	return out
}

// MatchTemplate is eager on the first template in registration order.
func (r *Registry) MatchTemplate(uri string) (*ResourceTemplate, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.templates {
		if params := t.Match(uri); params != nil {
			return t, params
		}
	}
	return nil, nil
}

// AddPrompt registers a prompt.
func (r *Registry) AddPrompt(p *Prompt) error {
	if p.Name == "" {
		return fmt.Errorf("prompt name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prompts[p.Name]; ok {
		return fmt.Errorf("prompt %q already registered", p.Name)
	}
	r.prompts[p.Name] = p
	r.promptOrder = append(r.promptOrder, p.Name)
	return nil
}

// ListPrompts returns prompts in registration order.
func (r *Registry) ListPrompts() []*Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Prompt, 0, len(r.promptOrder))
	for _, name := range r.promptOrder {
		out = append(out, r.prompts[name])
	}
	return out
}

// GetPrompt looks a prompt up by name.
func (r *Registry) GetPrompt(name string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[name]
	if !ok {
		return nil, &NotFoundError{Kind: "prompt", Name: name}
	}
	return p, nil
}

// CountToolCall advances the tool-call counter.
func (r *Registry) CountToolCall() { r.toolCalls.Add(1) }

// ToolCalls reports the number of completed tool invocations.
func (r *Registry) ToolCalls() int64 { return r.toolCalls.Load() }
