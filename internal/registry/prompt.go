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
	"context"
	"strings"

	"github.com/conduit-mcp/conduit/internal/mcp"
)

// PromptGenerator produces the rendered messages of a prompt.
type PromptGenerator func(ctx context.Context, args map[string]string) ([]mcp.PromptMessage, error)

// Prompt is one entry of a PromptRegistry. Either Template or Generator is
// set; Generator wins when both are.
type Prompt struct {
	Name        string
	Description string
	Arguments   []mcp.PromptArgument
	// Template is a string with `{var}` placeholders substituted on render.
	Template  string
	Generator PromptGenerator
}

// Manifest returns the wire representation of the prompt.
func (p *Prompt) Manifest() mcp.PromptManifest {
	return mcp.PromptManifest{
		Name:        p.Name,
		Description: p.Description,
		Arguments:   p.Arguments,
	}
}

// Render produces the prompt messages for the given arguments. Missing
// required arguments fail with a ValidationError.
func (p *Prompt) Render(ctx context.Context, args map[string]string) ([]mcp.PromptMessage, error) {
	for _, a := range p.Arguments {
		if !a.Required {
			continue
		}
		if _, ok := args[a.Name]; !ok {
			return nil, Validationf("prompt %q missing required argument %q", p.Name, a.Name)
		}
	}

	if p.Generator != nil {
		return p.Generator(ctx, args)
	}

	text := p.Template
	for name, value := range args {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	return []mcp.PromptMessage{
		{Role: mcp.RoleUser, Content: mcp.NewTextContent(text)},
	}, nil
}
