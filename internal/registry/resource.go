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
	"encoding/base64"
	"fmt"

	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/uritemplate"
)

// Content is the payload of a resource read: UTF-8 text or opaque bytes.
type Content struct {
	Text     string
	Blob     []byte
	MimeType string
}

// Contents converts the payload into its wire representation for the given
// URI. Binary payloads are base64-encoded under "blob".
func (c Content) Contents(uri string) mcp.ResourceContents {
	rc := mcp.ResourceContents{URI: uri, MimeType: c.MimeType}
	if len(c.Blob) > 0 {
		rc.Blob = base64.StdEncoding.EncodeToString(c.Blob)
		return rc
	}
	rc.Text = c.Text
	return rc
}

// ResourceProvider produces the content of a resource on demand.
type ResourceProvider func(ctx context.Context, params map[string]string) (Content, error)

// Resource is one entry of a ResourceRegistry. Either Static or Provider is
// set; Provider wins when both are.
type Resource struct {
	URI         string
	Name        string
	Title       string
	Description string
	MimeType    string
	Metadata    map[string]any
	Icons       []mcp.Icon
	Static      *Content
	Provider    ResourceProvider
}

// Manifest returns the wire representation of the resource.
func (r *Resource) Manifest() mcp.ResourceManifest {
	return mcp.ResourceManifest{
		URI:         r.URI,
		Name:        r.Name,
		Title:       r.Title,
		Description: r.Description,
		MimeType:    r.MimeType,
		Icons:       r.Icons,
		Meta:        r.Metadata,
	}
}

// Read resolves the resource content.
func (r *Resource) Read(ctx context.Context, params map[string]string) (Content, error) {
	if r.Provider != nil {
		return r.Provider(ctx, params)
	}
	if r.Static != nil {
		return *r.Static, nil
	}
	return Content{}, fmt.Errorf("resource %q has no content", r.URI)
}

// ResourceTemplate binds a URI template to a provider function.
type ResourceTemplate struct {
	URITemplate string
	Name        string
	Description string
	MimeType    string
	Provider    ResourceProvider

	compiled *uritemplate.Template
}

// Compile parses the template pattern. Registries call it on registration.
func (t *ResourceTemplate) Compile() error {
	tpl, err := uritemplate.Parse(t.URITemplate)
	if err != nil {
		return err
	}
	t.compiled = tpl
	return nil
}

// Match extracts template parameters from a URI; nil means no match.
func (t *ResourceTemplate) Match(uri string) map[string]string {
	if t.compiled == nil {
		if err := t.Compile(); err != nil {
			return nil
		}
	}
	return t.compiled.Match(uri)
}

// Manifest returns the wire representation of the template.
func (t *ResourceTemplate) Manifest() mcp.ResourceTemplateManifest {
	return mcp.ResourceTemplateManifest{
		URITemplate: t.URITemplate,
		Name:        t.Name,
		Description: t.Description,
		MimeType:    t.MimeType,
	}
}
