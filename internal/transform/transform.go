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

// Package transform wraps registry views without altering the underlying
// registry: namespacing, per-tool argument rewriting, and synthetic tools
// that expose prompts and resources to tool-only clients.
package transform

import (
	"github.com/conduit-mcp/conduit/internal/registry"
)

// Middleware wraps one registry view around another. The argument is the
// call-next view of the chain.
type Middleware func(next registry.View) registry.View

// Chain folds the base view through the given middlewares. The first
// middleware becomes the outermost view.
func Chain(base registry.View, middlewares ...Middleware) registry.View {
	v := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		v = middlewares[i](v)
	}
	return v
}
