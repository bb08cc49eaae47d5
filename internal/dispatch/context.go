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

package dispatch

import (
	"context"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/session"
)

type contextKey string

const requestInfoKey contextKey = "requestInfo"

// RequestInfo is the per-request context handed to tool code: the request id,
// the owning session (if any), the progress token, and the raw `_meta`
// mapping.
type RequestInfo struct {
	ID            jsonrpc.RequestId
	SessionID     string
	ProgressToken interface{}
	Meta          mcp.Meta

	// Session is the originating connection. Tool code uses it for
	// server-initiated requests (sampling, elicitation, roots); nil when the
	// request arrived without a session.
	Session *session.Session
}

// WithRequestInfo attaches the request info to a context.
func WithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// RequestInfoFromContext retrieves the request info, if the invocation runs
// under the dispatcher.
func RequestInfoFromContext(ctx context.Context) (*RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey).(*RequestInfo)
	return info, ok
}
