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

package client

import (
	"context"
	"encoding/json"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
)

// NotificationHandler consumes server notifications.
type NotificationHandler func(method string, params json.RawMessage)

// RequestHandler serves server-initiated requests (sampling, elicitation,
// roots). The returned value becomes the JSON-RPC result.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (any, error)

// inboundRouter classifies messages arriving on a duplex transport and
// routes them: responses to the pending table, requests to the request
// handler, notifications to the notification handler.
type inboundRouter struct {
	pending   *pendingMap
	onNotify  NotificationHandler
	onRequest RequestHandler
	// send writes a reply back to the server, used for server-initiated
	// requests.
	send func(msg any) error
}

func (r *inboundRouter) route(msg *jsonrpc.BaseMessage) {
	switch {
	case msg.IsResponse():
		r.pending.deliver(msg)
	case msg.IsRequest():
		go r.serveRequest(msg)
	case msg.IsNotification():
		if r.onNotify != nil {
			r.onNotify(msg.Method, msg.Params)
		}
	}
}

func (r *inboundRouter) serveRequest(msg *jsonrpc.BaseMessage) {
	if r.onRequest == nil {
		_ = r.send(jsonrpc.NewError(msg.Id, jsonrpc.METHOD_NOT_FOUND, "no request handler configured", nil))
		return
	}
	result, err := r.onRequest(context.Background(), msg.Method, msg.Params)
	if err != nil {
		_ = r.send(jsonrpc.NewError(msg.Id, jsonrpc.INTERNAL_ERROR, err.Error(), nil))
		return
	}
	_ = r.send(jsonrpc.NewResponse(msg.Id, result))
}
