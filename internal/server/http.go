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

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/util"
)

// mcpRouter creates a router that represents the routes under the streamable
// HTTP path.
func mcpRouter(s *Server) (chi.Router, error) {
	r := chi.NewRouter()

	r.Use(middleware.AllowContentType("application/json"))
	r.Use(middleware.StripSlashes)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/", func(w http.ResponseWriter, r *http.Request) { httpHandler(s, w, r) })
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { methodNotAllowed(s, w, r, http.MethodPost) })
	r.Delete("/", func(w http.ResponseWriter, r *http.Request) { deleteSessionHandler(s, w, r) })

	return r, nil
}

// methodNotAllowed replies 405 with the allowed methods.
func methodNotAllowed(s *Server, w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	err := fmt.Errorf("method %s is not allowed on %s", r.Method, r.URL.Path)
	s.logger.DebugContext(r.Context(), err.Error())
	_ = render.Render(w, r, newErrResponse(err, http.StatusMethodNotAllowed))
}

// deleteSessionHandler tears down a streamable HTTP session.
func deleteSessionHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	sessionId := r.Header.Get("Mcp-Session-Id")
	if sessionId == "" {
		err := fmt.Errorf("Mcp-Session-Id header required")
		_ = render.Render(w, r, newErrResponse(err, http.StatusBadRequest))
		return
	}
	if sess, ok := s.sessions.get(sessionId); ok {
		if v, ok := sess.State(outboxStateKey); ok {
			if outbox, ok := v.(*httpOutbox); ok {
				outbox.drain()
			}
		}
	}
	s.sessions.remove(sessionId)
	render.JSON(w, r, okResponse{Status: "ok"})
}

// httpOutbox buffers server-initiated messages for a session that has no push
// channel. Pure POST clients are expected to drive the conversation; the
// bounded buffer keeps a stalled session from growing without limit.
type httpOutbox struct {
	mu    sync.Mutex
	queue []json.RawMessage
	max   int
}

func (o *httpOutbox) push(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("unable to marshal outbound message: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) >= o.max {
		o.queue = o.queue[1:]
	}
	o.queue = append(o.queue, b)
	return nil
}

// drain returns and clears the buffered messages.
func (o *httpOutbox) drain() []json.RawMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.queue
	o.queue = nil
	return out
}

const outboxStateKey = "httpOutbox"

// httpHandler serves the streamable HTTP transport: one POST per message,
// session continuity through the Mcp-Session-Id header.
func httpHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx, span := s.instrumentation.Tracer.Start(r.Context(), "conduit/server/mcp")
	r = r.WithContext(ctx)
	ctx = util.WithLogger(r.Context(), s.logger)

	var err error
	var sessionId string
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		status := "success"
		if err != nil {
			status = "error"
		}
		s.instrumentation.McpPost.Add(
			r.Context(),
			1,
			metric.WithAttributes(attribute.String("conduit.session.id", sessionId)),
			metric.WithAttributes(attribute.String("conduit.operation.status", status)),
		)
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.conf.MaxPayloadBytes))
	if err != nil {
		s.logger.DebugContext(ctx, err.Error())
		render.JSON(w, r, jsonrpc.NewError(nil, jsonrpc.PARSE_ERROR, err.Error(), nil))
		return
	}

	base, decodeErr := jsonrpc.DecodeBaseMessage(body)

	// The initialize request is the only message served without a session.
	if decodeErr == nil && base.Method == mcp.INITIALIZE {
		outbox := &httpOutbox{max: s.conf.MaxQueueSize}
		sess, createErr := s.sessions.create(outbox.push)
		if createErr != nil {
			err = createErr
			_ = render.Render(w, r, newErrResponse(err, http.StatusServiceUnavailable))
			return
		}
		sess.SetState(outboxStateKey, outbox)
		sessionId = sess.ID()
		span.SetAttributes(attribute.String("session_id", sessionId))

		res := s.dispatcher.Dispatch(ctx, injectSessionMeta(body, sessionId), sess)
		w.Header().Set("Mcp-Session-Id", sessionId)
		render.JSON(w, r, res)
		return
	}

	sessionId = r.Header.Get("Mcp-Session-Id")
	if sessionId == "" {
		err = fmt.Errorf("Mcp-Session-Id header required")
		_ = render.Render(w, r, newErrResponse(err, http.StatusBadRequest))
		return
	}
	span.SetAttributes(attribute.String("session_id", sessionId))
	sess, ok := s.sessions.get(sessionId)
	if !ok {
		err = fmt.Errorf("unknown session %q", sessionId)
		_ = render.Render(w, r, newErrResponse(err, http.StatusNotFound))
		return
	}

	// Client responses to server-initiated requests route to the pending
	// table, not the dispatcher.
	if decodeErr == nil && base.IsResponse() {
		sess.HandleResponse(base)
		render.JSON(w, r, okResponse{Status: "ok"})
		return
	}

	res := s.dispatcher.Dispatch(ctx, injectSessionMeta(body, sessionId), sess)
	if res == nil {
		// Notifications do not expect a response.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	render.JSON(w, r, res)
}
