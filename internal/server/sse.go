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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/conduit-mcp/conduit/internal/jsonrpc"
	"github.com/conduit-mcp/conduit/internal/session"
	"github.com/conduit-mcp/conduit/internal/util"
)

// sseSession pairs one GET event stream with its session state. The POST
// handler produces onto eventQueue; the GET handler is the only consumer.
type sseSession struct {
	writer     http.ResponseWriter
	flusher    http.Flusher
	done       chan struct{}
	eventQueue chan string
	session    *session.Session

	mu         sync.Mutex
	dead       bool
	lastActive time.Time
}

// enqueue queues one pre-framed SSE chunk. A full queue marks the connection
// dead; the GET handler discovers the flag and returns.
func (s *sseSession) enqueue(event string) error {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return fmt.Errorf("sse connection is dead")
	}
	s.mu.Unlock()

	select {
	case s.eventQueue <- event:
		return nil
	case <-s.done:
		return fmt.Errorf("sse connection is closed")
	default:
		s.markDead()
		return fmt.Errorf("sse event queue overflow")
	}
}

func (s *sseSession) markDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dead {
		s.dead = true
		close(s.done)
	}
}

func (s *sseSession) isDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

func (s *sseSession) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// sseManager manages and control access to sse sessions
type sseManager struct {
	mu          sync.Mutex
	sseSessions map[string]*sseSession
	max         int
}

func newSseManager(ctx context.Context, max int) *sseManager {
	sseM := &sseManager{
		sseSessions: make(map[string]*sseSession),
		max:         max,
	}
	go sseM.cleanupRoutine(ctx)
	return sseM
}

func (m *sseManager) add(id string, sess *sseSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sseSessions) >= m.max {
		return fmt.Errorf("sse connection limit of %d reached", m.max)
	}
	m.sseSessions[id] = sess
	sess.touch()
	return nil
}

func (m *sseManager) get(id string) (*sseSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sseSessions[id]
	if ok {
		sess.touch()
	}
	return sess, ok
}

func (m *sseManager) remove(id string) {
	m.mu.Lock()
	delete(m.sseSessions, id)
	m.mu.Unlock()
}

func (m *sseManager) cleanupRoutine(ctx context.Context) {
	timeout := 10 * time.Minute
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				now := time.Now()
				for id, sess := range m.sseSessions {
					sess.mu.Lock()
					idle := now.Sub(sess.lastActive) > timeout
					sess.mu.Unlock()
					if idle {
						delete(m.sseSessions, id)
					}
				}
			}()
		}
	}
}

// sseRouter creates a router with the SSE event stream and its message
// ingress endpoint.
func sseRouter(s *Server) (chi.Router, error) {
	r := chi.NewRouter()

	r.Get(s.conf.SsePath, func(w http.ResponseWriter, r *http.Request) { sseHandler(s, w, r) })
	r.Post(s.conf.SsePath, func(w http.ResponseWriter, r *http.Request) { methodNotAllowed(s, w, r, http.MethodGet) })
	r.Post(s.conf.MessagePath, func(w http.ResponseWriter, r *http.Request) { messageHandler(s, w, r) })
	r.Get(s.conf.MessagePath, func(w http.ResponseWriter, r *http.Request) { methodNotAllowed(s, w, r, http.MethodPost) })

	return r, nil
}

// sseHandler owns one GET event stream: endpoint handshake, fan-out writes,
// and heartbeats.
func sseHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx, span := s.instrumentation.Tracer.Start(r.Context(), "conduit/server/sse")
	r = r.WithContext(ctx)

	sessionId := mintSessionId()
	span.SetAttributes(attribute.String("session_id", sessionId))

	var err error
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		status := "success"
		if err != nil {
			status = "error"
		}
		s.instrumentation.McpSse.Add(
			r.Context(),
			1,
			metric.WithAttributes(attribute.String("conduit.sse.sessionId", sessionId)),
			metric.WithAttributes(attribute.String("conduit.operation.status", status)),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		err = fmt.Errorf("unable to retrieve flusher for sse")
		s.logger.DebugContext(ctx, err.Error())
		_ = render.Render(w, r, newErrResponse(err, http.StatusInternalServerError))
		return
	}

	sse := &sseSession{
		writer:     w,
		flusher:    flusher,
		done:       make(chan struct{}),
		eventQueue: make(chan string, s.conf.MaxQueueSize),
	}
	sse.session = session.New(sessionId, func(msg any) error {
		b, marshalErr := json.Marshal(msg)
		if marshalErr != nil {
			return fmt.Errorf("unable to marshal outbound message: %w", marshalErr)
		}
		return sse.enqueue(fmt.Sprintf("data: %s\n\n", b))
	})
	if err = s.sseManager.add(sessionId, sse); err != nil {
		s.logger.DebugContext(ctx, err.Error())
		_ = render.Render(w, r, newErrResponse(err, http.StatusServiceUnavailable))
		return
	}
	defer s.sseManager.remove(sessionId)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// send initial endpoint event
	messageEndpoint := fmt.Sprintf("%s?session_id=%s", s.conf.MessagePath, sessionId)
	s.logger.DebugContext(ctx, fmt.Sprintf("sending endpoint event: %s", messageEndpoint))
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", messageEndpoint)
	flusher.Flush()

	heartbeat := time.NewTicker(s.conf.HeartbeatInterval)
	defer heartbeat.Stop()
	heartbeats := 0

	clientClose := r.Context().Done()
	for {
		select {
		// Ensure that only a single response is written at once
		case event := <-sse.eventQueue:
			if _, err := fmt.Fprint(w, event); err != nil {
				sse.markDead()
				s.logger.DebugContext(ctx, "sse write failed")
				return
			}
			flusher.Flush()
			sse.touch()
		case <-heartbeat.C:
			heartbeats++
			if _, err := fmt.Fprintf(w, "event: heartbeat\ndata: %d\n\n", heartbeats); err != nil {
				sse.markDead()
				return
			}
			flusher.Flush()
		case <-sse.done:
			s.logger.DebugContext(ctx, "sse connection closed")
			return
		case <-clientClose:
			sse.markDead()
			s.logger.DebugContext(ctx, "client disconnected")
			return
		}
	}
}

// messageHandler is the SSE ingress: it accepts client messages over POST
// paired to the stream by session id.
func messageHandler(s *Server, w http.ResponseWriter, r *http.Request) {
	ctx, span := s.instrumentation.Tracer.Start(r.Context(), "conduit/server/messages")
	r = r.WithContext(ctx)
	ctx = util.WithLogger(r.Context(), s.logger)
	defer span.End()

	sessionId := r.URL.Query().Get("session_id")
	if sessionId == "" {
		err := fmt.Errorf("session_id query parameter required")
		_ = render.Render(w, r, newErrResponse(err, http.StatusBadRequest))
		return
	}
	span.SetAttributes(attribute.String("session_id", sessionId))
	sse, ok := s.sseManager.get(sessionId)
	if !ok {
		err := fmt.Errorf("unknown session %q", sessionId)
		_ = render.Render(w, r, newErrResponse(err, http.StatusNotFound))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.conf.MaxPayloadBytes))
	if err != nil {
		s.logger.DebugContext(ctx, err.Error())
		_ = render.Render(w, r, newErrResponse(err, http.StatusBadRequest))
		return
	}
	body = injectSessionMeta(body, sessionId)

	// Client responses to server-initiated requests route to the pending
	// table, not the dispatcher.
	if base, decodeErr := jsonrpc.DecodeBaseMessage(body); decodeErr == nil && base.IsResponse() {
		sse.session.HandleResponse(base)
		render.JSON(w, r, okResponse{Status: "ok"})
		return
	}

	res := s.dispatcher.Dispatch(ctx, body, sse.session)
	if res == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// The reply goes out twice on purpose: once over the event stream and
	// once in this POST's body.
	if b, marshalErr := json.Marshal(res); marshalErr == nil {
		if enqueueErr := sse.enqueue(fmt.Sprintf("data: %s\n\n", b)); enqueueErr != nil {
			s.logger.DebugContext(ctx, enqueueErr.Error())
		}
	}
	render.JSON(w, r, res)
}
