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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/session"
	"github.com/conduit-mcp/conduit/internal/util"
	"github.com/google/uuid"
)

// mintSessionId returns a 128-bit random id as 32 lowercase hex characters.
func mintSessionId() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// sessionManager is the bounded table of streamable HTTP sessions.
type sessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	max      int
}

func newSessionManager(max int) *sessionManager {
	return &sessionManager{
		sessions: make(map[string]*session.Session),
		max:      max,
	}
}

// create mints a session or reports that the cap was reached.
func (m *sessionManager) create(sendFn session.SendFunc) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.max {
		return nil, fmt.Errorf("session limit of %d reached", m.max)
	}
	id := mintSessionId()
	s := session.New(id, sendFn)
	m.sessions[id] = s
	return s, nil
}

func (m *sessionManager) get(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *sessionManager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *sessionManager) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// injectSessionMeta stamps params._meta.session_id into a raw request or
// notification body. An existing value is never overwritten; responses and
// unparseable bodies pass through untouched.
func injectSessionMeta(body []byte, sessionId string) []byte {
	var msg map[string]any
	if err := util.DecodeJSON(bytes.NewReader(body), &msg); err != nil {
		return body
	}
	if _, ok := msg["method"]; !ok {
		return body
	}
	params, ok := msg["params"].(map[string]any)
	if !ok {
		if _, present := msg["params"]; present {
			return body
		}
		params = map[string]any{}
		msg["params"] = params
	}
	meta, ok := params["_meta"].(map[string]any)
	if !ok {
		if _, present := params["_meta"]; present {
			return body
		}
		meta = map[string]any{}
		params["_meta"] = meta
	}
	if _, present := meta[mcp.META_SESSION_ID]; present {
		return body
	}
	meta[mcp.META_SESSION_ID] = sessionId

	out, err := json.Marshal(msg)
	if err != nil {
		return body
	}
	return out
}
