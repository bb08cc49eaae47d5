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

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conduit-mcp/conduit/internal/mcp"
)

func decodeResult(raw json.RawMessage, v interface{}) error {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	return d.Decode(v)
}

// CreateMessage asks the client for an LLM completion via
// sampling/createMessage. It fails fast when the client never advertised the
// sampling capability.
func (s *Session) CreateMessage(ctx context.Context, params mcp.CreateMessageParams, timeout time.Duration) (interface{}, error) {
	if !s.SupportsSampling() {
		return nil, fmt.Errorf("client does not support sampling")
	}
	return s.SendRequest(ctx, mcp.SAMPLING_CREATE_MESSAGE, params, timeout)
}

// Elicit asks the client for structured user input via elicitation/create.
func (s *Session) Elicit(ctx context.Context, message string, schema map[string]interface{}, timeout time.Duration) (interface{}, error) {
	if !s.SupportsElicitation() {
		return nil, fmt.Errorf("client does not support elicitation")
	}
	params := map[string]interface{}{"message": message}
	if schema != nil {
		params["requestedSchema"] = schema
	}
	return s.SendRequest(ctx, mcp.ELICITATION_CREATE, params, timeout)
}

// ListRoots asks the client for its filesystem roots via roots/list.
func (s *Session) ListRoots(ctx context.Context, timeout time.Duration) ([]mcp.Root, error) {
	if !s.SupportsRoots() {
		return nil, fmt.Errorf("client does not support roots")
	}
	result, err := s.SendRequest(ctx, mcp.ROOTS_LIST, map[string]interface{}{}, timeout)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal roots result: %w", err)
	}
	var parsed struct {
		Roots []mcp.Root `json:"roots"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse roots result: %w", err)
	}
	return parsed.Roots, nil
}
