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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/conduit-mcp/conduit/internal/log"
	"github.com/conduit-mcp/conduit/internal/registry"
)

const fakeVersionString = "0.0.0"

func toFloat(v any) float64 {
	switch n := v.(type) {
	case json.Number:
		f, _ := n.Float64()
		return f
	case float64:
		return n
	}
	return 0
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	err := r.AddTool(&registry.Tool{
		Name:        "add",
		Description: "Add two numbers.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []any{"a", "b"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return toFloat(args["a"]) + toFloat(args["b"]), nil
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	err = r.AddResource(&registry.Resource{
		URI:    "file:///readme",
		Name:   "readme",
		Static: &registry.Content{Text: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := r.AddPrompt(&registry.Prompt{Name: "greet", Template: "Hello, {who}!"}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return r
}

// testServer builds a Server around the shared test registry without
// opening a listener.
func testServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	cfg.Version = fakeVersionString
	logger, err := log.NewStdLogger(os.Stdout, os.Stderr, "warn")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg := testRegistry(t)
	s, err := NewServer(ctx, cfg, reg, reg, logger)
	if err != nil {
		t.Fatalf("unable to create server: %s", err)
	}
	return s
}

// setUpServer serves the router from an httptest server.
func setUpServer(t *testing.T, cfg ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	s := testServer(t, cfg)
	ts := httptest.NewServer(s.root)
	t.Cleanup(ts.Close)
	return s, ts
}

// postJSON posts a raw JSON-RPC body and returns the response together with
// its decoded body.
func postJSON(t *testing.T, url, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("unable to create request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unable to send request: %s", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unable to read response body: %s", err)
	}
	var decoded map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unable to decode response body %q: %s", raw, err)
		}
	}
	return resp, decoded
}

// initializeSession performs the initialize handshake against the streamable
// HTTP endpoint and returns the minted session id.
func initializeSession(t *testing.T, baseURL string) string {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"0.0.0"}}}`
	resp, decoded := postJSON(t, baseURL+"/mcp", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize returned status %d: %v", resp.StatusCode, decoded)
	}
	sessionId := resp.Header.Get("Mcp-Session-Id")
	if sessionId == "" {
		t.Fatal("initialize did not return a Mcp-Session-Id header")
	}
	return sessionId
}
