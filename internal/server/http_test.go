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
	"net/http"
	"regexp"
	"testing"
)

var sessionIdPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestHTTPInitialize(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{Instructions: "use the add tool"})

	body := `{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"0.0.0"}}}`
	resp, decoded := postJSON(t, ts.URL+"/mcp", body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", resp.StatusCode, decoded)
	}
	sessionId := resp.Header.Get("Mcp-Session-Id")
	if !sessionIdPattern.MatchString(sessionId) {
		t.Fatalf("unexpected session id %q", sessionId)
	}

	result, ok := decoded["result"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected response: %v", decoded)
	}
	if result["protocolVersion"] != "2025-06-18" {
		t.Fatalf("unexpected protocol version: %v", result["protocolVersion"])
	}
	serverInfo := result["serverInfo"].(map[string]any)
	if serverInfo["name"] != "Conduit" || serverInfo["version"] != fakeVersionString {
		t.Fatalf("unexpected server info: %v", serverInfo)
	}
	if result["instructions"] != "use the add tool" {
		t.Fatalf("unexpected instructions: %v", result["instructions"])
	}
}

func TestHTTPToolCall(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{})
	sessionId := initializeSession(t, ts.URL)

	body := `{"jsonrpc":"2.0","id":"call-1","method":"tools/call","params":{"name":"add","arguments":{"a":2,"b":3}}}`
	resp, decoded := postJSON(t, ts.URL+"/mcp", body, map[string]string{"Mcp-Session-Id": sessionId})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", resp.StatusCode, decoded)
	}
	content := decoded["result"].(map[string]any)["content"].([]any)
	if text := content[0].(map[string]any)["text"]; text != "5" {
		t.Fatalf("unexpected tool result: %v", decoded)
	}
}

func TestHTTPSessionErrors(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{})

	testCases := []struct {
		name       string
		header     map[string]string
		wantStatus int
	}{
		{
			name:       "missing header",
			header:     nil,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown session",
			header:     map[string]string{"Mcp-Session-Id": "00000000000000000000000000000000"},
			wantStatus: http.StatusNotFound,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
			resp, decoded := postJSON(t, ts.URL+"/mcp", body, tc.header)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("unexpected status %d: %v", resp.StatusCode, decoded)
			}
			if decoded["status"] != http.StatusText(tc.wantStatus) {
				t.Fatalf("unexpected status text: %v", decoded)
			}
			if _, ok := decoded["error"]; !ok {
				t.Fatalf("expected an error message: %v", decoded)
			}
		})
	}
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{})

	resp, err := http.Get(ts.URL + "/mcp")
	if err != nil {
		t.Fatalf("unable to send request: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("unexpected Allow header %q", allow)
	}
}

func TestHTTPNotificationAccepted(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{})
	sessionId := initializeSession(t, ts.URL)

	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	resp, decoded := postJSON(t, ts.URL+"/mcp", body, map[string]string{"Mcp-Session-Id": sessionId})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %v", resp.StatusCode, decoded)
	}
	if decoded != nil {
		t.Fatalf("notifications should have an empty response body: %v", decoded)
	}
}

func TestHTTPClientResponseAck(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{})
	sessionId := initializeSession(t, ts.URL)

	body := `{"jsonrpc":"2.0","id":"srv_1","result":{"role":"user"}}`
	resp, decoded := postJSON(t, ts.URL+"/mcp", body, map[string]string{"Mcp-Session-Id": sessionId})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", resp.StatusCode, decoded)
	}
	if decoded["status"] != "ok" {
		t.Fatalf("unexpected response: %v", decoded)
	}
}

func TestHTTPDeleteSession(t *testing.T) {
	s, ts := setUpServer(t, ServerConfig{})
	sessionId := initializeSession(t, ts.URL)
	if s.sessions.len() != 1 {
		t.Fatalf("unexpected session count %d", s.sessions.len())
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("unable to create request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", sessionId)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unable to send request: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if s.sessions.len() != 0 {
		t.Fatalf("session was not removed, count %d", s.sessions.len())
	}

	// The deleted session no longer serves requests.
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	resp2, decoded := postJSON(t, ts.URL+"/mcp", body, map[string]string{"Mcp-Session-Id": sessionId})
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d: %v", resp2.StatusCode, decoded)
	}
}

func TestHTTPDeleteWithoutSession(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	if err != nil {
		t.Fatalf("unable to create request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unable to send request: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestHTTPSessionCap(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{MaxSessions: 1})
	initializeSession(t, ts.URL)

	body := `{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"2025-06-18"}}`
	resp, decoded := postJSON(t, ts.URL+"/mcp", body, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d: %v", resp.StatusCode, decoded)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := setUpServer(t, ServerConfig{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("unable to send request: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}
