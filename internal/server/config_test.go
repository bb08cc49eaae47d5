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
	"testing"
	"time"

	"github.com/conduit-mcp/conduit/internal/registry"
)

func TestApplyDefaults(t *testing.T) {
	cfg := ServerConfig{}
	cfg.ApplyDefaults()

	if cfg.McpPath != "/mcp" || cfg.SsePath != "/sse" || cfg.MessagePath != "/messages" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if cfg.MaxSessions != 1000 || cfg.MaxSseConnections != 100 || cfg.MaxQueueSize != 1000 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.MaxPayloadBytes != 10<<20 {
		t.Fatalf("unexpected payload limit: %d", cfg.MaxPayloadBytes)
	}
	if cfg.ReadTimeout != 30*time.Second || cfg.WriteTimeout != 30*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Fatalf("unexpected heartbeat interval: %s", cfg.HeartbeatInterval)
	}

	// Explicit values survive.
	cfg = ServerConfig{McpPath: "/rpc", MaxSessions: 5}
	cfg.ApplyDefaults()
	if cfg.McpPath != "/rpc" || cfg.MaxSessions != 5 {
		t.Fatalf("explicit values were overwritten: %+v", cfg)
	}
}

func TestLogFormatFlag(t *testing.T) {
	var f logFormat
	if f.String() != "standard" {
		t.Fatalf("unexpected default %q", f.String())
	}
	if err := f.Set("JSON"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if f.String() != "json" {
		t.Fatalf("unexpected format %q", f.String())
	}
	if err := f.Set("xml"); err == nil {
		t.Fatal("expected an error for an invalid format")
	}
}

func TestStringLevelFlag(t *testing.T) {
	var l StringLevel
	if l.String() != "info" {
		t.Fatalf("unexpected default %q", l.String())
	}
	if err := l.Set("DEBUG"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if l.String() != "debug" {
		t.Fatalf("unexpected level %q", l.String())
	}
	if err := l.Set("verbose"); err == nil {
		t.Fatal("expected an error for an invalid level")
	}
}

func TestParseManifest(t *testing.T) {
	raw := []byte(`
prompts:
  greet:
    description: Say hello.
    template: "Hello, {who}!"
    arguments:
      - name: who
        description: Who to greet.
        required: true
resources:
  file:///motd:
    name: motd
    mimeType: text/plain
    text: welcome
`)
	m, err := ParseManifest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	reg := registry.New()
	if err := m.Register(reg); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	prompt, err := reg.GetPrompt("greet")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	messages, err := prompt.Render(context.Background(), map[string]string{"who": "world"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(messages) != 1 || messages[0].Content.Text != "Hello, world!" {
		t.Fatalf("unexpected messages: %+v", messages)
	}

	res, err := reg.GetResource("file:///motd")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	content, err := res.Read(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if content.Text != "welcome" {
		t.Fatalf("unexpected content: %q", content.Text)
	}
}

func TestParseManifestErrors(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{
			name: "unknown prompt field",
			raw: `
prompts:
  greet:
    tempalte: "Hello!"
`,
		},
		{
			name: "prompt missing template",
			raw: `
prompts:
  greet:
    description: Say hello.
`,
		},
		{
			name: "resource with both text and file",
			raw: `
resources:
  file:///motd:
    text: welcome
    file: /etc/motd
`,
		},
		{
			name: "resource without content",
			raw: `
resources:
  file:///motd:
    name: motd
`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tc.raw)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
