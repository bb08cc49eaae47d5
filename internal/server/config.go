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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/conduit-mcp/conduit/internal/mcp"
	"github.com/conduit-mcp/conduit/internal/registry"
	"github.com/conduit-mcp/conduit/internal/util"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds everything needed to run an instance of Conduit.
type ServerConfig struct {
	// Server version
	Version string
	// Address is the address of the interface the server will listen on.
	Address string
	// Port is the port the server will listen on.
	Port int
	// McpPath is the streamable HTTP endpoint.
	McpPath string
	// SsePath is the SSE event-stream endpoint.
	SsePath string
	// MessagePath is the SSE ingress endpoint.
	MessagePath string
	// AuthToken, when set, requires `Authorization: Bearer <token>`.
	AuthToken string
	// CorsOrigin, when set, is echoed in Access-Control-Allow-Origin.
	CorsOrigin string
	// Instructions is reported to clients during initialize.
	Instructions string
	// PageSize bounds list responses; <= 0 disables pagination.
	PageSize int

	// MaxSessions caps streamable HTTP sessions.
	MaxSessions int
	// MaxSseConnections caps concurrently open SSE streams.
	MaxSseConnections int
	// MaxQueueSize bounds each SSE fan-out queue.
	MaxQueueSize int
	// MaxPayloadBytes bounds one inbound request body.
	MaxPayloadBytes int64
	// ReadTimeout and WriteTimeout bound the HTTP server.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// HeartbeatInterval paces SSE heartbeat events.
	HeartbeatInterval time.Duration

	// TelemetryOTLP is the OTLP/HTTP collector endpoint; empty disables export.
	TelemetryOTLP string

	// LoggingFormat defines whether structured loggings are used.
	LoggingFormat logFormat
	// LogLevel defines the levels to log
	LogLevel StringLevel
}

// ApplyDefaults fills the zero-valued limits with the documented defaults.
func (c *ServerConfig) ApplyDefaults() {
	if c.McpPath == "" {
		c.McpPath = "/mcp"
	}
	if c.SsePath == "" {
		c.SsePath = "/sse"
	}
	if c.MessagePath == "" {
		c.MessagePath = "/messages"
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	if c.MaxSseConnections <= 0 {
		c.MaxSseConnections = 100
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = 10 << 20
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
}

type logFormat string

// String is used by both fmt.Print and by Cobra in help text
func (f *logFormat) String() string {
	if string(*f) != "" {
		return strings.ToLower(string(*f))
	}
	return "standard"
}

// validate logging format flag
func (f *logFormat) Set(v string) error {
	switch strings.ToLower(v) {
	case "standard", "json":
		*f = logFormat(v)
		return nil
	default:
		return fmt.Errorf(`log format must be one of "standard", or "json"`)
	}
}

// Type is used in Cobra help text
func (f *logFormat) Type() string {
	return "logFormat"
}

type StringLevel string

// String is used by both fmt.Print and by Cobra in help text
func (s *StringLevel) String() string {
	if string(*s) != "" {
		return strings.ToLower(string(*s))
	}
	return "info"
}

// validate log level flag
func (s *StringLevel) Set(v string) error {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		*s = StringLevel(v)
		return nil
	default:
		return fmt.Errorf(`log level must be one of "debug", "info", "warn", or "error"`)
	}
}

// Type is used in Cobra help text
func (s *StringLevel) Type() string {
	return "stringLevel"
}

/* Declarative manifest */

// PromptConfig declares one template-backed prompt in the manifest file.
type PromptConfig struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Template    string                 `yaml:"template" validate:"required"`
	Arguments   []PromptArgumentConfig `yaml:"arguments"`
}

// PromptArgumentConfig declares one prompt argument.
type PromptArgumentConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// ResourceConfig declares one resource in the manifest file. Exactly one of
// Text or File supplies the content.
type ResourceConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	MimeType    string `yaml:"mimeType"`
	Text        string `yaml:"text"`
	File        string `yaml:"file"`
}

// PromptConfigs is a type used to allow unmarshal of the prompt config map
type PromptConfigs map[string]PromptConfig

// validate interface
var _ yaml.Unmarshaler = &PromptConfigs{}

func (c *PromptConfigs) UnmarshalYAML(node *yaml.Node) error {
	*c = make(PromptConfigs)
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	for name, n := range raw {
		var generic map[string]any
		if err := n.Decode(&generic); err != nil {
			return fmt.Errorf("unable to parse prompt %q: %w", name, err)
		}
		actual := PromptConfig{Name: name}
		dec, err := util.NewStrictDecoder(generic)
		if err != nil {
			return fmt.Errorf("unable to parse prompt %q: %w", name, err)
		}
		if err := dec.Decode(&actual); err != nil {
			return fmt.Errorf("unable to parse prompt %q: %w", name, err)
		}
		actual.Name = name
		(*c)[name] = actual
	}
	return nil
}

// ResourceConfigs is a type used to allow unmarshal of the resource config map
type ResourceConfigs map[string]ResourceConfig

// validate interface
var _ yaml.Unmarshaler = &ResourceConfigs{}

func (c *ResourceConfigs) UnmarshalYAML(node *yaml.Node) error {
	*c = make(ResourceConfigs)
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	for uri, n := range raw {
		var generic map[string]any
		if err := n.Decode(&generic); err != nil {
			return fmt.Errorf("unable to parse resource %q: %w", uri, err)
		}
		var actual ResourceConfig
		dec, err := util.NewStrictDecoder(generic)
		if err != nil {
			return fmt.Errorf("unable to parse resource %q: %w", uri, err)
		}
		if err := dec.Decode(&actual); err != nil {
			return fmt.Errorf("unable to parse resource %q: %w", uri, err)
		}
		if actual.Text != "" && actual.File != "" {
			return fmt.Errorf("resource %q declares both text and file content", uri)
		}
		if actual.Text == "" && actual.File == "" {
			return fmt.Errorf("resource %q declares no content", uri)
		}
		(*c)[uri] = actual
	}
	return nil
}

// ManifestConfig is the parsed declarative manifest file.
type ManifestConfig struct {
	Prompts   PromptConfigs   `yaml:"prompts"`
	Resources ResourceConfigs `yaml:"resources"`
}

// ParseManifest parses a declarative manifest from raw YAML.
func ParseManifest(raw []byte) (*ManifestConfig, error) {
	m := &ManifestConfig{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Register loads the manifest's prompts and resources into the registry.
func (m *ManifestConfig) Register(reg *registry.Registry) error {
	for _, pc := range m.Prompts {
		args := make([]mcp.PromptArgument, 0, len(pc.Arguments))
		for _, a := range pc.Arguments {
			args = append(args, mcp.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		err := reg.AddPrompt(&registry.Prompt{
			Name:        pc.Name,
			Description: pc.Description,
			Arguments:   args,
			Template:    pc.Template,
		})
		if err != nil {
			return err
		}
	}
	for uri, rc := range m.Resources {
		res := &registry.Resource{
			URI:         uri,
			Name:        rc.Name,
			Description: rc.Description,
			MimeType:    rc.MimeType,
		}
		if rc.Text != "" {
			res.Static = &registry.Content{Text: rc.Text, MimeType: rc.MimeType}
		} else {
			path := rc.File
			res.Provider = func(ctx context.Context, params map[string]string) (registry.Content, error) {
				b, err := os.ReadFile(path)
				if err != nil {
					return registry.Content{}, fmt.Errorf("unable to read resource file %q: %w", path, err)
				}
				return registry.Content{Blob: b, MimeType: rc.MimeType}, nil
			}
		}
		if err := reg.AddResource(res); err != nil {
			return err
		}
	}
	return nil
}
