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

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation bundles the tracer and counters the server reports with.
type Instrumentation struct {
	Tracer trace.Tracer

	// McpPost counts messages received on the streamable HTTP endpoint.
	McpPost metric.Int64Counter
	// McpSse counts SSE connections opened.
	McpSse metric.Int64Counter
	// ToolInvoke counts tool invocations by name and status.
	ToolInvoke metric.Int64Counter
}

// CreateInstrumentation builds the server's tracer and counters from the
// global providers.
func CreateInstrumentation(version string) (*Instrumentation, error) {
	tracer := otel.Tracer("conduit", trace.WithInstrumentationVersion(version))
	meter := otel.Meter("conduit", metric.WithInstrumentationVersion(version))

	mcpPost, err := meter.Int64Counter(
		"conduit.mcp.post.count",
		metric.WithDescription("Messages received on the streamable HTTP endpoint."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create mcp post counter: %w", err)
	}
	mcpSse, err := meter.Int64Counter(
		"conduit.mcp.sse.count",
		metric.WithDescription("SSE connections opened."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create mcp sse counter: %w", err)
	}
	toolInvoke, err := meter.Int64Counter(
		"conduit.tool.invoke.count",
		metric.WithDescription("Tool invocations."),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create tool invoke counter: %w", err)
	}

	return &Instrumentation{
		Tracer:     tracer,
		McpPost:    mcpPost,
		McpSse:     mcpSse,
		ToolInvoke: toolInvoke,
	}, nil
}
