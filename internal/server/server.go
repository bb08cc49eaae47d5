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

// Package server hosts the MCP dispatcher behind the stdio, SSE, and
// streamable HTTP transports.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"

	"github.com/conduit-mcp/conduit/internal/dispatch"
	"github.com/conduit-mcp/conduit/internal/log"
	"github.com/conduit-mcp/conduit/internal/registry"
	"github.com/conduit-mcp/conduit/internal/task"
	"github.com/conduit-mcp/conduit/internal/telemetry"
)

// Server contains info for running an instance of Conduit. Should be
// instantiated with NewServer().
type Server struct {
	version  string
	conf     ServerConfig
	srv      *http.Server
	listener net.Listener
	root     chi.Router
	logger   log.Logger

	instrumentation *telemetry.Instrumentation
	dispatcher      *dispatch.Dispatcher
	tasks           *task.Registry

	sessions   *sessionManager
	sseManager *sseManager
}

// NewServer returns a Server serving the given registry view through the
// dispatcher.
func NewServer(ctx context.Context, cfg ServerConfig, view registry.View, base *registry.Registry, l log.Logger) (*Server, error) {
	cfg.ApplyDefaults()

	// set up http serving
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	// logging
	logLevel, err := log.SeverityToLevel(cfg.LogLevel.String())
	if err != nil {
		return nil, fmt.Errorf("unable to initialize http log: %w", err)
	}
	var httpOpts httplog.Options
	switch cfg.LoggingFormat.String() {
	case "json":
		httpOpts = httplog.Options{
			JSON:             true,
			LogLevel:         logLevel,
			Concise:          true,
			RequestHeaders:   true,
			MessageFieldName: "message",
			TimeFieldName:    "timestamp",
			LevelFieldName:   "severity",
		}
	case "standard":
		httpOpts = httplog.Options{
			LogLevel:         logLevel,
			Concise:          true,
			RequestHeaders:   true,
			MessageFieldName: "message",
		}
	default:
		return nil, fmt.Errorf("invalid Logging format: %q", cfg.LoggingFormat.String())
	}
	httpLogger := httplog.NewLogger("httplog", httpOpts)
	r.Use(httplog.RequestLogger(httpLogger))

	instrumentation, err := telemetry.CreateInstrumentation(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("unable to create telemetry instrumentation: %w", err)
	}

	tasks := task.NewRegistry(task.DefaultCapacity)
	dispatcher := dispatch.New(view, base, tasks, l, dispatch.Options{
		Version:         cfg.Version,
		Instructions:    cfg.Instructions,
		PageSize:        cfg.PageSize,
		Instrumentation: instrumentation,
	})

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s := &Server{
		version:         cfg.Version,
		conf:            cfg,
		srv:             srv,
		root:            r,
		logger:          l,
		instrumentation: instrumentation,
		dispatcher:      dispatcher,
		tasks:           tasks,
		sessions:        newSessionManager(cfg.MaxSessions),
		sseManager:      newSseManager(ctx, cfg.MaxSseConnections),
	}
	go tasks.CleanupRoutine(ctx, time.Minute)

	if cfg.CorsOrigin != "" {
		r.Use(corsMiddleware(cfg.CorsOrigin))
	}
	if cfg.AuthToken != "" {
		r.Use(bearerAuthMiddleware(cfg.AuthToken))
	}

	mcpR, err := mcpRouter(s)
	if err != nil {
		return nil, err
	}
	r.Mount(cfg.McpPath, mcpR)
	sseR, err := sseRouter(s)
	if err != nil {
		return nil, err
	}
	r.Mount("/", sseR)

	// default endpoint for validating server is running
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return s, nil
}

// Dispatcher exposes the server's method router, mainly for extension routes.
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Listen starts a listener for the given Server instance.
func (s *Server) Listen(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.listener != nil {
		return fmt.Errorf("server is already listening: %s", s.listener.Addr().String())
	}
	lc := net.ListenConfig{KeepAlive: 30 * time.Second}
	var err error
	if s.listener, err = lc.Listen(ctx, "tcp", s.srv.Addr); err != nil {
		return fmt.Errorf("failed to open listener for %q: %w", s.srv.Addr, err)
	}
	s.logger.DebugContext(ctx, fmt.Sprintf("server listening on %s", s.srv.Addr))
	return nil
}

// Serve starts an HTTP server for the given Server instance.
func (s *Server) Serve() error {
	s.logger.DebugContext(context.Background(), "Starting a HTTP server.")
	return s.srv.Serve(s.listener)
}

// ServeStdio runs the stdio transport until EOF or context cancellation.
func (s *Server) ServeStdio(ctx context.Context) error {
	return newStdioSession(s).Start(ctx)
}

// Shutdown gracefully shuts down the server without interrupting any active
// connections. It uses http.Server.Shutdown() and has the same functionality.
// It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.DebugContext(context.Background(), "shutting down the server.")
	return s.srv.Shutdown(ctx)
}
