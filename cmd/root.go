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

package cmd

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conduit-mcp/conduit/internal/log"
	"github.com/conduit-mcp/conduit/internal/registry"
	"github.com/conduit-mcp/conduit/internal/server"
	"github.com/conduit-mcp/conduit/internal/telemetry"
	"github.com/conduit-mcp/conduit/internal/transform"
	"github.com/conduit-mcp/conduit/internal/util"
)

var (
	// versionString indicates the version of this library.
	//go:embed version.txt
	versionString string
	// metadataString indicates additional build or distribution metadata.
	metadataString string
)

func init() {
	versionString = semanticVersion()
}

// semanticVersion returns the version of the CLI including a compile-time metadata.
func semanticVersion() string {
	v := strings.TrimSpace(versionString)
	if metadataString != "" {
		v += "+" + metadataString
	}
	return v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := NewCommand().Execute(); err != nil {
		exit := 1
		os.Exit(exit)
	}
}

// Command represents an invocation of the CLI.
type Command struct {
	*cobra.Command

	cfg          server.ServerConfig
	logger       log.Logger
	manifestFile string
	stdio        bool

	namespacePrefix  string
	promptsAsTools   bool
	resourcesAsTools bool
}

// NewCommand returns a Command object representing an invocation of the CLI.
func NewCommand(opts ...Option) *Command {
	cmd := &Command{
		Command: &cobra.Command{
			Use:           "conduit",
			Version:       versionString,
			SilenceErrors: true,
		},
	}

	for _, o := range opts {
		o(cmd)
	}

	flags := cmd.Flags()
	flags.StringVarP(&cmd.cfg.Address, "address", "a", "127.0.0.1", "Address of the interface the server will listen on.")
	flags.IntVarP(&cmd.cfg.Port, "port", "p", 5000, "Port the server will listen on.")
	flags.BoolVar(&cmd.stdio, "stdio", false, "Serve over stdin/stdout instead of HTTP.")

	flags.StringVar(&cmd.manifestFile, "manifest", "", "File path specifying prompts and resources to serve.")
	flags.StringVar(&cmd.cfg.Instructions, "instructions", "", "Usage instructions reported to clients during initialize.")
	flags.IntVar(&cmd.cfg.PageSize, "page-size", 0, "Page size for list methods. 0 disables pagination.")
	flags.StringVar(&cmd.cfg.AuthToken, "auth-token", "", "When set, require `Authorization: Bearer <token>` on HTTP requests.")
	flags.StringVar(&cmd.cfg.CorsOrigin, "cors-origin", "", "Value echoed in Access-Control-Allow-Origin. Empty disables CORS handling.")
	flags.StringVar(&cmd.cfg.TelemetryOTLP, "telemetry-otlp", "", "OTLP/HTTP endpoint traces and metrics are exported to. Empty disables export.")
	flags.StringVar(&cmd.namespacePrefix, "namespace", "", "Prefix applied to tool and prompt names and resource URIs.")
	flags.BoolVar(&cmd.promptsAsTools, "prompts-as-tools", false, "Expose prompts through list_prompts/get_prompt tools.")
	flags.BoolVar(&cmd.resourcesAsTools, "resources-as-tools", false, "Expose resources through list_resources/read_resource tools.")
	flags.Var(&cmd.cfg.LogLevel, "log-level", "Specify the minimum level logged. Allowed: 'DEBUG', 'INFO', 'WARN', 'ERROR'.")
	flags.Var(&cmd.cfg.LoggingFormat, "logging-format", "Specify logging format to use. Allowed: 'standard' or 'JSON'.")

	// wrap RunE command so that we have access to original Command object
	cmd.RunE = func(*cobra.Command, []string) error { return run(cmd) }

	return cmd
}

func run(cmd *Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle logger separately from config
	if cmd.logger == nil {
		switch {
		// The stdio transport owns stdout, so logs must not go there.
		case cmd.stdio:
			logger, err := log.NewStructuredLogger(os.Stderr, os.Stderr, cmd.cfg.LogLevel.String())
			if err != nil {
				return fmt.Errorf("unable to initialize logger: %w", err)
			}
			cmd.logger = logger
		case strings.ToLower(cmd.cfg.LoggingFormat.String()) == "json":
			logger, err := log.NewStructuredLogger(os.Stdout, os.Stderr, cmd.cfg.LogLevel.String())
			if err != nil {
				return fmt.Errorf("unable to initialize logger: %w", err)
			}
			cmd.logger = logger
		default:
			logger, err := log.NewStdLogger(os.Stdout, os.Stderr, cmd.cfg.LogLevel.String())
			if err != nil {
				return fmt.Errorf("unable to initialize logger: %w", err)
			}
			cmd.logger = logger
		}
	}
	ctx = util.WithLogger(ctx, cmd.logger)

	cmd.cfg.Version = versionString

	t, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "conduit",
		Version:      versionString,
		OTLPEndpoint: cmd.cfg.TelemetryOTLP,
	})
	if err != nil {
		errMsg := fmt.Errorf("unable to set up telemetry: %w", err)
		cmd.logger.Error(errMsg.Error())
		return errMsg
	}
	defer func() {
		if err := t.Shutdown(context.Background()); err != nil {
			cmd.logger.Error(fmt.Sprintf("error shutting down telemetry: %v", err))
		}
	}()

	reg := registry.New()
	if cmd.manifestFile != "" {
		buf, err := os.ReadFile(cmd.manifestFile)
		if err != nil {
			errMsg := fmt.Errorf("unable to read manifest at %q: %w", cmd.manifestFile, err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
		manifest, err := server.ParseManifest(buf)
		if err != nil {
			errMsg := fmt.Errorf("unable to parse manifest at %q: %w", cmd.manifestFile, err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
		if err := manifest.Register(reg); err != nil {
			errMsg := fmt.Errorf("unable to register manifest entries: %w", err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
	}

	var middlewares []transform.Middleware
	if cmd.namespacePrefix != "" {
		middlewares = append(middlewares, transform.Namespace(cmd.namespacePrefix))
	}
	if cmd.promptsAsTools {
		middlewares = append(middlewares, transform.PromptsAsTools())
	}
	if cmd.resourcesAsTools {
		middlewares = append(middlewares, transform.ResourcesAsTools())
	}
	view := transform.Chain(reg, middlewares...)

	s, err := server.NewServer(ctx, cmd.cfg, view, reg, cmd.logger)
	if err != nil {
		errMsg := fmt.Errorf("conduit failed to start with the following error: %w", err)
		cmd.logger.Error(errMsg.Error())
		return errMsg
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.stdio {
		if err := s.ServeStdio(ctx); err != nil {
			errMsg := fmt.Errorf("conduit crashed with the following error: %w", err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
		return nil
	}

	if err := s.Listen(ctx); err != nil {
		errMsg := fmt.Errorf("conduit failed to start with the following error: %w", err)
		cmd.logger.Error(errMsg.Error())
		return errMsg
	}

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- s.Serve()
	}()

	select {
	case err := <-srvErr:
		errMsg := fmt.Errorf("conduit crashed with the following error: %w", err)
		cmd.logger.Error(errMsg.Error())
		return errMsg
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cmd.cfg.WriteTimeout)
		defer shutdownCancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			errMsg := fmt.Errorf("error during shutdown: %w", err)
			cmd.logger.Error(errMsg.Error())
			return errMsg
		}
	}

	return nil
}
