// Copyright 2025 Kadir Pekel
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

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/ratewindow"
	"github.com/kadirpekel/ratewindow/pkg/auth"
	"github.com/kadirpekel/ratewindow/pkg/config"
	"github.com/kadirpekel/ratewindow/pkg/observability"
	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
	"github.com/kadirpekel/ratewindow/pkg/server"
)

// ServeCmd starts the rate limiting server.
type ServeCmd struct {
	Watch   bool   `help:"Watch config file for changes and reload policies."`
	Address string `help:"Override server.address." placeholder:"HOST:PORT"`
	Quiet   bool   `short:"q" help:"Do not print the startup banner."`
}

func (c *ServeCmd) Run(cli *CLI, out io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := cli.loaderOptions("")
	if err != nil {
		return err
	}
	loader, err := config.NewLoader(opts)
	if err != nil {
		return err
	}
	defer loader.Close()

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "source", loader.Type(), "path", loader.Path())

	if c.Address != "" {
		cfg.Server.Address = c.Address
	}

	// The config file may carry logger settings the flags did not set.
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, &cfg.Logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	registry, err := ratelimit.NewRegistry(cfg.LimiterConfigs())
	if err != nil {
		return fmt.Errorf("failed to build policies: %w", err)
	}

	obs, err := observability.NewManager(ctx, cfg.Observability, registry.TrackedKeys)
	if err != nil {
		return err
	}

	validator, err := auth.NewValidatorFromConfig(ctx, cfg.Server.Auth)
	if err != nil {
		_ = obs.Shutdown(context.Background())
		return err
	}

	srv, err := server.New(server.Options{
		Config:        cfg,
		Registry:      registry,
		Observability: obs,
		Auth:          validator,
	})
	if err != nil {
		_ = obs.Shutdown(context.Background())
		return err
	}

	if c.Watch {
		go func() {
			if err := loader.Watch(ctx, func(next *config.Config) error {
				if c.Address != "" {
					next.Server.Address = c.Address
				}
				return srv.ApplyConfig(next)
			}); err != nil {
				slog.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	if !c.Quiet {
		go func() {
			select {
			case <-srv.Ready():
				printBanner(out, cfg, srv, c.Watch)
			case <-ctx.Done():
			}
		}()
	}

	err = srv.Run(ctx)

	// Run only shuts observability down once the listeners were bound.
	select {
	case <-srv.Ready():
	default:
		_ = obs.Shutdown(context.Background())
	}

	if err != nil {
		return err
	}
	slog.Info("Server stopped")
	return nil
}

func printBanner(out io.Writer, cfg *config.Config, srv *server.Server, watching bool) {
	fmt.Fprintf(out, "\n%s\n", ratewindow.GetVersion())
	fmt.Fprintf(out, "   HTTP:        http://%s\n", srv.HTTPAddr())
	if addr := srv.GRPCAddr(); addr != nil {
		fmt.Fprintf(out, "   gRPC:        %s (policy %q)\n", addr, cfg.Server.GRPC.Policy)
	}
	if cfg.Server.Auth.Enabled {
		fmt.Fprintf(out, "   Auth:        JWT (issuer %s)\n", cfg.Server.Auth.Issuer)
	}
	if cfg.Server.RateLimit.Enabled {
		fmt.Fprintf(out, "   API limit:   policy %q keyed by %s\n", cfg.Server.RateLimit.Policy, cfg.Server.RateLimit.KeyHeader)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Fprintf(out, "   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	if cfg.Observability.Metrics.Enabled {
		fmt.Fprintf(out, "   Metrics:     http://%s%s\n", srv.HTTPAddr(), cfg.Observability.Metrics.Endpoint)
	}
	if watching {
		fmt.Fprintf(out, "   Hot reload:  watching config file\n")
	}

	fmt.Fprintln(out, "\n   Policies:")
	for _, name := range cfg.PolicyNames() {
		p := cfg.Policies[name]
		fmt.Fprintf(out, "     - %s: %d per %s (POST http://%s/v1/policies/%s/check)\n",
			name, p.Limit, p.Window, srv.HTTPAddr(), name)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
