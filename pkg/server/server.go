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

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/kadirpekel/ratewindow/pkg/auth"
	"github.com/kadirpekel/ratewindow/pkg/config"
	"github.com/kadirpekel/ratewindow/pkg/observability"
	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

// Options configures a Server.
type Options struct {
	// Config is the defaulted, validated configuration.
	Config *config.Config

	// Registry holds the policies. If nil, one is built from Config.
	Registry *ratelimit.Registry

	// Observability is optional.
	Observability *observability.Manager

	// Auth validates bearer tokens. Required when server.auth is enabled.
	Auth auth.TokenValidator
}

// Server runs the HTTP API and the optional gRPC listener.
type Server struct {
	cfg      *config.Config
	registry *ratelimit.Registry
	obs      *observability.Manager

	http       *HTTPServer
	httpServer *http.Server

	grpcServer *grpc.Server
	health     *health.Server

	// ready is closed once both listeners are bound.
	ready    chan struct{}
	httpAddr net.Addr
	grpcAddr net.Addr
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}

	registry := opts.Registry
	if registry == nil {
		var err error
		registry, err = ratelimit.NewRegistry(opts.Config.LimiterConfigs())
		if err != nil {
			return nil, fmt.Errorf("failed to build policies: %w", err)
		}
	}

	if opts.Config.Server.Auth.Enabled && opts.Auth == nil {
		return nil, errors.New("server.auth is enabled but no token validator was provided")
	}

	s := &Server{
		cfg:      opts.Config,
		registry: registry,
		obs:      opts.Observability,
		ready:    make(chan struct{}),
	}

	var httpOpts []HTTPServerOption
	if s.obs != nil {
		httpOpts = append(httpOpts, WithObservability(s.obs))
	}
	if opts.Auth != nil {
		httpOpts = append(httpOpts, WithAuth(opts.Auth))
	}
	s.http = NewHTTPServer(opts.Config, registry, httpOpts...)
	s.httpServer = s.http.NewHTTP()

	if opts.Config.Server.GRPC.Enabled {
		s.grpcServer, s.health = NewGRPCServer(opts.Config.Server.GRPC, registry, s.obs, opts.Auth)
	}

	return s, nil
}

// Registry returns the policy registry.
func (s *Server) Registry() *ratelimit.Registry {
	return s.registry
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// HTTPAddr returns the bound HTTP address. Valid after Ready.
func (s *Server) HTTPAddr() net.Addr {
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, nil when gRPC is disabled.
// Valid after Ready.
func (s *Server) GRPCAddr() net.Addr {
	return s.grpcAddr
}

// ApplyConfig applies a reloaded configuration. Policies are replaced in
// place; unchanged policies keep their state. Listener settings are not
// changed.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	if err := s.registry.Replace(cfg.LimiterConfigs()); err != nil {
		return fmt.Errorf("failed to apply policies: %w", err)
	}
	s.http.UpdateConfig(cfg)
	slog.Info("Policies updated", "policies", s.registry.Names())
	return nil
}

// Run serves until ctx is done or a listener fails, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Address, err)
	}
	s.httpAddr = httpLis.Addr()

	var grpcLis net.Listener
	if s.grpcServer != nil {
		grpcLis, err = net.Listen("tcp", s.cfg.Server.GRPC.Address)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.GRPC.Address, err)
		}
		s.grpcAddr = grpcLis.Addr()
	}
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server starting", "address", s.httpAddr.String())
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.grpcServer != nil {
		g.Go(func() error {
			slog.Info("gRPC server starting", "address", s.grpcAddr.String())
			if err := s.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) shutdown(ctx context.Context) error {
	var errs []error

	slog.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if s.grpcServer != nil {
		slog.Info("gRPC server shutting down")
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-ctx.Done():
			slog.Warn("gRPC graceful stop timeout, forcing shutdown")
			s.grpcServer.Stop()
		}
	}

	if s.obs != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.obs.Shutdown(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}
