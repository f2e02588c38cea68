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
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kadirpekel/ratewindow/pkg/auth"
	"github.com/kadirpekel/ratewindow/pkg/config"
	"github.com/kadirpekel/ratewindow/pkg/observability"
	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

// NewGRPCServer builds a gRPC server that serves grpc.health.v1. A non-nil
// validator requires a bearer token on every RPC. When cfg.Policy is set
// every RPC is checked against that policy, keyed by token subject when
// authenticated.
func NewGRPCServer(cfg config.GRPCConfig, registry *ratelimit.Registry, obs *observability.Manager, validator auth.TokenValidator) (*grpc.Server, *health.Server) {
	var unary []grpc.UnaryServerInterceptor
	var stream []grpc.StreamServerInterceptor

	if validator != nil {
		unary = append(unary, auth.UnaryServerInterceptor(validator))
		stream = append(stream, auth.StreamServerInterceptor(validator))
	}

	if cfg.Policy != "" {
		keyFunc := ratelimit.MetadataKeyFunc(cfg.KeyMetadata)
		if validator != nil {
			keyFunc = auth.SubjectGRPCKeyFunc(keyFunc)
		}
		ic := ratelimit.InterceptorConfig{
			Limiter: registry.Policy(cfg.Policy),
			Policy:  cfg.Policy,
			KeyFunc: keyFunc,
		}
		if obs != nil {
			ic.Observer = obs.Recorder()
		}
		unary = append(unary, ratelimit.UnaryServerInterceptor(ic))
		stream = append(stream, ratelimit.StreamServerInterceptor(ic))
		slog.Info("gRPC rate limiting enabled", "policy", cfg.Policy, "key_metadata", cfg.KeyMetadata)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return srv, hs
}
