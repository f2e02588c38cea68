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

package ratelimit

import (
	"context"
	"log/slog"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// DefaultKeyMetadata is the incoming metadata key consulted by
// DefaultGRPCKeyFunc.
const DefaultKeyMetadata = "x-api-key"

// GRPCKeyFunc extracts the rate limit key for an RPC.
// An empty key lets the call through unchecked.
type GRPCKeyFunc func(ctx context.Context, fullMethod string) string

// MetadataKeyFunc keys calls by a metadata entry, falling back to the peer
// address.
func MetadataKeyFunc(name string) GRPCKeyFunc {
	return func(ctx context.Context, _ string) string {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(name); len(values) > 0 && values[0] != "" {
				return values[0]
			}
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			return p.Addr.String()
		}
		return ""
	}
}

// DefaultGRPCKeyFunc keys calls by the x-api-key metadata entry, falling back
// to the peer address.
func DefaultGRPCKeyFunc(ctx context.Context, fullMethod string) string {
	return MetadataKeyFunc(DefaultKeyMetadata)(ctx, fullMethod)
}

// InterceptorConfig configures the gRPC rate limiting interceptors.
type InterceptorConfig struct {
	// Limiter is the rate limiter to use.
	Limiter Limiter[string]

	// Policy names the limiter in logs and observer callbacks.
	Policy string

	// KeyFunc extracts the key. If nil, DefaultGRPCKeyFunc is used.
	KeyFunc GRPCKeyFunc

	// ExcludedMethods are full method names that bypass rate limiting,
	// e.g. "/grpc.health.v1.Health/Check".
	ExcludedMethods []string

	// Observer, if set, is told about every decision.
	Observer Observer
}

type interceptor struct {
	cfg      InterceptorConfig
	excluded map[string]bool
}

func newInterceptor(cfg InterceptorConfig) *interceptor {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultGRPCKeyFunc
	}
	excluded := make(map[string]bool, len(cfg.ExcludedMethods))
	for _, m := range cfg.ExcludedMethods {
		excluded[m] = true
	}
	return &interceptor{cfg: cfg, excluded: excluded}
}

// check returns a non-nil error when the call must be rejected.
func (i *interceptor) check(ctx context.Context, fullMethod string) error {
	if i.cfg.Limiter == nil || i.excluded[fullMethod] {
		return nil
	}

	key := i.cfg.KeyFunc(ctx, fullMethod)
	if key == "" {
		return nil
	}

	d := i.cfg.Limiter.Take(key, 1)
	if i.cfg.Observer != nil {
		i.cfg.Observer.ObserveDecision(ctx, i.cfg.Policy, d)
	}
	if d.Allowed {
		return nil
	}

	slog.Debug("RPC rate limited",
		"policy", i.cfg.Policy,
		"method", fullMethod,
		"key", key,
		"reason", d.Reason)

	if d.RetryAfter > 0 {
		_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after",
			strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10)))
	}
	return status.Error(codes.ResourceExhausted, NewRateLimitError(d).Error())
}

// UnaryServerInterceptor rejects unary calls that exceed the limit with
// codes.ResourceExhausted.
func UnaryServerInterceptor(cfg InterceptorConfig) grpc.UnaryServerInterceptor {
	i := newInterceptor(cfg)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := i.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor rejects stream opens that exceed the limit.
// Messages within an admitted stream are not counted.
func StreamServerInterceptor(cfg InterceptorConfig) grpc.StreamServerInterceptor {
	i := newInterceptor(cfg)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := i.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
