// Package ratewindow provides a per-key sliding window rate limiter and a
// small service that exposes named limiting policies over HTTP and gRPC.
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/kadirpekel/ratewindow/cmd/ratewindow@latest
//
// Describe the policies:
//
//	policies:
//	  api:
//	    limit: 100
//	    window: 1m
//	    ttl: 10m
//
// Start the server:
//
//	ratewindow serve --config ratewindow.yaml --watch
//
// # Using as Go Library
//
// The limiter lives in its own package and has no dependencies outside the
// standard library:
//
//	import "github.com/kadirpekel/ratewindow/pkg/ratelimit"
//
//	limiter, err := ratelimit.New[string](ratelimit.Config{
//	    Limit:  100,
//	    Window: time.Minute,
//	    TTL:    10 * time.Minute,
//	})
//	if limiter.Allow(userID) {
//	    // serve
//	}
//
// # Packages
//
//   - pkg/ratelimit: the limiter, the policy registry and the HTTP/gRPC adapters
//   - pkg/config: YAML configuration from a file, Consul, etcd or ZooKeeper, with env overrides and hot reload
//   - pkg/observability: OpenTelemetry tracing and Prometheus metrics
//   - pkg/server: the HTTP API and the gRPC listener
//   - pkg/auth: optional JWT bearer authentication against a JWKS
//   - pkg/client: a Go client for the HTTP API
//   - pkg/logger: slog setup shared by the CLI
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package ratewindow
