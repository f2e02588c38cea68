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

package config

import (
	"fmt"
	"time"
)

const (
	DefaultAddress         = ":8080"
	DefaultGRPCAddress     = ":9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultKeyHeader       = "X-API-Key"
	DefaultKeyMetadata     = "x-api-key"
)

// ServerConfig configures the HTTP API and the optional gRPC listener.
type ServerConfig struct {
	// Address is the HTTP listen address.
	// Default: ":8080"
	Address string `yaml:"address,omitempty" json:"address,omitempty"`

	// ReadTimeout bounds reading a whole request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout bounds writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`

	// RateLimit protects the HTTP API itself with one of the policies.
	RateLimit ServerRateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	// GRPC configures the gRPC health endpoint.
	GRPC GRPCConfig `yaml:"grpc,omitempty" json:"grpc,omitempty"`

	// Auth requires JWT bearer tokens.
	Auth AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`
}

// ServerRateLimitConfig applies a policy to inbound HTTP requests.
type ServerRateLimitConfig struct {
	// Enabled turns on the middleware.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Policy names the policy to enforce.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`

	// KeyHeader is the header that identifies a caller. Requests without it
	// are keyed by client IP.
	// Default: "X-API-Key"
	KeyHeader string `yaml:"key_header,omitempty" json:"key_header,omitempty"`

	// ExcludedPaths bypass the middleware.
	// Default: ["/health", "/metrics"]
	ExcludedPaths []string `yaml:"excluded_paths,omitempty" json:"excluded_paths,omitempty"`
}

// GRPCConfig configures the gRPC listener.
type GRPCConfig struct {
	// Enabled starts the gRPC listener.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Address is the gRPC listen address.
	// Default: ":9090"
	Address string `yaml:"address,omitempty" json:"address,omitempty"`

	// Policy, if set, rate limits every RPC.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`

	// KeyMetadata is the metadata entry that identifies a caller.
	// Default: "x-api-key"
	KeyMetadata string `yaml:"key_metadata,omitempty" json:"key_metadata,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.RateLimit.KeyHeader == "" {
		c.RateLimit.KeyHeader = DefaultKeyHeader
	}
	if c.RateLimit.ExcludedPaths == nil {
		c.RateLimit.ExcludedPaths = []string{"/health", "/metrics"}
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = DefaultGRPCAddress
	}
	if c.GRPC.KeyMetadata == "" {
		c.GRPC.KeyMetadata = DefaultKeyMetadata
	}
	c.Auth.SetDefaults()
}

// Validate checks ServerConfig for errors.
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.RateLimit.Enabled && c.RateLimit.Policy == "" {
		return fmt.Errorf("rate_limit.policy is required when rate_limit is enabled")
	}
	if c.GRPC.Enabled && c.GRPC.Address == "" {
		return fmt.Errorf("grpc.address is required when grpc is enabled")
	}
	return c.Auth.Validate()
}
