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

// Package config loads and validates the ratewindow service configuration.
//
// Configuration is read from a YAML file, overlaid with RATEWINDOW_*
// environment variables and expanded for ${VAR} and ${VAR:-default}
// references. Unknown keys are rejected.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/ratewindow/pkg/logger"
	"github.com/kadirpekel/ratewindow/pkg/observability"
	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

// Config is the root configuration.
type Config struct {
	// Logger configures process-wide logging.
	Logger LoggerConfig `yaml:"logger,omitempty" json:"logger,omitempty"`

	// Server configures the HTTP and gRPC listeners.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`

	// Policies maps a policy name to its quota.
	Policies map[string]PolicyConfig `yaml:"policies" json:"policies"`
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	for name, p := range c.Policies {
		p.SetDefaults()
		c.Policies[name] = p
	}
}

// Validate reports every configuration error found.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Logger.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logger: %w", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	if len(c.Policies) == 0 {
		errs = append(errs, errors.New("policies: at least one policy is required"))
	}
	for _, name := range c.PolicyNames() {
		if strings.ContainsAny(name, ". ") || name == "" {
			errs = append(errs, fmt.Errorf("policies: invalid policy name %q", name))
			continue
		}
		p := c.Policies[name]
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("policies.%s: %w", name, err))
		}
	}

	if rl := c.Server.RateLimit; rl.Enabled {
		if _, ok := c.Policies[rl.Policy]; !ok {
			errs = append(errs, fmt.Errorf("server.rate_limit: unknown policy %q", rl.Policy))
		}
	}
	if g := c.Server.GRPC; g.Enabled && g.Policy != "" {
		if _, ok := c.Policies[g.Policy]; !ok {
			errs = append(errs, fmt.Errorf("server.grpc: unknown policy %q", g.Policy))
		}
	}

	return errors.Join(errs...)
}

// PolicyNames returns the policy names in sorted order.
func (c *Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LimiterConfigs converts every policy to a limiter configuration.
func (c *Config) LimiterConfigs() map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(c.Policies))
	for name, p := range c.Policies {
		out[name] = p.ToLimiterConfig()
	}
	return out
}

// LoggerConfig configures logging.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// Format is one of simple, verbose, json.
	// Default: "simple"
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// File, if set, receives log output instead of stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// SetDefaults applies default values to LoggerConfig.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = logger.FormatSimple
	}
}

// Validate checks LoggerConfig for errors.
func (c *LoggerConfig) Validate() error {
	if _, err := logger.ParseLevel(c.Level); err != nil {
		return err
	}
	if !logger.ValidFormat(c.Format) {
		return fmt.Errorf("invalid format %q (valid: simple, verbose, json)", c.Format)
	}
	return nil
}
