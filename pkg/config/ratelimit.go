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
	"errors"
	"time"

	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

// PolicyConfig defines one named quota.
type PolicyConfig struct {
	// Limit is the maximum cost admitted per key per window.
	Limit int64 `yaml:"limit" json:"limit"`

	// Window is the window length, e.g. "1s", "1m".
	Window time.Duration `yaml:"window" json:"window"`

	// TTL is how long an idle key is kept.
	// Default: 5m
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// CleanupInterval is the minimum spacing between sweeps of idle keys.
	// Default: 30s
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty" json:"cleanup_interval,omitempty"`

	// MaxKeys caps the number of tracked keys. Unset means unbounded.
	MaxKeys *int `yaml:"max_keys,omitempty" json:"max_keys,omitempty"`

	// IdleResetWindows is the number of idle windows after which a key
	// starts over.
	// Default: 2
	IdleResetWindows int `yaml:"idle_reset_windows,omitempty" json:"idle_reset_windows,omitempty"`
}

// fieldNames maps limiter field names to their YAML keys.
var fieldNames = map[string]string{
	"max_requests_per_key": "limit",
	"window_size":          "window",
}

// SetDefaults applies default values to PolicyConfig.
func (c *PolicyConfig) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = ratelimit.DefaultTTL
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = ratelimit.DefaultCleanupInterval
	}
	if c.IdleResetWindows == 0 {
		c.IdleResetWindows = ratelimit.DefaultIdleResetWindows
	}
}

// Validate checks PolicyConfig for errors. Violations are reported as
// *ratelimit.ValidationError using the YAML key names.
func (c *PolicyConfig) Validate() error {
	cfg := c.ToLimiterConfig()
	err := cfg.Validate()
	if err == nil {
		return nil
	}

	var renamed []error
	for _, e := range unjoin(err) {
		var verr *ratelimit.ValidationError
		if errors.As(e, &verr) {
			field := verr.Field
			if name, ok := fieldNames[field]; ok {
				field = name
			}
			e = ratelimit.NewValidationError(field, verr.Message)
		}
		renamed = append(renamed, e)
	}
	return errors.Join(renamed...)
}

// ToLimiterConfig converts the policy to a limiter configuration.
func (c *PolicyConfig) ToLimiterConfig() ratelimit.Config {
	cfg := ratelimit.Config{
		MaxRequestsPerKey: c.Limit,
		WindowSize:        c.Window,
		TTL:               c.TTL,
		CleanupInterval:   c.CleanupInterval,
		IdleResetWindows:  c.IdleResetWindows,
	}
	if c.MaxKeys != nil {
		cfg.MaxKeys = ratelimit.IntPtr(*c.MaxKeys)
	}
	return cfg
}

func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
