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
	"errors"
	"time"
)

const (
	// DefaultTTL is how long an idle key is kept before it may be evicted.
	DefaultTTL = 5 * time.Minute

	// DefaultCleanupInterval is the minimum spacing between two sweeps.
	DefaultCleanupInterval = 30 * time.Second

	// DefaultIdleResetWindows is the number of window lengths of inactivity
	// after which a key's counts are discarded instead of slid.
	DefaultIdleResetWindows = 2
)

// Config describes one quota policy.
type Config struct {
	// MaxRequestsPerKey is the quota ceiling per key per window.
	// Must be positive.
	MaxRequestsPerKey int64 `json:"max_requests_per_key"`

	// WindowSize is the length of one window.
	// Must be positive.
	WindowSize time.Duration `json:"window_size"`

	// TTL is the idle duration after which a key may be evicted.
	// Default: 5 minutes.
	TTL time.Duration `json:"ttl"`

	// CleanupInterval is the minimum spacing between sweeps.
	// Default: 30 seconds.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// MaxKeys optionally caps the number of distinct tracked keys. New keys
	// are denied once the cap is reached. Nil means unbounded.
	MaxKeys *int `json:"max_keys,omitempty"`

	// IdleResetWindows is the idle threshold, in windows, that triggers a
	// full reset rather than a slide. Must be at least 2.
	// Default: 2.
	IdleResetWindows int `json:"idle_reset_windows"`
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

// SetDefaults fills zero-valued optional fields.
func (c *Config) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.IdleResetWindows == 0 {
		c.IdleResetWindows = DefaultIdleResetWindows
	}
}

// Validate reports every violated constraint. Each violation is a
// *ValidationError; several are joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxRequestsPerKey <= 0 {
		errs = append(errs, NewValidationError("max_requests_per_key", "must be positive"))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, NewValidationError("window_size", "must be positive"))
	}
	if c.TTL <= 0 {
		errs = append(errs, NewValidationError("ttl", "must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, NewValidationError("cleanup_interval", "must be positive"))
	}
	if c.MaxKeys != nil && *c.MaxKeys <= 0 {
		errs = append(errs, NewValidationError("max_keys", "must be positive if specified"))
	}
	if c.IdleResetWindows < 2 {
		errs = append(errs, NewValidationError("idle_reset_windows", "must be at least 2"))
	}

	return errors.Join(errs...)
}

// equal reports whether two configs describe the same policy.
func (c Config) equal(other Config) bool {
	if c.MaxRequestsPerKey != other.MaxRequestsPerKey ||
		c.WindowSize != other.WindowSize ||
		c.TTL != other.TTL ||
		c.CleanupInterval != other.CleanupInterval ||
		c.IdleResetWindows != other.IdleResetWindows {
		return false
	}
	switch {
	case c.MaxKeys == nil && other.MaxKeys == nil:
		return true
	case c.MaxKeys == nil || other.MaxKeys == nil:
		return false
	default:
		return *c.MaxKeys == *other.MaxKeys
	}
}
