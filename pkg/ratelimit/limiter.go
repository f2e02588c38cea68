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
	"fmt"
)

// SlidingWindowLimiter is a per-key sliding-window rate limiter.
//
// It approximates a true sliding window with two fixed windows per key: the
// previous window's count is weighted by how much of it still overlaps the
// sliding window, and the current window's count is added in full. Memory and
// decision time are O(1) per key.
//
// All methods are safe for concurrent use. Calls for different keys proceed
// in parallel; calls for the same key are serialised by that key's lock.
type SlidingWindowLimiter[K comparable] struct {
	cfg    Config
	policy policy
	clock  Clock
	store  *keyStore[K]
}

// Option configures a SlidingWindowLimiter.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New creates a limiter for cfg. Zero-valued optional fields take their
// defaults; any remaining violation is returned as a *ValidationError.
func New[K comparable](cfg Config, opts ...Option) (*SlidingWindowLimiter[K], error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}

	o := options{clock: SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.MaxKeys != nil {
		cfg.MaxKeys = IntPtr(*cfg.MaxKeys)
	}

	return &SlidingWindowLimiter[K]{
		cfg:    cfg,
		policy: newPolicy(cfg),
		clock:  o.clock,
		store:  newKeyStore[K](cfg.MaxKeys, o.clock.Now()),
	}, nil
}

// Allow reports whether one unit of work for key may proceed, consuming
// quota if so.
func (l *SlidingWindowLimiter[K]) Allow(key K) bool {
	return l.Take(key, 1).Allowed
}

// AllowN reports whether work of the given cost for key may proceed,
// consuming quota if so. A zero cost is admitted without touching state and
// a negative cost is always denied.
func (l *SlidingWindowLimiter[K]) AllowN(key K, cost int64) bool {
	return l.Take(key, cost).Allowed
}

// Take is AllowN returning the full decision.
func (l *SlidingWindowLimiter[K]) Take(key K, cost int64) Decision {
	if cost < 0 {
		return Decision{Reason: ReasonInvalidCost, Cost: cost, Limit: l.policy.limit}
	}
	if cost == 0 {
		return l.peek(key)
	}

	l.store.maybeSweep(l.clock.Now(), l.cfg.CleanupInterval, l.cfg.TTL)

	for {
		state := l.store.getOrCreate(key, l.clock.Now())
		if state == nil {
			return Decision{Reason: ReasonKeyspace, Cost: cost, Limit: l.policy.limit}
		}

		if d, ok := l.takeLocked(state, cost); ok {
			return d
		}
		// The state was evicted between lookup and lock; look it up again.
	}
}

func (l *SlidingWindowLimiter[K]) takeLocked(state *windowState, cost int64) (Decision, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.evicted {
		return Decision{}, false
	}
	return state.take(l.clock.Now(), l.policy, cost), true
}

// peek admits a zero-cost request, reporting the key's current standing
// without creating state or refreshing its TTL.
func (l *SlidingWindowLimiter[K]) peek(key K) Decision {
	d := Decision{Allowed: true, Reason: ReasonAllowed, Limit: l.policy.limit, Remaining: l.policy.limit}
	if u, ok := l.Usage(key); ok {
		d.Estimate = u.Estimate
		d.Remaining = u.Remaining
		d.ResetAt = u.ResetAt
	}
	return d
}

// Usage returns a snapshot of key's window as of now without consuming
// quota or refreshing the key's TTL.
func (l *SlidingWindowLimiter[K]) Usage(key K) (Usage, bool) {
	state, ok := l.store.lookup(key)
	if !ok {
		return Usage{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.evicted {
		return Usage{}, false
	}
	return state.usage(l.clock.Now(), l.policy), true
}

// Reset forgets key. It reports whether the key was tracked.
func (l *SlidingWindowLimiter[K]) Reset(key K) bool {
	return l.store.remove(key)
}

// Len returns the number of tracked keys.
func (l *SlidingWindowLimiter[K]) Len() int {
	return l.store.len()
}

// Config returns the effective configuration, defaults applied.
func (l *SlidingWindowLimiter[K]) Config() Config {
	cfg := l.cfg
	if cfg.MaxKeys != nil {
		cfg.MaxKeys = IntPtr(*cfg.MaxKeys)
	}
	return cfg
}
