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
	"sort"
	"sync"
)

// Registry holds one limiter per named policy. Components that issue
// admission checks receive a Registry (or a single limiter) explicitly; there
// is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*SlidingWindowLimiter[string]
	opts     []Option

	replaceMu sync.Mutex // serialises Replace
}

// NewRegistry builds a limiter for every policy. Options apply to all of them.
func NewRegistry(policies map[string]Config, opts ...Option) (*Registry, error) {
	r := &Registry{
		limiters: make(map[string]*SlidingWindowLimiter[string], len(policies)),
		opts:     opts,
	}

	for name, cfg := range policies {
		limiter, err := New[string](cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		r.limiters[name] = limiter
	}

	return r, nil
}

// Get returns the limiter for a policy.
func (r *Registry) Get(name string) (*SlidingWindowLimiter[string], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limiter, ok := r.limiters[name]
	return limiter, ok
}

// Lookup returns the limiter for a policy or an error wrapping
// ErrPolicyNotFound.
func (r *Registry) Lookup(name string) (*SlidingWindowLimiter[string], error) {
	limiter, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return limiter, nil
}

// Names returns the registered policy names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps in a new set of policies. Policies whose effective config
// is unchanged keep their limiter and its state; changed policies start from
// an empty limiter; policies absent from the new set are dropped. On error
// the registry is left untouched.
func (r *Registry) Replace(policies map[string]Config) error {
	r.replaceMu.Lock()
	defer r.replaceMu.Unlock()

	r.mu.RLock()
	current := r.limiters
	r.mu.RUnlock()

	next := make(map[string]*SlidingWindowLimiter[string], len(policies))
	for name, cfg := range policies {
		cfg.SetDefaults()
		if existing, ok := current[name]; ok && existing.cfg.equal(cfg) {
			next[name] = existing
			continue
		}

		limiter, err := New[string](cfg, r.opts...)
		if err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
		next[name] = limiter
	}

	r.mu.Lock()
	r.limiters = next
	r.mu.Unlock()
	return nil
}

// TrackedKeys returns the number of tracked keys per policy.
func (r *Registry) TrackedKeys() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.limiters))
	for name, limiter := range r.limiters {
		out[name] = limiter.Len()
	}
	return out
}

// Policy returns a Limiter that resolves the named policy on every call, so
// it follows Replace. While the policy is absent every request is admitted
// with a zero Limit.
func (r *Registry) Policy(name string) Limiter[string] {
	return &policyLimiter{registry: r, name: name}
}

type policyLimiter struct {
	registry *Registry
	name     string
}

func (p *policyLimiter) Allow(key string) bool {
	return p.Take(key, 1).Allowed
}

func (p *policyLimiter) AllowN(key string, cost int64) bool {
	return p.Take(key, cost).Allowed
}

func (p *policyLimiter) Take(key string, cost int64) Decision {
	limiter, ok := p.registry.Get(p.name)
	if !ok {
		return Decision{Allowed: true, Reason: ReasonAllowed, Cost: cost}
	}
	return limiter.Take(key, cost)
}

func (p *policyLimiter) Usage(key string) (Usage, bool) {
	limiter, ok := p.registry.Get(p.name)
	if !ok {
		return Usage{}, false
	}
	return limiter.Usage(key)
}

func (p *policyLimiter) Reset(key string) bool {
	limiter, ok := p.registry.Get(p.name)
	if !ok {
		return false
	}
	return limiter.Reset(key)
}

func (p *policyLimiter) Len() int {
	limiter, ok := p.registry.Get(p.name)
	if !ok {
		return 0
	}
	return limiter.Len()
}
