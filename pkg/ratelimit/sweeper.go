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

import "time"

// sweepDue reports, under the read lock, whether a sweep should run.
func (s *keyStore[K]) sweepDue(now time.Time, interval time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastCleanup) >= interval
}

// sweep evicts every key idle for at least ttl, provided interval has passed
// since the previous sweep. It returns the number of evicted keys.
//
// Sweeps are never scheduled on their own; limiters call maybeSweep on the
// admission path so the cost is amortised over callers.
func (s *keyStore[K]) sweep(now time.Time, interval, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check: a concurrent caller may have swept already.
	if now.Sub(s.lastCleanup) < interval {
		return 0
	}

	evicted := 0
	for key, state := range s.states {
		state.mu.Lock()
		idle := now.Sub(state.lastAccess) >= ttl
		if idle {
			state.evicted = true
		}
		state.mu.Unlock()

		if idle {
			delete(s.states, key)
			evicted++
		}
	}

	s.lastCleanup = now
	return evicted
}

// maybeSweep runs a sweep when one is due.
func (s *keyStore[K]) maybeSweep(now time.Time, interval, ttl time.Duration) int {
	if !s.sweepDue(now, interval) {
		return 0
	}
	return s.sweep(now, interval, ttl)
}
