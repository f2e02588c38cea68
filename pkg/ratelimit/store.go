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
	"sync"
	"time"
)

// keyStore maps keys to their window state.
//
// Lock order: mu is the map-level lock and is always released before a
// caller of getOrCreate locks the returned state. Only the sweeper takes a
// state lock while holding mu (see sweep), and nothing takes mu while holding
// a state lock, so the two tiers cannot deadlock.
type keyStore[K comparable] struct {
	mu      sync.RWMutex
	states  map[K]*windowState
	maxKeys int // 0 means unbounded

	// lastCleanup is written only by sweep, under mu.
	lastCleanup time.Time
}

func newKeyStore[K comparable](maxKeys *int, now time.Time) *keyStore[K] {
	s := &keyStore[K]{
		states:      make(map[K]*windowState),
		lastCleanup: now,
	}
	if maxKeys != nil {
		s.maxKeys = *maxKeys
	}
	return s
}

// lookup returns the state for key, if tracked.
func (s *keyStore[K]) lookup(key K) (*windowState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[key]
	return state, ok
}

// getOrCreate returns the state for key, creating it when the key is new.
// It returns nil when the key is new and the store is already at capacity.
func (s *keyStore[K]) getOrCreate(key K, now time.Time) *windowState {
	if state, ok := s.lookup(key); ok {
		return state
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have inserted key while we waited for the lock.
	if state, ok := s.states[key]; ok {
		return state
	}

	if s.maxKeys > 0 && len(s.states) >= s.maxKeys {
		return nil
	}

	state := newWindowState(now)
	s.states[key] = state
	return state
}

// remove drops key and marks its state evicted. It reports whether the key
// was tracked.
func (s *keyStore[K]) remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[key]
	if !ok {
		return false
	}

	state.mu.Lock()
	state.evicted = true
	state.mu.Unlock()

	delete(s.states, key)
	return true
}

// len returns the number of tracked keys.
func (s *keyStore[K]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
