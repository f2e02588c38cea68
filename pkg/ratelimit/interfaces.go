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
)

// Limiter is the admission API shared by limiter implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Limiter[K comparable] interface {
	// Allow admits one unit of work for key if it fits the quota.
	Allow(key K) bool

	// AllowN admits work of the given cost for key if it fits the quota.
	AllowN(key K, cost int64) bool

	// Take is AllowN returning the full decision.
	Take(key K, cost int64) Decision

	// Usage returns a read-only snapshot of key's window.
	Usage(key K) (Usage, bool)

	// Reset forgets key.
	Reset(key K) bool

	// Len returns the number of tracked keys.
	Len() int
}

// Observer is notified of decisions made by transport adapters.
// The limiter core never calls it.
type Observer interface {
	ObserveDecision(ctx context.Context, policy string, d Decision)
}

// Ensure interface compliance at compile time.
var (
	_ Limiter[string] = (*SlidingWindowLimiter[string])(nil)
	_ Limiter[int64]  = (*SlidingWindowLimiter[int64])(nil)
)
