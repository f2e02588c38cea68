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
	"math"
	"sync"
	"time"
)

// window holds the two adjacent counts of the sliding-window approximation.
// It is a plain value; synchronisation belongs to windowState.
type window struct {
	previous int64
	current  int64
	start    time.Time
}

// slide moves the window forward so that now falls inside the current window.
//
// After idleReset of inactivity both counts are discarded and the window is
// restarted at now. Otherwise the start advances by whole window lengths,
// keeping boundaries on a fixed grid per key.
func (w *window) slide(now time.Time, size, idleReset time.Duration) {
	elapsed := now.Sub(w.start)

	switch {
	case elapsed >= idleReset:
		w.previous = 0
		w.current = 0
		w.start = now
	case elapsed >= size:
		n := elapsed / size
		if n == 1 {
			w.previous = w.current
		} else {
			w.previous = 0
		}
		w.current = 0
		w.start = w.start.Add(n * size)
	}
}

// elapsedRatio returns how far now is into the current window, in [0, 1].
func (w *window) elapsedRatio(now time.Time, size time.Duration) float64 {
	ratio := float64(now.Sub(w.start)) / float64(size)
	return math.Min(1, math.Max(0, ratio))
}

// estimate linearly decays the previous window's count as the current window
// progresses and adds the current count.
func (w *window) estimate(now time.Time, size time.Duration) float64 {
	ratio := w.elapsedRatio(now, size)
	return float64(w.previous)*(1-ratio) + float64(w.current)
}

// retryAfter returns how long a caller has to wait, with no other traffic,
// until cost fits under limit. It returns 0 when cost can never fit.
func (w *window) retryAfter(now time.Time, size time.Duration, limit, cost int64) time.Duration {
	if cost > limit {
		return 0
	}

	elapsed := now.Sub(w.start)
	if elapsed < 0 {
		elapsed = 0
	}

	if w.current+cost <= limit {
		if w.previous == 0 {
			return 0
		}
		// previous*(1-r) + current + cost <= limit
		ratio := 1 - float64(limit-w.current-cost)/float64(w.previous)
		wait := time.Duration(math.Ceil(ratio*float64(size))) - elapsed
		if wait < 0 {
			return 0
		}
		return wait
	}

	// Wait for the window to roll; current becomes previous:
	// current*(1-r) + cost <= limit
	ratio := 1 - float64(limit-cost)/float64(w.current)
	return (size - elapsed) + time.Duration(math.Ceil(ratio*float64(size)))
}

// windowState is the mutable per-key record. Its mutex serialises every
// read-modify-write on the fields below.
type windowState struct {
	mu         sync.Mutex
	window     window
	lastAccess time.Time

	// evicted is set by the sweeper once the state is no longer reachable
	// from the key map. Callers that locked an evicted state must look the
	// key up again.
	evicted bool
}

func newWindowState(now time.Time) *windowState {
	return &windowState{
		window:     window{start: now},
		lastAccess: now,
	}
}

// policy is the immutable part of a Config the algorithm needs.
type policy struct {
	limit     int64
	size      time.Duration
	idleReset time.Duration
}

func newPolicy(cfg Config) policy {
	return policy{
		limit:     cfg.MaxRequestsPerKey,
		size:      cfg.WindowSize,
		idleReset: time.Duration(cfg.IdleResetWindows) * cfg.WindowSize,
	}
}

// take slides the window, then admits cost if the estimate leaves room for
// it. The caller must hold s.mu.
func (s *windowState) take(now time.Time, p policy, cost int64) Decision {
	s.window.slide(now, p.size, p.idleReset)
	s.lastAccess = now

	est := s.window.estimate(now, p.size)
	d := Decision{
		Cost:    cost,
		Limit:   p.limit,
		ResetAt: s.window.start.Add(p.size),
	}

	if est+float64(cost) > float64(p.limit) {
		d.Reason = ReasonQuota
		d.Estimate = est
		d.Remaining = remaining(p.limit, est)
		d.RetryAfter = s.window.retryAfter(now, p.size, p.limit, cost)
		return d
	}

	s.window.current += cost
	est += float64(cost)

	d.Allowed = true
	d.Reason = ReasonAllowed
	d.Estimate = est
	d.Remaining = remaining(p.limit, est)
	return d
}

// usage reports the state as it would look at now without modifying it.
// The caller must hold s.mu.
func (s *windowState) usage(now time.Time, p policy) Usage {
	w := s.window
	w.slide(now, p.size, p.idleReset)
	est := w.estimate(now, p.size)

	return Usage{
		PreviousCount: w.previous,
		CurrentCount:  w.current,
		Estimate:      est,
		Limit:         p.limit,
		Remaining:     remaining(p.limit, est),
		WindowStart:   w.start,
		ResetAt:       w.start.Add(p.size),
		LastAccess:    s.lastAccess,
	}
}
