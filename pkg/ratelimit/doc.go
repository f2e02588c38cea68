// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit provides a per-key sliding-window rate limiter.
//
// Features:
//   - Generic keys (any comparable type: user IDs, IPs, API tokens)
//   - Weighted two-window estimate with O(1) memory per key
//   - Weighted requests through a per-call cost
//   - Bounded key space (MaxKeys) against cardinality attacks
//   - Lazy TTL eviction of idle keys, no background goroutines
//   - Injectable Clock for deterministic tests
//   - HTTP middleware and gRPC interceptors
//
// # Basic Usage
//
//	limiter, err := ratelimit.New[string](ratelimit.Config{
//	    MaxRequestsPerKey: 100,
//	    WindowSize:        time.Minute,
//	    MaxKeys:           ratelimit.IntPtr(10000),
//	})
//	if err != nil {
//	    return err
//	}
//
//	if !limiter.Allow(clientIP) {
//	    // Reject with 429 Too Many Requests
//	}
//
// # Algorithm
//
// Each key keeps the count of the previous and the current fixed window.
// The number of requests in the sliding window ending now is estimated as
//
//	previous * (1 - elapsed/window) + current
//
// and a request of cost c is admitted when estimate + c <= limit. A key idle
// for IdleResetWindows windows (default 2) starts over from zero.
//
// # Locking
//
// The key map is guarded by a read-write mutex and every key has its own
// mutex. A caller releases the map lock before locking a key; only the sweeper
// locks keys while holding the map lock. Denial is an ordinary false result,
// never an error.
package ratelimit
