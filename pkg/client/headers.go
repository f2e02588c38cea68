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

package client

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo is what a response's rate limit headers say about the
// caller's quota. Limit and Remaining are -1 when absent.
type RateLimitInfo struct {
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
}

// ParseRateLimitHeaders reads X-RateLimit-Limit, X-RateLimit-Remaining,
// X-RateLimit-Reset (unix seconds) and Retry-After (seconds or HTTP date).
func ParseRateLimitHeaders(h http.Header) RateLimitInfo {
	info := RateLimitInfo{Limit: -1, Remaining: -1}

	if v := strings.TrimSpace(h.Get("X-RateLimit-Limit")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.Limit = n
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Remaining")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.Remaining = n
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			info.Reset = time.Unix(n, 0)
		}
	}
	info.RetryAfter = parseRetryAfter(h.Get("Retry-After"), time.Now())

	return info
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
