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

package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultKeyHeader is the request header consulted by DefaultKeyFunc.
const DefaultKeyHeader = "X-API-Key"

// KeyFunc extracts the rate limit key from an HTTP request.
// An empty key lets the request through unchecked.
type KeyFunc func(r *http.Request) string

// HeaderKeyFunc keys requests by a header, falling back to the client IP.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return v
		}
		return ClientIP(r)
	}
}

// DefaultKeyFunc keys requests by the X-API-Key header, falling back to the
// client IP.
func DefaultKeyFunc(r *http.Request) string {
	return HeaderKeyFunc(DefaultKeyHeader)(r)
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MiddlewareConfig configures the rate limiting middleware.
type MiddlewareConfig struct {
	// Limiter is the rate limiter to use.
	Limiter Limiter[string]

	// Policy names the limiter in logs and observer callbacks.
	Policy string

	// KeyFunc extracts the key from requests.
	// If nil, DefaultKeyFunc is used.
	KeyFunc KeyFunc

	// CostFunc returns the cost of a request.
	// If nil, every request costs 1.
	CostFunc func(r *http.Request) int64

	// ExcludedPaths are paths that bypass rate limiting.
	ExcludedPaths []string

	// Observer, if set, is told about every decision.
	Observer Observer

	// OnLimited is called when a request is rate limited.
	// If nil, a default JSON error response is sent.
	OnLimited func(w http.ResponseWriter, r *http.Request, d Decision)
}

// Middleware creates an HTTP middleware that enforces rate limits.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		// No limiter configured, pass through
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultKeyFunc
	}

	if cfg.OnLimited == nil {
		cfg.OnLimited = defaultOnLimited
	}

	excludedPaths := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, path := range cfg.ExcludedPaths {
		excludedPaths[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excludedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.KeyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			cost := int64(1)
			if cfg.CostFunc != nil {
				cost = cfg.CostFunc(r)
			}

			d := cfg.Limiter.Take(key, cost)
			if cfg.Observer != nil {
				cfg.Observer.ObserveDecision(r.Context(), cfg.Policy, d)
			}

			ctx := context.WithValue(r.Context(), decisionKey{}, d)
			r = r.WithContext(ctx)

			addRateLimitHeaders(w, d)

			if !d.Allowed {
				slog.Debug("Request rate limited",
					"policy", cfg.Policy,
					"key", key,
					"reason", d.Reason,
					"retry_after", d.RetryAfter)
				cfg.OnLimited(w, r, d)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// decisionKey is the context key for the rate limit decision.
type decisionKey struct{}

// DecisionFromContext returns the decision the middleware made for the
// request, if any.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// retryAfterSeconds rounds d up to whole seconds, as Retry-After requires.
func retryAfterSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

// defaultOnLimited sends a JSON 429 response.
func defaultOnLimited(w http.ResponseWriter, r *http.Request, d Decision) {
	w.Header().Set("Content-Type", "application/json")

	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10))
	}

	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "rate_limit_exceeded",
			"message": NewRateLimitError(d).Error(),
			"reason":  d.Reason,
		},
		"limit":     d.Limit,
		"remaining": d.Remaining,
	}

	if d.RetryAfter > 0 {
		response["retry_after_seconds"] = retryAfterSeconds(d.RetryAfter)
	}

	_ = json.NewEncoder(w).Encode(response)
}

// addRateLimitHeaders adds standard rate limit headers to the response.
func addRateLimitHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit <= 0 {
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// SimpleMiddleware creates a rate limiting middleware with default settings.
func SimpleMiddleware(limiter Limiter[string], excludedPaths ...string) func(http.Handler) http.Handler {
	return Middleware(MiddlewareConfig{
		Limiter:       limiter,
		ExcludedPaths: excludedPaths,
	})
}
