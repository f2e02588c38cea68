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

package server

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ratewindow/pkg/config"
	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

const maxCheckBody = 64 << 10

// checkRequest is the body of POST /v1/policies/{policy}/check.
type checkRequest struct {
	Key  string `json:"key"`
	Cost *int64 `json:"cost,omitempty"`
}

// decisionResponse is the wire form of a ratelimit.Decision.
type decisionResponse struct {
	Policy       string    `json:"policy"`
	Key          string    `json:"key"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason"`
	Cost         int64     `json:"cost"`
	Limit        int64     `json:"limit"`
	Remaining    int64     `json:"remaining"`
	Estimate     float64   `json:"estimate"`
	ResetAt      time.Time `json:"reset_at,omitzero"`
	RetryAfterMS int64     `json:"retry_after_ms,omitempty"`
}

type usageResponse struct {
	Policy string          `json:"policy"`
	Key    string          `json:"key"`
	Usage  ratelimit.Usage `json:"usage"`
	Used   float64         `json:"used_percent"`
}

type policyResponse struct {
	Name             string `json:"name"`
	Limit            int64  `json:"limit"`
	Window           string `json:"window"`
	TTL              string `json:"ttl"`
	CleanupInterval  string `json:"cleanup_interval"`
	MaxKeys          *int   `json:"max_keys,omitempty"`
	IdleResetWindows int    `json:"idle_reset_windows"`
	TrackedKeys      int    `json:"tracked_keys"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.Schema())
}

// redactedHeader replaces exporter header values, which often carry
// credentials.
const redactedHeader = "REDACTED"

func (s *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.config()
	if headers := cfg.Observability.Tracing.Headers; len(headers) > 0 {
		masked := make(map[string]string, len(headers))
		for k := range headers {
			masked[k] = redactedHeader
		}
		cfg.Observability.Tracing.Headers = masked
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	policies := make([]policyResponse, 0, len(names))
	for _, name := range names {
		limiter, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		cfg := limiter.Config()
		policies = append(policies, policyResponse{
			Name:             name,
			Limit:            cfg.MaxRequestsPerKey,
			Window:           cfg.WindowSize.String(),
			TTL:              cfg.TTL.String(),
			CleanupInterval:  cfg.CleanupInterval.String(),
			MaxKeys:          cfg.MaxKeys,
			IdleResetWindows: cfg.IdleResetWindows,
			TrackedKeys:      limiter.Len(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

// lookupPolicy resolves the {policy} URL parameter, writing a 404 when it is
// unknown.
func (s *HTTPServer) lookupPolicy(w http.ResponseWriter, r *http.Request) (string, *ratelimit.SlidingWindowLimiter[string], bool) {
	name := chi.URLParam(r, "policy")
	limiter, err := s.registry.Lookup(name)
	if err != nil {
		if errors.Is(err, ratelimit.ErrPolicyNotFound) {
			writeError(w, http.StatusNotFound, "policy_not_found", err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return "", nil, false
	}
	return name, limiter, true
}

func (s *HTTPServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	name, limiter, ok := s.lookupPolicy(w, r)
	if !ok {
		return
	}

	var req checkRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxCheckBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}

	cost := int64(1)
	if req.Cost != nil {
		cost = *req.Cost
	}

	d := limiter.Take(req.Key, cost)
	if s.observability != nil {
		s.observability.Recorder().ObserveDecision(r.Context(), name, d)
	}

	resp := decisionResponse{
		Policy:    name,
		Key:       req.Key,
		Allowed:   d.Allowed,
		Reason:    string(d.Reason),
		Cost:      d.Cost,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		Estimate:  d.Estimate,
		ResetAt:   d.ResetAt,
	}
	if d.RetryAfter > 0 {
		resp.RetryAfterMS = d.RetryAfter.Milliseconds()
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(d.RetryAfter.Seconds())), 10))
	}

	status := http.StatusOK
	switch d.Reason {
	case ratelimit.ReasonAllowed:
	case ratelimit.ReasonInvalidCost:
		status = http.StatusBadRequest
	default:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

func (s *HTTPServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	name, limiter, ok := s.lookupPolicy(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "key")
	usage, found := limiter.Usage(key)
	if !found {
		writeError(w, http.StatusNotFound, "key_not_found", "key is not tracked")
		return
	}

	writeJSON(w, http.StatusOK, usageResponse{
		Policy: name,
		Key:    key,
		Usage:  usage,
		Used:   usage.Percentage(),
	})
}

func (s *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	_, limiter, ok := s.lookupPolicy(w, r)
	if !ok {
		return
	}

	if !limiter.Reset(chi.URLParam(r, "key")) {
		writeError(w, http.StatusNotFound, "key_not_found", "key is not tracked")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
