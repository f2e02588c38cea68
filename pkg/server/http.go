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
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kadirpekel/ratewindow/pkg/auth"
	"github.com/kadirpekel/ratewindow/pkg/config"
	"github.com/kadirpekel/ratewindow/pkg/observability"
	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// HTTPServer serves the policy API.
type HTTPServer struct {
	registry      *ratelimit.Registry
	observability *observability.Manager
	validator     auth.TokenValidator

	mu        sync.RWMutex
	appCfg    *config.Config
	serverCfg config.ServerConfig
}

// HTTPServerOption configures the HTTP server.
type HTTPServerOption func(*HTTPServer)

// WithObservability sets the observability manager for tracing and metrics.
func WithObservability(obs *observability.Manager) HTTPServerOption {
	return func(s *HTTPServer) {
		s.observability = obs
	}
}

// WithAuth requires bearer tokens validated by v.
func WithAuth(v auth.TokenValidator) HTTPServerOption {
	return func(s *HTTPServer) {
		s.validator = v
	}
}

// NewHTTPServer creates the HTTP server. cfg must be defaulted and valid and
// registry must hold its policies.
func NewHTTPServer(cfg *config.Config, registry *ratelimit.Registry, opts ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{
		registry:  registry,
		appCfg:    cfg,
		serverCfg: cfg.Server,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// UpdateConfig swaps the configuration reported by GET /v1/config. Listener
// settings only take effect on restart.
func (s *HTTPServer) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appCfg = cfg
}

func (s *HTTPServer) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appCfg
}

// Handler builds the router with its middleware chain.
// Order: request ID -> observability -> logging -> auth -> rate limit -> routes.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	if s.observability != nil {
		r.Use(observability.HTTPMiddleware(s.observability.Tracer(), s.observability.Metrics()))
	}
	r.Use(loggingMiddleware)

	if s.validator != nil {
		r.Use(auth.Middleware(s.validator, s.serverCfg.Auth.ExcludedPaths...))
		slog.Info("API authentication enabled", "excluded_paths", s.serverCfg.Auth.ExcludedPaths)
	}

	if rl := s.serverCfg.RateLimit; rl.Enabled {
		keyFunc := ratelimit.HeaderKeyFunc(rl.KeyHeader)
		if s.validator != nil {
			keyFunc = auth.SubjectKeyFunc(keyFunc)
		}
		mw := ratelimit.MiddlewareConfig{
			Limiter:       s.registry.Policy(rl.Policy),
			Policy:        rl.Policy,
			KeyFunc:       keyFunc,
			ExcludedPaths: rl.ExcludedPaths,
		}
		if s.observability != nil {
			mw.Observer = s.observability.Recorder()
		}
		r.Use(ratelimit.Middleware(mw))
		slog.Info("API rate limiting enabled", "policy", rl.Policy, "key_header", rl.KeyHeader)
	}

	r.Get("/health", s.handleHealth)

	if s.observability != nil && s.observability.Metrics() != nil {
		path := s.observability.Config().Metrics.Endpoint
		r.Method(http.MethodGet, path, s.observability.Metrics().Handler())
		slog.Info("Metrics endpoint enabled", "path", path)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/schema", s.handleSchema)
		r.Get("/config", s.handleConfig)
		r.Get("/policies", s.handleListPolicies)
		r.Route("/policies/{policy}", func(r chi.Router) {
			r.Post("/check", s.handleCheck)
			r.Get("/keys/{key}", s.handleUsage)
			r.Delete("/keys/{key}", s.handleReset)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}

// NewHTTP builds the *http.Server for addr.
func (s *HTTPServer) NewHTTP() *http.Server {
	return &http.Server{
		Addr:              s.serverCfg.Address,
		Handler:           s.Handler(),
		ReadTimeout:       s.serverCfg.ReadTimeout,
		ReadHeaderTimeout: s.serverCfg.ReadTimeout,
		WriteTimeout:      s.serverCfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the request ID assigned by the server.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// loggingMiddleware logs requests at debug level.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"duration", time.Since(start),
		)
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
