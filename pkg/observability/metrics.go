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

package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// TrackedKeysFunc reports the number of tracked keys per policy.
type TrackedKeysFunc func() map[string]int

// Metrics records rate limiter and HTTP metrics and exposes them in the
// Prometheus text format. A nil *Metrics is valid and records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	decisions    metric.Int64Counter
	costAdmitted metric.Int64Counter
	trackedKeys  metric.Int64ObservableGauge

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewMetrics creates the metric instruments. It returns nil when metrics are
// disabled. trackedKeys may be nil.
func NewMetrics(cfg MetricsConfig, trackedKeys TrackedKeysFunc) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)

	m := &Metrics{
		provider: provider,
		registry: registry,
	}

	m.decisions, err = meter.Int64Counter(
		"decisions",
		metric.WithDescription("Admission decisions by policy and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.costAdmitted, err = meter.Int64Counter(
		"cost_admitted",
		metric.WithDescription("Total cost admitted by policy"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}

	m.httpRequests, err = meter.Int64Counter(
		"http_requests",
		metric.WithDescription("HTTP requests by method, route and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"http_request_duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	if trackedKeys != nil {
		m.trackedKeys, err = meter.Int64ObservableGauge(
			"tracked_keys",
			metric.WithDescription("Keys currently tracked by policy"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				for policy, n := range trackedKeys() {
					o.Observe(int64(n), metric.WithAttributes(attribute.String("policy", policy)))
				}
				return nil
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracked keys gauge: %w", err)
		}
	}

	return m, nil
}

// RecordDecision counts one admission decision.
func (m *Metrics) RecordDecision(ctx context.Context, policy string, allowed bool, reason string, cost int64) {
	if m == nil {
		return
	}

	outcome := OutcomeDenied
	if allowed {
		outcome = OutcomeAllowed
	}

	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))

	if allowed && cost > 0 {
		m.costAdmitted.Add(ctx, cost, metric.WithAttributes(attribute.String("policy", policy)))
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(statusCode)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
