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
	"errors"
	"fmt"
	"log/slog"
)

// Manager owns the tracer and metrics built from a Config.
type Manager struct {
	config   Config
	tracer   *Tracer
	metrics  *Metrics
	recorder *Recorder
}

// NewManager initialises tracing and metrics according to cfg. trackedKeys
// feeds the tracked keys gauge and may be nil.
func NewManager(ctx context.Context, cfg Config, trackedKeys TrackedKeysFunc) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	tracer, err := NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics, trackedKeys)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if cfg.Tracing.Enabled || cfg.Metrics.Enabled {
		slog.Info("Observability enabled",
			"tracing", cfg.Tracing.Enabled,
			"exporter", cfg.Tracing.Exporter,
			"metrics", cfg.Metrics.Enabled,
			"metrics_path", cfg.Metrics.Endpoint)
	}

	return &Manager{
		config:   cfg,
		tracer:   tracer,
		metrics:  metrics,
		recorder: NewRecorder(metrics),
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Tracer returns the tracer, nil when tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	return m.tracer
}

// Metrics returns the metrics, nil when metrics are disabled.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Recorder returns the decision observer.
func (m *Manager) Recorder() *Recorder {
	return m.recorder
}

// Shutdown flushes and stops tracing and metrics.
func (m *Manager) Shutdown(ctx context.Context) error {
	return errors.Join(
		m.tracer.Shutdown(ctx),
		m.metrics.Shutdown(ctx),
	)
}
