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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

// Recorder turns limiter decisions into metrics and span events.
// It implements ratelimit.Observer.
type Recorder struct {
	metrics *Metrics
}

// NewRecorder creates a Recorder. metrics may be nil.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{metrics: metrics}
}

var _ ratelimit.Observer = (*Recorder)(nil)

// ObserveDecision implements ratelimit.Observer.
func (r *Recorder) ObserveDecision(ctx context.Context, policy string, d ratelimit.Decision) {
	if r == nil {
		return
	}

	r.metrics.RecordDecision(ctx, policy, d.Allowed, string(d.Reason), d.Cost)

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(SpanDecision, trace.WithAttributes(
		attribute.String(AttrPolicy, policy),
		attribute.Bool(AttrAllowed, d.Allowed),
		attribute.String(AttrReason, string(d.Reason)),
		attribute.Int64(AttrRemaining, d.Remaining),
		attribute.Float64(AttrEstimate, d.Estimate),
	))
}
