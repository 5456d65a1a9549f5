// Package telemetry wires the Scheduler's per-run/per-stage spans and
// the Provider Call Gateway's counter/histogram pair onto OpenTelemetry's
// global tracer/meter providers. It never configures an exporter or
// SDK, and nothing else in this module installs one either, so the
// global no-op providers stay in place unless an embedding program sets
// its own — this package only names the
// instrumentation scope and the metric instruments shared across
// pkg/stage and pkg/provider so both record under the same names.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies this module's span/metric scope to
// whatever SDK the composition root configures.
const instrumentationName = "github.com/pipelinekit/orchestrator"

func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }
func meter() metric.Meter  { return otel.Meter(instrumentationName) }

// StartRunSpan opens the root span for one pipeline run (spec §4.7). The
// Scheduler starts it at the top of Run and ends it when Run returns, so
// it brackets exactly one Scheduler.Run call.
func StartRunSpan(ctx context.Context, runID, topology, channel string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("topology", topology),
		attribute.String("channel", channel),
	))
}

// StartStageSpan opens a child span for one stage invocation (spec §4.6).
// The Scheduler starts it in runOne, bracketing exactly one
// Stage.Execute call.
func StartStageSpan(ctx context.Context, stageName string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage", stageName),
	))
}

// EndSpan closes span, marking it as errored if err is non-nil. Safe to
// call with a nil err on every path including success.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var (
	instrumentsOnce   sync.Once
	callCounter       metric.Int64Counter
	callDuration      metric.Float64Histogram
	instrumentInitErr error
)

func instruments() (metric.Int64Counter, metric.Float64Histogram) {
	instrumentsOnce.Do(func() {
		m := meter()
		callCounter, instrumentInitErr = m.Int64Counter(
			"provider_calls_total",
			metric.WithDescription("Count of provider call attempts by operation, provider, model, and outcome."),
		)
		if instrumentInitErr != nil {
			return
		}
		callDuration, instrumentInitErr = m.Float64Histogram(
			"provider_call_duration_ms",
			metric.WithDescription("Provider call attempt duration in milliseconds."),
			metric.WithUnit("ms"),
		)
	})
	return callCounter, callDuration
}

// RecordProviderCall records one Provider Call Gateway attempt (spec
// §4.2) as a counter increment and a duration observation, both tagged
// with operation/provider/model/success so a dashboard can slice by any
// of them. Instrument construction failures (only possible with a
// misconfigured SDK) are swallowed — telemetry must never fail a
// provider call.
func RecordProviderCall(ctx context.Context, operation, provider, model string, duration time.Duration, success bool) {
	counter, histogram := instruments()
	if counter == nil || histogram == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.Bool("success", success),
	)
	counter.Add(ctx, 1, attrs)
	histogram.Record(ctx, float64(duration.Milliseconds()), attrs)
}
