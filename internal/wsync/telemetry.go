package wsync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("wsync-go/internal/wsync")
	meter  = otel.Meter("wsync-go/internal/wsync")
)

// updateMetrics holds the engine's instruments. A nil *updateMetrics records nothing.
type updateMetrics struct {
	runs       metric.Int64Counter
	duration   metric.Float64Histogram
	stepFailed metric.Int64Counter
}

func newUpdateMetrics() (*updateMetrics, error) {
	runs, err := meter.Int64Counter("wsync_update_runs_total",
		metric.WithDescription("Total number of workspace update runs by result"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("wsync_update_duration_seconds",
		metric.WithDescription("Duration of finished workspace update runs"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	stepFailed, err := meter.Int64Counter("wsync_build_step_failures_total",
		metric.WithDescription("Build steps that exited with a non-zero code"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, err
	}
	return &updateMetrics{runs: runs, duration: duration, stepFailed: stepFailed}, nil
}

func (m *updateMetrics) recordRun(ctx context.Context, opts WorkspaceUpdateOptions, result WorkspaceUpdateResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("result", result.String()),
		attribute.Bool("scheduled", opts.Has(OptionScheduledBuild)),
	)
	m.runs.Add(ctx, 1, attrs)
	// canceled runs have no meaningful duration
	if result != ResultCanceled {
		m.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func (m *updateMetrics) recordStepFailure(ctx context.Context, step BuildStep) {
	if m == nil {
		return
	}
	m.stepFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step.Description),
		attribute.String("type", step.Type.String()),
	))
}
