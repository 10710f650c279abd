package anomaly

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "trialpulse.anomaly"
)

// detectionTracer provides OpenTelemetry instrumentation for detection runs
type detectionTracer struct {
	tracer trace.Tracer

	runsTotal      metric.Int64Counter
	findingsTotal  metric.Int64Counter
	tasksSkipped   metric.Int64Counter
	inputsRejected metric.Int64Counter
	runDuration    metric.Float64Histogram
}

func newDetectionTracer() (*detectionTracer, error) {
	meter := otel.Meter(TracerName)

	runsTotal, err := meter.Int64Counter(
		"detection_runs_total",
		metric.WithDescription("Total number of detection runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection metrics: %w", err)
	}

	findingsTotal, err := meter.Int64Counter(
		"detection_findings_total",
		metric.WithDescription("Total number of anomaly records produced"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection metrics: %w", err)
	}

	tasksSkipped, err := meter.Int64Counter(
		"detection_tasks_skipped_total",
		metric.WithDescription("Total number of detection tasks skipped on unusable input"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection metrics: %w", err)
	}

	inputsRejected, err := meter.Int64Counter(
		"detection_observations_rejected_total",
		metric.WithDescription("Total number of observations rejected by input validation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection metrics: %w", err)
	}

	runDuration, err := meter.Float64Histogram(
		"detection_run_duration_seconds",
		metric.WithDescription("Detection run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection metrics: %w", err)
	}

	return &detectionTracer{
		tracer:         otel.Tracer(TracerName),
		runsTotal:      runsTotal,
		findingsTotal:  findingsTotal,
		tasksSkipped:   tasksSkipped,
		inputsRejected: inputsRejected,
		runDuration:    runDuration,
	}, nil
}

// traceDetection opens the span covering one full detection run
func (dt *detectionTracer) traceDetection(ctx context.Context, observations int) (context.Context, trace.Span) {
	ctx, span := dt.tracer.Start(ctx, "anomaly.detect",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("detection.observations", observations),
		),
	)
	dt.runsTotal.Add(ctx, 1)
	return ctx, span
}

// recordCompletion records run metrics and closes out the span
func (dt *detectionTracer) recordCompletion(ctx context.Context, span trace.Span, summary Summary, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("detection.cells", summary.Cells),
		attribute.Int("detection.sites", summary.Sites),
		attribute.Int("detection.findings", summary.Findings),
		attribute.Int("detection.tasks_skipped", summary.TasksSkipped),
		attribute.Float64("detection.duration_seconds", duration.Seconds()),
	)

	dt.runDuration.Record(ctx, duration.Seconds())
	for severity, n := range summary.BySeverity {
		dt.findingsTotal.Add(ctx, int64(n),
			metric.WithAttributes(attribute.String("severity", string(severity))),
		)
	}
	if summary.TasksSkipped > 0 {
		dt.tasksSkipped.Add(ctx, int64(summary.TasksSkipped))
	}
	if summary.Rejected > 0 {
		dt.inputsRejected.Add(ctx, int64(summary.Rejected))
	}
	span.SetStatus(codes.Ok, "detection completed")
}

// recordFailure marks the run span failed
func (dt *detectionTracer) recordFailure(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
