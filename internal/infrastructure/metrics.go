package infrastructure

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusinessMetrics is the instrument set for pipeline, ingest, report and
// ops HTTP activity. A nil *BusinessMetrics is accepted everywhere so
// callers need no guards before telemetry is up.
type BusinessMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	PipelineRunsTotal   metric.Int64Counter
	PipelineRunDuration metric.Float64Histogram
	PipelineErrors      metric.Int64Counter

	IngestFilesTotal    metric.Int64Counter
	IngestRecordsTotal  metric.Int64Counter
	IngestRejectedTotal metric.Int64Counter
	IngestDuration      metric.Float64Histogram

	ReportsWrittenTotal metric.Int64Counter

	SystemErrors metric.Int64Counter
}

// CreateBusinessMetrics registers every application instrument on meter.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	var firstErr error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if firstErr == nil {
			firstErr = err
		}
		return c
	}
	upDown := func(name, desc string) metric.Int64UpDownCounter {
		c, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		if firstErr == nil {
			firstErr = err
		}
		return c
	}
	seconds := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if firstErr == nil {
			firstErr = err
		}
		return h
	}

	m := &BusinessMetrics{
		HTTPRequestsTotal:   counter("http_requests_total", "Total HTTP requests served by the ops endpoints"),
		HTTPRequestDuration: seconds("http_request_duration_seconds", "HTTP request latency"),
		HTTPActiveRequests:  upDown("http_active_requests", "HTTP requests currently in flight"),

		PipelineRunsTotal:   counter("pipeline_runs_total", "Total detect-and-score pipeline runs"),
		PipelineRunDuration: seconds("pipeline_run_duration_seconds", "Pipeline run duration"),
		PipelineErrors:      counter("pipeline_errors_total", "Total failed pipeline runs"),

		IngestFilesTotal:    counter("ingest_files_total", "Total input files ingested"),
		IngestRecordsTotal:  counter("ingest_records_total", "Total records ingested"),
		IngestRejectedTotal: counter("ingest_rejected_total", "Total records rejected during ingest"),
		IngestDuration:      seconds("ingest_duration_seconds", "Time spent ingesting one source"),

		ReportsWrittenTotal: counter("reports_written_total", "Total report files written"),

		SystemErrors: counter("system_errors_total", "Total unclassified system errors"),
	}
	if firstErr != nil {
		return nil, fmt.Errorf("failed to register business metrics: %w", firstErr)
	}
	return m, nil
}

// RecordPipelineMetrics records outcome and duration for one
// detect-and-score run, and reflects a failure onto the active span.
func RecordPipelineMetrics(ctx context.Context, metrics *BusinessMetrics, runID string, duration time.Duration, runErr error) {
	if metrics == nil {
		return
	}

	status := "success"
	if runErr != nil {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("status", status),
	)

	metrics.PipelineRunsTotal.Add(ctx, 1, attrs)
	metrics.PipelineRunDuration.Record(ctx, duration.Seconds(), attrs)

	if runErr != nil {
		metrics.PipelineErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("error.type", fmt.Sprintf("%T", runErr)),
		))
		RecordError(ctx, runErr)
	}

	AddSpanEvent(ctx, "pipeline.run_recorded", map[string]interface{}{
		"run.id":           runID,
		"status":           status,
		"duration_seconds": duration.Seconds(),
	})
}

// RecordIngestMetrics records counts and duration for one ingested
// source file or directory.
func RecordIngestMetrics(ctx context.Context, metrics *BusinessMetrics, source string, records, rejected int64, duration time.Duration) {
	if metrics == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("source", source))
	metrics.IngestFilesTotal.Add(ctx, 1, attrs)
	metrics.IngestRecordsTotal.Add(ctx, records, attrs)
	metrics.IngestRejectedTotal.Add(ctx, rejected, attrs)
	metrics.IngestDuration.Record(ctx, duration.Seconds(), attrs)
}
