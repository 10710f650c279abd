package risk

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
	TracerName = "trialpulse.risk"
)

// scoringTracer provides OpenTelemetry instrumentation for site scoring
type scoringTracer struct {
	tracer trace.Tracer

	profilesTotal metric.Int64Counter
	scoreDuration metric.Float64Histogram
}

func newScoringTracer() (*scoringTracer, error) {
	meter := otel.Meter(TracerName)

	profilesTotal, err := meter.Int64Counter(
		"risk_profiles_total",
		metric.WithDescription("Total number of site risk profiles generated"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk metrics: %w", err)
	}

	scoreDuration, err := meter.Float64Histogram(
		"risk_scoring_duration_seconds",
		metric.WithDescription("Site scoring duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create risk metrics: %w", err)
	}

	return &scoringTracer{
		tracer:        otel.Tracer(TracerName),
		profilesTotal: profilesTotal,
		scoreDuration: scoreDuration,
	}, nil
}

// traceScoring opens the span covering one site's scoring
func (st *scoringTracer) traceScoring(ctx context.Context, siteID string) (context.Context, trace.Span) {
	return st.tracer.Start(ctx, "risk.score_site",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("risk.site_id", siteID),
		),
	)
}

// recordProfile records scoring metrics and closes out the span
func (st *scoringTracer) recordProfile(ctx context.Context, span trace.Span, profile *SiteProfile, duration time.Duration) {
	span.SetAttributes(
		attribute.Float64("risk.overall_score", profile.OverallScore),
		attribute.String("risk.level", string(profile.Level)),
		attribute.Int("risk.factors", len(profile.RiskFactors)),
	)
	st.profilesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("level", string(profile.Level))),
	)
	st.scoreDuration.Record(ctx, duration.Seconds())
	span.SetStatus(codes.Ok, "profile generated")
}
