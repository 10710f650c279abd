package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"trialpulse/internal/config"
)

// scopeName is the instrumentation scope for the tracer and meter owned
// by this package.
const scopeName = "trialpulse"

// OTelConfig selects which telemetry pipelines to bring up and how.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders bundles everything InitializeOTel built. PrometheusHTTP
// is nil unless the prometheus metric exporter is active.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig enables Prometheus metrics and leaves tracing off,
// which suits a batch CLI: scrape-friendly metrics without span noise.
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv(config.EnvPrefix + "_ENV")
	if env == "" {
		env = "development"
	}

	return &OTelConfig{
		ServiceName:    scopeName,
		ServiceVersion: config.AppVersion,
		Environment:    env,
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		EnableMetrics:  true,
		EnableTracing:  false,
		SampleRatio:    1.0,
	}
}

// InitializeOTel brings up the configured telemetry pipelines, installs
// them as the global OTel providers and returns them for shutdown. A nil
// cfg means DefaultOTelConfig.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	ctx := context.Background()

	logger.InfoContext(ctx, "Starting telemetry",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing", cfg.EnableTracing),
		slog.Bool("metrics", cfg.EnableMetrics))

	res, err := buildResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to describe service resource: %w", err)
	}

	providers := &OTelProviders{Logger: logger}

	if cfg.EnableTracing && cfg.TraceExporter != "none" {
		tp, err := newTracerProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(scopeName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
		otel.SetTracerProvider(tp)
	}

	if cfg.EnableMetrics && cfg.MetricExporter != "none" {
		mp, scrape, err := newMeterProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(scopeName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		providers.PrometheusHTTP = scrape
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "Telemetry ready",
		slog.Bool("tracer", providers.TracerProvider != nil),
		slog.Bool("meter", providers.MeterProvider != nil))

	return providers, nil
}

// Shutdown flushes and stops both providers. Call it once on process
// exit; a nil receiver field is skipped.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var tracerErr, meterErr error
	if p.TracerProvider != nil {
		tracerErr = p.TracerProvider.Shutdown(ctx)
	}
	if p.MeterProvider != nil {
		meterErr = p.MeterProvider.Shutdown(ctx)
	}
	if err := errors.Join(tracerErr, meterErr); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}

	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "Telemetry shutdown complete")
	}
	return nil
}

func buildResource(cfg *OTelConfig) (*resource.Resource, error) {
	host, _ := os.Hostname()
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.String("service.instance.id", fmt.Sprintf("%s-%d", host, time.Now().Unix())),
	), nil
}

// newTracerProvider builds the span pipeline for the configured exporter.
// "none" is handled by the caller, so anything but "stdout" is a
// configuration mistake.
func newTracerProvider(cfg *OTelConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	if cfg.TraceExporter != "stdout" {
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	), nil
}

// newMeterProvider builds the metric pipeline; the returned handler
// serves the Prometheus scrape endpoint.
func newMeterProvider(cfg *OTelConfig, res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	if cfg.MetricExporter != "prometheus" {
		return nil, nil, fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	reader, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus reader: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	return mp, promhttp.Handler(), nil
}

// RecordError marks the active span failed with err. No-op when the
// context has no recording span.
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent attaches a named event with loosely typed attributes to
// the active span. No-op when the context has no recording span.
func AddSpanEvent(ctx context.Context, name string, attrs map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(spanAttributes(attrs)...))
}

// spanAttributes converts a map of basic Go values into OTel attributes,
// stringifying anything it does not recognize.
func spanAttributes(values map[string]interface{}) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case string:
			out = append(out, attribute.String(key, v))
		case bool:
			out = append(out, attribute.Bool(key, v))
		case int:
			out = append(out, attribute.Int(key, v))
		case int64:
			out = append(out, attribute.Int64(key, v))
		case float64:
			out = append(out, attribute.Float64(key, v))
		default:
			out = append(out, attribute.String(key, fmt.Sprint(v)))
		}
	}
	return out
}
