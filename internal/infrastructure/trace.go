package infrastructure

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ctxKey is unexported so only this package can place values under it.
type ctxKey int

const traceIDKey ctxKey = iota

// GenerateTraceID returns a fresh UUID v4 identifying one run or request.
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace id on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace id stored on the context, or "" when none
// has been set.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// ContextWithTraceID returns a child context carrying a newly generated
// trace id.
func ContextWithTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, GenerateTraceID())
}

// EnsureTraceID guarantees the returned context carries a trace id. An id
// already on the context wins; otherwise the active span's trace id is
// adopted so log lines correlate with exported spans, and only when there
// is no span either is a fresh id generated.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	if id := TraceIDFromContext(ctx); id != "" {
		return WithTraceID(ctx, id)
	}
	return ContextWithTraceID(ctx)
}

// TraceIDFromContext returns the trace id of the active OTel span, or ""
// when the context carries no valid span.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// LoggerWithContext returns the application logger bound to the trace id
// on ctx, if any. Code that logs on behalf of a run or request should
// prefer this over GetLogger.
func LoggerWithContext(ctx context.Context) *slog.Logger {
	logger := GetLogger()
	if id := GetTraceID(ctx); id != "" {
		return logger.With(slog.String("trace_id", id))
	}
	return logger
}

// WithComponent tags every record from the returned logger with a
// component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithError tags the returned logger with the error text. A nil error
// returns the logger unchanged.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// traceHandler decorates a slog.Handler so every record emitted with a
// context carrying a trace id gets a trace_id attribute, whether or not
// the call site bothered to attach one.
type traceHandler struct {
	inner slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, rec slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		rec.AddAttrs(slog.String("trace_id", id))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{inner: h.inner.WithGroup(name)}
}
