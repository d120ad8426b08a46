package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// otelTracer implements Tracer using OpenTelemetry's global
// TracerProvider, matching the instrumented Tracer/observer split the
// teacher repo's pack uses for agent/workflow/retrieval/ingest spans.
type otelTracer struct {
	inner oteltrace.Tracer
}

// NewOTelTracer returns a Tracer backed by the OTel TracerProvider
// registered for serviceName. Call Configure first so spans actually
// leave the process; otherwise the OTel SDK's own no-op provider is
// used, which is functionally equivalent to NoopTracer but carries the
// dependency's overhead — prefer NoopTracer when tracing is disabled.
func NewOTelTracer(serviceName string) Tracer {
	return &otelTracer{inner: otel.Tracer(serviceName)}
}

// Configure installs a TracerProvider exporting to the OTel SDK's
// in-process batch span processor with the supplied exporter. Callers
// own shutting the returned provider down.
func Configure(serviceName string, exporter sdktrace.SpanExporter) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...Attr) (context.Context, Span) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		otelAttrs[i] = toOTelAttr(a)
	}
	ctx, span := t.inner.Start(ctx, name, oteltrace.WithAttributes(otelAttrs...))
	return ctx, &otelSpan{inner: span}
}

type otelSpan struct {
	inner oteltrace.Span
}

func (s *otelSpan) SetAttr(attrs ...Attr) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		otelAttrs[i] = toOTelAttr(a)
	}
	s.inner.SetAttributes(otelAttrs...)
}

func (s *otelSpan) Event(name string, attrs ...Attr) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		otelAttrs[i] = toOTelAttr(a)
	}
	s.inner.AddEvent(name, oteltrace.WithAttributes(otelAttrs...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.inner.End() }

// IDFromContext returns the hex-encoded trace id of the span carried
// by ctx, or "" when ctx carries no valid span (e.g. NoopTracer was
// used, or tracing is disabled). Safe to call unconditionally.
func IDFromContext(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func toOTelAttr(a Attr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}
