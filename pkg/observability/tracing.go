// Package observability provides OpenTelemetry tracing helpers for
// mehrguard. Spans go to the global tracer provider, which is a no-op
// unless the host process installs one.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the OpenTelemetry tracer name.
	TracerName = "mehrguard"
)

// Operation names a traced unit of work.
type Operation string

const (
	OpAnalyze      Operation = "analyze"
	OpAnalyzeBatch Operation = "analyze_batch"
	OpTablesApply  Operation = "tables_apply"
	OpTablesUpdate Operation = "tables_update"
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	return string(o)
}

// Request describes the work being traced.
type Request struct {
	Op        Operation
	RequestID string
	// Preset or "custom" when the caller supplied an engine config.
	Config string
	// BatchSize is set for batch analysis.
	BatchSize int
	// Source names where a table manifest came from.
	Source string
}

// Start begins a span for req.
func Start(ctx context.Context, req Request) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)

	attrs := []attribute.KeyValue{
		attribute.String("mehrguard.operation", req.Op.String()),
	}
	if req.RequestID != "" {
		attrs = append(attrs, attribute.String("request.id", req.RequestID))
	}
	if req.Config != "" {
		attrs = append(attrs, attribute.String("engine.config", req.Config))
	}
	if req.BatchSize > 0 {
		attrs = append(attrs, attribute.Int("batch.size", req.BatchSize))
	}
	if req.Source != "" {
		attrs = append(attrs, attribute.String("tables.source", req.Source))
	}

	return tracer.Start(ctx, req.Op.String(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// RecordVerdict records an analysis outcome on a span. The analyzed URL
// is never recorded.
func RecordVerdict(span trace.Span, verdict string, score int, flags []string, tablesVersion int) {
	span.SetAttributes(
		attribute.String("verdict", verdict),
		attribute.Int("score", score),
		attribute.StringSlice("flags", flags),
		attribute.Int("tables.version", tablesVersion),
	)
}

// RecordTables records the table version a span produced or observed.
func RecordTables(span trace.Span, version int, digest string) {
	span.SetAttributes(
		attribute.Int("tables.version", version),
		attribute.String("tables.digest", digest),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// ExtractTraceID extracts the trace ID from a context.
func ExtractTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// ExtractSpanID extracts the span ID from a context.
func ExtractSpanID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}
