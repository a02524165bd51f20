package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName scopes every span this module starts.
const InstrumentationName = "github.com/Combine-Capital/drugfacts"

// StartSpan starts a child of the span in ctx on the global provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, name, opts...)
}

// SetSpanError records err on the span in ctx and marks it failed. nil is ignored.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InjectHeaders writes the trace context of ctx into h. NATS headers share the
// http.Header layout, so the bus uses this too.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// ExtractHeaders returns ctx continuing the trace found in h, if any.
func ExtractHeaders(ctx context.Context, h http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(h))
}

// CacheAttributes describes one cache operation. tier names the tier that served a
// hit and is omitted when empty.
func CacheAttributes(operation, key string, hit bool, tier string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs,
		attribute.String("cache.operation", operation),
		attribute.String("cache.key", key),
		attribute.Bool("cache.hit", hit),
	)
	if tier != "" {
		attrs = append(attrs, attribute.String("cache.tier", tier))
	}
	return attrs
}

func SearchAttributes(mode string, queryLen, page, limit, total int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("search.mode", mode),
		attribute.Int("search.query_length", queryLen),
		attribute.Int("search.page", page),
		attribute.Int("search.limit", limit),
		attribute.Int("search.total", total),
	}
}

func DatabaseAttributes(system, operation, table string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", system),
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
	}
}

// MessagingAttributes follows the OTel messaging conventions; operation is
// "publish" or "process".
func MessagingAttributes(system, destination, operation string, payloadSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", system),
		attribute.String("messaging.destination.name", destination),
		attribute.String("messaging.operation", operation),
		attribute.Int("messaging.message.body.size", payloadSize),
	}
}
