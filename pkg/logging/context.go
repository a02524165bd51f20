package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey struct{}

// WithLogger stores logger in ctx. HTTPMiddleware stores a logger already carrying
// the request ID.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or fallback when there is none. When
// ctx carries a sampled or remote span, the entry is tagged with its trace and span IDs.
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	logger, ok := ctx.Value(ctxKey{}).(*Logger)
	if !ok || logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = NewNop()
	}

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return &Logger{zlog: logger.zlog.With().
		Str(TraceID, sc.TraceID().String()).
		Str(SpanID, sc.SpanID().String()).
		Logger()}
}
