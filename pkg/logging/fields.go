// Package logging is the structured logger used across drugfacts: zerolog with a
// fixed vocabulary of field names, request-scoped loggers and trace correlation.
//
//	logger := logging.New(cfg.Log).WithComponent("cache")
//	logger.Debug().Str(logging.CacheKey, key).Int64(logging.Duration, ms).Msg("cache set")
//
// Handlers behind HTTPMiddleware log through FromContext so entries carry the request
// ID and, under a traced request, the trace and span IDs.
package logging

// Field names.
const (
	TraceID    = "trace_id"
	SpanID     = "span_id"
	RequestID  = "request_id"
	Component  = "component"
	Method     = "method"
	Path       = "path"
	StatusCode = "status_code"
	// Duration is always milliseconds.
	Duration = "duration_ms"

	CacheKey = "cache_key"
	Tag      = "tag"
	// Tier is "l1" or "l2".
	Tier    = "tier"
	Breaker = "breaker"
	Slug    = "slug"
	Topic   = "topic"
	Task    = "task"
)
