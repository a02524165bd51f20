package cache

import (
	"context"
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/tracing"
)

// Result is one slot of an MGet.
type Result[T any] struct {
	Value T
	Found bool
}

// Get returns the value stored under key. Absent, expired, corrupt and unreachable
// entries all report false.
func Get[T any](ctx context.Context, o *Orchestrator, key string) (T, bool) {
	return get[T](ctx, o, key, "")
}

func get[T any](ctx context.Context, o *Orchestrator, key string, category Category) (T, bool) {
	var zero T
	start := time.Now()
	defer func() { o.metrics.ObserveOperation("get", time.Since(start)) }()

	e, tier, ok := o.lookup(ctx, key)
	if !ok {
		o.recordMiss(category)
		return zero, false
	}

	var v T
	if err := o.codec.Decode(e.Value, e.Compressed, &v); err != nil {
		o.evictCorrupt(ctx, key, err)
		o.recordMiss(category)
		return zero, false
	}

	o.recordHit(tier)
	return v, true
}

// MGet looks up keys, preserving their order, with one L2 round trip for the L1 misses.
func MGet[T any](ctx context.Context, o *Orchestrator, keys []string) []Result[T] {
	start := time.Now()
	defer func() { o.metrics.ObserveOperation("mget", time.Since(start)) }()

	entries, tiers := o.lookupMany(ctx, keys)
	out := make([]Result[T], len(keys))
	for i, e := range entries {
		if tiers[i] == "" {
			o.recordMiss("")
			continue
		}
		var v T
		if err := o.codec.Decode(e.Value, e.Compressed, &v); err != nil {
			o.evictCorrupt(ctx, keys[i], err)
			o.recordMiss("")
			continue
		}
		o.recordHit(tiers[i])
		out[i] = Result[T]{Value: v, Found: true}
	}
	return out
}

// Wrap returns the cached value for key or calls loader and caches its result.
// Loader errors are returned unchanged and nothing is cached. Concurrent misses on the
// same key each call loader; there is no single-flight.
func Wrap[T any](ctx context.Context, o *Orchestrator, key string, opts SetOptions, loader func(context.Context) (T, error)) (T, error) {
	ctx, span := tracing.StartSpan(ctx, "cache.wrap")
	defer span.End()

	if v, ok := get[T](ctx, o, key, opts.Category); ok {
		span.SetAttributes(tracing.CacheAttributes("wrap", key, true, "")...)
		return v, nil
	}
	span.SetAttributes(tracing.CacheAttributes("wrap", key, false, "")...)

	start := time.Now()
	v, err := loader(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		var zero T
		return zero, err
	}
	span.AddEvent("loaded")

	if err := o.Set(ctx, key, v, opts); err != nil {
		o.logger.Warn().
			Str(logging.CacheKey, key).
			Err(err).
			Msg("loaded value could not be cached")
	}

	o.logger.Debug().
		Str(logging.CacheKey, key).
		Int64(logging.Duration, time.Since(start).Milliseconds()).
		Msg("cache filled from loader")
	return v, nil
}
