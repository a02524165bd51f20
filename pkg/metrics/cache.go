package metrics

import (
	"time"
)

// CacheMetrics holds the collectors recorded by the cache orchestrator, the breaker
// manager and the warmer. A nil *CacheMetrics is valid and records nothing.
type CacheMetrics struct {
	hits          *Counter
	misses        *Counter
	tierErrors    *Counter
	operations    *Histogram
	invalidations *Counter
	breakerState  *Gauge
	warmupTasks   *Counter
}

// NewCacheMetrics registers the cache collectors under namespace. Init must have been
// called first. Calling it again with the same namespace returns collectors backed by
// the same series.
func NewCacheMetrics(namespace string) (*CacheMetrics, error) {
	counter := func(subsystem, name, help, label string) (*Counter, error) {
		return NewCounter(Opts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Labels: []string{label}})
	}

	var (
		m   CacheMetrics
		err error
	)
	if m.hits, err = counter("cache", "hits_total", "Cache hits by tier", "tier"); err != nil {
		return nil, err
	}
	if m.misses, err = counter("cache", "misses_total", "Lookups that missed every tier", "category"); err != nil {
		return nil, err
	}
	if m.tierErrors, err = counter("cache", "tier_errors_total", "Swallowed tier failures", "tier"); err != nil {
		return nil, err
	}
	if m.invalidations, err = counter("cache", "invalidations_total", "Invalidations by kind (tag, key, reset, remote)", "kind"); err != nil {
		return nil, err
	}
	if m.warmupTasks, err = counter("warmup", "tasks_total", "Warmup tasks by result", "result"); err != nil {
		return nil, err
	}
	if m.operations, err = NewHistogram(Opts{
		Namespace: namespace, Subsystem: "cache", Name: "operation_duration_seconds",
		Help: "Duration of cache operations", Labels: []string{"operation"},
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}); err != nil {
		return nil, err
	}
	if m.breakerState, err = NewGauge(Opts{
		Namespace: namespace, Subsystem: "breaker", Name: "state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)", Labels: []string{"breaker"},
	}); err != nil {
		return nil, err
	}
	return &m, nil
}

// Hit records a hit served by tier ("l1" or "l2").
func (m *CacheMetrics) Hit(tier string) {
	if m == nil {
		return
	}
	m.hits.Inc(tier)
}

// Miss records a lookup that found nothing in any tier.
func (m *CacheMetrics) Miss(category string) {
	if m == nil {
		return
	}
	m.misses.Inc(category)
}

// TierError records a tier failure that was logged and swallowed.
func (m *CacheMetrics) TierError(tier string) {
	if m == nil {
		return
	}
	m.tierErrors.Inc(tier)
}

// ObserveOperation records how long a cache operation took.
func (m *CacheMetrics) ObserveOperation(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.Observe(d.Seconds(), op)
}

// Invalidation records an invalidation of the given kind.
func (m *CacheMetrics) Invalidation(kind string) {
	if m == nil {
		return
	}
	m.invalidations.Inc(kind)
}

// BreakerState exports the numeric state of a breaker.
func (m *CacheMetrics) BreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state), breaker)
}

// WarmupTask records the outcome of one warmup task.
func (m *CacheMetrics) WarmupTask(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.warmupTasks.Inc(result)
}
