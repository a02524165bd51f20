package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

const (
	defaultCheckTimeout = 5 * time.Second
	defaultCacheTTL     = time.Second
)

// Report is the aggregated outcome of one check round.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of a single checker.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func resultOf(err error) CheckResult {
	r := CheckResult{Status: statusOf(err)}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// Option configures a Health.
type Option func(*Health)

// WithCheckTimeout bounds each checker when the caller's context has no deadline.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Health) { h.checkTimeout = d }
}

// WithCacheTTL sets how long a Report is reused. Zero checks on every call.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Health) { h.cacheTTL = d }
}

// Health runs registered checkers concurrently. Concurrent callers share one check
// round and the resulting Report is reused for the cache TTL, so readiness requests
// from several sources do not multiply load on Redis or Postgres.
type Health struct {
	checkTimeout time.Duration
	cacheTTL     time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
	last     *Report
	lastAt   time.Time

	group singleflight.Group
}

func New(opts ...Option) *Health {
	h := &Health{
		checkTimeout: defaultCheckTimeout,
		cacheTTL:     defaultCacheTTL,
		checkers:     map[string]Checker{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterChecker adds or replaces the checker for name and drops the cached Report.
func (h *Health) RegisterChecker(name string, c Checker) {
	h.mu.Lock()
	h.checkers[name] = c
	h.last = nil
	h.mu.Unlock()
}

// Check returns the cached Report or runs a fresh round.
func (h *Health) Check(ctx context.Context) *Report {
	h.mu.RLock()
	if h.last != nil && time.Since(h.lastAt) < h.cacheTTL {
		r := h.last
		h.mu.RUnlock()
		return r
	}
	h.mu.RUnlock()

	v, _, _ := h.group.Do("check", func() (any, error) {
		r := h.runChecks(ctx)
		h.mu.Lock()
		h.last, h.lastAt = r, time.Now()
		h.mu.Unlock()
		return r, nil
	})
	return v.(*Report)
}

func (h *Health) runChecks(ctx context.Context) *Report {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		checkers[name] = c
	}
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var g errgroup.Group
	for name, c := range checkers {
		g.Go(func() error {
			r := resultOf(h.run(ctx, c))
			mu.Lock()
			results[name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusHealthy
	for _, r := range results {
		if r.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
		if r.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return &Report{Status: status, Checks: results}
}

func (h *Health) run(ctx context.Context, c Checker) error {
	if _, ok := ctx.Deadline(); !ok && h.checkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.checkTimeout)
		defer cancel()
	}
	return c.Check(ctx)
}

// CheckComponent runs one checker directly, bypassing the cache. An unknown name is
// a NotFound error.
func (h *Health) CheckComponent(ctx context.Context, name string) error {
	h.mu.RLock()
	c, ok := h.checkers[name]
	h.mu.RUnlock()
	if !ok {
		return errors.NewNotFound("health component", name)
	}
	return h.run(ctx, c)
}

// IsReady is false only when a checker is unhealthy. Degraded instances serve.
func (h *Health) IsReady(ctx context.Context) bool {
	return h.Check(ctx).Status != StatusUnhealthy
}
