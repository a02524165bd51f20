// Package health aggregates component checks into liveness and readiness reports.
// A check reports healthy (nil), degraded (a *DegradedError: the component still
// serves, for example with a breaker open or only the local cache tier) or
// unhealthy (any other error). Only unhealthy takes an instance out of rotation.
//
//	h := health.New()
//	h.RegisterChecker("docstore", pool)
//	h.RegisterChecker("cache", orchestrator)
//	mux.HandleFunc("GET /health/ready", h.ReadinessHandler())
package health

import (
	"context"
	"errors"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Checker checks one component. Implementations must honor ctx.
type Checker interface {
	Check(ctx context.Context) error
}

type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// DegradedError marks a component that works in a reduced mode.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

func Degraded(reason string) error { return &DegradedError{Reason: reason} }

func IsDegraded(err error) bool {
	var d *DegradedError
	return errors.As(err, &d)
}

func statusOf(err error) string {
	if err == nil {
		return StatusHealthy
	}
	if IsDegraded(err) {
		return StatusDegraded
	}
	return StatusUnhealthy
}
