package warmer

import (
	"context"
	"fmt"
	"strings"

	"github.com/Combine-Capital/drugfacts/pkg/health"
)

// Status is the cache health as reported by the warmer.
type Status struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

// Health is unhealthy when the cache check fails, degraded when a breaker is not
// closed or the last warmup had failures, and healthy otherwise.
func (w *Warmer) Health(ctx context.Context) Status {
	details := map[string]any{}
	if r, ok := w.LastReport(); ok {
		details["lastWarmup"] = r
	}

	var cacheErr error
	if w.cache != nil {
		cacheErr = w.cache.Check(ctx)
	}
	if cacheErr != nil && !health.IsDegraded(cacheErr) {
		details["message"] = "shared cache tier is unreachable"
		details["error"] = cacheErr.Error()
		return Status{Status: health.StatusUnhealthy, Details: details}
	}

	var reasons []string
	if cacheErr != nil {
		reasons = append(reasons, cacheErr.Error())
	}
	if w.breakers != nil {
		if open := w.breakers.NotClosed(); len(open) > 0 {
			details["breakers"] = w.breakers.States()
			reasons = append(reasons, "breakers not closed: "+strings.Join(open, ", "))
		}
	}
	if r, ok := w.LastReport(); ok && r.Failed > 0 {
		reasons = append(reasons, fmt.Sprintf("last warmup had %d failed tasks", r.Failed))
	}

	if len(reasons) > 0 {
		details["message"] = strings.Join(reasons, "; ")
		return Status{Status: health.StatusDegraded, Details: details}
	}
	details["message"] = "cache is operating normally"
	return Status{Status: health.StatusHealthy, Details: details}
}

// Check implements health.Checker on top of Health.
func (w *Warmer) Check(ctx context.Context) error {
	s := w.Health(ctx)
	switch s.Status {
	case health.StatusHealthy:
		return nil
	case health.StatusDegraded:
		return health.Degraded(fmt.Sprint(s.Details["message"]))
	default:
		return fmt.Errorf("%v", s.Details["message"])
	}
}
