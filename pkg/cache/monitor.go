package cache

import (
	"context"
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/breaker"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/health"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
)

// DefaultHealthInterval is how often the monitor pings L2.
const DefaultHealthInterval = 30 * time.Second

const pingTimeout = 5 * time.Second

// StartMonitor pings L2 every interval and records the result in the flag read by the
// request path. While the flag is down every read and write skips L2. The monitor stops
// when ctx is cancelled or StopMonitor is called. Calling it twice is a no-op.
func (o *Orchestrator) StartMonitor(ctx context.Context, interval time.Duration) {
	pinger, ok := o.l2.(Pinger)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	o.monitorMu.Lock()
	defer o.monitorMu.Unlock()
	if o.stopMonitor != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.stopMonitor = cancel
	o.monitorDone = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.pingL2(ctx, pinger)
			}
		}
	}()
}

// StopMonitor stops the monitor goroutine and waits for it to exit.
func (o *Orchestrator) StopMonitor() {
	o.monitorMu.Lock()
	cancel, done := o.stopMonitor, o.monitorDone
	o.stopMonitor, o.monitorDone = nil, nil
	o.monitorMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// pingL2 pings L2 once and updates the health flag, logging transitions.
func (o *Orchestrator) pingL2(ctx context.Context, pinger Pinger) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := pinger.Ping(ctx)
	healthy := err == nil
	if o.healthy.Swap(healthy) == healthy {
		return
	}

	if healthy {
		o.logger.Info().Str(logging.Tier, o.l2.Name()).Msg("shared cache tier reachable again")
	} else {
		o.logger.Error().Str(logging.Tier, o.l2.Name()).Err(err).Msg("shared cache tier unhealthy")
	}
}

// L2Healthy reports the monitor's last view of the shared tier. It is false when no
// shared tier is configured.
func (o *Orchestrator) L2Healthy() bool {
	return o.l2Available()
}

// Check implements health.Checker. The cache is unhealthy when the configured shared
// tier is unreachable and degraded while its breaker is not closed.
func (o *Orchestrator) Check(ctx context.Context) error {
	if o.l2 == nil {
		return nil
	}
	if pinger, ok := o.l2.(Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return errors.NewTierUnavailable(o.l2.Name(), err)
		}
	}
	if !o.healthy.Load() {
		return health.Degraded("shared cache tier recovering")
	}
	if o.breakers != nil && o.breakers.State(L2BreakerKey) != breaker.StateClosed {
		return health.Degraded("shared cache tier breaker " + o.breakers.State(L2BreakerKey))
	}
	return nil
}
