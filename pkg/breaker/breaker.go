// Package breaker guards calls to external dependencies with per-key circuit breakers.
//
// Breakers are created lazily on the first call for a key and live until shutdown.
// After FailureThreshold consecutive failures a breaker opens and rejects calls with a
// DependencyUnavailable error without invoking the dependency. Once ResetTimeout has
// elapsed it lets HalfOpenMaxAttempts trial calls through; a successful trial closes it,
// a failed one opens it again.
//
//	m := breaker.NewManager(breaker.SettingsFromConfig(cfg.Breaker), logger, cacheMetrics)
//	drugs, err := breaker.Do(ctx, m, "docstore", func() ([]drugs.Drug, error) {
//		return store.Find(ctx, filter)
//	})
//
// A call whose context was cancelled or expired while it ran is not counted: the
// caller gave up, which says nothing about the dependency.
package breaker

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/metrics"
)

// Breaker state names as reported by States.
const (
	StateClosed   = "closed"
	StateHalfOpen = "half-open"
	StateOpen     = "open"
)

// Settings configures every breaker created by a Manager.
type Settings struct {
	FailureThreshold    uint32
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts uint32
}

// SettingsFromConfig converts the breaker config section, applying defaults for zero values.
func SettingsFromConfig(cfg config.BreakerConfig) Settings {
	s := Settings{
		ResetTimeout: cfg.ResetTimeout,
	}
	if cfg.FailureThreshold > 0 {
		s.FailureThreshold = uint32(cfg.FailureThreshold)
	}
	if cfg.HalfOpenMaxAttempts > 0 {
		s.HalfOpenMaxAttempts = uint32(cfg.HalfOpenMaxAttempts)
	}
	return s.withDefaults()
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 60 * time.Second
	}
	if s.HalfOpenMaxAttempts == 0 {
		s.HalfOpenMaxAttempts = 1
	}
	return s
}

// Manager owns one breaker per dependency key.
type Manager struct {
	settings Settings
	logger   *logging.Logger
	metrics  *metrics.CacheMetrics

	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManager creates a Manager. logger and m may be nil.
func NewManager(s Settings, logger *logging.Logger, m *metrics.CacheMetrics) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		settings: s.withDefaults(),
		logger:   logger.WithComponent("breaker"),
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Execute runs fn through the breaker for key. When the breaker rejects the call,
// fn is not invoked and a DependencyUnavailable error naming key is returned.
// Errors from fn are returned unchanged.
func (m *Manager) Execute(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := m.get(key).Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && ctx.Err() != nil {
			return v, abandoned{err}
		}
		return v, err
	})

	var ab abandoned
	switch {
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		return nil, errors.NewDependencyUnavailable(key, err)
	case stderrors.As(err, &ab):
		return result, ab.err
	}
	return result, err
}

// Do is the typed form of Manager.Execute. A nil Manager calls fn directly.
func Do[T any](ctx context.Context, m *Manager, key string, fn func() (T, error)) (T, error) {
	if m == nil {
		return fn()
	}

	result, err := m.Execute(ctx, key, func() (interface{}, error) {
		return fn()
	})
	v, _ := result.(T)
	return v, err
}

// State returns the current state of the breaker for key. Keys that have never been
// used report closed.
func (m *Manager) State(key string) string {
	m.mu.RLock()
	cb, ok := m.breakers[key]
	m.mu.RUnlock()

	if !ok {
		return StateClosed
	}
	return stateName(cb.State())
}

// States returns the state of every breaker created so far.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]string, len(m.breakers))
	for key, cb := range m.breakers {
		states[key] = stateName(cb.State())
	}
	return states
}

// NotClosed lists the keys whose breaker is open or half-open, sorted.
func (m *Manager) NotClosed() []string {
	var keys []string
	for key, state := range m.States() {
		if state != StateClosed {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager) get(key string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok = m.breakers[key]; ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker(m.gobreakerSettings(key))
	m.breakers[key] = cb
	m.metrics.BreakerState(key, int(gobreaker.StateClosed))
	return cb
}

func (m *Manager) gobreakerSettings(key string) gobreaker.Settings {
	threshold := m.settings.FailureThreshold
	return gobreaker.Settings{
		Name:        key,
		MaxRequests: m.settings.HalfOpenMaxAttempts,
		Timeout:     m.settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := m.logger.Info()
			if to == gobreaker.StateOpen {
				event = m.logger.Warn()
			}
			event.
				Str(logging.Breaker, name).
				Str("from", stateName(from)).
				Str("to", stateName(to)).
				Msg("circuit breaker state changed")
			m.metrics.BreakerState(name, int(to))
		},
	}
}

// abandoned marks a failure that happened after the caller's context ended.
type abandoned struct{ err error }

func (a abandoned) Error() string { return a.err.Error() }
func (a abandoned) Unwrap() error { return a.err }

// isSuccessful treats lookups that found nothing, rejected input and calls the
// caller abandoned as healthy responses from the dependency.
func isSuccessful(err error) bool {
	var ab abandoned
	return err == nil ||
		stderrors.As(err, &ab) ||
		stderrors.Is(err, context.Canceled) ||
		errors.IsNotFound(err) ||
		errors.IsInvalidInput(err)
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
