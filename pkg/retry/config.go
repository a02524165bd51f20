package retry

import (
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

// Policy selects which errors earn another attempt.
type Policy int

const (
	// PolicyRetryable follows errors.IsRetryable: temporary failures and
	// unreachable cache tiers.
	PolicyRetryable Policy = iota
	PolicyAll
	PolicyNone
)

func (p Policy) retries(err error) bool {
	switch p {
	case PolicyAll:
		return true
	case PolicyNone:
		return false
	}
	return errors.IsRetryable(err)
}

// Config tunes Do. Zero fields take the defaults below; MaxElapsedTime zero means
// unbounded.
type Config struct {
	MaxAttempts    uint
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         float64 // randomization factor in [0, 1]
	MaxElapsedTime time.Duration

	Policy Policy
	// PolicyFunc, when set, replaces Policy.
	PolicyFunc func(error) bool
	// OnRetry runs after each failed attempt that will be retried, with the wait
	// before the next one.
	OnRetry func(err error, delay time.Duration)
}

var defaults = Config{
	MaxAttempts:  5,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2,
	Jitter:       0.25,
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaults.Multiplier
	}
	if c.Jitter == 0 {
		c.Jitter = defaults.Jitter
	}
	return c
}

func (c Config) retryable(err error) bool {
	if c.PolicyFunc != nil {
		return c.PolicyFunc(err)
	}
	return c.Policy.retries(err)
}
