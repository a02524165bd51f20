// Package retry re-runs an operation with exponential backoff on top of
// cenkalti/backoff. Which failures are retried comes from the pkg/errors categories:
// by default temporary errors and unreachable cache tiers, never not-found, invalid
// input or permanent errors.
//
//	docs, err := retry.DoWithData(ctx, retry.Config{MaxAttempts: 3}, func() ([]drugs.Drug, error) {
//		return store.Find(ctx, filter)
//	})
package retry

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// Do is DoWithData for operations without a result.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithData(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// DoWithData calls fn until it succeeds, fails with an error cfg does not retry,
// runs out of attempts or elapsed time, or ctx ends. It returns the last error, and
// the zero value when that error was not retryable.
func DoWithData[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !cfg.retryable(err) {
			var zero T
			return zero, backoff.Permanent(err)
		}
		return v, err
	}, retryOptions(cfg)...)
}

func retryOptions(cfg Config) []backoff.RetryOption {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialDelay,
		RandomizationFactor: cfg.Jitter,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxDelay,
	}
	exp.Reset()

	opts := []backoff.RetryOption{backoff.WithBackOff(exp), backoff.WithMaxTries(cfg.MaxAttempts)}
	if cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
	}
	if cfg.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(cfg.OnRetry))
	}
	return opts
}
