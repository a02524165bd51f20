package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	dferrors "github.com/Combine-Capital/drugfacts/pkg/errors"
)

func TestDoPolicies(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		err          error
		wantAttempts int
	}{
		{
			name:         "temporary error is retried",
			cfg:          Config{MaxAttempts: 3},
			err:          dferrors.NewTemporary("docstore timeout", nil),
			wantAttempts: 3,
		},
		{
			name:         "tier unavailable is retried",
			cfg:          Config{MaxAttempts: 3},
			err:          dferrors.NewTierUnavailable("l2", errors.New("connection refused")),
			wantAttempts: 3,
		},
		{
			name:         "permanent error is not retried",
			cfg:          Config{MaxAttempts: 5},
			err:          dferrors.NewPermanent("bad schema", nil),
			wantAttempts: 1,
		},
		{
			name:         "not found is not retried",
			cfg:          Config{MaxAttempts: 5},
			err:          dferrors.NewNotFound("drug", "ozempic"),
			wantAttempts: 1,
		},
		{
			name:         "plain error is not retried by default",
			cfg:          Config{MaxAttempts: 5},
			err:          errors.New("boom"),
			wantAttempts: 1,
		},
		{
			name:         "policy all retries plain errors",
			cfg:          Config{MaxAttempts: 4, Policy: PolicyAll},
			err:          errors.New("boom"),
			wantAttempts: 4,
		},
		{
			name:         "policy none never retries",
			cfg:          Config{MaxAttempts: 5, Policy: PolicyNone},
			err:          dferrors.NewTemporary("timeout", nil),
			wantAttempts: 1,
		},
		{
			name: "policy func overrides policy",
			cfg: Config{MaxAttempts: 3, Policy: PolicyNone, PolicyFunc: func(err error) bool {
				return err.Error() == "retry me"
			}},
			err:          errors.New("retry me"),
			wantAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.InitialDelay = time.Millisecond
			attempts := 0
			err := Do(context.Background(), tt.cfg, func() error {
				attempts++
				return tt.err
			})

			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want %v", err, tt.err)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestDoEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return dferrors.NewTemporary("pool exhausted", nil)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, Policy: PolicyAll}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("always fails")
	})

	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if attempts > 3 {
		t.Errorf("expected <=3 attempts after cancellation, got %d", attempts)
	}
}

func TestDoWithData(t *testing.T) {
	attempts := 0
	count, err := DoWithData(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
		func() (int64, error) {
			attempts++
			if attempts == 1 {
				return 0, dferrors.NewTemporary("statement timeout", nil)
			}
			return 1200, nil
		})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1200 {
		t.Errorf("count = %d, want 1200", count)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDoWithDataNonRetryableReturnsZero(t *testing.T) {
	got, err := DoWithData(context.Background(), Config{}, func() (string, error) {
		return "partial", dferrors.NewInvalidInput("slug", "must not be empty")
	})

	if !dferrors.IsInvalidInput(err) {
		t.Fatalf("error = %v, want invalid input", err)
	}
	if got != "" {
		t.Errorf("value = %q, want zero value", got)
	}
}

func TestOnRetry(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Policy:       PolicyAll,
		OnRetry: func(err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("down") })

	if len(delays) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(delays))
	}
	for _, d := range delays {
		if d <= 0 {
			t.Errorf("delay = %v, want > 0", d)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 100ms", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("MaxDelay = %v, want 5s", cfg.MaxDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", cfg.Multiplier)
	}
	if cfg.Jitter != 0.25 {
		t.Errorf("Jitter = %v, want 0.25", cfg.Jitter)
	}
}

func TestMaxElapsedTime(t *testing.T) {
	cfg := Config{
		MaxAttempts:    100,
		InitialDelay:   10 * time.Millisecond,
		MaxElapsedTime: 50 * time.Millisecond,
		Policy:         PolicyAll,
	}

	attempts := 0
	start := time.Now()
	_ = Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("keep failing")
	})

	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("expected to stop around 50ms, took %v", elapsed)
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}
