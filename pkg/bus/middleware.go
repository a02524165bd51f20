package bus

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/retry"
)

const maxRetryDelay = 5 * time.Second

// Use adds m to a subscription. Middleware listed first runs outermost.
func Use(m Middleware) SubscribeOption {
	return func(o *subscribeOptions) { o.middlewares = append(o.middlewares, m) }
}

// WithRetry re-invokes a handler whose error is retryable, maxAttempts calls in
// total, backing off exponentially from initialDelay.
func WithRetry(maxAttempts int, initialDelay time.Duration) SubscribeOption {
	policy := retry.Config{
		MaxAttempts:  uint(maxAttempts),
		InitialDelay: initialDelay,
		MaxDelay:     maxRetryDelay,
		Multiplier:   2,
		Policy:       retry.PolicyRetryable,
	}
	return Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			return retry.Do(ctx, policy, func() error { return next(ctx, msg) })
		}
	})
}

// WithLogging logs every delivery with its protobuf type: debug on success, error
// on failure.
func WithLogging(logger *logging.Logger) SubscribeOption {
	return Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			start := time.Now()
			err := next(ctx, msg)

			event := logger.Debug()
			text := "event processed"
			if err != nil {
				event, text = logger.Error().Err(err), "event processing failed"
			}
			event.
				Str("message_type", string(proto.MessageName(msg))).
				Int64(logging.Duration, time.Since(start).Milliseconds()).
				Msg(text)
			return err
		}
	})
}

// WithRecovery converts a handler panic into a permanent error so the message is
// not redelivered forever.
func WithRecovery() SubscribeOption {
	return Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = errors.NewPermanent(fmt.Sprintf("handler panicked: %v", p), nil)
				}
			}()
			return next(ctx, msg)
		}
	})
}

// WithTimeout fails a handler call with a temporary error once timeout passes. The
// handler's context is cancelled but the goroutine is not waited for.
func WithTimeout(timeout time.Duration) SubscribeOption {
	return Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg proto.Message) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			result := make(chan error, 1)
			go func() { result <- next(ctx, msg) }()

			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				return errors.NewTemporary("handler timeout exceeded", ctx.Err())
			}
		}
	})
}
