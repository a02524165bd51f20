// Package bus carries protobuf events between drugfacts instances.
//
// Two backends implement EventBus: an in-process bus for tests and single-instance
// deployments, and NATS JetStream for fleets. Messages travel wrapped in
// google.protobuf.Any, so subscribers receive the concrete registered type (for
// cache invalidations, a *structpb.Struct).
//
//	b := bus.NewMemory(bus.WithLogger(logger))
//	defer b.Close()
//
//	err := b.Subscribe(ctx, bus.TopicName("cache_invalidated"), orchestrator.HandleInvalidation,
//		bus.WithRecovery(),
//		bus.WithRetry(3, 100*time.Millisecond),
//		bus.WithLogging(logger),
//	)
//
// With JetStream every instance gets its own consumer, so each event fans out to the
// whole fleet:
//
//	b, err := bus.NewJetStream(ctx, cfg.EventBus, bus.WithLogger(logger), bus.WithInstanceID(id))
package bus

import (
	"context"

	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
)

// EventBus publishes and subscribes to protobuf events.
// All methods respect context cancellation and timeout.
type EventBus interface {
	// Publish sends message to every subscriber of topic.
	Publish(ctx context.Context, topic string, message proto.Message) error

	// Subscribe registers handler for messages on topic. Options wrap the handler
	// with middleware such as retry and logging.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, options ...SubscribeOption) error

	// Close stops all subscriptions and releases connections.
	Close() error
}

// HandlerFunc handles one decoded message. A retryable error triggers WithRetry and,
// on JetStream, redelivery.
type HandlerFunc func(ctx context.Context, message proto.Message) error

// SubscribeOption modifies a subscription.
type SubscribeOption func(*subscribeOptions)

// subscribeOptions holds the configuration for a subscription.
type subscribeOptions struct {
	middlewares []Middleware
}

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// applyMiddleware wraps handler so the first middleware is the outermost.
func applyMiddleware(handler HandlerFunc, middlewares []Middleware) HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func buildOptions(opts []SubscribeOption) *subscribeOptions {
	so := &subscribeOptions{}
	for _, opt := range opts {
		opt(so)
	}
	return so
}

// Option configures a bus backend.
type Option func(*options)

type options struct {
	logger     *logging.Logger
	instanceID string
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithInstanceID names this process. JetStream consumers are per instance, so two
// buses with the same ID share deliveries.
func WithInstanceID(id string) Option {
	return func(o *options) { o.instanceID = id }
}

func buildBusOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.instanceID == "" {
		o.instanceID = uuid.NewString()
	}
	o.logger = o.logger.WithComponent("bus")
	return o
}
