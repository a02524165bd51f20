package bus

import (
	"context"
	"sync"

	"google.golang.org/protobuf/proto"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
)

// subscriptionBuffer is how many undelivered messages one subscriber may hold
// before Publish blocks.
const subscriptionBuffer = 100

var errMemoryClosed = errors.NewPermanent("event bus is closed", nil)

// MemoryEventBus fans messages out to subscribers inside one process. Each
// subscriber drains its own buffered queue on its own goroutine, so a slow handler
// delays only itself.
type MemoryEventBus struct {
	logger *logging.Logger

	mu     sync.RWMutex
	topics map[string][]*memorySub
	closed bool
}

type memorySub struct {
	topic   string
	handler HandlerFunc
	queue   chan proto.Message
	stopped chan struct{}
}

func NewMemory(opts ...Option) *MemoryEventBus {
	return &MemoryEventBus{
		logger: buildBusOptions(opts).logger,
		topics: map[string][]*memorySub{},
	}
}

// Publish enqueues a clone of message for every subscriber of topic and blocks while
// a subscriber's queue is full, until ctx is done. No subscribers is not an error.
func (m *MemoryEventBus) Publish(ctx context.Context, topic string, message proto.Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errMemoryClosed
	}

	for _, s := range m.topics[topic] {
		select {
		case s.queue <- proto.Clone(message):
		case <-s.stopped:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish cancelled")
		}
	}
	return nil
}

// Subscribe starts a consumer for topic that runs until ctx is done or Close.
// Handler errors are logged; the subscription keeps consuming.
func (m *MemoryEventBus) Subscribe(ctx context.Context, topic string, handler HandlerFunc, options ...SubscribeOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMemoryClosed
	}

	s := &memorySub{
		topic:   topic,
		handler: applyMiddleware(handler, buildOptions(options).middlewares),
		queue:   make(chan proto.Message, subscriptionBuffer),
		stopped: make(chan struct{}),
	}
	m.topics[topic] = append(m.topics[topic], s)
	go s.consume(ctx, m.logger)
	return nil
}

func (s *memorySub) consume(ctx context.Context, logger *logging.Logger) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-s.queue:
			if !open {
				return
			}
			if err := s.handler(ctx, msg); err != nil {
				logger.Warn().Err(err).Str(logging.Topic, s.topic).Msg("event handler failed")
			}
		}
	}
}

// Close ends every subscription. Later calls are no-ops.
func (m *MemoryEventBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.topics {
		for _, s := range subs {
			close(s.queue)
		}
	}
	m.topics = nil
	return nil
}

// Check fails once the bus is closed.
func (m *MemoryEventBus) Check(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errMemoryClosed
	}
	return nil
}
