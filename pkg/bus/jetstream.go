package bus

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/tracing"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
)

const (
	streamSubjects = topicPrefix + ".>"

	// Invalidations are only useful to instances that are running now.
	streamMaxAge = time.Hour

	// consumerInactiveThreshold is how long the server keeps the consumer of an
	// instance that stopped pulling.
	consumerInactiveThreshold = 5 * time.Minute

	defaultMaxDeliver    = 3
	defaultAckWait       = 30 * time.Second
	defaultMaxAckPending = 1000
)

// JetStreamEventBus publishes through a NATS JetStream stream. Each instance
// consumes through its own consumer, so every event reaches every instance.
type JetStreamEventBus struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	cfg        config.EventBusConfig
	logger     *logging.Logger
	instanceID string

	mu      sync.RWMutex
	closed  bool
	running []jetstream.ConsumeContext
}

// NewJetStream connects to the configured servers and makes sure the stream carries
// the drugfacts subjects.
func NewJetStream(ctx context.Context, cfg config.EventBusConfig, opts ...Option) (*JetStreamEventBus, error) {
	switch {
	case len(cfg.Servers) == 0:
		return nil, errors.NewInvalidInput("servers", "at least one NATS server is required")
	case cfg.StreamName == "":
		return nil, errors.NewInvalidInput("stream_name", "stream name is required")
	}
	o := buildBusOptions(opts)

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","),
		nats.Name("drugfacts-"+o.instanceID),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				o.logger.Warn().Err(err).Msg("NATS connection lost")
			}
		}),
	)
	if err != nil {
		return nil, errors.NewDependencyUnavailable("nats", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.NewTemporary("creating JetStream context", err)
	}

	j := &JetStreamEventBus{nc: nc, js: js, cfg: cfg, logger: o.logger, instanceID: o.instanceID}
	if err := j.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return j, nil
}

// ensureStream creates the stream, or appends the drugfacts subjects to a stream
// shared with other producers.
func (j *JetStreamEventBus) ensureStream(ctx context.Context) error {
	stream, err := j.js.Stream(ctx, j.cfg.StreamName)
	if err != nil {
		_, err = j.js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        j.cfg.StreamName,
			Description: "drugfacts events",
			Subjects:    []string{streamSubjects},
			Retention:   jetstream.LimitsPolicy,
			Storage:     jetstream.FileStorage,
			MaxAge:      streamMaxAge,
			Replicas:    1,
		})
		return errors.Wrapf(err, "creating stream %s", j.cfg.StreamName)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return errors.Wrapf(err, "reading stream %s", j.cfg.StreamName)
	}
	if slices.Contains(info.Config.Subjects, streamSubjects) {
		return nil
	}
	sc := info.Config
	sc.Subjects = append(sc.Subjects, streamSubjects)
	_, err = j.js.UpdateStream(ctx, sc)
	return errors.Wrapf(err, "adding subjects to stream %s", j.cfg.StreamName)
}

// usable rejects calls after Close and topics outside the drugfacts namespace. The
// caller holds j.mu for reading.
func (j *JetStreamEventBus) usable(topic string) error {
	if j.closed {
		return errors.NewPermanent("event bus is closed", nil)
	}
	if !IsValidTopic(topic) {
		return errors.NewInvalidInput("topic", fmt.Sprintf("%q is outside %s", topic, streamSubjects))
	}
	return nil
}

// Publish sends message to topic with the caller's trace context in the headers.
func (j *JetStreamEventBus) Publish(ctx context.Context, topic string, message proto.Message) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if err := j.usable(topic); err != nil {
		return err
	}

	data, err := encode(message)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(ctx, "bus.publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(tracing.MessagingAttributes("nats", topic, "publish", len(data))...)

	msg := nats.NewMsg(topic)
	msg.Data = data
	tracing.InjectHeaders(ctx, http.Header(msg.Header))

	if _, err := j.js.PublishMsg(ctx, msg); err != nil {
		tracing.SetSpanError(ctx, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, "publish cancelled")
		}
		return errors.NewTemporary("publishing to "+topic, err)
	}
	return nil
}

// Subscribe starts consuming new messages on topic through this instance's consumer.
// Retryable handler errors are redelivered up to MaxDeliver times; other errors
// terminate the message.
func (j *JetStreamEventBus) Subscribe(ctx context.Context, topic string, handler HandlerFunc, options ...SubscribeOption) error {
	j.mu.RLock()
	if err := j.usable(topic); err != nil {
		j.mu.RUnlock()
		return err
	}
	j.mu.RUnlock()

	handler = applyMiddleware(handler, buildOptions(options).middlewares)

	name := j.consumerName(topic)
	consumer, err := j.js.CreateOrUpdateConsumer(ctx, j.cfg.StreamName, jetstream.ConsumerConfig{
		Name:              name,
		Durable:           name,
		FilterSubject:     topic,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           j.ackWait(),
		MaxDeliver:        j.maxDeliver(),
		MaxAckPending:     j.maxAckPending(),
		InactiveThreshold: consumerInactiveThreshold,
	})
	if err != nil {
		return errors.Wrapf(err, "creating consumer %s", name)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		j.deliver(ctx, msg, handler)
	})
	if err != nil {
		return errors.Wrapf(err, "consuming %s", topic)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		cc.Stop()
		return errors.NewPermanent("event bus is closed", nil)
	}
	j.running = append(j.running, cc)
	return nil
}

func (j *JetStreamEventBus) deliver(ctx context.Context, msg jetstream.Msg, handler HandlerFunc) {
	if hdr := msg.Headers(); hdr != nil {
		ctx = tracing.ExtractHeaders(ctx, http.Header(hdr))
	}
	ctx, span := tracing.StartSpan(ctx, "bus.consume", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(tracing.MessagingAttributes("nats", msg.Subject(), "process", len(msg.Data()))...)

	log := j.logger.WithFields(map[string]interface{}{logging.Topic: msg.Subject()})

	event, err := decode(msg.Data())
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log.Error().Err(err).Msg("dropping undecodable event")
		_ = msg.Term()
		return
	}

	err = handler(ctx, event)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.IsRetryable(err):
		tracing.SetSpanError(ctx, err)
		_ = msg.Nak()
	default:
		tracing.SetSpanError(ctx, err)
		log.Warn().Err(err).Msg("event handler failed")
		_ = msg.Term()
	}
}

// consumerName is unique per topic and instance.
func (j *JetStreamEventBus) consumerName(topic string) string {
	prefix := j.cfg.ConsumerName
	if prefix == "" {
		prefix = "drugfacts"
	}
	return prefix + "-" + ParseEventType(topic) + "-" + j.instanceID
}

func (j *JetStreamEventBus) maxDeliver() int {
	return positiveOr(j.cfg.MaxDeliver, defaultMaxDeliver)
}

func (j *JetStreamEventBus) ackWait() time.Duration {
	return positiveOr(j.cfg.AckWait, defaultAckWait)
}

func (j *JetStreamEventBus) maxAckPending() int {
	return positiveOr(j.cfg.MaxAckPending, defaultMaxAckPending)
}

func positiveOr[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// Close stops every consumer and drains the connection. It is safe to call twice.
func (j *JetStreamEventBus) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	for _, cc := range j.running {
		cc.Stop()
	}
	j.running = nil

	if err := j.nc.Drain(); err != nil {
		j.logger.Debug().Err(err).Msg("draining NATS connection")
	}
	j.nc.Close()
	return nil
}

// Check implements health.Checker: the connection must be up and answer a ping.
func (j *JetStreamEventBus) Check(ctx context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return errors.NewTemporary("event bus is closed", nil)
	}
	if status := j.nc.Status(); status != nats.CONNECTED {
		return errors.NewTemporary(fmt.Sprintf("NATS connection is %v", status), nil)
	}
	if _, err := j.nc.RTT(); err != nil {
		return errors.NewTemporary("NATS round trip failed", err)
	}
	return nil
}
