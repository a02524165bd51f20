package cache

import (
	"context"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Combine-Capital/drugfacts/pkg/bus"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
)

// InvalidationTopic carries invalidations between instances sharing an L2 tier.
var InvalidationTopic = bus.TopicName("cache_invalidated")

const (
	eventTag   = "tag"
	eventKeys  = "keys"
	eventReset = "reset"
)

// EventPublisher is the part of bus.EventBus the orchestrator publishes through.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, message proto.Message) error
}

// broadcast publishes an invalidation. Peers already lost the shared copies, so the
// event lists the keys they must drop from their own L1. Failures are logged only.
func (o *Orchestrator) broadcast(ctx context.Context, kind, tag string, keys []string) {
	if o.events == nil {
		return
	}

	list := make([]interface{}, len(keys))
	for i, k := range keys {
		list[i] = k
	}
	msg, err := structpb.NewStruct(map[string]interface{}{
		"origin": o.instanceID,
		"kind":   kind,
		"tag":    tag,
		"keys":   list,
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("building cache invalidation event")
		return
	}

	if err := o.events.Publish(ctx, InvalidationTopic, msg); err != nil {
		o.logger.Warn().
			Str("kind", kind).
			Str(logging.Tag, tag).
			Err(err).
			Msg("publishing cache invalidation failed")
	}
}

// HandleInvalidation applies an invalidation published by another instance to L1.
// It has the bus.HandlerFunc signature. Events this instance published are ignored.
func (o *Orchestrator) HandleInvalidation(ctx context.Context, message proto.Message) error {
	event, ok := message.(*structpb.Struct)
	if !ok {
		return errors.NewPermanent("unexpected cache invalidation payload", nil)
	}

	fields := event.GetFields()
	if fields["origin"].GetStringValue() == o.instanceID {
		return nil
	}

	kind := fields["kind"].GetStringValue()
	switch kind {
	case eventReset:
		if err := o.l1.Reset(ctx); err != nil {
			return errors.NewTemporary("resetting l1", err)
		}
	case eventTag, eventKeys:
		var phys []string
		for _, v := range fields["keys"].GetListValue().GetValues() {
			phys = append(phys, o.physical(v.GetStringValue()))
		}
		if tag := fields["tag"].GetStringValue(); tag != "" {
			phys = append(phys, o.physical(TagKey(tag)))
		}
		if err := o.l1.Delete(ctx, phys...); err != nil {
			return errors.NewTemporary("deleting from l1", err)
		}
	default:
		return errors.NewPermanent("unknown cache invalidation kind "+kind, nil)
	}

	o.metrics.Invalidation("remote")
	o.logger.Debug().
		Str("kind", kind).
		Str("origin", fields["origin"].GetStringValue()).
		Msg("applied remote cache invalidation")
	return nil
}
