package cache

import (
	"context"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/Combine-Capital/drugfacts/pkg/breaker"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
)

// Tag index entries are JSON arrays of logical keys stored under tag:<tag> in each tier.
// Updates are read-modify-write and not atomic across writers: a concurrent add may be
// lost until the key is written again. Invalidation deletes keys that may already be gone,
// which is harmless.

// addKeyToTag registers key under tag in both tiers. Each tier's tag entry lives at least
// as long as the longest entry it references in that tier.
func (o *Orchestrator) addKeyToTag(ctx context.Context, tag, key string, ttl, l1TTL time.Duration) {
	phys := o.physical(TagKey(tag))

	if err := addToTierTag(ctx, o.l1, phys, key, l1TTL); err != nil {
		o.tierFailure(o.l1.Name(), "tag", key, err)
	}

	if !o.l2Available() {
		return
	}
	if _, err := breaker.Do(ctx, o.breakers, L2BreakerKey, func() (struct{}, error) {
		return struct{}{}, addToTierTag(ctx, o.l2, phys, key, ttl)
	}); err != nil {
		o.tierFailure(o.l2.Name(), "tag", key, err)
	}
}

func addToTierTag(ctx context.Context, tier Tier, phys, key string, ttl time.Duration) error {
	keys, err := readTierTag(ctx, tier, phys)
	if err != nil {
		return err
	}
	remaining, err := tier.TTL(ctx, phys)
	if err != nil {
		return err
	}

	if slices.Contains(keys, key) && remaining >= ttl {
		return nil
	}
	if !slices.Contains(keys, key) {
		keys = append(keys, key)
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return tier.Set(ctx, phys, data, max(remaining, ttl))
}

// readTierTag returns the keys stored under a tag entry. An unreadable entry is
// treated as empty and will be overwritten.
func readTierTag(ctx context.Context, tier Tier, phys string) ([]string, error) {
	data, ok, err := tier.Get(ctx, phys)
	if err != nil || !ok {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, nil
	}
	return keys, nil
}

// TagMembers returns the logical keys registered under tag in either tier.
func (o *Orchestrator) TagMembers(ctx context.Context, tag string) []string {
	phys := o.physical(TagKey(tag))

	keys, err := readTierTag(ctx, o.l1, phys)
	if err != nil {
		o.tierFailure(o.l1.Name(), "tag", tag, err)
	}

	if o.l2Available() {
		shared, err := breaker.Do(ctx, o.breakers, L2BreakerKey, func() ([]string, error) {
			return readTierTag(ctx, o.l2, phys)
		})
		if err != nil {
			o.tierFailure(o.l2.Name(), "tag", tag, err)
		}
		for _, k := range shared {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// InvalidateTag deletes every key registered under tag from both tiers, then the tag
// entry itself, and tells peers to drop the same keys from L1. Invalidating an unknown
// or already-invalidated tag is a no-op.
func (o *Orchestrator) InvalidateTag(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	keys := o.TagMembers(ctx, tag)
	o.remove(ctx, append(o.physicalKeys(keys), o.physical(TagKey(tag))))

	o.stats.invalidations.Add(1)
	o.metrics.Invalidation("tag")
	o.broadcast(ctx, eventTag, tag, keys)

	o.logger.Debug().
		Str(logging.Tag, tag).
		Int("keys", len(keys)).
		Int64(logging.Duration, time.Since(start).Milliseconds()).
		Msg("cache tag invalidated")
	o.metrics.ObserveOperation("invalidate_tag", time.Since(start))
	return nil
}
