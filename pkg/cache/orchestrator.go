// Package cache is the two-tier cache in front of the drug document store.
//
// An Orchestrator composes an in-process L1 tier (MemoryTier), an optional shared L2 tier
// (RedisTier), a Codec and a tag index into one API. Reads go L1, then L2 (backfilling L1),
// then report absent. Every tier failure is logged and treated as a miss, so a Redis outage
// costs latency and never an error.
//
//	l1, _ := cache.NewMemory(cfg.Memory)
//	l2, _ := cache.NewRedis(ctx, cfg.Cache)
//	o, _ := cache.New(cache.Options{L1: l1, L2: l2, Namespace: "drugfacts", Logger: logger})
//	defer o.Close()
//
//	drug, err := cache.Wrap(ctx, o, cache.Key("drug", "full", slug), opts,
//	    func(ctx context.Context) (drugs.Drug, error) {
//	        return store.GetBySlug(ctx, slug)
//	    })
//
//	// After a write to the document store:
//	_ = o.InvalidateTag(ctx, cache.Key(cache.TagDrug, slug))
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Combine-Capital/drugfacts/pkg/breaker"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/metrics"
)

// L2BreakerKey is the breaker guarding calls to the shared tier.
const L2BreakerKey = "l2"

const (
	defaultTTL         = time.Hour
	defaultBackfillTTL = time.Minute
)

// Options configures an Orchestrator. Only L1 is required.
type Options struct {
	L1 Tier
	L2 Tier

	Codec     *Codec
	Namespace string

	// DefaultTTL applies to writes without a TTL.
	DefaultTTL time.Duration
	// BackfillTTL is the L1 lifetime of entries copied up from L2.
	BackfillTTL time.Duration

	Breakers *breaker.Manager
	Logger   *logging.Logger
	Metrics  *metrics.CacheMetrics

	// Events, when set, receives invalidations so peer instances can drop their L1 copies.
	Events EventPublisher
}

// SetOptions controls a single write.
type SetOptions struct {
	// TTL is the L2 lifetime. Zero selects the orchestrator default.
	TTL time.Duration
	// L1TTL is the L1 lifetime, capped at TTL. Zero means TTL.
	L1TTL time.Duration
	// Compress enables gzip above the codec threshold.
	Compress bool
	// Tags lists the invalidation tags the key is registered under.
	Tags []string
	// Category labels miss metrics.
	Category Category
}

// Item is one write of an MSet.
type Item struct {
	Key     string
	Value   interface{}
	Options SetOptions
}

// Orchestrator is the cache facade. It is safe for concurrent use; composite operations
// such as Wrap and tag updates are not serialized against each other.
type Orchestrator struct {
	l1          Tier
	l2          Tier
	codec       *Codec
	namespace   string
	defaultTTL  time.Duration
	backfillTTL time.Duration

	breakers *breaker.Manager
	logger   *logging.Logger
	metrics  *metrics.CacheMetrics
	events   EventPublisher

	instanceID string
	healthy    atomic.Bool
	stats      counters

	monitorMu   sync.Mutex
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.L1 == nil {
		return nil, errors.NewInvalidInput("l1", "an in-process tier is required")
	}
	if opts.Codec == nil {
		opts.Codec = NewCodec(DefaultCompressionThreshold, -1)
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultTTL
	}
	if opts.BackfillTTL <= 0 {
		opts.BackfillTTL = defaultBackfillTTL
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	o := &Orchestrator{
		l1:          opts.L1,
		l2:          opts.L2,
		codec:       opts.Codec,
		namespace:   opts.Namespace,
		defaultTTL:  opts.DefaultTTL,
		backfillTTL: opts.BackfillTTL,
		breakers:    opts.Breakers,
		logger:      opts.Logger.WithComponent("cache"),
		metrics:     opts.Metrics,
		events:      opts.Events,
		instanceID:  uuid.NewString(),
	}
	o.healthy.Store(true)
	return o, nil
}

// InstanceID identifies this orchestrator on the invalidation topic.
func (o *Orchestrator) InstanceID() string {
	return o.instanceID
}

// Set encodes value and writes it to L2 with opts.TTL, to L1 with the shorter L1 TTL,
// and registers key under each tag. The only error is an unserializable value; tier
// failures are logged and swallowed.
func (o *Orchestrator) Set(ctx context.Context, key string, value interface{}, opts SetOptions) error {
	start := time.Now()

	w, err := o.prepare(key, value, opts)
	if err != nil {
		return err
	}
	o.write(ctx, []write{w})

	o.logger.Debug().
		Str(logging.CacheKey, key).
		Bool("compressed", w.compressed).
		Int64(logging.Duration, time.Since(start).Milliseconds()).
		Msg("cache set")
	o.metrics.ObserveOperation("set", time.Since(start))
	return nil
}

// MSet writes several items, pipelining the L2 writes. Nothing is written when any
// value is unserializable.
func (o *Orchestrator) MSet(ctx context.Context, items []Item) error {
	start := time.Now()

	writes := make([]write, 0, len(items))
	for _, item := range items {
		w, err := o.prepare(item.Key, item.Value, item.Options)
		if err != nil {
			return errors.Wrapf(err, "mset %s", item.Key)
		}
		writes = append(writes, w)
	}
	o.write(ctx, writes)

	o.logger.Debug().
		Int("count", len(writes)).
		Int64(logging.Duration, time.Since(start).Milliseconds()).
		Msg("cache mset")
	o.metrics.ObserveOperation("mset", time.Since(start))
	return nil
}

// Delete removes keys from both tiers and tells peers to drop them from L1.
func (o *Orchestrator) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()

	o.remove(ctx, o.physicalKeys(keys))
	o.stats.invalidations.Add(1)
	o.metrics.Invalidation("key")
	o.broadcast(ctx, eventKeys, "", keys)

	o.logger.Debug().
		Strs("keys", keys).
		Int64(logging.Duration, time.Since(start).Milliseconds()).
		Msg("cache delete")
	return nil
}

// Reset clears both tiers. In L2 only keys under the namespace are removed.
// Peers are told to clear their L1.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	if err := o.l1.Reset(ctx); err != nil {
		o.tierFailure(o.l1.Name(), "reset", "", err)
	}
	if o.l2Available() {
		if _, err := breaker.Do(ctx, o.breakers, L2BreakerKey, func() (struct{}, error) {
			return struct{}{}, o.l2.Reset(ctx)
		}); err != nil {
			o.tierFailure(o.l2.Name(), "reset", "", err)
		}
	}

	o.stats.invalidations.Add(1)
	o.metrics.Invalidation("reset")
	o.broadcast(ctx, eventReset, "", nil)

	o.logger.Info().
		Int64(logging.Duration, time.Since(start).Milliseconds()).
		Msg("cache reset")
	return nil
}

// Close stops the health monitor. Tiers are owned by the caller.
func (o *Orchestrator) Close() error {
	o.StopMonitor()
	return nil
}

// lookup finds the envelope for key, L1 first. An L2 hit is copied into L1.
// Corrupt envelopes are evicted and read as absent.
func (o *Orchestrator) lookup(ctx context.Context, key string) (Entry, string, bool) {
	phys := o.physical(key)

	data, ok, err := o.l1.Get(ctx, phys)
	if err != nil {
		o.tierFailure(o.l1.Name(), "get", key, err)
	} else if ok {
		e, err := unmarshalEntry(data)
		if err == nil {
			return e, o.l1.Name(), true
		}
		o.evictCorrupt(ctx, key, err)
		return Entry{}, "", false
	}

	data, ok = o.l2Get(ctx, phys)
	if !ok {
		return Entry{}, "", false
	}
	e, err := unmarshalEntry(data)
	if err != nil {
		o.evictCorrupt(ctx, key, err)
		return Entry{}, "", false
	}

	if err := o.l1.Set(ctx, phys, data, o.backfillTTL); err != nil {
		o.tierFailure(o.l1.Name(), "backfill", key, err)
	}
	return e, o.l2.Name(), true
}

// lookupMany resolves keys in order with one L2 round trip for the L1 misses.
func (o *Orchestrator) lookupMany(ctx context.Context, keys []string) ([]Entry, []string) {
	entries := make([]Entry, len(keys))
	tiers := make([]string, len(keys))

	var missIdx []int
	var missPhys []string
	for i, key := range keys {
		phys := o.physical(key)
		data, ok, err := o.l1.Get(ctx, phys)
		if err != nil {
			o.tierFailure(o.l1.Name(), "get", key, err)
		}
		if ok {
			e, err := unmarshalEntry(data)
			if err != nil {
				o.evictCorrupt(ctx, key, err)
				continue
			}
			entries[i], tiers[i] = e, o.l1.Name()
			continue
		}
		missIdx = append(missIdx, i)
		missPhys = append(missPhys, phys)
	}

	if len(missPhys) == 0 || !o.l2Available() {
		return entries, tiers
	}

	values, err := breaker.Do(ctx, o.breakers, L2BreakerKey, func() ([][]byte, error) {
		return o.l2.GetMany(ctx, missPhys)
	})
	if err != nil {
		o.tierFailure(o.l2.Name(), "mget", "", err)
		return entries, tiers
	}

	var backfill []TierItem
	for j, data := range values {
		if data == nil || j >= len(missIdx) {
			continue
		}
		i := missIdx[j]
		e, err := unmarshalEntry(data)
		if err != nil {
			o.evictCorrupt(ctx, keys[i], err)
			continue
		}
		entries[i], tiers[i] = e, o.l2.Name()
		backfill = append(backfill, TierItem{Key: missPhys[j], Data: data, TTL: o.backfillTTL})
	}
	if err := o.l1.SetMany(ctx, backfill); err != nil {
		o.tierFailure(o.l1.Name(), "backfill", "", err)
	}
	return entries, tiers
}

// write is an encoded, ready-to-store Set.
type write struct {
	key        string
	phys       string
	data       []byte
	compressed bool
	ttl        time.Duration
	l1TTL      time.Duration
	tags       []string
	saved      int
}

func (o *Orchestrator) prepare(key string, value interface{}, opts SetOptions) (write, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = o.defaultTTL
	}
	l1TTL := opts.L1TTL
	if l1TTL <= 0 || l1TTL > ttl {
		l1TTL = ttl
	}

	payload, compressed, rawSize, err := o.codec.encode(value, opts.Compress)
	if err != nil {
		return write{}, err
	}

	data, err := marshalEntry(Entry{
		Value:      payload,
		Compressed: compressed,
		StoredAt:   time.Now().UTC(),
		Tags:       opts.Tags,
	})
	if err != nil {
		return write{}, errors.NewInvalidInputWithCause("value", "envelope not serializable", err)
	}

	w := write{
		key:        key,
		phys:       o.physical(key),
		data:       data,
		compressed: compressed,
		ttl:        ttl,
		l1TTL:      l1TTL,
		tags:       opts.Tags,
	}
	if compressed {
		w.saved = rawSize - len(payload)
	}
	return w, nil
}

func (o *Orchestrator) write(ctx context.Context, writes []write) {
	if len(writes) == 0 {
		return
	}

	if o.l2Available() {
		var err error
		if len(writes) == 1 {
			w := writes[0]
			_, err = breaker.Do(ctx, o.breakers, L2BreakerKey, func() (struct{}, error) {
				return struct{}{}, o.l2.Set(ctx, w.phys, w.data, w.ttl)
			})
		} else {
			items := make([]TierItem, len(writes))
			for i, w := range writes {
				items[i] = TierItem{Key: w.phys, Data: w.data, TTL: w.ttl}
			}
			_, err = breaker.Do(ctx, o.breakers, L2BreakerKey, func() (struct{}, error) {
				return struct{}{}, o.l2.SetMany(ctx, items)
			})
		}
		if err != nil {
			o.tierFailure(o.l2.Name(), "set", writes[0].key, err)
		}
	}

	items := make([]TierItem, len(writes))
	for i, w := range writes {
		items[i] = TierItem{Key: w.phys, Data: w.data, TTL: w.l1TTL}
	}
	if err := o.l1.SetMany(ctx, items); err != nil {
		o.tierFailure(o.l1.Name(), "set", writes[0].key, err)
	}

	for _, w := range writes {
		for _, tag := range w.tags {
			o.addKeyToTag(ctx, tag, w.key, w.ttl, w.l1TTL)
		}
		o.stats.sets.Add(1)
		o.stats.bytesSaved.Add(int64(w.saved))
	}
}

// remove deletes physical keys from both tiers.
func (o *Orchestrator) remove(ctx context.Context, phys []string) {
	if err := o.l1.Delete(ctx, phys...); err != nil {
		o.tierFailure(o.l1.Name(), "delete", "", err)
	}
	if !o.l2Available() {
		return
	}
	if _, err := breaker.Do(ctx, o.breakers, L2BreakerKey, func() (struct{}, error) {
		return struct{}{}, o.l2.Delete(ctx, phys...)
	}); err != nil {
		o.tierFailure(o.l2.Name(), "delete", "", err)
	}
}

func (o *Orchestrator) evictCorrupt(ctx context.Context, key string, cause error) {
	o.stats.corrupt.Add(1)
	o.logger.Warn().
		Str(logging.CacheKey, key).
		Err(cause).
		Msg("evicting corrupt cache entry")
	o.remove(ctx, []string{o.physical(key)})
}

func (o *Orchestrator) l2Get(ctx context.Context, phys string) ([]byte, bool) {
	if !o.l2Available() {
		return nil, false
	}

	type result struct {
		data []byte
		ok   bool
	}
	r, err := breaker.Do(ctx, o.breakers, L2BreakerKey, func() (result, error) {
		data, ok, err := o.l2.Get(ctx, phys)
		return result{data: data, ok: ok}, err
	})
	if err != nil {
		o.tierFailure(o.l2.Name(), "get", phys, err)
		return nil, false
	}
	return r.data, r.ok
}

// l2Available reports whether L2 is configured and the monitor last saw it healthy.
func (o *Orchestrator) l2Available() bool {
	return o.l2 != nil && o.healthy.Load()
}

// tierFailure logs and counts a swallowed tier error. Breaker rejections are expected
// while the breaker is open and only logged at debug level.
func (o *Orchestrator) tierFailure(tier, op, key string, err error) {
	o.stats.tierErrors.Add(1)
	o.metrics.TierError(tier)

	event := o.logger.Warn()
	if errors.IsDependencyUnavailable(err) {
		event = o.logger.Debug()
	}
	event.
		Str(logging.Tier, tier).
		Str("operation", op).
		Str(logging.CacheKey, key).
		Err(err).
		Msg("cache tier failure ignored")
}

func (o *Orchestrator) physical(key string) string {
	if o.namespace == "" {
		return key
	}
	return o.namespace + ":" + key
}

func (o *Orchestrator) physicalKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = o.physical(k)
	}
	return out
}
