package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Combine-Capital/drugfacts/pkg/config"
)

const (
	defaultMemoryEntries = 1000
	defaultMemoryTTL     = 5 * time.Minute
)

type memEntry struct {
	data    []byte
	expires time.Time
}

// MemoryTier is the in-process L1 tier: a bounded LRU with per-entry expiry.
// Expired entries are dropped lazily on access.
type MemoryTier struct {
	entries *lru.Cache[string, memEntry]
	maxTTL  time.Duration
	now     func() time.Time
}

// NewMemory creates an L1 tier holding at most cfg.MaxEntries entries. cfg.DefaultTTL
// caps every entry's lifetime and is used when a write carries no TTL.
func NewMemory(cfg config.MemoryConfig) (*MemoryTier, error) {
	size := cfg.MaxEntries
	if size <= 0 {
		size = defaultMemoryEntries
	}
	maxTTL := cfg.DefaultTTL
	if maxTTL <= 0 {
		maxTTL = defaultMemoryTTL
	}

	entries, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, err
	}

	return &MemoryTier{
		entries: entries,
		maxTTL:  maxTTL,
		now:     time.Now,
	}, nil
}

// Name implements Tier.
func (m *MemoryTier) Name() string { return "l1" }

// Get implements Tier.
func (m *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		m.entries.Remove(key)
		return nil, false, nil
	}
	return e.data, true, nil
}

// GetMany implements Tier.
func (m *MemoryTier) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, key := range keys {
		out[i], _, _ = m.Get(ctx, key)
	}
	return out, nil
}

// Set implements Tier. The data is copied so callers may reuse their buffer.
func (m *MemoryTier) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > m.maxTTL {
		ttl = m.maxTTL
	}
	m.entries.Add(key, memEntry{
		data:    append([]byte(nil), data...),
		expires: m.now().Add(ttl),
	})
	return nil
}

// SetMany implements Tier.
func (m *MemoryTier) SetMany(ctx context.Context, items []TierItem) error {
	for _, item := range items {
		_ = m.Set(ctx, item.Key, item.Data, item.TTL)
	}
	return nil
}

// Delete implements Tier.
func (m *MemoryTier) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.entries.Remove(key)
	}
	return nil
}

// TTL implements Tier.
func (m *MemoryTier) TTL(_ context.Context, key string) (time.Duration, error) {
	e, ok := m.entries.Peek(key)
	if !ok {
		return 0, nil
	}
	if remaining := e.expires.Sub(m.now()); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Reset implements Tier.
func (m *MemoryTier) Reset(context.Context) error {
	m.entries.Purge()
	return nil
}

// Len returns the number of entries held, including expired ones not yet evicted.
func (m *MemoryTier) Len() int {
	return m.entries.Len()
}

// MaxTTL is the longest lifetime an entry can have in this tier.
func (m *MemoryTier) MaxTTL() time.Duration {
	return m.maxTTL
}
