package cache

import (
	"context"
	"time"
)

// Tier is one level of the cache hierarchy. Keys are physical (namespaced) keys and
// values are opaque bytes. Implementations must be safe for concurrent use.
type Tier interface {
	// Name identifies the tier in logs and metrics ("l1", "l2").
	Name() string

	// Get returns the stored bytes and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// GetMany returns one slot per key, nil for missing keys.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)

	// Set stores data under key for ttl.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// SetMany stores several items in one round trip where the backend allows it.
	SetMany(ctx context.Context, items []TierItem) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// TTL returns the remaining lifetime of key, or 0 when it is missing or has none.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Reset removes every entry the tier holds for this cache.
	Reset(ctx context.Context) error
}

// TierItem is one write of a batched SetMany.
type TierItem struct {
	Key  string
	Data []byte
	TTL  time.Duration
}

// Pinger is implemented by tiers that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
