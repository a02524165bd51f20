package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

const resetScanCount = 500

// RedisTier is the shared L2 tier backed by Redis.
type RedisTier struct {
	client    *redis.Client
	namespace string
}

// NewRedis creates the L2 tier and verifies connectivity with a PING.
// The client reconnects lazily afterwards, so a Redis restart only degrades the
// cache until the health monitor sees it back.
func NewRedis(ctx context.Context, cfg config.CacheConfig) (*RedisTier, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewTierUnavailable("l2", err)
	}

	return NewRedisFromClient(client, cfg.Namespace), nil
}

// NewRedisFromClient wraps an existing client. Reset only removes keys under namespace.
func NewRedisFromClient(client *redis.Client, namespace string) *RedisTier {
	return &RedisTier{client: client, namespace: namespace}
}

// Name implements Tier.
func (r *RedisTier) Name() string { return "l2" }

// Get implements Tier.
func (r *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewTierUnavailable("l2", err)
	}
	return data, true, nil
}

// GetMany implements Tier with a single MGET.
func (r *RedisTier) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.NewTierUnavailable("l2", err)
	}

	out := make([][]byte, len(keys))
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Set implements Tier.
func (r *RedisTier) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.NewTierUnavailable("l2", err)
	}
	return nil
}

// SetMany implements Tier with a pipeline.
func (r *RedisTier) SetMany(ctx context.Context, items []TierItem) error {
	if len(items) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.Set(ctx, item.Key, item.Data, item.TTL)
		}
		return nil
	})
	if err != nil {
		return errors.NewTierUnavailable("l2", err)
	}
	return nil
}

// Delete implements Tier.
func (r *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.NewTierUnavailable("l2", err)
	}
	return nil
}

// TTL implements Tier.
func (r *RedisTier) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, errors.NewTierUnavailable("l2", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Reset deletes every key under the namespace with SCAN and DEL. The rest of the
// database is left alone.
func (r *RedisTier) Reset(ctx context.Context) error {
	match := "*"
	if r.namespace != "" {
		match = r.namespace + ":*"
	}

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, resetScanCount).Result()
		if err != nil {
			return errors.NewTierUnavailable("l2", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.NewTierUnavailable("l2", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping implements Pinger.
func (r *RedisTier) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.NewTierUnavailable("l2", err)
	}
	return nil
}

// Check implements the health.Checker interface.
//
//	h := health.New()
//	h.RegisterChecker("redis", redisTier)
func (r *RedisTier) Check(ctx context.Context) error {
	return r.Ping(ctx)
}

// Close releases the underlying connection pool.
func (r *RedisTier) Close() error {
	return r.client.Close()
}
