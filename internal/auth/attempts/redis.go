// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package attempts

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultKeyPrefix namespaces attempt keys in Redis.
const DefaultKeyPrefix = "stepup:otp:attempts:"

// RedisCache is an attempt cache shared between nodes. The count key
// expires a fixed TTL after its first increment and the limit key shares
// that deadline.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// NewRedisCache creates a RedisCache. A zero or negative ttl uses DefaultTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) (*RedisCache, error) {
	if client == nil {
		return nil, oops.Code("ATTEMPTS_INVALID_CONFIG").Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &RedisCache{client: client, ttl: ttl, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *RedisCache) countKey(subject string) string {
	return c.prefix + subject
}

func (c *RedisCache) limitKey(subject string) string {
	return c.prefix + subject + ":limit"
}

func unavailable(op, subject string, err error) error {
	return oops.Code("ATTEMPTS_UNAVAILABLE").
		With("operation", op).
		With("subject", subject).
		Wrap(err)
}

// Increment adds one attempt and returns the new count. The count and its
// expiry are set in one transaction so the key can never outlive its window;
// EXPIRE NX keeps the window anchored at the first attempt.
func (c *RedisCache) Increment(ctx context.Context, subject string) (int, error) {
	key := c.countKey(subject)
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return 0, unavailable("INCR", subject, err)
	}
	return int(incr.Val()), nil
}

// Get returns the current count, 0 if absent.
func (c *RedisCache) Get(ctx context.Context, subject string) (int, error) {
	count, err := c.client.Get(ctx, c.countKey(subject)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable("GET", subject, err)
	}
	return count, nil
}

// Reset deletes the count and limit keys.
func (c *RedisCache) Reset(ctx context.Context, subject string) error {
	if err := c.client.Del(ctx, c.countKey(subject), c.limitKey(subject)).Err(); err != nil {
		return unavailable("DEL", subject, err)
	}
	return nil
}

// MarkLimitReached stores at unless a mark already exists and returns the
// stored mark.
func (c *RedisCache) MarkLimitReached(ctx context.Context, subject string, at time.Time) (time.Time, error) {
	ttl, err := c.client.PTTL(ctx, c.countKey(subject)).Result()
	if err != nil {
		return time.Time{}, unavailable("PTTL", subject, err)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	set, err := c.client.SetNX(ctx, c.limitKey(subject), at.UnixMilli(), ttl).Result()
	if err != nil {
		return time.Time{}, unavailable("SETNX", subject, err)
	}
	if set {
		return time.UnixMilli(at.UnixMilli()), nil
	}

	marked, ok, err := c.LimitReachedAt(ctx, subject)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.UnixMilli(at.UnixMilli()), nil
	}
	return marked, nil
}

// LimitReachedAt returns the stored limit mark.
func (c *RedisCache) LimitReachedAt(ctx context.Context, subject string) (time.Time, bool, error) {
	raw, err := c.client.Get(ctx, c.limitKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, unavailable("GET", subject, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, oops.Code("ATTEMPTS_CORRUPT").
			With("subject", subject).
			With("value", raw).
			Wrap(err)
	}
	return time.UnixMilli(ms), true, nil
}
