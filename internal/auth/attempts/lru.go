// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package attempts

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
)

// Defaults for the attempt cache.
const (
	DefaultCapacity = 100
	DefaultTTL      = 15 * time.Minute
)

type entry struct {
	count          int
	windowStart    time.Time
	limitReachedAt time.Time
}

// LRUCache is a capacity-bounded attempt cache. When full, the least
// recently used subject is evicted. It is safe for concurrent use.
type LRUCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]
	ttl   time.Duration
	now   func() time.Time
}

// LRUOption configures an LRUCache.
type LRUOption func(*LRUCache)

// WithClock sets the clock used to age entries.
func WithClock(now func() time.Time) LRUOption {
	return func(c *LRUCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLRUCache creates an LRUCache. Zero or negative capacity and ttl use
// DefaultCapacity and DefaultTTL.
func NewLRUCache(capacity int, ttl time.Duration, opts ...LRUOption) (*LRUCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, err := lru.New[string, *entry](capacity)
	if err != nil {
		return nil, oops.Code("ATTEMPTS_INVALID_CONFIG").With("capacity", capacity).Wrap(err)
	}
	c := &LRUCache{cache: cache, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// live returns the entry for subject if it has not aged out. Caller holds mu.
func (c *LRUCache) live(subject string, now time.Time) (*entry, bool) {
	e, ok := c.cache.Get(subject)
	if !ok {
		return nil, false
	}
	if now.Sub(e.windowStart) >= c.ttl {
		c.cache.Remove(subject)
		return nil, false
	}
	return e, true
}

// Increment adds one attempt and returns the new count.
func (c *LRUCache) Increment(_ context.Context, subject string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e, ok := c.live(subject, now)
	if !ok {
		e = &entry{windowStart: now}
		c.cache.Add(subject, e)
	}
	e.count++
	return e.count, nil
}

// Get returns the current count.
func (c *LRUCache) Get(_ context.Context, subject string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(subject, c.now())
	if !ok {
		return 0, nil
	}
	return e.count, nil
}

// Reset clears the subject's entry.
func (c *LRUCache) Reset(_ context.Context, subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(subject)
	return nil
}

// MarkLimitReached records at as the limit time unless one is already set.
func (c *LRUCache) MarkLimitReached(_ context.Context, subject string, at time.Time) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(subject, c.now())
	if !ok {
		e = &entry{windowStart: at}
		c.cache.Add(subject, e)
	}
	if e.limitReachedAt.IsZero() {
		e.limitReachedAt = at
	}
	return e.limitReachedAt, nil
}

// LimitReachedAt returns the recorded limit time.
func (c *LRUCache) LimitReachedAt(_ context.Context, subject string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(subject, c.now())
	if !ok || e.limitReachedAt.IsZero() {
		return time.Time{}, false, nil
	}
	return e.limitReachedAt, true, nil
}

// Len returns the number of cached subjects, including aged entries not
// yet touched.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
