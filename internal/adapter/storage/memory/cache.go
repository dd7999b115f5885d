package memory

import (
	"context"
	"sync"
	"time"

	"donation-gateway/internal/core/ports"

	"github.com/google/uuid"
)

// Cache is an expiring key-value map that stands in for Redis when it is
// disabled. It implements ports.Locker, ports.NonceStore, ports.RateLimiter
// and ports.QRCache.
type Cache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     []byte
	count     int64
	expiresAt time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{now: time.Now, entries: make(map[string]cacheEntry)}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// live returns the entry under key unless it expired. Caller holds mu.
func (c *Cache) live(key string) (cacheEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *Cache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := "lock:" + key
	if _, ok := c.live(k); ok {
		return "", false, nil
	}
	token := uuid.NewString()
	c.entries[k] = cacheEntry{value: []byte(token), expiresAt: c.now().Add(ttl)}
	return token, true, nil
}

func (c *Cache) Unlock(ctx context.Context, key string, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := "lock:" + key
	if e, ok := c.live(k); ok && string(e.value) == token {
		delete(c.entries, k)
	}
	return nil
}

func (c *Cache) CheckAndSet(ctx context.Context, clientID string, nonce string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := "nonce:" + clientID + ":" + nonce
	if _, ok := c.live(k); ok {
		return false, nil
	}
	c.entries[k] = cacheEntry{expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *Cache) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seconds := int64(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	windowID := c.now().Unix() / seconds
	resetAt := (windowID + 1) * seconds

	k := "ratelimit:" + key
	e, ok := c.live(k)
	if !ok || e.expiresAt.Unix() != resetAt {
		e = cacheEntry{expiresAt: time.Unix(resetAt, 0)}
	}
	e.count++
	c.entries[k] = e

	remaining := limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   e.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.live("qr:" + key); ok {
		return append([]byte(nil), e.value...), nil
	}
	return nil, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.entries["qr:"+key] = cacheEntry{value: append([]byte(nil), value...), expiresAt: exp}
	return nil
}
