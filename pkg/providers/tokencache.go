package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenRefreshMargin is subtracted from the issued expiry.
const tokenRefreshMargin = 30 * time.Second

// Token is a bearer token and its absolute expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenCache stores bearer tokens keyed by a credential hash. Concurrent
// misses for the same key share one fetch.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]Token
	group   singleflight.Group
	now     func() time.Time
}

// NewTokenCache creates an empty cache.
func NewTokenCache(now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{entries: make(map[string]Token), now: now}
}

// CacheKey hashes the identifying credential parts so secrets never become map keys.
func CacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached token that is still valid past the refresh margin, or calls fetch.
func (c *TokenCache) Get(ctx context.Context, key string, fetch func(ctx context.Context) (Token, error)) (string, error) {
	if tok, ok := c.valid(key); ok {
		return tok, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if tok, ok := c.valid(key); ok {
			return tok, nil
		}
		t, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[key] = t
		c.mu.Unlock()
		return t.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops a cached token, forcing the next Get to refetch.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *TokenCache) valid(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[key]
	if !ok || !c.now().Before(t.ExpiresAt.Add(-tokenRefreshMargin)) {
		return "", false
	}
	return t.Value, true
}
