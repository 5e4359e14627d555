package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store is the single-key KV interface the response cache needs. *Service
// satisfies it; tests supply in-memory fakes.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ResponseCache is a fingerprint-keyed cache namespace with a fixed TTL.
// It is strictly best-effort: store errors degrade to misses on read and are
// swallowed on write, so a broken cache can never fail the pipeline. There is
// no negative caching, and overwriting an unexpired key is allowed
// (last-write-wins).
type ResponseCache struct {
	store  Store
	prefix string
	ttl    time.Duration
}

// NewResponseCache creates a cache over the given namespace prefix (one of
// PrefixMarketData or PrefixGeneration).
func NewResponseCache(store Store, prefix string, ttl time.Duration) *ResponseCache {
	return &ResponseCache{store: store, prefix: prefix, ttl: ttl}
}

// Get returns the cached payload for a fingerprint. The second return is
// false on miss or on any store error.
func (c *ResponseCache) Get(ctx context.Context, fp Fingerprint) (string, bool) {
	if c == nil || c.store == nil {
		return "", false
	}
	val, err := c.store.Get(ctx, c.key(fp))
	if err != nil {
		return "", false
	}
	return val, true
}

// Put stores a payload under a fingerprint. Errors are reported so callers
// can log them, but callers must never treat them as fatal.
func (c *ResponseCache) Put(ctx context.Context, fp Fingerprint, value string) error {
	if c == nil || c.store == nil {
		return errors.New("response cache not configured")
	}
	return c.store.Set(ctx, c.key(fp), value, c.ttl)
}

// TTL returns the cache's configured expiry.
func (c *ResponseCache) TTL() time.Duration { return c.ttl }

func (c *ResponseCache) key(fp Fingerprint) string {
	return fmt.Sprintf(c.prefix, string(fp))
}
