package subscription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"subgate/internal/support"
)

// PayloadCache stores raw subscription bodies by source URL.
type PayloadCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, body []byte, ttl time.Duration) error
	Delete(ctx context.Context, url string) error
}

const redisCachePrefix = "subgate:subscription:"

// RedisCache keeps bodies in redis under subgate:subscription:<sha1(url)>.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisCacheKey(url string) string {
	return redisCachePrefix + support.HashString(url)
}

func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	body, err := c.client.Get(ctx, redisCacheKey(url)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return body, true, nil
}

func (c *RedisCache) Set(ctx context.Context, url string, body []byte, ttl time.Duration) error {
	return c.client.Set(ctx, redisCacheKey(url), body, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, url string) error {
	return c.client.Del(ctx, redisCacheKey(url)).Err()
}

type memoryEntry struct {
	body    []byte
	expires time.Time
}

// MemoryCache is the in-process PayloadCache used when redis is not
// configured. Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, url string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		delete(c.entries, url)
		return nil, false, nil
	}
	return entry.body, true, nil
}

func (c *MemoryCache) Set(_ context.Context, url string, body []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{body: append([]byte(nil), body...)}
	if ttl > 0 {
		entry.expires = c.now().Add(ttl)
	}
	c.entries[url] = entry
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
	return nil
}
