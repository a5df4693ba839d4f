// File: utils/cache.go
package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"slotkeeper/config"

	"github.com/go-redis/redis/v8"
)

// Cache is the key-value store behind the availability range cache and the
// idempotency cache. Values are JSON encoded.
type Cache interface {
	// Get decodes the value at key into dest and reports whether it was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// DelPrefix removes every key that starts with prefix.
	DelPrefix(ctx context.Context, prefix string) (int64, error)
}

// CacheClient is the generic Redis client.
var CacheClient *redis.Client

// InitCache initializes the generic Redis cache client (using DB from AppConfig for general caching).
func InitCache() {
	CacheClient = redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisCacheDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := CacheClient.Ping(ctx).Result()
	if err != nil {
		log.Fatalf("Failed to connect to Redis (Cache): %v", err)
	}
}

// GetCacheClient returns the generic cache client.
func GetCacheClient() *redis.Client {
	if CacheClient == nil {
		InitCache()
	}
	return CacheClient
}

// NewCacheFromConfig returns the Cache selected by CACHE_DRIVER.
func NewCacheFromConfig() Cache {
	if strings.EqualFold(config.AppConfig.CacheDriver, "memory") {
		return NewMemoryCache(SystemClock{})
	}
	return NewRedisCache(GetCacheClient())
}

// RedisCache implements Cache on top of go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, b, ttl).Err()
}

func (c *RedisCache) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}
	ok, err := c.client.SetNX(ctx, key, b, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}
	return ok, nil
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) DelPrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		removed int64
		batch   []string
	)
	iter := c.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			n, err := c.client.Del(ctx, batch...).Result()
			if err != nil {
				return removed, fmt.Errorf("cache delete prefix %s: %w", prefix, err)
			}
			removed += n
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache scan prefix %s: %w", prefix, err)
	}
	if len(batch) > 0 {
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return removed, fmt.Errorf("cache delete prefix %s: %w", prefix, err)
		}
		removed += n
	}
	return removed, nil
}

type memEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is a process-local Cache with per-entry TTL. Expired entries are
// dropped on access and swept on writes.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	clock   Clock
	writes  int
}

func NewMemoryCache(clock Clock) *MemoryCache {
	return &MemoryCache{entries: make(map[string]memEntry), clock: clock}
}

func (c *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.expired(e) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, b, ttl)
	return nil
}

func (c *MemoryCache) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("cache encode %s: %w", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !c.expired(e) {
		return false, nil
	}
	c.put(key, b, ttl)
	return true, nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *MemoryCache) DelPrefix(_ context.Context, prefix string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int64
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (c *MemoryCache) put(key string, data []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = c.clock.Now().Add(ttl)
	}
	c.entries[key] = memEntry{data: data, expires: expires}
	c.writes++
	if c.writes%256 == 0 {
		for k, e := range c.entries {
			if c.expired(e) {
				delete(c.entries, k)
			}
		}
	}
}

func (c *MemoryCache) expired(e memEntry) bool {
	return !e.expires.IsZero() && !c.clock.Now().Before(e.expires)
}
