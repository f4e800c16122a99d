// Package cache implements the process-local Cache (C4): a thin
// positive/negative lookup layer in front of the Resource Store,
// invalidated by the control bus (C6) rather than by TTL alone.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrCacheMiss = errors.New("cache miss")
)

// Cache is the storage-agnostic interface every cached lookup in the
// control plane goes through.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	Clear(ctx context.Context, pattern string) error
	Close() error
}

// Stats tracks hit/miss counters, exported via internal/metrics.
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
	Errors  int64
}

// RedisConfig holds the connection parameters for RedisCache.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	KeyPrefix    string
}

func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		KeyPrefix:    "cp:",
	}
}

// RedisCache implements Cache against a shared Redis instance — the
// only implementation meant for a multi-node deployment, since
// MemoryCache's state does not survive the control bus's invalidation
// reaching a different process.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	stats  Stats
	mu     sync.Mutex
}

func NewRedisCache(cfg *RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}

	logger.Info("connected to cache", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &RedisCache{client: client, logger: logger, prefix: cfg.KeyPrefix}, nil
}

func (c *RedisCache) bump(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		c.bump(&c.stats.Misses)
		return ErrCacheMiss
	}
	if err != nil {
		c.bump(&c.stats.Errors)
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.bump(&c.stats.Errors)
		return err
	}
	c.bump(&c.stats.Hits)
	return nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		c.bump(&c.stats.Errors)
		return err
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		c.bump(&c.stats.Errors)
		return err
	}
	c.bump(&c.stats.Sets)
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.bump(&c.stats.Errors)
		return err
	}
	c.mu.Lock()
	c.stats.Deletes += int64(len(keys))
	c.mu.Unlock()
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	n, err := c.client.Exists(ctx, full...).Result()
	if err != nil {
		c.bump(&c.stats.Errors)
		return 0, err
	}
	return n, nil
}

func (c *RedisCache) Clear(ctx context.Context, pattern string) error {
	fullPattern := c.prefix + pattern
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.client.Scan(ctx, cursor, fullPattern, 200).Result()
		if err != nil {
			c.bump(&c.stats.Errors)
			return err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.bump(&c.stats.Errors)
			return err
		}
		c.mu.Lock()
		c.stats.Deletes += int64(len(keys))
		c.mu.Unlock()
	}
	return nil
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// MemoryCache is a process-local fallback for single-node deployments
// or tests; its cache-invalidation handler (see internal/routing/invalidate.go)
// still subscribes to the control bus so behavior matches the
// multi-node Redis path even though nothing else actually publishes.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{data: make(map[string]memoryItem)}
	go c.cleanupLoop()
	return c
}

func (m *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrCacheMiss
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return ErrCacheMiss
	}
	return json.Unmarshal(item.value, dest)
}

func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = memoryItem{value: data, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Exists(ctx context.Context, keys ...string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, k := range keys {
		if item, ok := m.data[k]; ok && (item.expiresAt.IsZero() || time.Now().Before(item.expiresAt)) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryCache) Clear(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *MemoryCache) Close() error { return nil }

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		m.mu.Lock()
		for k, item := range m.data {
			if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
				delete(m.data, k)
			}
		}
		m.mu.Unlock()
	}
}

// NullCache disables caching entirely: every Get misses, every Set is
// a no-op. cmd/api never selects it (it uses Redis or MemoryCache);
// correctness never depends on the cache being present.
type NullCache struct{}

func NewNullCache() *NullCache { return &NullCache{} }

func (NullCache) Get(ctx context.Context, key string, dest interface{}) error { return ErrCacheMiss }
func (NullCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}
func (NullCache) Delete(ctx context.Context, keys ...string) error          { return nil }
func (NullCache) Exists(ctx context.Context, keys ...string) (int64, error) { return 0, nil }
func (NullCache) Clear(ctx context.Context, pattern string) error           { return nil }
func (NullCache) Close() error                                             { return nil }
