package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379).
	URL string

	// Password for Redis authentication. Overrides the URL password if set.
	Password string

	// DB is the Redis database number. Overrides the URL database if set.
	DB int

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// DefaultTTL is the default expiration for keys.
	DefaultTTL time.Duration

	// PoolSize is the connection pool size.
	PoolSize int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// ReadTimeout is the read operation timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the write operation timeout.
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          "redis://localhost:6379",
		DB:           0,
		KeyPrefix:    "sift:",
		DefaultTTL:   time.Hour,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisCache implements Cache using Redis as the backend. Hit and miss
// counters are tracked locally per process; entry counts come from Redis.
type RedisCache struct {
	client *redis.Client
	cfg    RedisConfig
	stats  Stats
}

// NewRedisCache creates a new Redis-backed cache and verifies the
// connection with a ping.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisCache{
		client: client,
		cfg:    cfg,
	}, nil
}

// Get retrieves a value by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, ErrNotFound
	}
	if err != nil {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, err
	}

	atomic.AddInt64(&c.stats.Hits, 1)
	return val, nil
}

// Set stores a value with optional TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefixKey(key), value, c.getTTL(ttl)).Err(); err != nil {
		return err
	}
	atomic.AddInt64(&c.stats.Sets, 1)
	return nil
}

// Delete removes a key from the cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	n, err := c.client.Del(ctx, c.prefixKey(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	atomic.AddInt64(&c.stats.Deletes, n)
	return nil
}

// Has checks if a key exists.
func (c *RedisCache) Has(ctx context.Context, key string) bool {
	n, err := c.client.Exists(ctx, c.prefixKey(key)).Result()
	return err == nil && n > 0
}

// Clear removes all entries with the configured prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.deleteMatching(ctx, c.cfg.KeyPrefix+"*")
	return err
}

// ClearPattern removes all entries whose keys match the glob pattern.
func (c *RedisCache) ClearPattern(ctx context.Context, pattern string) (int64, error) {
	return c.deleteMatching(ctx, c.cfg.KeyPrefix+pattern)
}

// deleteMatching scans for keys matching the raw pattern and deletes
// them in batches.
func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var removed int64

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			n, err := c.client.Del(ctx, batch...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if len(batch) > 0 {
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}

	atomic.AddInt64(&c.stats.Deletes, removed)
	return removed, nil
}

// Stats returns cache statistics. Size is fetched from Redis when
// reachable.
func (c *RedisCache) Stats() Stats {
	stats := Stats{
		Hits:    atomic.LoadInt64(&c.stats.Hits),
		Misses:  atomic.LoadInt64(&c.stats.Misses),
		Sets:    atomic.LoadInt64(&c.stats.Sets),
		Deletes: atomic.LoadInt64(&c.stats.Deletes),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if n, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.Size = n
	}

	return stats
}

// Ping verifies connectivity to the Redis server.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// prefixKey adds the configured prefix to a key.
func (c *RedisCache) prefixKey(key string) string {
	return c.cfg.KeyPrefix + key
}

// getTTL returns the TTL to use, falling back to default.
func (c *RedisCache) getTTL(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}
