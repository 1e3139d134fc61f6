package teller

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheTimeout = 200 * time.Millisecond
)

// RedisCache backs the Cache port with a Redis instance. Every error,
// including a timeout, is reported as a miss; a slow or absent Redis
// must never stall or fail a ledger operation.
type RedisCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	log     *zerolog.Logger
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(addr string, ttl time.Duration, log *zerolog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &RedisCache{
		rdb:     redis.NewClient(&redis.Options{Addr: addr}),
		ttl:     ttl,
		timeout: defaultCacheTimeout,
		log:     log,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug().Err(err).Str("key", key).Msg("cache get degraded to miss")
		}
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Put(ctx context.Context, key string, val []byte) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache put dropped")
	}
}

func (c *RedisCache) Evict(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache evict dropped")
	}
}
