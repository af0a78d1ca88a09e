// Package cache provides a Redis-backed response cache for stats queries.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every cache entry so a shared Redis can host other
// services without collisions.
const keyPrefix = "zw:"

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string, password string, db int) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb}
}

func cacheKey(kind, key string) string {
	return keyPrefix + kind + ":" + key
}

func (r *RedisCache) Get(ctx context.Context, kind, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, cacheKey(kind, key)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (r *RedisCache) Set(ctx context.Context, kind, key string, data []byte, ttl time.Duration) {
	r.client.Set(ctx, cacheKey(kind, key), data, ttl)
}

// InvalidateTLD drops every cached entry touching the given TLD along with
// the cross-TLD aggregates that embed its numbers.
func (r *RedisCache) InvalidateTLD(ctx context.Context, tld string) error {
	patterns := []string{
		keyPrefix + "*:" + tld,
		keyPrefix + "*:" + tld + ":*",
		keyPrefix + "*:all*",
	}
	for _, pattern := range patterns {
		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			r.client.Del(ctx, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
