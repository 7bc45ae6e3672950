package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cookie:"

// redisAPI is the subset of *redis.Client used by RedisCookies.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCookies stores widget cookies as Redis strings with a native TTL.
type RedisCookies struct {
	rdb    redisAPI
	prefix string
	now    func() time.Time
}

// NewRedisCookies creates a Redis-backed cookie backend. An empty prefix
// uses "cookie:".
func NewRedisCookies(rdb redisAPI, prefix string) (*RedisCookies, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisCookies{rdb: rdb, prefix: prefix, now: time.Now}, nil
}

func (r *RedisCookies) key(name string) string {
	return r.prefix + name
}

func (r *RedisCookies) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository: redis get %q: %w", name, err)
	}
	return v, true, nil
}

// Set stores the value; an expiry at or before now deletes it instead,
// since Redis treats a zero expiration as "keep forever".
func (r *RedisCookies) Set(ctx context.Context, name, value string, expires time.Time) error {
	ttl := expires.Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, name)
	}
	if err := r.rdb.Set(ctx, r.key(name), value, ttl).Err(); err != nil {
		return fmt.Errorf("repository: redis set %q: %w", name, err)
	}
	return nil
}

func (r *RedisCookies) Delete(ctx context.Context, name string) error {
	if err := r.rdb.Del(ctx, r.key(name)).Err(); err != nil {
		return fmt.Errorf("repository: redis del %q: %w", name, err)
	}
	return nil
}
