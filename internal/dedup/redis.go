package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "factbot:update:"

// RedisFilter shares seen update IDs between replicas with SET NX.
type RedisFilter struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisConfig configures a RedisFilter.
type RedisConfig struct {
	URL       string // redis://[:password@]host:port/db
	KeyPrefix string
	TTL       time.Duration
}

func NewRedisFilter(cfg RedisConfig) (*RedisFilter, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFilterWithClient(redis.NewClient(opts), cfg.KeyPrefix, cfg.TTL), nil
}

func NewRedisFilterWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisFilter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFilter{client: client, ttl: ttl, prefix: prefix}
}

func (f *RedisFilter) Seen(ctx context.Context, updateID int) (bool, error) {
	ok, err := f.client.SetNX(ctx, f.prefix+strconv.Itoa(updateID), 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !ok, nil
}

// Ping checks the connection.
func (f *RedisFilter) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFilter) Close() error {
	return f.client.Close()
}
