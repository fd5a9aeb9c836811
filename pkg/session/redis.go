package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix is the default key namespace.
	DefaultKeyPrefix = "adk:session"

	scanBatch = 100
)

// RedisBackend stores each session as a JSON string under <prefix>:<id>
// with a native TTL. It never retries and never locks: the last writer wins.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps client. An empty prefix selects DefaultKeyPrefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Name() string { return "redis" }

// Key returns the Redis key for sessionID.
func (b *RedisBackend) Key(sessionID string) string {
	return b.prefix + ":" + sessionID
}

func (b *RedisBackend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBackend) Save(ctx context.Context, sessionID string, _ Meta, data []byte, ttl time.Duration) error {
	return b.client.Set(ctx, b.Key(sessionID), data, ttl).Err()
}

func (b *RedisBackend) Remove(ctx context.Context, sessionID string) error {
	return b.client.Del(ctx, b.Key(sessionID)).Err()
}

// Scan walks the prefix with SCAN and fetches each page with MGET. Keys that
// expire between the two calls are skipped.
func (b *RedisBackend) Scan(ctx context.Context, _ string) ([][]byte, error) {
	var (
		out    [][]byte
		cursor uint64
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+":*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			values, err := b.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				if s, ok := v.(string); ok {
					out = append(out, []byte(s))
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
