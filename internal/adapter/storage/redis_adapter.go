package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const cacheKeyPrefix = "cache:"

// RedisAdapter is the durable cache tier. Expiry is tracked inside the
// cached entries, so keys are written without a TTL.
type RedisAdapter struct {
	client *redis.Client
	tracer trace.Tracer
}

func NewRedisAdapter(client *redis.Client, tracer trace.Tracer) *RedisAdapter {
	return &RedisAdapter{client: client, tracer: tracer}
}

func (r *RedisAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := r.tracer.Start(ctx, "redis.Get")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	v, err := r.client.Get(ctx, cacheKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *RedisAdapter) Set(ctx context.Context, key, value string) error {
	ctx, span := r.tracer.Start(ctx, "redis.Set")
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	if err := r.client.Set(ctx, cacheKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "redis.Delete")
	defer span.End()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = cacheKeyPrefix + k
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys walks the keyspace with SCAN so large caches do not block the server.
func (r *RedisAdapter) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "redis.Keys")
	defer span.End()

	var keys []string
	iter := r.client.Scan(ctx, 0, cacheKeyPrefix+prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(cacheKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	span.SetAttributes(attribute.Int("keys", len(keys)))
	return keys, nil
}
