package repository

import (
	"context"
	"fmt"
	"time"

	"agrilink/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisCounterRepository keeps the time-windowed counters (supplier
// rejections, platform payment spikes) in Redis so they survive restarts and
// stay consistent across service instances.
type RedisCounterRepository struct {
	client *redis.Client
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	return redis.NewClient(options)
}

func NewRedisCounterRepository(client *redis.Client) *RedisCounterRepository {
	return &RedisCounterRepository{client: client}
}

// Bump increments the windowed counter and returns the count seen within the
// current window. The TTL starts on the first increment.
func (r *RedisCounterRepository) Bump(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	fullKey := "counter:" + key
	count, err := r.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, fullKey, window)
	}
	return count, nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
