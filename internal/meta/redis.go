package meta

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a multi-process Store backend, adapted near-verbatim from the
// teacher's store.RedisStore (store/redis.go), extended with Has/Keys via
// EXISTS/SCAN so it satisfies the full meta.Store surface.
type Redis struct {
	client *redis.Client
}

// RedisConfig addresses the backing Redis instance.
type RedisConfig struct {
	Host string
	Port int
}

// NewRedis constructs a Redis-backed meta store.
func NewRedis(config RedisConfig, opts ...func(*redis.Options)) *Redis {
	o := &redis.Options{Addr: fmt.Sprintf("%s:%d", config.Host, config.Port)}
	for _, fn := range opts {
		fn(o)
	}

	return &Redis{client: redis.NewClient(o)}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, "*", 100).Result()
		if err != nil {
			return nil, err
		}

		out = append(out, keys...)
		cursor = next

		if cursor == 0 {
			break
		}
	}

	return out, nil
}

// Ping reports whether the Redis backend is reachable, for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client's connections.
func (r *Redis) Close() error { return r.client.Close() }
