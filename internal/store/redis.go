package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password is the optional AUTH password.
	Password string
	// DB is the logical database index.
	DB int
	// MaxConnections bounds the connection pool.
	MaxConnections int
	// DefaultTTL is applied to a key on every successful push so abandoned
	// queues clean themselves up.
	DefaultTTL time.Duration
}

// Redis stores queue entries as Redis lists, one list per queue key.
// Entries are pushed at the head and popped from the tail, so the oldest
// entry is always returned first.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store. It does not dial; connectivity is
// established lazily and verified via Ping.
func NewRedis(opts RedisOptions) *Redis {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
			PoolSize: opts.MaxConnections,
		}),
		ttl: ttl,
	}
}

// NewRedisWithClient wraps an existing client, mainly for tests.
func NewRedisWithClient(client *redis.Client, defaultTTL time.Duration) *Redis {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Redis{client: client, ttl: defaultTTL}
}

// Push appends the payload and refreshes the key's TTL in one pipeline.
func (r *Redis) Push(ctx context.Context, key string, payload []byte) error {
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push %s: %w", key, err)
	}
	return nil
}

// PushMulti appends every payload under the key in one transaction.
func (r *Redis) PushMulti(ctx context.Context, key string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, p := range payloads {
		pipe.LPush(ctx, key, p)
	}
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis multi-push %s: %w", key, err)
	}
	return nil
}

// Pop removes and returns the oldest payload, or nil when the key is empty.
func (r *Redis) Pop(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.RPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis pop %s: %w", key, err)
	}
	return data, nil
}

// Len returns the list length for the key.
func (r *Redis) Len(ctx context.Context, key string) (int64, error) {
	n, err := r.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis len %s: %w", key, err)
	}
	return n, nil
}

// SetTTL sets the key's time-to-live.
func (r *Redis) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity with a round-trip.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Keys scans for every key matching the prefix.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Entries returns every payload under the key, oldest first.
func (r *Redis) Entries(ctx context.Context, key string) ([][]byte, error) {
	// LRANGE walks head to tail, which is newest to oldest here.
	items, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range %s: %w", key, err)
	}
	payloads := make([][]byte, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		payloads = append(payloads, []byte(items[i]))
	}
	return payloads, nil
}

// Replace swaps the key's contents for the given payloads, oldest first.
func (r *Redis) Replace(ctx context.Context, key string, payloads [][]byte) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	for _, p := range payloads {
		pipe.LPush(ctx, key, p)
	}
	if len(payloads) > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis replace %s: %w", key, err)
	}
	return nil
}

// Remove deletes the key.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the client's connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Client exposes the underlying client for callers that need raw access.
func (r *Redis) Client() *redis.Client {
	return r.client
}
