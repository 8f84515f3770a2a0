package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator claims message ids for a dedup window
type Deduplicator interface {
	// Claim returns false when key was already claimed within window
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release forgets a claim so the message can be sent again
	Release(ctx context.Context, key string) error
}

// RedisDeduplicator claims keys with SET NX and a TTL
type RedisDeduplicator struct {
	client redis.Cmdable
	prefix string
}

// NewRedisDeduplicator creates a RedisDeduplicator. Keys are stored under prefix.
func NewRedisDeduplicator(client redis.Cmdable, prefix string) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, prefix: prefix}
}

func (d *RedisDeduplicator) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("dedup key cannot be empty")
	}
	if window <= 0 {
		window = time.Second
	}

	status, err := d.client.SetArgs(ctx, d.prefix+key, "1", redis.SetArgs{Mode: "NX", TTL: window}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis SET NX: %w", err)
	}
	return status == "OK", nil
}

func (d *RedisDeduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

// MemoryDeduplicator is a process-local Deduplicator
type MemoryDeduplicator struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryDeduplicator creates a MemoryDeduplicator
func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{claims: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduplicator) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("dedup key cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expires, ok := d.claims[key]; ok && now.Before(expires) {
		return false, nil
	}
	d.claims[key] = now.Add(window)
	return true, nil
}

func (d *MemoryDeduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.claims, key)
	d.mu.Unlock()
	return nil
}
