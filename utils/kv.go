package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned when a key does not exist or has expired.
var ErrCacheMiss = errors.New("cache miss")

// KVStore is the ephemeral key-value store behind challenges, device sessions and
// replay credentials. Redis in deployments, memory in development and tests.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Take reads and deletes key atomically.
	Take(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}

// RedisKVStore is the go-redis implementation.
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKVStore) Take(ctx context.Context, key string) (string, error) {
	val, err := r.client.GetDel(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// MemoryKVStore keeps entries in process memory with per-key TTL.
type MemoryKVStore struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

type memoryItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

// SetClock replaces the time source; used by tests to expire entries.
func (m *MemoryKVStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryKVStore) getLocked(key string) (string, bool) {
	item, ok := m.data[key]
	if !ok {
		return "", false
	}
	if !item.expires.IsZero() && m.now().After(item.expires) {
		delete(m.data, key)
		return "", false
	}
	return item.value, true
}

func (m *MemoryKVStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.getLocked(key); ok {
		return v, nil
	}
	return "", ErrCacheMiss
}

func (m *MemoryKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.data[key] = memoryItem{value: value, expires: exp}
	return nil
}

func (m *MemoryKVStore) Take(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.getLocked(key)
	if !ok {
		return "", ErrCacheMiss
	}
	delete(m.data, key)
	return v, nil
}

func (m *MemoryKVStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
