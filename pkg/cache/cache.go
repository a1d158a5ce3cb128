package cache

import (
	"context"
	"sync"
	"time"

	"github.com/adpilot-hq/adpilot-backend/pkg/redis"
)

// Cache is a string-valued TTL cache. Callers marshal their own payloads;
// a miss is (value="", ok=false, err=nil).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Redis is the production cache backed by the shared redis client.
type Redis struct {
	store redisStore
}

// NewRedis wraps the provided redis store.
func NewRedis(store redisStore) *Redis {
	return &Redis{store: store}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.store.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.store.Set(ctx, key, value, ttl)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process cache for tests and single-node dev runs. Entries
// expire lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory returns an empty in-process cache. A nil now falls back to
// time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	return nil
}
