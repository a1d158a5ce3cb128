package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/redis"
)

const lockJobName = "optimizer:run"

// Locker single-flights runs per advertiser. A second trigger while the lock
// is held gets ok=false and must not queue or block.
type Locker interface {
	Acquire(ctx context.Context, accountID string) (Lease, bool, error)
}

// Lease is one held lock. Release only frees the lock while this holder still
// owns it; an expired-and-reacquired lock is left alone.
type Lease interface {
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLocker implements Locker with SETNX + TTL. The TTL bounds how long an
// abandoned lock blocks the next trigger.
type RedisLocker struct {
	store lockStore
	ttl   time.Duration
}

func NewRedisLocker(store lockStore, ttl time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "redis store required for locker")
	}
	if ttl <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lock ttl must be positive")
	}
	return &RedisLocker{store: store, ttl: ttl}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, accountID string) (Lease, bool, error) {
	key := redis.JobLockKey(lockJobName, accountID)
	owner := uuid.NewString()

	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire advertiser lock")
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: key, owner: owner}, true, nil
}

type redisLease struct {
	store lockStore
	key   string
	owner string
}

func (l *redisLease) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if redis.IsNil(err) {
			l.owner = ""
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read lock owner")
	}
	if value != l.owner {
		l.owner = ""
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release advertiser lock")
	}
	l.owner = ""
	return nil
}

// MemoryLocker is an in-process Locker for single-instance deployments and
// tests. Expired holds are treated as free.
type MemoryLocker struct {
	mu    sync.Mutex
	ttl   time.Duration
	holds map[string]memoryHold
	now   func() time.Time
}

type memoryHold struct {
	owner    string
	deadline time.Time
}

func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	return &MemoryLocker{
		ttl:   ttl,
		holds: make(map[string]memoryHold),
		now:   time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, accountID string) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if hold, exists := l.holds[accountID]; exists && now.Before(hold.deadline) {
		return nil, false, nil
	}

	owner := uuid.NewString()
	l.holds[accountID] = memoryHold{owner: owner, deadline: now.Add(l.ttl)}
	return &memoryLease{locker: l, accountID: accountID, owner: owner}, true, nil
}

type memoryLease struct {
	locker    *MemoryLocker
	accountID string
	owner     string
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	if hold, exists := l.locker.holds[l.accountID]; exists && hold.owner == l.owner {
		delete(l.locker.holds, l.accountID)
	}
	return nil
}
