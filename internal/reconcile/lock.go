package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgredis "github.com/angelmondragon/catalogsync/pkg/redis"
)

const defaultLockTTL = 30 * time.Minute

// Lock serializes reconciliation for one supplier.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Locker hands out per-supplier locks.
type Locker interface {
	ForSupplier(supplierID string) (Lock, error)
}

// redisStore defines the operations used by RedisLock.
type redisStore interface {
	pkgredis.LockStore
	ReconcileLockKey(supplierID string) string
}

// RedisLocker builds SETNX locks shared by every worker on the same Redis.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
}

func NewRedisLocker(client redisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

func (l *RedisLocker) ForSupplier(supplierID string) (Lock, error) {
	if supplierID == "" {
		return nil, errors.New("supplier id is required")
	}
	return &RedisLock{client: l.client, key: l.client.ReconcileLockKey(supplierID), ttl: l.ttl}, nil
}

// RedisLock implements Lock using Redis SETNX + TTL.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration
	owner  string
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			l.owner = ""
			return nil
		}
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		l.owner = ""
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}

// MemoryLocker serializes reconciliation within one process. Used when no
// Redis is configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]string{}}
}

func (l *MemoryLocker) ForSupplier(supplierID string) (Lock, error) {
	if supplierID == "" {
		return nil, errors.New("supplier id is required")
	}
	return &memoryLock{parent: l, key: supplierID}, nil
}

type memoryLock struct {
	parent *MemoryLocker
	key    string
	owner  string
}

func (l *memoryLock) Acquire(context.Context) (bool, error) {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if _, taken := l.parent.held[l.key]; taken {
		return false, nil
	}
	l.owner = uuid.NewString()
	l.parent.held[l.key] = l.owner
	return true, nil
}

func (l *memoryLock) Release(context.Context) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()
	if l.owner != "" && l.parent.held[l.key] == l.owner {
		delete(l.parent.held, l.key)
	}
	l.owner = ""
	return nil
}
