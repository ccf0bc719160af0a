package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func (f *fakeStore) ReconcileLockKey(supplierID string) string {
	return "cs:reconcile:lock:" + supplierID
}

func TestRedisLockContention(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker, err := NewRedisLocker(store, time.Minute)
	require.NoError(t, err)

	first, err := locker.ForSupplier("acme")
	require.NoError(t, err)
	second, err := locker.ForSupplier("acme")
	require.NoError(t, err)
	other, err := locker.ForSupplier("globex")
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, store.ttls["cs:reconcile:lock:acme"])

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per supplier")

	require.NoError(t, second.Release(ctx))
	_, held := store.values["cs:reconcile:lock:acme"]
	assert.True(t, held, "release by a non-owner must keep the lock")

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	locker, err := NewRedisLocker(store, 0)
	require.NoError(t, err)
	lock, err := locker.ForSupplier("acme")
	require.NoError(t, err)

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, defaultLockTTL, store.ttls["cs:reconcile:lock:acme"])

	// Expired and re-taken by another worker.
	store.values["cs:reconcile:lock:acme"] = "someone-else"
	require.NoError(t, lock.Release(ctx))
	assert.Equal(t, "someone-else", store.values["cs:reconcile:lock:acme"])

	delete(store.values, "cs:reconcile:lock:acme")
	require.NoError(t, lock.Release(ctx))
}

func TestRedisLockSurfacesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.setErr = errors.New("connection refused")
	locker, err := NewRedisLocker(store, time.Minute)
	require.NoError(t, err)
	lock, err := locker.ForSupplier("acme")
	require.NoError(t, err)

	ok, err := lock.Acquire(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, store.setErr)
}

func TestLockerValidation(t *testing.T) {
	_, err := NewRedisLocker(nil, time.Minute)
	assert.Error(t, err)

	locker, err := NewRedisLocker(newFakeStore(), time.Minute)
	require.NoError(t, err)
	_, err = locker.ForSupplier("")
	assert.Error(t, err)

	_, err = NewMemoryLocker().ForSupplier("")
	assert.Error(t, err)
}

func TestMemoryLockContention(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	a, _ := locker.ForSupplier("acme")
	b, _ := locker.ForSupplier("acme")

	ok, _ := a.Acquire(ctx)
	assert.True(t, ok)
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.False(t, ok, "release by a non-owner must keep the lock")

	require.NoError(t, a.Release(ctx))
	ok, _ = b.Acquire(ctx)
	assert.True(t, ok)
}
