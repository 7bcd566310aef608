package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, mr
}

func TestDistributedLock_Acquire(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()

	t.Run("successful acquire", func(t *testing.T) {
		key := JobLockKey("tenant-1", "property")
		l := New(client, key, nil, nil)

		acquired, err := l.Acquire(ctx)
		assert.NoError(t, err)
		assert.True(t, acquired)
		assert.True(t, l.IsAcquired())
		assert.Equal(t, key, l.Key())
		assert.NotEmpty(t, l.Value())
	})

	t.Run("acquire already held lock", func(t *testing.T) {
		key := JobLockKey("tenant-2", "owner")
		l1 := New(client, key, nil, nil)
		acquired1, err1 := l1.Acquire(ctx)
		require.NoError(t, err1)
		require.True(t, acquired1)

		l2 := New(client, key, nil, nil)
		acquired2, err2 := l2.AcquireWithRetry(ctx, 0)
		assert.NoError(t, err2)
		assert.False(t, acquired2)
		assert.False(t, l2.IsAcquired())
	})
}

func TestDistributedLock_Release(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	key := JobLockKey("tenant-3", "value")

	l := New(client, key, nil, nil)
	acquired, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, l.Release(ctx))
	assert.False(t, l.IsAcquired())

	l2 := New(client, key, nil, nil)
	acquired2, err := l2.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired2)
}

func TestDistributedLock_ReleaseDoesNotStealOtherHoldersLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	key := JobLockKey("tenant-4", "structure")

	l1 := New(client, key, nil, nil)
	acquired, err := l1.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(31 * time.Second)

	l2 := New(client, key, nil, nil)
	acquired2, err := l2.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired2)

	require.NoError(t, l1.Release(ctx))

	assert.True(t, mr.Exists(key))
}

func TestDistributedLock_Extend(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	key := JobLockKey("tenant-5", "property")

	l := New(client, key, nil, nil)
	acquired, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, l.Extend(ctx, time.Minute))
}

func TestManager_AcquireReleaseAll(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	mgr := NewManager(client, nil, nil)

	_, err := mgr.AcquireLock(ctx, JobLockKey("tenant-6", "property"))
	require.NoError(t, err)
	_, err = mgr.AcquireLock(ctx, JobLockKey("tenant-6", "owner"))
	require.NoError(t, err)

	assert.Len(t, mgr.ListLocks(), 2)

	require.NoError(t, mgr.ReleaseAll(ctx))
	assert.Len(t, mgr.ListLocks(), 0)
}
