package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-attendance/internal/logger"
)

// setupTestRedis starts a miniredis server and a client pointed at it.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewRedisLocker(client, logger.NewNop())
	ctx := context.Background()

	release, err := l.Acquire(ctx, "import:tickets", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "import:tickets", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	held, err := l.IsHeld(ctx, "import:tickets")
	require.NoError(t, err)
	assert.True(t, held)

	release()

	held, err = l.IsHeld(ctx, "import:tickets")
	require.NoError(t, err)
	assert.False(t, held)

	release2, err := l.Acquire(ctx, "import:tickets", time.Minute)
	require.NoError(t, err)
	release2()
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client, logger.NewNop())
	ctx := context.Background()

	staleRelease, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	staleRelease()

	held, err := l.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held, "old owner must not remove the new owner's lock")
}

func TestRedisLocker_RenewsTTLWhileHeld(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client, logger.NewNop())
	ctx := context.Background()

	release, err := l.Acquire(ctx, "import:tickets", 300*time.Millisecond)
	require.NoError(t, err)

	// simulate a lock that is about to expire mid-import
	mr.SetTTL("lock:import:tickets", 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return mr.TTL("lock:import:tickets") > 5*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)

	release()
	assert.False(t, mr.Exists("lock:import:tickets"))

	// released locks stay released
	time.Sleep(200 * time.Millisecond)
	assert.False(t, mr.Exists("lock:import:tickets"))
}

func TestRedisLocker_ConcurrentAcquire(t *testing.T) {
	client, _ := setupTestRedis(t)
	l := NewRedisLocker(client, logger.NewNop())

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "race", time.Minute); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestRedisLocker_ServerDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client, logger.NewNop())
	mr.Close()

	_, err := l.Acquire(context.Background(), "k", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = l.Acquire(ctx, "other", time.Minute)
	assert.NoError(t, err)

	release()
	release2, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// expiry frees the key even without release
	now = now.Add(2 * time.Minute)
	_, err = l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// the expired owner's release is a no-op
	release2()
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestConnectRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := ConnectRedis(context.Background(), mr.Addr(), logger.NewNop())
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, mr.Exists("lock:healthcheck"))
}

func TestConnectRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = ConnectRedis(context.Background(), addr, logger.NewNop())
	assert.Error(t, err)
}
