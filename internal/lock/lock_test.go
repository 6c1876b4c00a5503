package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	lease, err := l.TryLock(ctx, "golden-set:1", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "golden-set:1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.TryLock(ctx, "golden-set:2", time.Minute)
	require.NoError(t, err)
	other.Release()

	lease.Release()
	lease.Release()

	again, err := l.TryLock(ctx, "golden-set:1", time.Minute)
	require.NoError(t, err)
	again.Release()
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	stale, err := l.TryLock(context.Background(), "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.TryLock(context.Background(), "k", time.Second)
	require.NoError(t, err)

	// The expired lease must not release the new owner.
	stale.Release()
	_, err = l.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLocked)
	fresh.Release()
}

func setupRedisLocker(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLocker(client, "test", zap.NewNop())
}

func TestRedisLocker_Exclusive(t *testing.T) {
	mr, l := setupRedisLocker(t)
	ctx := context.Background()

	lease, err := l.TryLock(ctx, "golden-set:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:golden-set:1"))

	_, err = l.TryLock(ctx, "golden-set:1", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	lease.Release()
	assert.False(t, mr.Exists("test:lock:golden-set:1"))

	again, err := l.TryLock(ctx, "golden-set:1", time.Minute)
	require.NoError(t, err)
	again.Release()
}

func TestRedisLocker_ExpiredLeaseDoesNotReleaseNewOwner(t *testing.T) {
	mr, l := setupRedisLocker(t)
	ctx := context.Background()

	stale, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	stale.Release()
	assert.True(t, mr.Exists("test:lock:k"))
	fresh.Release()
	assert.False(t, mr.Exists("test:lock:k"))
}

func TestRedisLocker_ConnectionError(t *testing.T) {
	mr, l := setupRedisLocker(t)
	mr.Close()

	_, err := l.TryLock(context.Background(), "k", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestMemoryLocker_Refresh(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	lease, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(800 * time.Millisecond)
	require.NoError(t, lease.Refresh(ctx))
	now = now.Add(800 * time.Millisecond)
	_, err = l.TryLock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLocked, "refresh should have extended the lease")

	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, lease.Refresh(ctx), ErrLeaseLost)

	lease.Release()
	assert.ErrorIs(t, lease.Refresh(ctx), ErrLeaseLost)
}

func TestRedisLocker_Refresh(t *testing.T) {
	mr, l := setupRedisLocker(t)
	ctx := context.Background()

	lease, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(800 * time.Millisecond)
	require.NoError(t, lease.Refresh(ctx))
	assert.Equal(t, time.Second, mr.TTL("test:lock:k"))

	mr.FastForward(2 * time.Second)
	other, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Refresh(ctx), ErrLeaseLost)
	// 过期租约的续期不能延长新持有者
	assert.Equal(t, time.Minute, mr.TTL("test:lock:k"))
	other.Release()
}

func TestKeepAlive_HoldsPastTTL(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()
	ttl := 30 * time.Millisecond

	lease, err := l.TryLock(ctx, "k", ttl)
	require.NoError(t, err)
	held, stop := KeepAlive(ctx, lease, ttl, zap.NewNop())

	time.Sleep(4 * ttl)
	_, err = l.TryLock(ctx, "k", ttl)
	assert.ErrorIs(t, err, ErrLocked)
	assert.NoError(t, held.Err())

	stop()
	stop()
	lease.Release()
	again, err := l.TryLock(ctx, "k", ttl)
	require.NoError(t, err)
	again.Release()
}

// lostLease reports the lease gone on every refresh.
type lostLease struct{}

func (lostLease) Refresh(context.Context) error { return ErrLeaseLost }
func (lostLease) Release()                      {}

func TestKeepAlive_CancelsOnLoss(t *testing.T) {
	held, stop := KeepAlive(context.Background(), lostLease{}, 15*time.Millisecond, nil)
	defer stop()

	select {
	case <-held.Done():
		assert.ErrorIs(t, context.Cause(held), ErrLeaseLost)
	case <-time.After(time.Second):
		t.Fatal("held context not cancelled after lease loss")
	}
}

func TestKeepAlive_SurvivesCallerCancel(t *testing.T) {
	l := NewMemoryLocker()
	ttl := 30 * time.Millisecond
	lease, err := l.TryLock(context.Background(), "k", ttl)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	held, stop := KeepAlive(ctx, lease, ttl, nil)
	defer stop()
	cancel()

	<-held.Done()
	assert.NotErrorIs(t, context.Cause(held), ErrLeaseLost)
	time.Sleep(4 * ttl)
	_, err = l.TryLock(context.Background(), "k", ttl)
	assert.ErrorIs(t, err, ErrLocked, "heartbeat must keep running until stop")
}
