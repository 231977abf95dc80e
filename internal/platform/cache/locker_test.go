package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client, time.Second)
	locker.retries = 1
	locker.backoff = time.Millisecond
	return locker, srv
}

func TestLockerAcquireAndRelease(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "allocation:unit:E1:", "", "allocation:unit:E1:")
	require.NoError(t, err)
	require.True(t, srv.Exists("allocation:unit:E1:"))

	_, err = locker.Acquire(ctx, "allocation:unit:E1:")
	require.ErrorIs(t, err, ErrLockBusy)

	release()
	require.False(t, srv.Exists("allocation:unit:E1:"))

	release, err = locker.Acquire(ctx, "allocation:unit:E1:")
	require.NoError(t, err)
	release()
}

func TestLockerPartialFailureReleasesHeldKeys(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	holdB, err := locker.Acquire(ctx, "b")
	require.NoError(t, err)
	defer holdB()

	_, err = locker.Acquire(ctx, "a", "b")
	require.ErrorIs(t, err, ErrLockBusy)
	require.False(t, srv.Exists("a"))
}
