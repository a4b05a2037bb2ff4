package routing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client)
}

func TestLockRequest_AcquireAndUnlock(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	mu, err := l.LockRequest(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, mu)
	require.NoError(t, mu.Unlock(ctx))
}

func TestLockRequest_SecondAcquireFailsWhileHeld(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	mu, err := l.LockRequest(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mu.Unlock(ctx) })

	_, err = l.LockRequest(ctx, "req-1", time.Minute)
	require.Error(t, err)
}

func TestLockRequest_DifferentRequestIDsDoNotContend(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	mu1, err := l.LockRequest(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mu1.Unlock(ctx) })

	mu2, err := l.LockRequest(ctx, "req-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mu2.Unlock(ctx))
}

func TestLockRequest_ReacquirableAfterUnlock(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	mu, err := l.LockRequest(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mu.Unlock(ctx))

	mu2, err := l.LockRequest(ctx, "req-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, mu2.Unlock(ctx))
}
