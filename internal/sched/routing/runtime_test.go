package routing

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestInstanceAlive_FalseUntilAnnounced(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	alive, err := r.InstanceAlive(ctx, "test-instance")
	require.NoError(t, err)
	require.False(t, alive)

	require.NoError(t, r.AnnouncePresence(ctx, "host-1", 1234, "dev"))
	alive, err = r.InstanceAlive(ctx, "test-instance")
	require.NoError(t, err)
	require.True(t, alive)
}

func TestNodeOwner_AcquireRenewRelease(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	owner, err := r.NodeOwner(ctx, "node-1")
	require.NoError(t, err)
	require.Empty(t, owner)

	require.NoError(t, r.AcquireNodeOwner(ctx, "node-1"))
	owner, err = r.NodeOwner(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, "test-instance", owner)

	require.NoError(t, r.RenewNodeOwner(ctx, "node-1"))
	owner, err = r.NodeOwner(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, "test-instance", owner)

	require.NoError(t, r.ReleaseNodeOwner(ctx, "node-1"))
	owner, err = r.NodeOwner(ctx, "node-1")
	require.NoError(t, err)
	require.Empty(t, owner)
}

func TestSessionOwner_AcquireAndRelease(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.AcquireSessionOwner(ctx, "sess-1"))
	owner, err := r.SessionOwner(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "test-instance", owner)

	require.NoError(t, r.ReleaseSessionOwner(ctx, "sess-1"))
	owner, err = r.SessionOwner(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, owner)
}

func TestNodeOwner_AcquireOverwritesPriorOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *goredislib.Client {
		c := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	a := New(DefaultConfig("instance-a"), newClient())
	b := New(DefaultConfig("instance-b"), newClient())
	ctx := context.Background()

	require.NoError(t, a.AcquireNodeOwner(ctx, "node-1"))
	require.NoError(t, b.AcquireNodeOwner(ctx, "node-1"))

	owner, err := a.NodeOwner(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, "instance-b", owner, "the later acquire should win — ownership is last-writer-wins, not CAS")
}
