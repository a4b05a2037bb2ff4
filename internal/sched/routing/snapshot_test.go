package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

func TestPublishAndGetNodeSnapshot(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	n := &model.Node{NodeID: "node-1", Status: model.StatusReady, CurrentJobs: 2}
	require.NoError(t, r.PublishNodeSnapshot(ctx, n, time.Minute))

	got, err := r.GetNodeSnapshot(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "node-1", got.NodeID)
	require.Equal(t, 2, got.CurrentJobs)

	present, err := r.NodeIsPresent(ctx, "node-1")
	require.NoError(t, err)
	require.True(t, present)
}

func TestGetNodeSnapshot_UnknownIsNil(t *testing.T) {
	r := newTestRuntime(t)
	got, err := r.GetNodeSnapshot(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestNodeIsPresent_FalseWithoutPublish(t *testing.T) {
	r := newTestRuntime(t)
	present, err := r.NodeIsPresent(context.Background(), "node-1")
	require.NoError(t, err)
	require.False(t, present)
}

func TestListStaleNodes_OnlyReturnsOlderThanCutoff(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.PublishNodeSnapshot(ctx, &model.Node{NodeID: "old-node"}, time.Minute))
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.PublishNodeSnapshot(ctx, &model.Node{NodeID: "new-node"}, time.Minute))

	stale, err := r.ListStaleNodes(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"old-node"}, stale)
}

func TestRemoveNode_ClearsAllKeys(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.PublishNodeSnapshot(ctx, &model.Node{NodeID: "node-1"}, time.Minute))
	_, err := r.ReserveJobSlot(ctx, "node-1", "job-1", time.Minute, 0, 4)
	require.NoError(t, err)

	require.NoError(t, r.RemoveNode(ctx, "node-1"))

	got, err := r.GetNodeSnapshot(ctx, "node-1")
	require.NoError(t, err)
	require.Nil(t, got)

	present, err := r.NodeIsPresent(ctx, "node-1")
	require.NoError(t, err)
	require.False(t, present)

	count, err := r.ActiveReservationCount(ctx, "node-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}
