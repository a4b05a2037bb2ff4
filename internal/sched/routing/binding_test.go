package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

func TestBinding_PutAndGetRoundTrip(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	b := &model.RequestBinding{RequestID: "req-1", JobID: "job-1", NodeID: "node-1"}
	require.NoError(t, r.PutBinding(ctx, b, time.Minute))

	got, err := r.GetBinding(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "job-1", got.JobID)
	require.Equal(t, "node-1", got.NodeID)
	require.False(t, got.DispatchedToNode)
}

func TestBinding_GetMissingReturnsNil(t *testing.T) {
	r := newTestRuntime(t)
	got, err := r.GetBinding(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBinding_MarkDispatchedUpdatesNodeWithoutTouchingExpiry(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	b := &model.RequestBinding{RequestID: "req-1", JobID: "job-1", NodeID: "node-1"}
	require.NoError(t, r.PutBinding(ctx, b, time.Minute))

	require.NoError(t, r.MarkBindingDispatched(ctx, "req-1", "node-2"))

	got, err := r.GetBinding(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, got.DispatchedToNode)
	require.Equal(t, "node-2", got.NodeID)
}

func TestBinding_ClearRemovesIt(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	b := &model.RequestBinding{RequestID: "req-1", JobID: "job-1"}
	require.NoError(t, r.PutBinding(ctx, b, time.Minute))
	require.NoError(t, r.ClearBinding(ctx, "req-1"))

	got, err := r.GetBinding(ctx, "req-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAcquireRequestLock_SecondCallerIsDenied(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.AcquireRequestLock(ctx, "req-1", time.Minute))
	err := r.AcquireRequestLock(ctx, "req-1", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)
}

func TestReleaseRequestLock_AllowsReacquire(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.AcquireRequestLock(ctx, "req-1", time.Minute))
	require.NoError(t, r.ReleaseRequestLock(ctx, "req-1"))
	require.NoError(t, r.AcquireRequestLock(ctx, "req-1", time.Minute))
}

func TestReleaseRequestLock_NoopWhenNotHeld(t *testing.T) {
	r := newTestRuntime(t)
	require.NoError(t, r.ReleaseRequestLock(context.Background(), "never-locked"))
}

func TestDebounceFirstHit_OnlyFirstCallWithinWindow(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	first, err := r.DebounceFirstHit(ctx, "asr", "v1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	second, err := r.DebounceFirstHit(ctx, "asr", "v1", time.Minute)
	require.NoError(t, err)
	require.False(t, second)
}

func TestRateLimitIncr_CountsAcrossCalls(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	n1, err := r.RateLimitIncr(ctx, "node-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n1)

	n2, err := r.RateLimitIncr(ctx, "node-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n2)
}

func TestMaxDurationNode_SetGetClear(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	v, err := r.GetMaxDurationNode(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, v)

	require.NoError(t, r.SetMaxDurationNode(ctx, "sess-1", "node-1"))
	v, err = r.GetMaxDurationNode(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "node-1", v)

	require.NoError(t, r.ClearMaxDurationNode(ctx, "sess-1"))
	v, err = r.GetMaxDurationNode(ctx, "sess-1")
	require.NoError(t, err)
	require.Empty(t, v)
}
