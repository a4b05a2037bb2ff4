package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishToInbox_ThenReadInbox(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureInboxGroup(ctx))

	id, err := r.PublishToInbox(ctx, r.cfg.InstanceID, map[string]any{
		"kind":       "session_send",
		"session_id": "sess-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := r.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)
	require.Equal(t, "sess-1", msgs[0].Fields["session_id"])
}

func TestEnsureInboxGroup_IdempotentOnSecondCall(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureInboxGroup(ctx))
	require.NoError(t, r.EnsureInboxGroup(ctx), "BUSYGROUP on the second call must be swallowed")
}

func TestReadInbox_NoMessagesReturnsNilWithoutError(t *testing.T) {
	r := newTestRuntime(t)
	r.cfg.StreamBlock = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, r.EnsureInboxGroup(ctx))

	msgs, err := r.ReadInbox(ctx)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestAckInbox_RemovesMessageFromStreamAndPEL(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	require.NoError(t, r.EnsureInboxGroup(ctx))
	id, err := r.PublishToInbox(ctx, r.cfg.InstanceID, map[string]any{"kind": "x"})
	require.NoError(t, err)

	msgs, err := r.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, r.AckInbox(ctx, id))

	length, err := r.client.XLen(ctx, r.keys.instanceInbox(r.cfg.InstanceID)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), length)
}

func TestRunInboxLoop_HandlesAndAcksMessage(t *testing.T) {
	r := newTestRuntime(t)
	r.cfg.StreamBlock = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := r.PublishToInbox(ctx, r.cfg.InstanceID, map[string]any{"session_id": "sess-1"})
	require.NoError(t, err)

	var handled []InboxMessage
	r.RunInboxLoop(ctx, func(_ context.Context, msg InboxMessage) error {
		handled = append(handled, msg)
		return nil
	})

	require.Eventually(t, func() bool {
		return len(handled) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "sess-1", handled[0].Fields["session_id"])

	length, err := r.client.XLen(ctx, r.keys.instanceInbox(r.cfg.InstanceID)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), length, "a successfully handled message should be acked and deleted")
}

func TestRunInboxLoop_HandlerErrorLeavesMessagePendingForReclaim(t *testing.T) {
	r := newTestRuntime(t)
	r.cfg.StreamBlock = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := r.PublishToInbox(ctx, r.cfg.InstanceID, map[string]any{"session_id": "sess-1"})
	require.NoError(t, err)

	var attempts int
	r.RunInboxLoop(ctx, func(_ context.Context, msg InboxMessage) error {
		attempts++
		return errors.New("handler failed")
	})

	require.Eventually(t, func() bool {
		return attempts >= 1
	}, 2*time.Second, 10*time.Millisecond)

	length, err := r.client.XLen(ctx, r.keys.instanceInbox(r.cfg.InstanceID)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), length, "a failed handler must leave the message in the stream, unacked")
}

func TestRunReclaimLoop_RedeliversStrandedMessage(t *testing.T) {
	r := newTestRuntime(t)
	r.cfg.ReclaimIdle = 5 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, r.EnsureInboxGroup(ctx))
	_, err := r.PublishToInbox(ctx, r.cfg.InstanceID, map[string]any{"session_id": "sess-1"})
	require.NoError(t, err)

	// Simulate a consumer claiming the message (via ReadInbox, which puts it
	// in the PEL) and then crashing before acking it.
	msgs, err := r.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var delivered []InboxMessage
	reclaimCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	r.RunReclaimLoop(reclaimCtx, func(_ context.Context, msg InboxMessage) error {
		delivered = append(delivered, msg)
		return nil
	})

	require.Eventually(t, func() bool {
		return len(delivered) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "sess-1", delivered[0].Fields["session_id"])
}

func TestScanAndDeadLetter_MovesEntriesPastMaxDeliveriesAndIdle(t *testing.T) {
	r := newTestRuntime(t)
	r.cfg.DLQMaxDeliveries = 1
	r.cfg.DLQMinIdle = 5 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, r.EnsureInboxGroup(ctx))
	_, err := r.PublishToInbox(ctx, r.cfg.InstanceID, map[string]any{"session_id": "sess-1"})
	require.NoError(t, err)

	// One delivery via ReadInbox puts the entry in the PEL with retry count 1.
	msgs, err := r.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	time.Sleep(20 * time.Millisecond)

	moved, err := r.ScanAndDeadLetter(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	inboxLen, err := r.client.XLen(ctx, r.keys.instanceInbox(r.cfg.InstanceID)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), inboxLen)

	dlqLen, err := r.client.XLen(ctx, r.keys.instanceDLQ(r.cfg.InstanceID)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), dlqLen)
}

func TestScanAndDeadLetter_LeavesFreshEntriesAlone(t *testing.T) {
	r := newTestRuntime(t)
	r.cfg.DLQMaxDeliveries = 5
	r.cfg.DLQMinIdle = time.Hour
	ctx := context.Background()

	require.NoError(t, r.EnsureInboxGroup(ctx))
	_, err := r.PublishToInbox(ctx, r.cfg.InstanceID, map[string]any{"session_id": "sess-1"})
	require.NoError(t, err)

	_, err = r.ReadInbox(ctx)
	require.NoError(t, err)

	moved, err := r.ScanAndDeadLetter(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, moved)

	inboxLen, err := r.client.XLen(ctx, r.keys.instanceInbox(r.cfg.InstanceID)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), inboxLen)
}
