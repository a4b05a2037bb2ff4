package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/routing"
)

// S5 — a node's result is produced on instance A while the owning session
// lives on instance B: A relays it through B's inbox stream rather than
// writing to a connection it doesn't hold, and B's inbox worker processes it
// as if it had arrived locally. If B's own consumer crashes after claiming
// the message but before acking it, B's reclaim loop takes it back via
// XAUTOCLAIM on the next cycle and still delivers it exactly once.
func TestS5_CrossInstanceResultRouting(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	clientA := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientA.Close() })
	rtA := routing.New(routing.DefaultConfig("instance-a"), clientA)

	clientB := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB.Close() })
	bCfg := routing.DefaultConfig("instance-b")
	bCfg.ReclaimIdle = 5 * time.Millisecond // reclaim almost-immediately, for a fast deterministic test
	rtB := routing.New(bCfg, clientB)
	require.NoError(t, rtB.EnsureInboxGroup(ctx))

	// A's node produced a job_result for a session owned by B; A has no
	// local connection for that session, so it relays via B's inbox.
	_, err := rtA.PublishToInbox(ctx, "instance-b", map[string]any{
		"kind":       "session_send",
		"session_id": "sess-s5",
		"payload":    `{"type":"job_result","job_id":"job-1","success":true}`,
	})
	require.NoError(t, err)

	// Simulate B's consumer claiming the message (XREADGROUP puts it in the
	// PEL) and then crashing before it can handle/ack it.
	msgs, err := rtB.ReadInbox(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "sess-s5", msgs[0].Fields["session_id"])

	// A fresh Runtime bound to the same instance ID stands in for B's
	// process restarting; its reclaim loop should pick the stranded message
	// back up within one cycle.
	clientB2 := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientB2.Close() })
	rtB2 := routing.New(bCfg, clientB2)

	var delivered []routing.InboxMessage
	reclaimCtx, cancel := context.WithCancel(ctx)
	rtB2.RunReclaimLoop(reclaimCtx, func(_ context.Context, msg routing.InboxMessage) error {
		delivered = append(delivered, msg)
		return nil
	})
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		return len(delivered) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "sess-s5", delivered[0].Fields["session_id"])
}
