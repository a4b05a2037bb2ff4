package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

func TestClassify(t *testing.T) {
	now := time.Now()
	pending := 5 * time.Second
	dispatched := 30 * time.Second

	t.Run("not dispatched, within pending window", func(t *testing.T) {
		j := &model.Job{CreatedAt: now.Add(-time.Second)}
		require.Equal(t, noTimeout, classify(j, now, pending, dispatched))
	})

	t.Run("not dispatched, pending timeout exceeded", func(t *testing.T) {
		j := &model.Job{CreatedAt: now.Add(-10 * time.Second)}
		require.Equal(t, pendingTimeout, classify(j, now, pending, dispatched))
	})

	t.Run("dispatched, within job timeout", func(t *testing.T) {
		j := &model.Job{
			CreatedAt:        now.Add(-time.Minute),
			DispatchedToNode: true,
			DispatchedAt:     now.Add(-time.Second),
		}
		require.Equal(t, noTimeout, classify(j, now, pending, dispatched))
	})

	t.Run("dispatched, job timeout exceeded", func(t *testing.T) {
		j := &model.Job{
			CreatedAt:        now.Add(-time.Minute),
			DispatchedToNode: true,
			DispatchedAt:     now.Add(-time.Minute),
		}
		require.Equal(t, dispatchedTimeout, classify(j, now, pending, dispatched))
	})

	t.Run("dispatched but dispatched_at unset never times out on the dispatched branch", func(t *testing.T) {
		j := &model.Job{CreatedAt: now.Add(-time.Hour), DispatchedToNode: true}
		require.Equal(t, noTimeout, classify(j, now, pending, dispatched))
	})
}

func TestSpreadTracker_ExcludesWithinWindow(t *testing.T) {
	tr := newSpreadTracker()
	now := time.Now()

	require.Empty(t, tr.recentNode("key", time.Second, now))

	tr.stamp("key", "node-1", now)
	require.Equal(t, "node-1", tr.recentNode("key", time.Second, now.Add(500*time.Millisecond)))
	require.Empty(t, tr.recentNode("key", time.Second, now.Add(2*time.Second)))
}
