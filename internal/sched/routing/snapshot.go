package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// PublishNodeSnapshot fans a node's full state out to Redis: a last-seen
// score in the sorted index (for stale sweeps), a short-TTL presence flag,
// and the serialized snapshot body other instances read for selection.
func (r *Runtime) PublishNodeSnapshot(ctx context.Context, n *model.Node, presenceTTL time.Duration) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	now := time.Now()
	return r.withRetry(ctx, func() error {
		pipe := r.client.TxPipeline()
		pipe.ZAdd(ctx, r.keys.nodesAll(), redis.Z{Score: float64(now.UnixMilli()), Member: n.NodeID})
		pipe.Set(ctx, r.keys.nodePresence(n.NodeID), "1", presenceTTL)
		pipe.Set(ctx, r.keys.nodeSnapshot(n.NodeID), body, 0)
		_, e := pipe.Exec(ctx)
		return e
	})
}

// GetNodeSnapshot reads nodeID's last-published snapshot, nil if absent.
func (r *Runtime) GetNodeSnapshot(ctx context.Context, nodeID string) (*model.Node, error) {
	var raw []byte
	err := r.withRetry(ctx, func() error {
		b, e := r.client.Get(ctx, r.keys.nodeSnapshot(nodeID)).Bytes()
		if errors.Is(e, redis.Nil) {
			raw, e = nil, nil
		} else {
			raw = b
		}
		return e
	})
	if err != nil || raw == nil {
		return nil, err
	}
	var n model.Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// NodeIsPresent reports whether nodeID's short-TTL presence flag is set —
// the fast liveness check used before trusting a snapshot for selection.
func (r *Runtime) NodeIsPresent(ctx context.Context, nodeID string) (bool, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		var e error
		n, e = r.client.Exists(ctx, r.keys.nodePresence(nodeID)).Result()
		return e
	})
	return n > 0, err
}

// ListStaleNodes returns up to maxN node_ids whose last_seen score is older
// than cutoff, for the periodic sweep that demotes/evicts unreachable nodes.
func (r *Runtime) ListStaleNodes(ctx context.Context, cutoff time.Time, maxN int) ([]string, error) {
	var ids []string
	err := r.withRetry(ctx, func() error {
		res, e := r.client.ZRangeByScore(ctx, r.keys.nodesAll(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   fmt.Sprintf("%d", cutoff.UnixMilli()),
			Count: int64(maxN),
		}).Result()
		ids = res
		return e
	})
	return ids, err
}

// RemoveNode deletes a node's index entry, presence flag, snapshot and
// reservation set. The app's stale sweep calls it for each node the registry
// removed after RemoveStaleAfter; a node that is only marked offline is not
// removed here.
func (r *Runtime) RemoveNode(ctx context.Context, nodeID string) error {
	return r.withRetry(ctx, func() error {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.keys.nodesAll(), nodeID)
		pipe.Del(ctx, r.keys.nodePresence(nodeID))
		pipe.Del(ctx, r.keys.nodeSnapshot(nodeID))
		pipe.Del(ctx, r.keys.nodeReservation(nodeID))
		_, e := pipe.Exec(ctx)
		return e
	})
}
