package routing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// GetBinding reads the request binding for reqID, or nil if absent/expired.
func (r *Runtime) GetBinding(ctx context.Context, reqID string) (*model.RequestBinding, error) {
	var h map[string]string
	err := r.withRetry(ctx, func() error {
		var e error
		h, e = r.client.HGetAll(ctx, r.keys.requestBinding(reqID)).Result()
		return e
	})
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	expire, _ := strconv.ParseInt(h["expire_at_ms"], 10, 64)
	b := &model.RequestBinding{
		RequestID:        reqID,
		JobID:            h["job_id"],
		NodeID:           h["node_id"],
		DispatchedToNode: h["dispatched_to_node"] == "1",
		ExpireAtMs:       expire,
	}
	if b.Expired(time.Now().UnixMilli()) {
		return nil, nil
	}
	return b, nil
}

// PutBinding writes/overwrites the request binding with a fresh lease TTL.
func (r *Runtime) PutBinding(ctx context.Context, b *model.RequestBinding, lease time.Duration) error {
	expireAt := time.Now().Add(lease).UnixMilli()
	dispatched := "0"
	if b.DispatchedToNode {
		dispatched = "1"
	}
	return r.withRetry(ctx, func() error {
		key := r.keys.requestBinding(b.RequestID)
		if err := r.client.HSet(ctx, key,
			"job_id", b.JobID,
			"node_id", b.NodeID,
			"dispatched_to_node", dispatched,
			"expire_at_ms", expireAt,
		).Err(); err != nil {
			return err
		}
		return r.client.Expire(ctx, key, lease).Err()
	})
}

// MarkBindingDispatched flips dispatched_to_node=true on reqID's binding and
// stamps node_id, without altering its lease expiry.
func (r *Runtime) MarkBindingDispatched(ctx context.Context, reqID, nodeID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.HSet(ctx, r.keys.requestBinding(reqID),
			"dispatched_to_node", "1",
			"node_id", nodeID,
		).Err()
	})
}

// ClearBinding deletes reqID's binding, e.g. on job terminal status.
func (r *Runtime) ClearBinding(ctx context.Context, reqID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.Del(ctx, r.keys.requestBinding(reqID)).Err()
	})
}

// ErrLockHeld is returned by AcquireRequestLock when the lock is already
// held by another caller.
var ErrLockHeld = errors.New("routing: request lock already held")

// AcquireRequestLock acquires the short-TTL per-request idempotency lock
// used to serialize the create_job slow path. Returns ErrLockHeld (not a
// transport error) if another caller holds it — callers should re-check the
// binding, not retry the lock.
func (r *Runtime) AcquireRequestLock(ctx context.Context, reqID string, ttl time.Duration) error {
	var ok bool
	err := r.withRetry(ctx, func() error {
		var e error
		ok, e = r.client.SetNX(ctx, r.keys.requestLock(reqID), r.cfg.InstanceID, ttl).Result()
		return e
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// ReleaseRequestLock releases reqID's idempotency lock if still held by this
// instance.
func (r *Runtime) ReleaseRequestLock(ctx context.Context, reqID string) error {
	return r.withRetry(ctx, func() error {
		val, e := r.client.Get(ctx, r.keys.requestLock(reqID)).Result()
		if errors.Is(e, redis.Nil) {
			return nil
		}
		if e != nil {
			return e
		}
		if val != r.cfg.InstanceID {
			return nil // held by someone else now; don't steal the release
		}
		return r.client.Del(ctx, r.keys.requestLock(reqID)).Err()
	})
}

// DebounceFirstHit reports whether this call is the first within window for
// key (a generic SET NX PX debounce primitive), e.g. for
// MODEL_NOT_AVAILABLE warning suppression.
func (r *Runtime) DebounceFirstHit(ctx context.Context, svc, version string, window time.Duration) (bool, error) {
	var first bool
	err := r.withRetry(ctx, func() error {
		var e error
		first, e = r.client.SetNX(ctx, r.keys.debounceModelUnavailable(svc, version), "1", window).Result()
		return e
	})
	return first, err
}

// RateLimitIncr increments nodeID's model_not_available counter within
// window, creating the window on first hit, and returns the new count.
func (r *Runtime) RateLimitIncr(ctx context.Context, nodeID string, window time.Duration) (int64, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		key := r.keys.rateLimitModelNA(nodeID)
		pipe := r.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		_, e := pipe.Exec(ctx)
		if e != nil {
			return e
		}
		n = incr.Val()
		return nil
	})
	return n, err
}

// SetMaxDurationNode records the affinity node for a session's in-progress
// MaxDuration burst, TTL 5 minutes.
func (r *Runtime) SetMaxDurationNode(ctx context.Context, sessionID, nodeID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.Set(ctx, r.keys.sessionMaxDurationNode(sessionID), nodeID, 5*time.Minute).Err()
	})
}

// GetMaxDurationNode reads the affinity node for sessionID, "" if unset.
func (r *Runtime) GetMaxDurationNode(ctx context.Context, sessionID string) (string, error) {
	var v string
	err := r.withRetry(ctx, func() error {
		var e error
		v, e = r.client.Get(ctx, r.keys.sessionMaxDurationNode(sessionID)).Result()
		if errors.Is(e, redis.Nil) {
			v, e = "", nil
		}
		return e
	})
	return v, err
}

// ClearMaxDurationNode removes the affinity mapping, best-effort.
func (r *Runtime) ClearMaxDurationNode(ctx context.Context, sessionID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.Del(ctx, r.keys.sessionMaxDurationNode(sessionID)).Err()
	})
}
