package routing

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PoolLeaderTTL is the lease length an instance holds pool-config leadership
// for before it must renew.
const PoolLeaderTTL = 10 * time.Second

// TryBecomePoolLeader attempts to claim pool-rebuild leadership via SET NX
// EX. Returns true if this instance is (now, or already was) leader.
func (r *Runtime) TryBecomePoolLeader(ctx context.Context) (bool, error) {
	var ok bool
	err := r.withRetry(ctx, func() error {
		var e error
		ok, e = r.client.SetNX(ctx, r.keys.poolsLeader(), r.cfg.InstanceID, PoolLeaderTTL).Result()
		return e
	})
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	// Not newly claimed — check if we already hold it (renewal path).
	cur, err := r.withRetryString(ctx, func() (string, error) {
		return r.client.Get(ctx, r.keys.poolsLeader()).Result()
	})
	if err != nil {
		return false, err
	}
	return cur != "" && cur == r.cfg.InstanceID, nil
}

// RenewPoolLeader refreshes the leadership lease iff still held by this
// instance; it does not re-claim if lost.
func (r *Runtime) RenewPoolLeader(ctx context.Context) (bool, error) {
	var renewed bool
	err := r.withRetry(ctx, func() error {
		val, e := r.client.Get(ctx, r.keys.poolsLeader()).Result()
		if errors.Is(e, redis.Nil) {
			renewed = false
			return nil
		}
		if e != nil {
			return e
		}
		if val != r.cfg.InstanceID {
			renewed = false
			return nil
		}
		renewed = true
		return r.client.Expire(ctx, r.keys.poolsLeader(), PoolLeaderTTL).Err()
	})
	return renewed, err
}

// RunPoolLeaderLoop is a long-running goroutine that periodically attempts
// leadership and, while leader, invokes rebuild at each tick. Exits on ctx
// cancellation.
func (r *Runtime) RunPoolLeaderLoop(ctx context.Context, tick time.Duration, rebuild func(ctx context.Context) error) {
	go func() {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				leader, err := r.TryBecomePoolLeader(ctx)
				if err != nil {
					slog.Warn("routing: pool leader election failed", "err", err)
					continue
				}
				if !leader {
					continue
				}
				if _, err := r.RenewPoolLeader(ctx); err != nil {
					slog.Warn("routing: pool leader renewal failed", "err", err)
				}
				if err := rebuild(ctx); err != nil {
					slog.Error("routing: pool rebuild failed", "err", err)
					continue
				}
				if err := r.BumpPoolsVersion(ctx); err != nil {
					slog.Warn("routing: pool version bump failed", "err", err)
				}
			}
		}
	}()
}

// BumpPoolsVersion increments the shared pools-version counter, signalling
// every instance's config watcher to reload pools from Redis.
func (r *Runtime) BumpPoolsVersion(ctx context.Context) error {
	return r.withRetry(ctx, func() error {
		return r.client.Incr(ctx, r.keys.poolsVersion()).Err()
	})
}

// PoolsVersion returns the current pools-version counter (0 if unset).
func (r *Runtime) PoolsVersion(ctx context.Context) (int64, error) {
	v, err := r.withRetryString(ctx, func() (string, error) {
		return r.client.Get(ctx, r.keys.poolsVersion()).Result()
	})
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n, nil
}

// PutPoolsConfig stores the serialized pool config blob that non-leader
// instances poll, keyed under poolsConfig, alongside the version bump.
func (r *Runtime) PutPoolsConfig(ctx context.Context, raw []byte) error {
	return r.withRetry(ctx, func() error {
		return r.client.Set(ctx, r.keys.poolsConfig(), raw, 0).Err()
	})
}

// GetPoolsConfig reads the serialized pool config blob, nil if unset.
func (r *Runtime) GetPoolsConfig(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := r.withRetry(ctx, func() error {
		b, e := r.client.Get(ctx, r.keys.poolsConfig()).Bytes()
		if errors.Is(e, redis.Nil) {
			raw, e = nil, nil
		} else {
			raw = b
		}
		return e
	})
	return raw, err
}

// withRetryString is withRetry specialized for single-string-result reads
// where a missing key (redis.Nil) is a normal outcome, not a transport
// failure: it is swallowed into ("", nil) before the circuit breaker and
// retry layers see it, so an absent key never counts against the breaker or
// burns a retry attempt.
func (r *Runtime) withRetryString(ctx context.Context, op func() (string, error)) (string, error) {
	var v string
	err := r.withRetry(ctx, func() error {
		val, e := op()
		if errors.Is(e, redis.Nil) {
			v = ""
			return nil
		}
		if e != nil {
			return e
		}
		v = val
		return nil
	})
	return v, err
}
