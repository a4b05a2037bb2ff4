package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/xlatesched/internal/resilience"
)

// Config tunes the routing runtime's TTLs and background task intervals.
type Config struct {
	KeyPrefix string

	InstanceID       string
	HeartbeatPeriod  time.Duration // presence TTL = 2x this
	OwnerTTL         time.Duration
	RefreshInterval  time.Duration
	StaleSweepMaxN   int

	DLQScanInterval time.Duration
	DLQScanCount    int64
	DLQMaxDeliveries int64
	DLQMinIdle       time.Duration

	StreamBlock time.Duration
	StreamCount int64
	ReclaimIdle time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig(instanceID string) Config {
	return Config{
		KeyPrefix:        "v1",
		InstanceID:       instanceID,
		HeartbeatPeriod:  5 * time.Second,
		OwnerTTL:         30 * time.Second,
		RefreshInterval:  2 * time.Second,
		StaleSweepMaxN:   50,
		DLQScanInterval:  5 * time.Second,
		DLQScanCount:     100,
		DLQMaxDeliveries: 5,
		DLQMinIdle:       30 * time.Second,
		StreamBlock:      2 * time.Second,
		StreamCount:      50,
		ReclaimIdle:      5 * time.Second,
	}
}

// Runtime is the cross-instance routing runtime: one value per scheduler
// instance, shared (via pointer) wherever Redis-backed coordination is
// needed. There is no process-wide singleton — Runtime is constructed once
// in app wiring and injected.
type Runtime struct {
	cfg    Config
	client redis.UniversalClient
	keys   keySchema

	redisBreaker *resilience.CircuitBreaker
}

// New creates a Runtime over an already-connected Redis client.
func New(cfg Config, client redis.UniversalClient) *Runtime {
	return &Runtime{
		cfg:    cfg,
		client: client,
		keys:   newKeySchema(cfg.KeyPrefix),
		redisBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "redis",
		}),
	}
}

// withRetry wraps a Redis operation with bounded retry (for transient
// network blips) behind the shared Redis circuit breaker (so a sustained
// outage fails fast instead of retrying every call).
func (r *Runtime) withRetry(ctx context.Context, op func() error) error {
	return r.redisBreaker.Execute(func() error {
		return retry.Do(
			op,
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(20*time.Millisecond),
			retry.MaxDelay(200*time.Millisecond),
			retry.LastErrorOnly(true),
		)
	})
}

// AnnouncePresence writes this instance's presence key with TTL
// 2x HeartbeatPeriod. Call on startup and on a HeartbeatPeriod ticker.
func (r *Runtime) AnnouncePresence(ctx context.Context, hostname string, pid int, version string) error {
	val := fmt.Sprintf("%d|%s|%d|%s", time.Now().UnixMilli(), hostname, pid, version)
	return r.withRetry(ctx, func() error {
		return r.client.Set(ctx, r.keys.instancePresence(r.cfg.InstanceID), val, 2*r.cfg.HeartbeatPeriod).Err()
	})
}

// InstanceAlive reports whether instanceID's presence key currently exists.
func (r *Runtime) InstanceAlive(ctx context.Context, instanceID string) (bool, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		var e error
		n, e = r.client.Exists(ctx, r.keys.instancePresence(instanceID)).Result()
		return e
	})
	return n > 0, err
}

// AcquireNodeOwner claims ownership of nodeID's WebSocket connection for
// this instance, with TTL OwnerTTL.
func (r *Runtime) AcquireNodeOwner(ctx context.Context, nodeID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.Set(ctx, r.keys.nodeOwner(nodeID), r.cfg.InstanceID, r.cfg.OwnerTTL).Err()
	})
}

// NodeOwner returns the instance_id currently owning nodeID's connection, or
// "" if unowned.
func (r *Runtime) NodeOwner(ctx context.Context, nodeID string) (string, error) {
	var v string
	err := r.withRetry(ctx, func() error {
		var e error
		v, e = r.client.Get(ctx, r.keys.nodeOwner(nodeID)).Result()
		if errors.Is(e, redis.Nil) {
			v, e = "", nil
		}
		return e
	})
	return v, err
}

// RenewNodeOwner refreshes the owner lease's TTL; call at
// min(OwnerTTL/2, presenceTTL/2).
func (r *Runtime) RenewNodeOwner(ctx context.Context, nodeID string) error {
	return r.AcquireNodeOwner(ctx, nodeID)
}

// ReleaseNodeOwner clears nodeID's owner key, e.g. on local disconnect.
func (r *Runtime) ReleaseNodeOwner(ctx context.Context, nodeID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.Del(ctx, r.keys.nodeOwner(nodeID)).Err()
	})
}

// AcquireSessionOwner is the session-side mirror of AcquireNodeOwner.
func (r *Runtime) AcquireSessionOwner(ctx context.Context, sessionID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.Set(ctx, r.keys.sessionOwner(sessionID), r.cfg.InstanceID, r.cfg.OwnerTTL).Err()
	})
}

// SessionOwner returns the instance_id owning sessionID's connection.
func (r *Runtime) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	var v string
	err := r.withRetry(ctx, func() error {
		var e error
		v, e = r.client.Get(ctx, r.keys.sessionOwner(sessionID)).Result()
		if errors.Is(e, redis.Nil) {
			v, e = "", nil
		}
		return e
	})
	return v, err
}

// ReleaseSessionOwner clears sessionID's owner key.
func (r *Runtime) ReleaseSessionOwner(ctx context.Context, sessionID string) error {
	return r.withRetry(ctx, func() error {
		return r.client.Del(ctx, r.keys.sessionOwner(sessionID)).Err()
	})
}

// StartOwnerRenewal runs a ticker loop that renews nodeOwner/sessionOwner
// every min(OwnerTTL/2, presence/2) until ctx is cancelled. Errors are
// logged, not propagated — a single missed renewal isn't fatal as long as a
// subsequent tick succeeds before the lease expires.
func (r *Runtime) StartOwnerRenewal(ctx context.Context, renew func(ctx context.Context) error) {
	period := r.cfg.OwnerTTL / 2
	if presence := 2 * r.cfg.HeartbeatPeriod; presence/2 < period {
		period = presence / 2
	}
	if period <= 0 {
		period = time.Second
	}
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := renew(ctx); err != nil {
					slog.Warn("routing: owner lease renewal failed", "err", err)
				}
			}
		}
	}()
}
