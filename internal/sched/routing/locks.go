package routing

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// Locker issues short-lived distributed mutexes via redsync, used to
// serialize the create_job slow path across instances racing the same
// request_id. This is a heavier-weight alternative to [Runtime.AcquireRequestLock]'s
// bare SETNX: redsync adds a random release token, so only the holder can
// unlock, at the cost of one round-trip more. The lock is not extended
// automatically; it expires after its TTL unless the holder calls Extend. create_job's slow path uses
// this; high-frequency, single-owner leases (node/session ownership) stay on
// the plain SETNX primitives in runtime.go.
type Locker struct {
	rs *redsync.Redsync
}

// NewLocker builds a Locker over a single Redis deployment. Production
// redsync setups quorum across independent Redis majorities; this scheduler
// runs against one Redis (or one Sentinel-managed primary), so a single pool
// is registered — redsync still provides the release token and explicit
// Extend even with N=1.
func NewLocker(client *goredislib.Client) *Locker {
	pool := goredis.NewPool(client)
	return &Locker{rs: redsync.New(pool)}
}

// RequestMutex is a held redsync lock on a request_id.
type RequestMutex struct {
	mu *redsync.Mutex
}

// LockRequest makes a single attempt to acquire the distributed mutex for
// reqID, held for at most ttl unless extended. It returns an error at once
// if the mutex is already held; it does not wait for it to be released.
func (l *Locker) LockRequest(ctx context.Context, reqID string, ttl time.Duration) (*RequestMutex, error) {
	mu := l.rs.NewMutex(
		"locks:req:"+reqID,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := mu.LockContext(ctx); err != nil {
		return nil, err
	}
	return &RequestMutex{mu: mu}, nil
}

// Unlock releases the mutex. Safe to call once; a second call returns an
// error that callers should log, not propagate.
func (m *RequestMutex) Unlock(ctx context.Context) error {
	_, err := m.mu.UnlockContext(ctx)
	return err
}

// Extend pushes the mutex's expiry out by its original TTL, for long-running
// critical sections (rare on the create_job path, but available for the
// pool-rebuild critical section if it ever needs it).
func (m *RequestMutex) Extend(ctx context.Context) (bool, error) {
	return m.mu.ExtendContext(ctx)
}
