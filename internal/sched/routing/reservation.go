package routing

import (
	"context"
	"strconv"
	"time"
)

// ReserveJobSlot atomically expires stale reservations on nodeID and admits
// jobID if effective capacity (max of reserved count and runningJobs) is
// under maxJobs. Returns true if the slot was reserved.
func (r *Runtime) ReserveJobSlot(ctx context.Context, nodeID, jobID string, ttl time.Duration, runningJobs, maxJobs int) (bool, error) {
	var admitted bool
	err := r.withRetry(ctx, func() error {
		res, e := getScripts().reserve.Run(ctx, r.client,
			[]string{r.keys.nodeReservation(nodeID)},
			jobID, int64(ttl.Seconds()), runningJobs, maxJobs, time.Now().UnixMilli(),
		).Int64()
		if e != nil {
			return e
		}
		admitted = res == 1
		return nil
	})
	return admitted, err
}

// ReleaseJobSlot removes jobID's reservation from nodeID's ZSET, e.g. on
// terminal status or failover.
func (r *Runtime) ReleaseJobSlot(ctx context.Context, nodeID, jobID string) error {
	return r.withRetry(ctx, func() error {
		return getScripts().release.Run(ctx, r.client, []string{r.keys.nodeReservation(nodeID)}, jobID).Err()
	})
}

// ActiveReservationCount returns the number of live (non-expired) reserved
// slots on nodeID, for diagnostics/slot-conservation checks.
func (r *Runtime) ActiveReservationCount(ctx context.Context, nodeID string) (int64, error) {
	var n int64
	err := r.withRetry(ctx, func() error {
		var e error
		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		n, e = r.client.ZCount(ctx, r.keys.nodeReservation(nodeID), "("+now, "+inf").Result()
		return e
	})
	return n, err
}
