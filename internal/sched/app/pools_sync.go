package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// poolConfigBlob is the wire format the pool leader publishes to Redis and
// followers poll for, mirroring registry.PoolManager.LoadConfig's inputs.
type poolConfigBlob struct {
	Pools  []*model.Pool `json:"pools"`
	NextID int           `json:"next_id"`
}

// rebuildPools is the pool-leader callback: recompute the pool table from
// the current node snapshot and publish it for followers to adopt.
func (a *App) rebuildPools(ctx context.Context) error {
	a.pools.Rebuild(a.registry.Snapshot())

	raw, err := json.Marshal(poolConfigBlob{Pools: a.pools.All(), NextID: a.pools.NextID()})
	if err != nil {
		return fmt.Errorf("app: marshal pool config: %w", err)
	}
	return a.rt.PutPoolsConfig(ctx, raw)
}

// runPoolFollowerLoop polls the shared pools-version counter and reloads the
// local pool table whenever the leader has published a newer one. Running
// this unconditionally (leader included) keeps a demoted former-leader's
// table converged without extra bookkeeping.
func (a *App) runPoolFollowerLoop(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()

	var lastSeen int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			version, err := a.rt.PoolsVersion(ctx)
			if err != nil {
				slog.Warn("app: pools version poll failed", "err", err)
				continue
			}
			if version == lastSeen {
				continue
			}
			raw, err := a.rt.GetPoolsConfig(ctx)
			if err != nil {
				slog.Warn("app: pools config fetch failed", "err", err)
				continue
			}
			if raw == nil {
				continue
			}
			var blob poolConfigBlob
			if err := json.Unmarshal(raw, &blob); err != nil {
				slog.Warn("app: pools config decode failed", "err", err)
				continue
			}
			a.pools.LoadConfig(blob.Pools, blob.NextID)
			lastSeen = version
		}
	}
}
