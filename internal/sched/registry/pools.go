package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// PoolConfig tunes auto-pool lifecycle thresholds.
type PoolConfig struct {
	MinNodesPerPool int
	MaxPools        int
}

// DefaultPoolConfig returns sane defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MinNodesPerPool: 1, MaxPools: 64}
}

// PoolManager owns the auto-generated pool set derived from the registry's
// nodes, plus manual tenant overrides. It is the leader-elected component:
// in a multi-instance deployment only the pool leader (see package routing)
// calls Rebuild; followers receive the resulting config over Redis and call
// LoadConfig.
type PoolManager struct {
	cfg PoolConfig

	mu    sync.RWMutex
	pools map[model.LanguageSet]*model.Pool
	byID  map[int]*model.Pool
	next  int

	tenantOverrides map[string]model.LanguageSet
}

// NewPoolManager creates an empty PoolManager.
func NewPoolManager(cfg PoolConfig) *PoolManager {
	return &PoolManager{
		cfg:             cfg,
		pools:           make(map[model.LanguageSet]*model.Pool),
		byID:            make(map[int]*model.Pool),
		tenantOverrides: make(map[string]model.LanguageSet),
	}
}

// SetTenantOverride binds routingKey to a specific pool language set,
// bypassing auto-selection for that key.
func (pm *PoolManager) SetTenantOverride(routingKey string, langs model.LanguageSet) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.tenantOverrides[routingKey] = langs
}

// TenantOverride returns the pool bound to routingKey, if any.
func (pm *PoolManager) TenantOverride(routingKey string) (model.LanguageSet, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	l, ok := pm.tenantOverrides[routingKey]
	return l, ok
}

// Rebuild recomputes pools from the given node snapshot. Each distinct
// semantic-language set among nodes passing the required-service check
// becomes a pool (if it clears MinNodesPerPool), sorted by node count and
// capped at MaxPools. Existing pool IDs are preserved for sets that persist
// across rebuilds; new sets get new IDs.
//
// When no node qualifies for any pool, the existing pool table is cleared
// only if no node is online either; while some node is still online the
// existing pools are kept, avoiding a race against concurrently registering
// nodes.
func (pm *PoolManager) Rebuild(nodes []*model.Node) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	counts := make(map[model.LanguageSet]int)
	anyOnline := false
	for _, n := range nodes {
		if n.Online {
			anyOnline = true
		}
		if !n.Online || n.Status != model.StatusReady {
			continue
		}
		if !n.HasAllServices(model.CoreServices) {
			continue
		}
		set := model.NewLanguageSet(n.Languages.SemanticLanguages)
		if set == "" {
			continue
		}
		counts[set]++
	}

	if len(counts) == 0 {
		if !anyOnline && len(pm.pools) == 0 {
			// Nothing to do — already empty, no nodes to race against.
			return
		}
		if len(pm.pools) > 0 && anyOnline {
			// Keep existing pools; don't thrash while nodes are still online
			// but none currently clear the bar (e.g. mid-rebalance).
			return
		}
	}

	type candidate struct {
		set   model.LanguageSet
		count int
	}
	var candidates []candidate
	for set, c := range counts {
		if c >= pm.cfg.MinNodesPerPool {
			candidates = append(candidates, candidate{set, c})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].set < candidates[j].set
	})
	if len(candidates) > pm.cfg.MaxPools {
		candidates = candidates[:pm.cfg.MaxPools]
	}

	newPools := make(map[model.LanguageSet]*model.Pool, len(candidates))
	for _, c := range candidates {
		if existing, ok := pm.pools[c.set]; ok {
			newPools[c.set] = existing
			continue
		}
		pm.next++
		p := &model.Pool{
			ID:               pm.next,
			Name:             string(c.set),
			Languages:        c.set,
			RequiredServices: model.CoreServices,
		}
		newPools[c.set] = p
		slog.Info("registry: auto-pool created", "pool_id", p.ID, "name", p.Name, "node_count", c.count)
	}

	pm.pools = newPools
	pm.byID = make(map[int]*model.Pool, len(newPools))
	for _, p := range newPools {
		pm.byID[p.ID] = p
	}
}

// EnsurePool creates a pool on the fly for a language set not yet
// represented, used when the pool leader observes a newly registered node
// whose set has no pool. Returns the (possibly newly created) pool.
func (pm *PoolManager) EnsurePool(set model.LanguageSet) *model.Pool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if p, ok := pm.pools[set]; ok {
		return p
	}
	pm.next++
	p := &model.Pool{
		ID:               pm.next,
		Name:             string(set),
		Languages:        set,
		RequiredServices: model.CoreServices,
	}
	pm.pools[set] = p
	pm.byID[p.ID] = p
	slog.Info("registry: auto-pool created on demand", "pool_id", p.ID, "name", p.Name)
	return p
}

// ByLanguageSet looks up the pool exactly matching set.
func (pm *PoolManager) ByLanguageSet(set model.LanguageSet) (*model.Pool, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.pools[set]
	return p, ok
}

// All returns a stable-ordered snapshot of every pool, for deterministic
// fallback scans.
func (pm *PoolManager) All() []*model.Pool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*model.Pool, 0, len(pm.pools))
	for _, p := range pm.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextID returns the ID the next auto-created pool will receive, for the
// pool leader to publish alongside its pool table so followers seed
// LoadConfig's nextID correctly.
func (pm *PoolManager) NextID() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.next
}

// LoadConfig replaces the pool table wholesale from a leader-published
// config (cross-instance follower path). nextID seeds ID allocation so
// subsequently-created on-the-fly pools don't collide with the leader's.
func (pm *PoolManager) LoadConfig(pools []*model.Pool, nextID int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.pools = make(map[model.LanguageSet]*model.Pool, len(pools))
	pm.byID = make(map[int]*model.Pool, len(pools))
	for _, p := range pools {
		pm.pools[p.Languages] = p
		pm.byID[p.ID] = p
	}
	if nextID > pm.next {
		pm.next = nextID
	}
}
