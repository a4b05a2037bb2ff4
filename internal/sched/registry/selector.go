package registry

import (
	"fmt"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// SelectorConfig tunes the two-level selection algorithm.
type SelectorConfig struct {
	Enabled               bool
	Mode                  string // "two_level" is the only mode this selector implements
	PoolCount             int
	HashSeed              uint64
	PoolMatchScope        model.PoolMatchScope
	PoolMatchMode         model.PoolMatchMode
	StrictPoolEligibility bool
	FallbackScanAllPools  bool
	ResourceThreshold     float64
}

// DefaultSelectorConfig returns sane defaults.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Enabled:              true,
		Mode:                 "two_level",
		PoolCount:            16,
		HashSeed:             0x9e3779b97f4a7c15,
		PoolMatchScope:       model.ScopeAllRequired,
		PoolMatchMode:        model.MatchContains,
		FallbackScanAllPools: true,
		ResourceThreshold:    0.9,
	}
}

// Selector implements the two-level node selector: pick a preferred pool,
// filter nodes within it, and fall back to scanning other pools.
type Selector struct {
	cfg      SelectorConfig
	registry *Registry
	pools    *PoolManager

	pairCache *lru.Cache[string, bool]
}

// NewSelector creates a Selector over registry and pools. pairCacheSize
// bounds the language-pair support LRU (0 disables caching).
func NewSelector(cfg SelectorConfig, reg *Registry, pools *PoolManager, pairCacheSize int) *Selector {
	s := &Selector{cfg: cfg, registry: reg, pools: pools}
	if pairCacheSize > 0 {
		c, _ := lru.New[string, bool](pairCacheSize)
		s.pairCache = c
	}
	return s
}

// SelectRequest is the input to Select.
type SelectRequest struct {
	RoutingKey      string
	Src             string
	Tgt             string
	RequiredTypes   []model.ServiceType
	AcceptPublic    bool
	ExcludeNodeID   string
	SemanticLanguages []string
}

// Select runs the two-level selection algorithm and returns the chosen
// node_id (empty if none), a diagnostic debug record, and the rejection
// breakdown (populated even on success, reflecting rejected candidates).
func (s *Selector) Select(req SelectRequest) (string, *Phase3TwoLevelDebug, *NoAvailableNodeBreakdown) {
	dbg := &Phase3TwoLevelDebug{}
	breakdown := &dbg.Breakdown

	preferred := s.preferredPool(req)
	if preferred != nil {
		dbg.PreferredPoolID = preferred.ID
		dbg.PreferredPoolName = preferred.Name
	}

	order := s.scanOrder(preferred)

	anyEligible := false
	for _, p := range order {
		eligible := p.Eligible(req.RequiredTypes, s.cfg.PoolMatchScope, s.cfg.PoolMatchMode)
		attempt := PoolAttempt{PoolID: p.ID, PoolName: p.Name, Eligible: eligible}
		if !eligible {
			dbg.Attempts = append(dbg.Attempts, attempt)
			continue
		}
		anyEligible = true

		nodeID, count := s.selectWithinPool(p, req, breakdown)
		attempt.CandidateCount = count
		if nodeID != "" {
			attempt.Selected = true
			dbg.Attempts = append(dbg.Attempts, attempt)
			dbg.SelectedPoolID = p.ID
			dbg.SelectedPoolName = p.Name
			return nodeID, dbg, breakdown
		}
		dbg.Attempts = append(dbg.Attempts, attempt)

		if p == preferred && !s.cfg.FallbackScanAllPools {
			break
		}
	}

	if !anyEligible && s.cfg.StrictPoolEligibility {
		breakdown.add(ReasonPoolNotEligible)
	}
	return "", dbg, breakdown
}

// preferredPool implements spec §4.1 step 1.
func (s *Selector) preferredPool(req SelectRequest) *model.Pool {
	if override, ok := s.pools.TenantOverride(req.RoutingKey); ok {
		if p, ok := s.pools.ByLanguageSet(override); ok {
			return p
		}
	}

	if req.Src == "auto" || len(req.SemanticLanguages) > 0 {
		want := RequiredLanguageSet(req.Src, req.Tgt, req.SemanticLanguages)
		if p, ok := s.pools.ByLanguageSet(want); ok {
			return p
		}
		if req.Src == "auto" {
			if p := s.findMixedPool(req.Tgt); p != nil {
				return p
			}
		}
	}

	all := s.pools.All()
	if len(all) == 0 {
		return nil
	}
	idx := stableHash(req.RoutingKey, s.cfg.HashSeed) % uint64(len(all))
	return all[idx]
}

func (s *Selector) findMixedPool(tgt string) *model.Pool {
	for _, p := range s.pools.All() {
		if p.Mixed && p.MixedTarget == tgt {
			return p
		}
	}
	return nil
}

// scanOrder returns the deterministic pool scan order: preferred first (if
// any), then the rest of the pools in stable ID order.
func (s *Selector) scanOrder(preferred *model.Pool) []*model.Pool {
	all := s.pools.All()
	if preferred == nil {
		return all
	}
	order := make([]*model.Pool, 0, len(all))
	order = append(order, preferred)
	for _, p := range all {
		if p.ID != preferred.ID {
			order = append(order, p)
		}
	}
	return order
}

// candidate is a node passing filters, kept with its tie-break fields.
type candidate struct {
	node *model.Node
}

// selectWithinPool implements spec §4.1 steps 3-4 for one pool. Returns the
// chosen node_id (empty if none) and the number of nodes considered.
func (s *Selector) selectWithinPool(p *model.Pool, req SelectRequest, breakdown *NoAvailableNodeBreakdown) (string, int) {
	nodes := s.registry.Snapshot()
	var candidates []candidate

	for _, n := range nodes {
		set := model.NewLanguageSet(n.Languages.SemanticLanguages)
		if set != p.Languages {
			continue
		}
		if n.NodeID == req.ExcludeNodeID {
			breakdown.add(ReasonExcluded)
			continue
		}
		if !n.Online {
			breakdown.add(ReasonNoOnline)
			continue
		}
		if n.Status != model.StatusReady {
			breakdown.add(ReasonNotReady)
			continue
		}
		if n.Usage.Exceeds(s.cfg.ResourceThreshold) {
			breakdown.add(ReasonResourceThreshold)
			continue
		}
		if !n.HasAllServices(req.RequiredTypes) {
			breakdown.add(ReasonMissingServiceType)
			continue
		}
		if !s.supportsPairCached(n, req.Src, req.Tgt, req.RequiredTypes) {
			breakdown.add(ReasonUnsupportedLanguagePair)
			continue
		}
		if req.AcceptPublic && !n.AcceptPublicJobs {
			breakdown.add(ReasonExcluded)
			continue
		}
		reserved := s.registry.reserved[n.NodeID]
		if n.CurrentJobs+reserved >= n.MaxConcurrentJobs {
			breakdown.add(ReasonCapacityFull)
			continue
		}
		candidates = append(candidates, candidate{node: n})
	}

	if len(candidates) == 0 {
		return "", 0
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].node, candidates[j].node
		if a.CurrentJobs != b.CurrentJobs {
			return a.CurrentJobs < b.CurrentJobs
		}
		au := a.Usage.CPU + a.Usage.GPU + a.Usage.Mem
		bu := b.Usage.CPU + b.Usage.GPU + b.Usage.Mem
		if au != bu {
			return au < bu
		}
		return stableHash(a.NodeID, 0) < stableHash(b.NodeID, 0)
	})

	return candidates[0].node.NodeID, len(candidates)
}

func (s *Selector) supportsPairCached(n *model.Node, src, tgt string, required []model.ServiceType) bool {
	if s.pairCache == nil {
		return SupportsPair(n, src, tgt, required)
	}
	key := n.NodeID + "|" + src + "|" + tgt + "|" + strconv.Itoa(len(n.Services))
	if v, ok := s.pairCache.Get(key); ok {
		return v
	}
	v := SupportsPair(n, src, tgt, required)
	s.pairCache.Add(key, v)
	return v
}

// stableHash hashes s with xxhash, optionally salted by seed, for
// deterministic pool-bucket assignment and node_id tie-breaking.
func stableHash(s string, seed uint64) uint64 {
	return xxh64(fmt.Sprintf("%d:%s", seed, s))
}
