package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// ErrNoGPU is returned by Register when a node declares no GPU.
var ErrNoGPU = errors.New("registry: node declares no GPU")

// Config tunes registry lifecycle thresholds.
type Config struct {
	// HealthCheckCount is the number of consecutive successful heartbeats
	// required to promote a node from Registering to Ready.
	HealthCheckCount int

	// WarmupTimeout demotes a Registering node to Degraded if exceeded
	// without promotion.
	WarmupTimeout time.Duration

	// HeartbeatTimeout marks a node Offline after this long without a
	// heartbeat.
	HeartbeatTimeout time.Duration

	// RemoveStaleAfter removes a node from the registry entirely once it has
	// been without presence for this long.
	RemoveStaleAfter time.Duration

	// ResourceThreshold is the usage fraction at/above which a node is
	// considered overloaded (not selectable).
	ResourceThreshold float64
}

// DefaultConfig returns sane defaults matching the scheduler design notes.
func DefaultConfig() Config {
	return Config{
		HealthCheckCount:  3,
		WarmupTimeout:     30 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		RemoveStaleAfter:  5 * time.Minute,
		ResourceThreshold: 0.9,
	}
}

// Registry holds every node known to this instance and the pools they
// belong to. All selection operations are reads over a consistent snapshot
// guarded by mu; mutation (register/heartbeat/pool rebuild) takes the write
// lock.
//
// Registry is safe for concurrent use.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	nodes    map[string]*model.Node
	reserved map[string]int // node_id -> local mirror of reserved-but-not-yet-counted slots
	pools    []*model.Pool

	now func() time.Time
}

// New creates a Registry with the given configuration.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		nodes:    make(map[string]*model.Node),
		reserved: make(map[string]int),
		now:      time.Now,
	}
}

// RegisterDecl is the input to Register: everything a node declares about
// itself at connection time.
type RegisterDecl struct {
	NodeID            string
	Hardware          model.Hardware
	MaxConcurrentJobs int
	Services          []model.InstalledService
	Languages         model.LanguageCapabilities
	AcceptPublicJobs  bool
}

// RegisterError is returned by Register on validation failure.
type RegisterError struct {
	Err error
}

func (e *RegisterError) Error() string { return e.Err.Error() }
func (e *RegisterError) Unwrap() error { return e.Err }

// Register admits a new node in Registering status. Nodes declaring no GPU
// are rejected outright.
func (r *Registry) Register(decl RegisterDecl) (*model.Node, error) {
	if decl.Hardware.GPUs <= 0 {
		return nil, &RegisterError{Err: fmt.Errorf("%w: node_id=%s", ErrNoGPU, decl.NodeID)}
	}

	n := &model.Node{
		NodeID:            decl.NodeID,
		Hardware:          decl.Hardware,
		Status:            model.StatusRegistering,
		Online:            true,
		MaxConcurrentJobs: decl.MaxConcurrentJobs,
		Services:          decl.Services,
		Languages:         decl.Languages,
		AcceptPublicJobs:  decl.AcceptPublicJobs,
		RegisteredAt:      r.now(),
		LastHeartbeat:     r.now(),
	}

	r.mu.Lock()
	r.nodes[n.NodeID] = n
	r.mu.Unlock()

	slog.Info("registry: node registered", "node_id", n.NodeID, "gpus", n.Hardware.GPUs)
	return n, nil
}

// HeartbeatUpdate carries the metrics a node reports on each heartbeat.
type HeartbeatUpdate struct {
	Usage             model.ResourceUsage
	CurrentJobs       int
	Capabilities      *model.LanguageCapabilities // optional refresh
	Services          []model.InstalledService    // optional refresh
}

// Heartbeat upserts a node's latest metrics and evaluates lifecycle
// transitions (Registering -> Ready, -> Degraded, -> Offline).
func (r *Registry) Heartbeat(nodeID string, upd HeartbeatUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("registry: unknown node %q", nodeID)
	}

	n.Usage = upd.Usage
	n.CurrentJobs = upd.CurrentJobs
	n.LastHeartbeat = r.now()
	n.Online = true
	if upd.Capabilities != nil {
		n.Languages = *upd.Capabilities
	}
	if upd.Services != nil {
		n.Services = upd.Services
	}

	switch n.Status {
	case model.StatusRegistering:
		n.ConsecutiveHealthyHeartbeats++
		if n.ConsecutiveHealthyHeartbeats >= r.cfg.HealthCheckCount {
			n.Status = model.StatusReady
			slog.Info("registry: node promoted to ready", "node_id", nodeID)
		} else if r.now().Sub(n.RegisteredAt) > r.cfg.WarmupTimeout {
			n.Status = model.StatusDegraded
			slog.Warn("registry: node warmup timed out, demoted to degraded", "node_id", nodeID)
		}
	case model.StatusDegraded:
		n.Status = model.StatusReady
	case model.StatusOffline:
		n.Status = model.StatusRegistering
		n.ConsecutiveHealthyHeartbeats = 1
	}

	return nil
}

// SweepStale marks nodes Offline whose heartbeat has exceeded
// HeartbeatTimeout, and fully removes nodes whose absence has exceeded
// RemoveStaleAfter. Returns the node_ids removed.
func (r *Registry) SweepStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed []string
	for id, n := range r.nodes {
		age := now.Sub(n.LastHeartbeat)
		if n.Online && age > r.cfg.HeartbeatTimeout {
			n.Online = false
			n.Status = model.StatusOffline
			slog.Warn("registry: node marked offline (heartbeat timeout)", "node_id", id)
		}
		if age > r.cfg.RemoveStaleAfter {
			delete(r.nodes, id)
			delete(r.reserved, id)
			removed = append(removed, id)
			slog.Warn("registry: node removed (stale)", "node_id", id)
		}
	}
	return removed
}

// IsAvailable reports the node-level selectability invariant.
func (r *Registry) IsAvailable(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	return n.Available(r.cfg.ResourceThreshold, r.reserved[nodeID])
}

// Node returns a copy of a node's current state, or nil if unknown.
func (r *Registry) Node(nodeID string) *model.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

// Snapshot returns a copy of every known node, for pool rebuilds and
// cross-instance snapshot fan-out.
func (r *Registry) Snapshot() []*model.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		cp := *n
		out = append(out, &cp)
	}
	return out
}

// Upsert installs or replaces a node record wholesale — used by the
// cross-instance snapshot refresher to merge remote nodes' state into the
// local view.
func (r *Registry) Upsert(n *model.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.NodeID] = n
}

// MarkOffline flips a node to offline locally, e.g. on presence-key absence
// from the cross-instance refresher.
func (r *Registry) MarkOffline(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		n.Online = false
		n.Status = model.StatusOffline
	}
}

// ReserveLocal increments the local reservation mirror for nodeID. This is a
// performance hint only — the Redis reservation script in package routing
// is the authoritative capacity gate.
func (r *Registry) ReserveLocal(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved[nodeID]++
}

// ReleaseLocal decrements the local reservation mirror for nodeID, floored
// at zero.
func (r *Registry) ReleaseLocal(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved[nodeID] > 0 {
		r.reserved[nodeID]--
	}
}
