package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake/v2"

	"github.com/MrWong99/xlatesched/internal/sched/errs"
	"github.com/MrWong99/xlatesched/internal/sched/model"
	"github.com/MrWong99/xlatesched/internal/sched/registry"
	"github.com/MrWong99/xlatesched/internal/sched/routing"
)

// Config tunes the dispatcher's idempotency lease, reservation TTL and
// failover policy.
type Config struct {
	RequestLockTTL   time.Duration
	BindingLease     time.Duration
	ReservationTTL   time.Duration
	SpreadWindow     time.Duration
	SendCancel       bool
	PendingTimeout   time.Duration
	JobTimeout       time.Duration
	FailoverMax      int
	ScanInterval     time.Duration
}

// DefaultConfig returns sane defaults matching the scheduler design notes.
func DefaultConfig() Config {
	return Config{
		RequestLockTTL: 1500 * time.Millisecond,
		BindingLease:   30 * time.Second,
		ReservationTTL: 20 * time.Second,
		SpreadWindow:   2 * time.Second,
		SendCancel:     true,
		PendingTimeout: 5 * time.Second,
		JobTimeout:     30 * time.Second,
		FailoverMax:    2,
		ScanInterval:   time.Second,
	}
}

// NodeSender abstracts sending a wire message to a node's WebSocket
// connection, regardless of which instance owns it — the real
// implementation in package app fans this out locally or via the routing
// runtime's inbox depending on [routing.Runtime.NodeOwner].
type NodeSender interface {
	SendJobCancel(ctx context.Context, nodeID, jobID string, reason string) error
}

// SessionNotifier abstracts surfacing a terminal job failure to the session
// that owns it, regardless of which instance holds that WebSocket
// connection — the real implementation in package app relays via the
// routing runtime's inbox the same way NodeSender does.
type SessionNotifier interface {
	SendJobFailed(ctx context.Context, sessionID, jobID, code string) error
}

// Dispatcher creates and tracks jobs, drives their FSM via the routing
// runtime, and reselects nodes on timeout.
type Dispatcher struct {
	cfg      Config
	store    *Store
	reg      *registry.Registry
	selector *registry.Selector
	pools    *registry.PoolManager
	rt       *routing.Runtime
	locker   *routing.Locker
	sender   NodeSender
	notifier SessionNotifier
	spread   *spreadTracker
	ids      *sonyflake.Sonyflake
}

// New builds a Dispatcher over the given registry/selector/routing
// components.
func New(cfg Config, reg *registry.Registry, sel *registry.Selector, pools *registry.PoolManager, rt *routing.Runtime, locker *routing.Locker, sender NodeSender, notifier SessionNotifier) (*Dispatcher, error) {
	sf, err := sonyflake.New(sonyflake.Settings{})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: sonyflake init: %w", err)
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    NewStore(),
		reg:      reg,
		selector: sel,
		pools:    pools,
		rt:       rt,
		locker:   locker,
		sender:   sender,
		notifier: notifier,
		spread:   newSpreadTracker(),
		ids:      sf,
	}, nil
}

// CreateRequest is the input to CreateJob.
type CreateRequest struct {
	SessionID              string
	UtteranceIndex         int
	Languages              model.Languages
	Features               model.FeatureFlags
	Pipeline               model.PipelineFlags
	Audio                  model.AudioPayload
	PaddingMs              int
	IsManualCut            bool
	IsTimeoutTriggered     bool
	IsMaxDurationTriggered bool
	TenantID               string
	TraceID                string
	RequestID              string // optional; generated if empty
	PreferredNodeID        string // optional; session-affinity hint (e.g. max-duration burst), best-effort
	FirstChunkClientTimestampMs int64 // optional; carried onto the job if set
}

// CreateJob implements the create_job operation: idempotency fast/slow path,
// node selection with spread exclusion, atomic slot reservation, binding
// persistence and FSM init.
func (d *Dispatcher) CreateJob(ctx context.Context, req CreateRequest) (*model.Job, error) {
	reqID := req.RequestID
	if reqID == "" {
		reqID = uuid.NewString()
	}
	routingKey := req.TenantID
	if routingKey == "" {
		routingKey = req.SessionID
	}

	// Idempotency fast path: no lock, just read.
	if b, err := d.rt.GetBinding(ctx, reqID); err != nil {
		return nil, fmt.Errorf("dispatcher: binding read: %w", err)
	} else if b != nil {
		if j := d.store.Get(b.JobID); j != nil {
			return j, nil
		}
	}

	// Idempotency slow path: serialize via redsync, re-check.
	mu, err := d.locker.LockRequest(ctx, reqID, d.cfg.RequestLockTTL)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: request lock: %w", err)
	}
	defer func() {
		if uerr := mu.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			slog.Warn("dispatcher: request lock release failed", "request_id", reqID, "err", uerr)
		}
	}()

	if b, err := d.rt.GetBinding(ctx, reqID); err != nil {
		return nil, fmt.Errorf("dispatcher: binding re-check: %w", err)
	} else if b != nil {
		if j := d.store.Get(b.JobID); j != nil {
			return j, nil
		}
	}

	jobID, err := d.nextJobID()
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		JobID:                  jobID,
		RequestID:              reqID,
		SessionID:              req.SessionID,
		UtteranceIndex:         req.UtteranceIndex,
		Languages:              req.Languages,
		Features:               req.Features,
		Pipeline:               req.Pipeline,
		Audio:                  req.Audio,
		PaddingMs:              req.PaddingMs,
		IsManualCut:            req.IsManualCut,
		IsTimeoutTriggered:     req.IsTimeoutTriggered,
		IsMaxDurationTriggered: req.IsMaxDurationTriggered,
		Status:                 model.JobPending,
		CreatedAt:              time.Now(),
		TenantID:               req.TenantID,
		TraceID:                req.TraceID,
		DispatchAttemptID:      1,
		FirstChunkClientTimestampMs: req.FirstChunkClientTimestampMs,
	}

	nodeID, err := d.selectNodePreferred(ctx, job, routingKey, req.PreferredNodeID)
	if err != nil && !errors.Is(err, errs.ErrNoAvailableNode) {
		return nil, err
	}

	binding := &model.RequestBinding{RequestID: reqID, JobID: jobID}
	if nodeID != "" {
		job.AssignedNodeID = nodeID
		job.Status = model.JobAssigned
		binding.NodeID = nodeID
	}

	if err := d.rt.PutBinding(ctx, binding, d.cfg.BindingLease); err != nil {
		if nodeID != "" {
			_ = d.rt.ReleaseJobSlot(ctx, nodeID, jobID)
			d.reg.ReleaseLocal(nodeID)
		}
		return nil, fmt.Errorf("dispatcher: binding persist: %w", err)
	}

	if _, err := d.rt.FSMInit(ctx, jobID, nodeID, job.DispatchAttemptID); err != nil {
		return nil, fmt.Errorf("dispatcher: fsm init: %w", err)
	}

	d.store.Put(job)
	return job, nil
}

// selectNodePreferred tries to reserve a slot directly on preferredNodeID
// (session affinity, e.g. a max-duration burst sticking to its node) before
// falling back to the normal spread-aware selection. The preference is
// best-effort: any failure to reserve on the preferred node falls straight
// through to selectNode rather than failing the request.
func (d *Dispatcher) selectNodePreferred(ctx context.Context, job *model.Job, routingKey, preferredNodeID string) (string, error) {
	if preferredNodeID != "" {
		if n := d.reg.Node(preferredNodeID); n != nil {
			ok, err := d.rt.ReserveJobSlot(ctx, preferredNodeID, job.JobID, d.cfg.ReservationTTL, n.CurrentJobs, n.MaxConcurrentJobs)
			if err == nil && ok {
				d.reg.ReserveLocal(preferredNodeID)
				return preferredNodeID, nil
			}
			if err != nil {
				slog.Warn("dispatcher: preferred node reserve failed, falling back", "node_id", preferredNodeID, "job_id", job.JobID, "err", err)
			}
		}
	}
	return d.selectNode(ctx, job, routingKey, "")
}

// selectNode runs the two-level selector with spread exclusion and reserves
// a slot on the winning node, releasing and retrying without exclusion if
// the spread-excluded scan turns up nothing. Returns "" with
// errs.ErrNoAvailableNode if no node could be reserved.
func (d *Dispatcher) selectNode(ctx context.Context, job *model.Job, routingKey, forceExclude string) (string, error) {
	exclude := forceExclude
	if exclude == "" {
		exclude = d.spread.recentNode(routingKey, d.cfg.SpreadWindow, time.Now())
	}

	nodeID := d.tryReserve(ctx, job, routingKey, exclude)
	if nodeID == "" && exclude != "" {
		nodeID = d.tryReserve(ctx, job, routingKey, "")
	}
	if nodeID == "" {
		return "", errs.ErrNoAvailableNode
	}
	d.spread.stamp(routingKey, nodeID, time.Now())
	return nodeID, nil
}

// tryReserve asks the selector for a candidate (excluding exclude) and
// attempts the atomic reservation; on reserve_denied it retries against the
// next-best candidate up to a small bounded number of attempts rather than
// failing the whole request for one contended node.
func (d *Dispatcher) tryReserve(ctx context.Context, job *model.Job, routingKey, exclude string) string {
	required := requiredServiceTypes(job.Pipeline, job.Features)
	const maxAttempts = 3
	tried := map[string]bool{}
	if exclude != "" {
		tried[exclude] = true
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		nodeID, _, _ := d.selector.Select(registry.SelectRequest{
			RoutingKey:    routingKey,
			Src:           job.Languages.Src,
			Tgt:           job.Languages.Tgt,
			RequiredTypes: required,
			ExcludeNodeID: exclude,
		})
		if nodeID == "" || tried[nodeID] {
			return ""
		}
		tried[nodeID] = true

		n := d.reg.Node(nodeID)
		if n == nil {
			continue
		}
		ok, err := d.rt.ReserveJobSlot(ctx, nodeID, job.JobID, d.cfg.ReservationTTL, n.CurrentJobs, n.MaxConcurrentJobs)
		if err != nil {
			slog.Warn("dispatcher: reserve failed", "node_id", nodeID, "job_id", job.JobID, "err", err)
			continue
		}
		if !ok {
			continue // reserve_denied: capacity exhausted between select and reserve
		}
		d.reg.ReserveLocal(nodeID)
		return nodeID
	}
	return ""
}

// MarkDispatched implements mark_job_dispatched: the single authoritative
// barrier for "has been dispatched", gating on the FSM's current attempt_id.
func (d *Dispatcher) MarkDispatched(ctx context.Context, jobID string, attemptID int64) error {
	ok, err := d.rt.FSMToDispatched(ctx, jobID, attemptID)
	if err != nil {
		return fmt.Errorf("dispatcher: fsm to dispatched: %w", err)
	}
	if !ok {
		return nil // stale attempt_id; not an error, just a no-op
	}
	j := d.store.Update(jobID, func(j *model.Job) {
		j.DispatchedToNode = true
		j.DispatchedAt = time.Now()
		j.Status = model.JobProcessing
	})
	if j == nil {
		return nil
	}
	if err := d.rt.MarkBindingDispatched(ctx, j.RequestID, j.AssignedNodeID); err != nil {
		slog.Warn("dispatcher: binding dispatch stamp failed", "job_id", jobID, "err", err)
	}
	return nil
}

// Failover implements set_job_assigned_node_for_failover: refuses terminal
// jobs, bumps the monotone attempt counters, and resets the FSM for the new
// attempt on newNodeID.
func (d *Dispatcher) Failover(ctx context.Context, jobID, newNodeID string) (*model.Job, error) {
	cur := d.store.Get(jobID)
	if cur == nil {
		return nil, fmt.Errorf("dispatcher: unknown job %q", jobID)
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("dispatcher: job %q already terminal", jobID)
	}

	j := d.store.Update(jobID, func(j *model.Job) {
		j.Status = model.JobAssigned
		j.DispatchedToNode = false
		j.FailoverAttempts++
		j.DispatchAttemptID++
		j.AssignedNodeID = newNodeID
	})
	if j == nil {
		return nil, fmt.Errorf("dispatcher: unknown job %q", jobID)
	}

	if _, err := d.rt.FSMResetCreated(ctx, jobID, newNodeID, j.DispatchAttemptID); err != nil {
		return nil, fmt.Errorf("dispatcher: fsm reset for failover: %w", err)
	}
	binding := &model.RequestBinding{RequestID: j.RequestID, JobID: jobID, NodeID: newNodeID}
	if err := d.rt.PutBinding(ctx, binding, d.cfg.BindingLease); err != nil {
		slog.Warn("dispatcher: binding update on failover failed", "job_id", jobID, "err", err)
	}
	return j, nil
}

// AcceptResult implements dedup-on-result: a result is only honored if
// attemptID matches the job's current dispatch_attempt_id and it is not
// already terminal. Callers must XACK the inbox message regardless of the
// returned bool — duplicates are dropped, not redelivered.
func (d *Dispatcher) AcceptResult(jobID string, attemptID int64) (*model.Job, bool) {
	j := d.store.Get(jobID)
	if j == nil || j.Status.Terminal() || attemptID != j.DispatchAttemptID {
		return j, false
	}
	return j, true
}

// Finish marks jobID FINISHED in the FSM, releases its node slot, and clears
// its binding. Call after AcceptResult reports true.
func (d *Dispatcher) Finish(ctx context.Context, jobID string, ok bool) error {
	j := d.store.Get(jobID)
	if j == nil {
		return nil
	}
	if _, err := d.rt.FSMToFinished(ctx, jobID, j.DispatchAttemptID, ok); err != nil {
		return fmt.Errorf("dispatcher: fsm to finished: %w", err)
	}
	status := model.JobCompleted
	if !ok {
		status = model.JobFailed
	}
	d.store.Update(jobID, func(j *model.Job) { j.Status = status })
	if j.AssignedNodeID != "" {
		if err := d.rt.ReleaseJobSlot(ctx, j.AssignedNodeID, jobID); err != nil {
			slog.Warn("dispatcher: slot release on finish failed", "job_id", jobID, "err", err)
		}
		d.reg.ReleaseLocal(j.AssignedNodeID)
	}
	if err := d.rt.ClearBinding(ctx, j.RequestID); err != nil {
		slog.Warn("dispatcher: binding clear on finish failed", "job_id", jobID, "err", err)
	}
	return d.rt.FSMToReleased(ctx, jobID)
}

// Lookup returns the current in-memory state of jobID, or nil if unknown.
func (d *Dispatcher) Lookup(jobID string) *model.Job {
	return d.store.Get(jobID)
}

func (d *Dispatcher) nextJobID() (string, error) {
	id, err := d.ids.NextID()
	if err != nil {
		return "", fmt.Errorf("dispatcher: job id generation: %w", err)
	}
	return fmt.Sprintf("job-%d", id), nil
}

// requiredServiceTypes expands pipeline+feature flags into the set of
// service types a candidate node must have installed, per the module
// dependency graph in package registry.
func requiredServiceTypes(p model.PipelineFlags, f model.FeatureFlags) []model.ServiceType {
	return registry.RequiredServices(p, f)
}
