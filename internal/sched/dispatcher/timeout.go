package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/xlatesched/internal/sched/errs"
	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// timeoutKind distinguishes a job that was never picked up from one that
// was dispatched but never finished.
type timeoutKind int

const (
	noTimeout timeoutKind = iota
	pendingTimeout
	dispatchedTimeout
)

// classify implements the timeout scanner's per-job decision from spec
// §4.2: pending timeout takes priority over dispatched timeout, since an
// undispatched job has no dispatched_at to compare against.
func classify(j *model.Job, now time.Time, pending, dispatched time.Duration) timeoutKind {
	if !j.DispatchedToNode {
		if now.Sub(j.CreatedAt) > pending {
			return pendingTimeout
		}
		return noTimeout
	}
	if !j.DispatchedAt.IsZero() && now.Sub(j.DispatchedAt) > dispatched {
		return dispatchedTimeout
	}
	return noTimeout
}

// OnFailover is invoked after the dispatcher has successfully reselected and
// reassigned a node for a timed-out job, so the caller can actually send the
// new node its job_assign — Failover only rewrites dispatcher/Redis
// bookkeeping, it never transmits anything over the wire.
type OnFailover func(ctx context.Context, job *model.Job) error

// RunTimeoutScanner starts a ticker goroutine that walks every non-terminal
// job every ScanInterval, failing over or failing jobs that have timed out.
// onFailover is called (outside the scan loop's own error handling) after
// every successful failover; a nil onFailover is allowed and simply skips
// redispatch. Exits on ctx cancellation.
func (d *Dispatcher) RunTimeoutScanner(ctx context.Context, onFailover OnFailover) {
	go func() {
		t := time.NewTicker(d.cfg.ScanInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				d.scanOnce(ctx, onFailover)
			}
		}
	}()
}

func (d *Dispatcher) scanOnce(ctx context.Context, onFailover OnFailover) {
	now := time.Now()
	for _, j := range d.store.NonTerminal() {
		kind := classify(j, now, d.cfg.PendingTimeout, d.cfg.JobTimeout)
		if kind == noTimeout {
			continue
		}
		d.handleTimeout(ctx, j, kind, onFailover)
	}
}

func (d *Dispatcher) handleTimeout(ctx context.Context, j *model.Job, kind timeoutKind, onFailover OnFailover) {
	if j.FailoverAttempts >= d.cfg.FailoverMax {
		d.failJob(ctx, j)
		return
	}

	oldNode := j.AssignedNodeID
	if oldNode != "" {
		if err := d.rt.ReleaseJobSlot(ctx, oldNode, j.JobID); err != nil {
			slog.Warn("dispatcher: slot release on timeout failed", "job_id", j.JobID, "err", err)
		}
		d.reg.ReleaseLocal(oldNode)
		if d.cfg.SendCancel && d.sender != nil && kind == dispatchedTimeout {
			if err := d.sender.SendJobCancel(ctx, oldNode, j.JobID, "timeout"); err != nil {
				slog.Warn("dispatcher: best-effort job_cancel failed", "job_id", j.JobID, "node_id", oldNode, "err", err)
			}
		}
	}

	routingKey := j.RoutingKey()
	newNodeID, err := d.selectNode(ctx, j, routingKey, oldNode)
	if err != nil {
		d.failJob(ctx, j)
		return
	}

	job, err := d.Failover(ctx, j.JobID, newNodeID)
	if err != nil {
		slog.Error("dispatcher: failover transition failed", "job_id", j.JobID, "err", err)
		d.failJob(ctx, j)
		return
	}
	slog.Warn("dispatcher: job failed over", "job_id", j.JobID, "old_node", oldNode, "new_node", newNodeID, "kind", kind)
	if onFailover != nil {
		if err := onFailover(ctx, job); err != nil {
			slog.Warn("dispatcher: failover redispatch failed", "job_id", j.JobID, "new_node", newNodeID, "err", err)
		}
	}
}

// HandleModelNotAvailable implements the model_not_available wire message:
// the reporting node is excluded immediately rather than waiting for the
// dispatched-timeout scan to catch it, since the node has already told us
// it cannot serve the job. The caller is responsible for redispatching to
// the newly-selected node (see node_ws.go's onModelNotAvailable), so no
// onFailover callback runs here.
func (d *Dispatcher) HandleModelNotAvailable(ctx context.Context, jobID string) error {
	j := d.store.Get(jobID)
	if j == nil {
		return fmt.Errorf("dispatcher: unknown job %q", jobID)
	}
	if j.Status.Terminal() {
		return nil
	}
	d.handleTimeout(ctx, j, dispatchedTimeout, nil)
	return nil
}

// failJob marks a job Failed once its failover budget is exhausted: clears
// its binding, releases the FSM to RELEASED, and notifies the owning
// session of the terminal JOB_TIMEOUT failure per spec §7.
func (d *Dispatcher) failJob(ctx context.Context, j *model.Job) {
	d.store.Update(j.JobID, func(job *model.Job) { job.Status = model.JobFailed })
	if j.AssignedNodeID != "" {
		if err := d.rt.ReleaseJobSlot(ctx, j.AssignedNodeID, j.JobID); err != nil {
			slog.Warn("dispatcher: slot release on fail failed", "job_id", j.JobID, "err", err)
		}
		d.reg.ReleaseLocal(j.AssignedNodeID)
	}
	if err := d.rt.ClearBinding(ctx, j.RequestID); err != nil {
		slog.Warn("dispatcher: binding clear on fail failed", "job_id", j.JobID, "err", err)
	}
	if err := d.rt.FSMToReleased(ctx, j.JobID); err != nil {
		slog.Warn("dispatcher: fsm release on fail failed", "job_id", j.JobID, "err", err)
	}
	if d.notifier != nil {
		if err := d.notifier.SendJobFailed(ctx, j.SessionID, j.JobID, errs.CodeJobTimeout); err != nil {
			slog.Warn("dispatcher: job_timeout session notify failed", "session_id", j.SessionID, "job_id", j.JobID, "err", err)
		}
	}
	slog.Error("dispatcher: job failed permanently after exhausting failover budget", "job_id", j.JobID)
}
