package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MrWong99/xlatesched/internal/sched/dispatcher"
	"github.com/MrWong99/xlatesched/internal/sched/model"
	"github.com/MrWong99/xlatesched/internal/sched/wsproto"
)

// sendToNode writes v to nodeID's WebSocket connection. If this instance
// doesn't hold that connection, it looks up the owning instance via the
// routing runtime and relays the message through that instance's inbox
// stream instead.
func (a *App) sendToNode(ctx context.Context, nodeID string, v any) error {
	if conn, ok := a.nodeConns.get(nodeID); ok {
		return conn.WriteJSON(ctx, v)
	}
	owner, err := a.rt.NodeOwner(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("app: node owner lookup: %w", err)
	}
	if owner == "" || owner == a.cfg.InstanceID {
		return fmt.Errorf("app: node %q has no reachable connection", nodeID)
	}
	return a.relayVia(ctx, owner, inboxKindNodeSend, "node_id", nodeID, v)
}

// sendToSession writes v to sessionID's WebSocket connection, relaying via
// the owning instance's inbox when this instance doesn't hold the socket.
func (a *App) sendToSession(ctx context.Context, sessionID string, v any) error {
	if conn, ok := a.sessionConns.get(sessionID); ok {
		return conn.WriteJSON(ctx, v)
	}
	owner, err := a.rt.SessionOwner(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("app: session owner lookup: %w", err)
	}
	if owner == "" || owner == a.cfg.InstanceID {
		return fmt.Errorf("app: session %q has no reachable connection", sessionID)
	}
	return a.relayVia(ctx, owner, inboxKindSessionSend, "session_id", sessionID, v)
}

func (a *App) relayVia(ctx context.Context, owner, kind, idField, idValue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("app: marshal relay payload: %w", err)
	}
	_, err = a.rt.PublishToInbox(ctx, owner, map[string]any{
		"kind":  kind,
		idField: idValue,
		"payload": string(data),
	})
	return err
}

// SendJobCancel implements dispatcher.NodeSender.
func (a *App) SendJobCancel(ctx context.Context, nodeID, jobID string, reason string) error {
	return a.sendToNode(ctx, nodeID, wsproto.JobCancel{Type: wsproto.TypeJobCancel, JobID: jobID})
}

// SendJobFailed implements dispatcher.SessionNotifier: it surfaces a job's
// terminal failure to the session that owns it as a wire-level error
// envelope.
func (a *App) SendJobFailed(ctx context.Context, sessionID, jobID, code string) error {
	msg := wsproto.NewErrorMessage(code, "job failed permanently")
	msg.SessionID = sessionID
	msg.JobID = jobID
	return a.sendToSession(ctx, sessionID, msg)
}

// dispatchJob sends an already-assigned job's job_assign message to its
// node and marks it dispatched once the send succeeds.
func (a *App) dispatchJob(ctx context.Context, job *model.Job) error {
	if job.AssignedNodeID == "" {
		return nil
	}
	assign := wsproto.JobToAssign(job, job.DispatchAttemptID)
	if err := a.sendToNode(ctx, job.AssignedNodeID, assign); err != nil {
		return fmt.Errorf("app: job_assign send: %w", err)
	}
	return a.dispatcher.MarkDispatched(ctx, job.JobID, job.DispatchAttemptID)
}

// actorJobCreator adapts the dispatcher's create+dispatch path into
// session.JobCreator, so jobs created off the audio-segmentation actor
// (executeFinalize) are actually sent to their assigned node's job_assign
// and marked dispatched — not just reserved and persisted. This mirrors
// onUtterance's manual CreateJob-then-dispatchJob sequence for the
// pre-segmented bypass path.
type actorJobCreator struct {
	a *App
}

func (c actorJobCreator) CreateJob(ctx context.Context, req dispatcher.CreateRequest) (*model.Job, error) {
	job, err := c.a.dispatcher.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.a.dispatchJob(ctx, job); err != nil {
		slog.Warn("app: actor job dispatch failed", "job_id", job.JobID, "session_id", job.SessionID, "err", err)
	}
	return job, nil
}

// onJobFailover implements dispatcher.OnFailover: it sends the newly
// reselected node its job_assign, the same way a freshly-created job is
// dispatched.
func (a *App) onJobFailover(ctx context.Context, job *model.Job) error {
	return a.dispatchJob(ctx, job)
}
