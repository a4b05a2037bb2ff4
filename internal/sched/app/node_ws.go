package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/xlatesched/internal/observe"
	"github.com/MrWong99/xlatesched/internal/sched/errs"
	"github.com/MrWong99/xlatesched/internal/sched/model"
	"github.com/MrWong99/xlatesched/internal/sched/registry"
	"github.com/MrWong99/xlatesched/internal/sched/wsproto"
)

// newNodeMux builds the node-facing WebSocket server's routes.
func (a *App) newNodeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/node", a.handleNodeWS)
	return mux
}

func (a *App) handleNodeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("app: node ws accept failed", "err", err)
		return
	}
	conn := wsproto.NewConn(ws)
	ctx := r.Context()

	nodeID, err := a.nodeHandshake(ctx, conn)
	if err != nil {
		slog.Warn("app: node handshake failed", "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	defer a.teardownNode(context.WithoutCancel(ctx), nodeID)

	for {
		env, err := conn.ReadEnvelope(ctx)
		if err != nil {
			return
		}
		if err := a.handleNodeMessage(ctx, nodeID, env); err != nil {
			slog.Warn("app: node message handling failed", "node_id", nodeID, "type", env.Type, "err", err)
		}
	}
}

// nodeHandshake consumes the opening node_register message, admits the node
// into the registry, and acknowledges it.
func (a *App) nodeHandshake(ctx context.Context, conn *wsproto.Conn) (string, error) {
	env, err := conn.ReadEnvelope(ctx)
	if err != nil {
		return "", err
	}
	if env.Type != wsproto.TypeNodeRegister {
		return "", errors.New("app: expected node_register as first message")
	}
	var reg wsproto.NodeRegister
	if err := env.Decode(&reg); err != nil {
		return "", err
	}

	nodeID := reg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	hardware, services, langs := reg.ToRegisterDecl()
	node, err := a.registry.Register(registry.RegisterDecl{
		NodeID:            nodeID,
		Hardware:          hardware,
		MaxConcurrentJobs: reg.MaxConcurrentJobs,
		Services:          services,
		Languages:         langs,
		AcceptPublicJobs:  reg.AcceptPublicJobs,
	})
	if err != nil {
		observe.DefaultMetrics().RecordNodeRegistration(ctx, "rejected_no_gpu")
		return "", err
	}
	observe.DefaultMetrics().RecordNodeRegistration(ctx, "accepted")

	if err := a.rt.AcquireNodeOwner(ctx, nodeID); err != nil {
		return "", err
	}
	if err := a.rt.PublishNodeSnapshot(ctx, node, 2*a.cfg.Routing.HeartbeatPeriod); err != nil {
		slog.Warn("app: node snapshot publish failed", "node_id", nodeID, "err", err)
	}
	a.rt.StartOwnerRenewal(ctx, func(renewCtx context.Context) error {
		if err := a.rt.RenewNodeOwner(renewCtx, nodeID); err != nil {
			return err
		}
		return a.rt.PublishNodeSnapshot(renewCtx, a.registry.Node(nodeID), 2*a.cfg.Routing.HeartbeatPeriod)
	})

	a.nodeConns.put(nodeID, conn)
	observe.DefaultMetrics().ActiveNodes.Add(ctx, 1)

	if err := conn.WriteJSON(ctx, wsproto.NodeRegisterAck{Type: wsproto.TypeNodeRegisterAck, NodeID: nodeID}); err != nil {
		return "", err
	}
	return nodeID, nil
}

func (a *App) teardownNode(ctx context.Context, nodeID string) {
	a.nodeConns.remove(nodeID)
	a.registry.MarkOffline(nodeID)
	observe.DefaultMetrics().ActiveNodes.Add(ctx, -1)
	if err := a.rt.ReleaseNodeOwner(ctx, nodeID); err != nil {
		slog.Warn("app: node owner release failed", "node_id", nodeID, "err", err)
	}
}

func (a *App) handleNodeMessage(ctx context.Context, nodeID string, env wsproto.Envelope) error {
	switch env.Type {
	case wsproto.TypeNodeHeartbeat:
		return a.onNodeHeartbeat(ctx, nodeID, env)
	case wsproto.TypeJobAck:
		return a.onJobAck(ctx, env)
	case wsproto.TypeJobStarted:
		return a.onJobStarted(ctx, env)
	case wsproto.TypeJobResult:
		return a.onJobResult(ctx, env)
	case wsproto.TypeModelNotAvailable:
		return a.onModelNotAvailable(ctx, env)
	default:
		slog.Warn("app: unknown node message type", "type", env.Type)
		return nil
	}
}

func (a *App) onNodeHeartbeat(ctx context.Context, nodeID string, env wsproto.Envelope) error {
	var hb wsproto.NodeHeartbeat
	if err := env.Decode(&hb); err != nil {
		return err
	}
	upd := registry.HeartbeatUpdate{
		Usage: model.ResourceUsage{
			CPU: hb.ResourceUsage.CPU,
			GPU: hb.ResourceUsage.GPU,
			Mem: hb.ResourceUsage.Mem,
		},
		CurrentJobs: hb.CurrentJobs,
	}
	if hb.InstalledModels != nil {
		upd.Services = wsproto.InstalledModelsToServices(hb.InstalledModels)
	}
	if err := a.registry.Heartbeat(nodeID, upd); err != nil {
		return err
	}
	if n := a.registry.Node(nodeID); n != nil {
		if err := a.rt.PublishNodeSnapshot(ctx, n, 2*a.cfg.Routing.HeartbeatPeriod); err != nil {
			slog.Warn("app: node snapshot publish failed", "node_id", nodeID, "err", err)
		}
	}
	return nil
}

func (a *App) onJobAck(ctx context.Context, env wsproto.Envelope) error {
	var ack wsproto.JobAck
	if err := env.Decode(&ack); err != nil {
		return err
	}
	_, err := a.rt.FSMToAccepted(ctx, ack.JobID, ack.AttemptID)
	return err
}

func (a *App) onJobStarted(ctx context.Context, env wsproto.Envelope) error {
	var started wsproto.JobStarted
	if err := env.Decode(&started); err != nil {
		return err
	}
	_, err := a.rt.FSMToRunning(ctx, started.JobID, started.AttemptID)
	return err
}

func (a *App) onJobResult(ctx context.Context, env wsproto.Envelope) error {
	var res wsproto.JobResult
	if err := env.Decode(&res); err != nil {
		return err
	}
	job, ok := a.dispatcher.AcceptResult(res.JobID, res.AttemptID)
	if !ok {
		return nil // stale attempt, already failed over; drop silently
	}
	if err := a.dispatcher.Finish(ctx, res.JobID, res.Success); err != nil {
		slog.Warn("app: job finish failed", "job_id", res.JobID, "err", err)
	}
	if sendErr := a.sendToSession(ctx, job.SessionID, res); sendErr != nil {
		slog.Warn("app: job_result relay to session failed", "session_id", job.SessionID, "job_id", res.JobID, "err", sendErr)
	}
	return nil
}

func (a *App) onModelNotAvailable(ctx context.Context, env wsproto.Envelope) error {
	var m wsproto.ModelNotAvailable
	if err := env.Decode(&m); err != nil {
		return err
	}
	observe.DefaultMetrics().RecordJobFailover(ctx, "model_not_available")
	if err := a.dispatcher.HandleModelNotAvailable(ctx, m.JobID); err != nil {
		return err
	}
	if job := a.dispatcher.Lookup(m.JobID); job != nil {
		return a.dispatchJob(ctx, job)
	}
	return errs.ErrNoAvailableNode
}
