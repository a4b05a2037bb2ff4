package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/xlatesched/internal/sched/routing"
)

// Inbox message kinds: tag field distinguishing a relayed node send from a
// relayed session send. Both carry an already-marshaled JSON payload, so
// the receiving instance only has to forward it verbatim.
const (
	inboxKindNodeSend    = "node_send"
	inboxKindSessionSend = "session_send"
)

// handleInboxMessage is the callback passed to
// [routing.Runtime.RunInboxLoop]/RunReclaimLoop: it forwards a relayed
// message to whichever local connection (node or session) the envelope
// targets. If this instance no longer holds that connection the message is
// dropped — the sender's own timeout/retry paths cover that case.
func (a *App) handleInboxMessage(ctx context.Context, msg routing.InboxMessage) error {
	kind, _ := msg.Fields["kind"].(string)
	payload, _ := msg.Fields["payload"].(string)

	switch kind {
	case inboxKindNodeSend:
		nodeID, _ := msg.Fields["node_id"].(string)
		conn, ok := a.nodeConns.get(nodeID)
		if !ok {
			slog.Debug("app: dropping relayed node message, no local connection", "node_id", nodeID)
			return nil
		}
		return conn.WriteRaw(ctx, []byte(payload))
	case inboxKindSessionSend:
		sessionID, _ := msg.Fields["session_id"].(string)
		conn, ok := a.sessionConns.get(sessionID)
		if !ok {
			slog.Debug("app: dropping relayed session message, no local connection", "session_id", sessionID)
			return nil
		}
		return conn.WriteRaw(ctx, []byte(payload))
	default:
		slog.Warn("app: dropping inbox message of unknown kind", "kind", kind)
		return nil
	}
}
