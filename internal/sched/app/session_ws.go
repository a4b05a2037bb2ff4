package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/xlatesched/internal/observe"
	"github.com/MrWong99/xlatesched/internal/sched/dispatcher"
	"github.com/MrWong99/xlatesched/internal/sched/errs"
	"github.com/MrWong99/xlatesched/internal/sched/model"
	"github.com/MrWong99/xlatesched/internal/sched/session"
	"github.com/MrWong99/xlatesched/internal/sched/wsproto"

	"net/http"
)

// newSessionMux builds the session-facing WebSocket server's routes.
func (a *App) newSessionMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session", a.handleSessionWS)
	return mux
}

func (a *App) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("app: session ws accept failed", "err", err)
		return
	}
	conn := wsproto.NewConn(ws)
	ctx := r.Context()

	sessionID, actor, err := a.sessionHandshake(ctx, conn)
	if err != nil {
		slog.Warn("app: session handshake failed", "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	defer a.teardownSession(context.WithoutCancel(ctx), sessionID, actor)

	for {
		env, err := conn.ReadEnvelope(ctx)
		if err != nil {
			return
		}
		if env.Type == wsproto.TypeSessionClose {
			return
		}
		if err := a.handleSessionMessage(ctx, sessionID, actor, conn, env); err != nil {
			slog.Warn("app: session message handling failed", "session_id", sessionID, "type", env.Type, "err", err)
		}
	}
}

func (a *App) sessionHandshake(ctx context.Context, conn *wsproto.Conn) (string, *session.Actor, error) {
	env, err := conn.ReadEnvelope(ctx)
	if err != nil {
		return "", nil, err
	}
	if env.Type != wsproto.TypeSessionInit {
		return "", nil, errors.New("app: expected session_init as first message")
	}
	var init wsproto.SessionInit
	if err := env.Decode(&init); err != nil {
		return "", nil, err
	}

	sessionID := init.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	mode := model.ModeOneWay
	if init.Mode == string(model.ModeTwoWayAuto) {
		mode = model.ModeTwoWayAuto
	}
	defaults := model.Session{
		SessionID:   sessionID,
		Src:         init.Src,
		Tgt:         init.Tgt,
		Dialect:     init.Dialect,
		Mode:        mode,
		AutoLangs:   init.AutoLangs,
		TenantID:    init.TenantID,
		TraceID:     init.TraceID,
		AudioFormat: init.AudioFormat,
		DefaultPipeline: model.PipelineFlags{UseASR: true, UseNMT: true, UseTTS: true},
	}

	if err := a.rt.AcquireSessionOwner(ctx, sessionID); err != nil {
		return "", nil, err
	}

	sessCfg := session.Config{
		PauseMs:                a.cfg.Session.PauseMs,
		MaxDurationMs:          a.cfg.Session.MaxDurationMs,
		HangoverManualMs:       a.cfg.Session.HangoverManualMs,
		HangoverAutoMs:         a.cfg.Session.HangoverAutoMs,
		PaddingManualMs:        a.cfg.Session.PaddingManualMs,
		PaddingAutoMs:          a.cfg.Session.PaddingAutoMs,
		MaxPendingEvents:       a.cfg.Session.MaxPendingEvents,
		ExceptionBufferBytes:   a.cfg.Session.ExceptionBufferBytes,
		MaxDurationAffinityTTL: a.cfg.Session.MaxDurationAffinityTTL,
	}
	actor := session.New(sessCfg, defaults, actorJobCreator{a}, a.rt)

	a.actors.put(sessionID, actor)
	a.sessionConns.put(sessionID, conn)
	observe.DefaultMetrics().ActiveSessions.Add(ctx, 1)

	if err := conn.WriteJSON(ctx, wsproto.SessionInitAck{Type: wsproto.TypeSessionInitAck, SessionID: sessionID}); err != nil {
		return "", nil, err
	}
	return sessionID, actor, nil
}

func (a *App) teardownSession(ctx context.Context, sessionID string, actor *session.Actor) {
	actor.Close()
	a.actors.remove(sessionID)
	a.sessionConns.remove(sessionID)
	observe.DefaultMetrics().ActiveSessions.Add(ctx, -1)
	if err := a.rt.ReleaseSessionOwner(ctx, sessionID); err != nil {
		slog.Warn("app: session owner release failed", "session_id", sessionID, "err", err)
	}
	a.leaveRoom(ctx, sessionID)
}

func (a *App) handleSessionMessage(ctx context.Context, sessionID string, actor *session.Actor, conn *wsproto.Conn, env wsproto.Envelope) error {
	switch env.Type {
	case wsproto.TypeAudioChunk:
		var chunk wsproto.AudioChunk
		if err := env.Decode(&chunk); err != nil {
			return err
		}
		actor.Send(session.AudioChunkReceived{
			Chunk:       chunk.Payload,
			IsFinal:     chunk.IsFinal,
			TsMs:        chunk.TsMs,
			ClientTsMs:  chunk.TsMs,
			HasClientTs: chunk.TsMs != 0,
		})
		return nil
	case wsproto.TypeUtterance:
		return a.onUtterance(ctx, sessionID, env)
	case wsproto.TypeTTSPlayEnded, wsproto.TypeClientHeartbeat:
		return nil
	case wsproto.TypeRoomCreate:
		return a.onRoomCreate(ctx, sessionID, conn)
	case wsproto.TypeRoomJoin:
		return a.onRoomJoin(ctx, sessionID, conn, env)
	case wsproto.TypeRoomLeave:
		a.leaveRoom(ctx, sessionID)
		return nil
	case wsproto.TypeWebRTCOffer:
		var m wsproto.WebRTCOffer
		if err := env.Decode(&m); err != nil {
			return err
		}
		m.FromPeer = sessionID
		return a.sendToSession(ctx, m.ToPeer, m)
	case wsproto.TypeWebRTCAnswer:
		var m wsproto.WebRTCAnswer
		if err := env.Decode(&m); err != nil {
			return err
		}
		m.FromPeer = sessionID
		return a.sendToSession(ctx, m.ToPeer, m)
	case wsproto.TypeWebRTCICE:
		var m wsproto.WebRTCICE
		if err := env.Decode(&m); err != nil {
			return err
		}
		m.FromPeer = sessionID
		return a.sendToSession(ctx, m.ToPeer, m)
	default:
		slog.Warn("app: unknown session message type", "type", env.Type)
		return nil
	}
}

// onUtterance handles a pre-segmented utterance, bypassing the session
// actor entirely and going straight to job creation.
func (a *App) onUtterance(ctx context.Context, sessionID string, env wsproto.Envelope) error {
	var u wsproto.Utterance
	if err := env.Decode(&u); err != nil {
		return err
	}
	job, err := a.dispatcher.CreateJob(ctx, dispatcher.CreateRequest{
		SessionID:      sessionID,
		UtteranceIndex: u.UtteranceIndex,
		Languages:      model.Languages{Src: u.SrcLang, Tgt: u.TgtLang},
		Pipeline:       model.PipelineFlags{UseASR: true, UseNMT: true, UseTTS: true},
		Audio:          model.AudioPayload{Data: u.Audio, Format: u.AudioFormat, SampleRate: u.SampleRate},
		IsManualCut:    true,
	})
	observe.DefaultMetrics().RecordJobCreated(ctx, outcomeStatus(err))
	if err != nil {
		return err
	}
	return a.dispatchJob(ctx, job)
}

func (a *App) onRoomCreate(ctx context.Context, sessionID string, conn *wsproto.Conn) error {
	code := a.rooms.create(sessionID)
	return conn.WriteJSON(ctx, wsproto.RoomCreateAck{Type: wsproto.TypeRoomCreateAck, RoomCode: code})
}

func (a *App) onRoomJoin(ctx context.Context, sessionID string, conn *wsproto.Conn, env wsproto.Envelope) error {
	var join wsproto.RoomJoin
	if err := env.Decode(&join); err != nil {
		return err
	}
	others, err := a.rooms.join(sessionID, join.RoomCode)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(ctx, wsproto.RoomJoinAck{Type: wsproto.TypeRoomJoinAck, RoomCode: join.RoomCode, PeerIDs: others}); err != nil {
		return err
	}
	for _, peer := range others {
		if err := a.sendToSession(ctx, peer, wsproto.RoomPeerJoined{Type: wsproto.TypeRoomPeerJoined, PeerID: sessionID}); err != nil {
			slog.Warn("app: room_peer_joined relay failed", "peer", peer, "err", err)
		}
	}
	return nil
}

func (a *App) leaveRoom(ctx context.Context, sessionID string) {
	remaining, _, ok := a.rooms.leave(sessionID)
	if !ok {
		return
	}
	for _, peer := range remaining {
		if err := a.sendToSession(ctx, peer, wsproto.RoomPeerLeft{Type: wsproto.TypeRoomPeerLeft, PeerID: sessionID}); err != nil {
			slog.Warn("app: room_peer_left relay failed", "peer", peer, "err", err)
		}
	}
}

func outcomeStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrNoAvailableNode):
		return "no_node"
	default:
		return "error"
	}
}
