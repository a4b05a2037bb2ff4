// Package wsproto defines the scheduler's WebSocket wire protocol: the JSON
// envelope shared by the session-facing and node-facing sockets, and a thin
// Conn wrapper for reading and writing it.
//
// Every message is a tagged JSON object: {"type": "...", ...fields}. A
// message kind that never carries a payload (e.g. session_close_ack) is
// still sent as an object with just the type tag, never a bare string, so
// the envelope shape is uniform across the whole protocol.
package wsproto

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Session WS message types.
const (
	TypeSessionInit     = "session_init"
	TypeSessionInitAck  = "session_init_ack"
	TypeUtterance       = "utterance"
	TypeAudioChunk      = "audio_chunk"
	TypeTTSPlayEnded    = "tts_play_ended"
	TypeClientHeartbeat = "client_heartbeat"
	TypeSessionClose    = "session_close"
	TypeSessionCloseAck = "session_close_ack"
	TypeRoomCreate      = "room_create"
	TypeRoomCreateAck   = "room_create_ack"
	TypeRoomJoin        = "room_join"
	TypeRoomJoinAck     = "room_join_ack"
	TypeRoomLeave       = "room_leave"
	TypeRoomPeerJoined  = "room_peer_joined"
	TypeRoomPeerLeft    = "room_peer_left"
	TypeWebRTCOffer     = "webrtc_offer"
	TypeWebRTCAnswer    = "webrtc_answer"
	TypeWebRTCICE       = "webrtc_ice"
	TypeError           = "error"
)

// Node WS message types.
const (
	TypeNodeRegister      = "node_register"
	TypeNodeRegisterAck   = "node_register_ack"
	TypeNodeHeartbeat     = "node_heartbeat"
	TypeJobAssign         = "job_assign"
	TypeJobAck            = "job_ack"
	TypeJobStarted        = "job_started"
	TypeJobResult         = "job_result"
	TypeJobCancel         = "job_cancel"
	TypeModelNotAvailable = "model_not_available"
)

// Envelope is the common wrapper every wire message is unmarshalled through
// first: Type selects which concrete struct to decode Raw into.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ErrorMessage is sent on either socket to report a wire-level error (see
// package errs for the code taxonomy). SessionID/JobID are populated when
// the error pertains to one.
type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
}

// NewErrorMessage builds an ErrorMessage with the error envelope type tag
// already set.
func NewErrorMessage(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// Conn wraps a *websocket.Conn with JSON envelope framing. Both the session
// and node transports embed it; it carries no protocol-specific knowledge.
type Conn struct {
	ws *websocket.Conn
}

// NewConn wraps an already-established WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

// WriteJSON marshals v and writes it as a single text frame.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsproto: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// WriteRaw writes an already-encoded JSON message verbatim. Used when
// relaying a message received via the routing runtime's inbox, which
// arrives pre-marshaled and shouldn't be decoded and re-encoded.
func (c *Conn) WriteRaw(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ReadEnvelope reads one text frame and decodes its type tag, leaving the
// full payload in Raw for the caller to unmarshal into the concrete type
// matching Type.
func (c *Conn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("wsproto: decode envelope: %w", err)
	}
	env.Raw = data
	return env, nil
}

// Decode unmarshals an envelope's raw payload into dst.
func (env Envelope) Decode(dst any) error {
	return json.Unmarshal(env.Raw, dst)
}

// Close closes the underlying connection with the given status and reason.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// Underlying returns the wrapped *websocket.Conn, for callers that need
// transport-level controls (e.g. SetReadLimit) not exposed here.
func (c *Conn) Underlying() *websocket.Conn { return c.ws }
