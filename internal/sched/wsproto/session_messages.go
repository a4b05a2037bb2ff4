package wsproto

// SessionInit is the first message a client sends on the session socket,
// declaring the translation context for everything that follows.
type SessionInit struct {
	Type        string   `json:"type"`
	SessionID   string   `json:"session_id,omitempty"` // empty to request a fresh one
	Mode        string   `json:"mode,omitempty"`        // "one_way" | "two_way_auto"
	Src         string   `json:"src,omitempty"`
	Tgt         string   `json:"tgt,omitempty"`
	Dialect     string   `json:"dialect,omitempty"`
	AutoLangs   []string `json:"auto_langs,omitempty"`
	AudioFormat string   `json:"audio_format,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	TraceID     string   `json:"trace_id,omitempty"`
}

// SessionInitAck confirms a session is live and returns its canonical ID.
type SessionInitAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Utterance carries one already-segmented utterance straight from the
// client, bypassing the session actor's own segmentation (used by clients
// that do their own VAD/cutting instead of streaming raw chunks).
type Utterance struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	UtteranceIndex int    `json:"utterance_index"`
	Audio          []byte `json:"audio"` // base64 via encoding/json's []byte handling
	AudioFormat    string `json:"audio_format"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	SrcLang        string `json:"src_lang,omitempty"`
	TgtLang        string `json:"tgt_lang,omitempty"`
	ContextText    string `json:"context_text,omitempty"`
}

// AudioChunk is one raw audio fragment of a streamed utterance, fed into
// the session actor's segmentation buffer.
type AudioChunk struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	IsFinal   bool   `json:"is_final,omitempty"`
	Payload   []byte `json:"payload,omitempty"`
	TsMs      int64  `json:"ts_ms,omitempty"`
}

// TTSPlayEnded reports that the client finished playing a TTS result group,
// used by two-way sessions to pace turn-taking.
type TTSPlayEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	GroupID   string `json:"group_id"`
	TsEndMs   int64  `json:"ts_end_ms"`
}

// ClientHeartbeat is a liveness ping from the client; carries no payload
// beyond the envelope tag and session id.
type ClientHeartbeat struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionClose requests an orderly session teardown.
type SessionClose struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionCloseAck confirms the session actor has flushed and stopped.
type SessionCloseAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RoomCreate requests a new multi-peer room, returning a human-shareable
// code in RoomCreateAck.
type RoomCreate struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RoomCreateAck returns the created room's code.
type RoomCreateAck struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
}

// RoomJoin requests joining an existing room by its code.
type RoomJoin struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RoomCode  string `json:"room_code"`
}

// RoomJoinAck confirms the join and lists peers already present.
type RoomJoinAck struct {
	Type     string   `json:"type"`
	RoomCode string   `json:"room_code"`
	PeerIDs  []string `json:"peer_ids"`
}

// RoomLeave requests leaving the current room.
type RoomLeave struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RoomPeerJoined/RoomPeerLeft are broadcast to existing room members when
// membership changes.
type RoomPeerJoined struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

type RoomPeerLeft struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// WebRTCOffer/WebRTCAnswer/WebRTCICE are opaque signaling relay messages:
// the scheduler forwards SDP/ICE payloads between room peers without
// inspecting them.
type WebRTCOffer struct {
	Type    string `json:"type"`
	ToPeer  string `json:"to_peer"`
	FromPeer string `json:"from_peer,omitempty"`
	SDP     string `json:"sdp"`
}

type WebRTCAnswer struct {
	Type     string `json:"type"`
	ToPeer   string `json:"to_peer"`
	FromPeer string `json:"from_peer,omitempty"`
	SDP      string `json:"sdp"`
}

type WebRTCICE struct {
	Type      string `json:"type"`
	ToPeer    string `json:"to_peer"`
	FromPeer  string `json:"from_peer,omitempty"`
	Candidate string `json:"candidate"`
}
