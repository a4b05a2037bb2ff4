package app

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/xlatesched/internal/sched/errs"
)

// room is a small multi-peer group used for WebRTC signaling relay. Room
// membership is kept in memory per-instance; cross-instance peers are
// reached through the routing runtime's session ownership + inbox relay, so
// no Redis-side room state is needed.
type room struct {
	code  string
	peers map[string]struct{}
}

// roomManager tracks every room this instance knows about. A session (peer)
// belongs to at most one room at a time.
type roomManager struct {
	mu       sync.Mutex
	rooms    map[string]*room
	peerRoom map[string]string // session_id -> room code
}

func newRoomManager() *roomManager {
	return &roomManager{
		rooms:    make(map[string]*room),
		peerRoom: make(map[string]string),
	}
}

// newRoomCode mints a short, human-typeable room code.
func newRoomCode() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

// create starts a new room with sessionID as its first peer.
func (m *roomManager) create(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := newRoomCode()
	m.rooms[code] = &room{code: code, peers: map[string]struct{}{sessionID: {}}}
	m.peerRoom[sessionID] = code
	return code
}

// join adds sessionID to an existing room, returning the other peers
// already present. Fails if sessionID is already in a room, or code is
// unknown.
func (m *roomManager) join(sessionID, code string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, in := m.peerRoom[sessionID]; in {
		return nil, errs.ErrAlreadyInRoom
	}
	r, ok := m.rooms[code]
	if !ok {
		return nil, errs.ErrRoomNotFound
	}
	others := make([]string, 0, len(r.peers))
	for p := range r.peers {
		others = append(others, p)
	}
	r.peers[sessionID] = struct{}{}
	m.peerRoom[sessionID] = code
	return others, nil
}

// leave removes sessionID from its room, returning the remaining peers and
// the room code it left. Returns ok=false if sessionID was in no room.
func (m *roomManager) leave(sessionID string) (remaining []string, code string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, in := m.peerRoom[sessionID]
	if !in {
		return nil, "", false
	}
	delete(m.peerRoom, sessionID)
	r, ok := m.rooms[code]
	if !ok {
		return nil, code, true
	}
	delete(r.peers, sessionID)
	for p := range r.peers {
		remaining = append(remaining, p)
	}
	if len(r.peers) == 0 {
		delete(m.rooms, code)
	}
	return remaining, code, true
}
