package app

import (
	"sync"

	"github.com/MrWong99/xlatesched/internal/sched/session"
	"github.com/MrWong99/xlatesched/internal/sched/wsproto"
)

// connHub tracks every WebSocket connection this instance currently owns,
// keyed by node_id or session_id. Ownership of the key itself (which
// instance is allowed to claim it) lives in Redis via
// [routing.Runtime.AcquireNodeOwner]/AcquireSessionOwner; connHub is only
// the local half — "do I, this process, hold the socket".
type connHub struct {
	mu    sync.RWMutex
	conns map[string]*wsproto.Conn
}

func newConnHub() *connHub {
	return &connHub{conns: make(map[string]*wsproto.Conn)}
}

func (h *connHub) put(id string, c *wsproto.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = c
}

func (h *connHub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *connHub) get(id string) (*wsproto.Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *connHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// actorHub tracks the live segmentation actor for every session this
// instance owns.
type actorHub struct {
	mu     sync.RWMutex
	actors map[string]*session.Actor
}

func newActorHub() *actorHub {
	return &actorHub{actors: make(map[string]*session.Actor)}
}

func (h *actorHub) put(sessionID string, a *session.Actor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actors[sessionID] = a
}

func (h *actorHub) remove(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.actors, sessionID)
}

func (h *actorHub) get(sessionID string) (*session.Actor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.actors[sessionID]
	return a, ok
}

func (h *actorHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.actors)
}
