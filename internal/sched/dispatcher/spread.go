package dispatcher

import (
	"sync"
	"time"
)

// spreadTracker remembers, per routing key, the most recently dispatched
// node and when — used to avoid re-dispatching the same session's very next
// utterance back onto the same node within spread_window_ms, which would
// otherwise defeat load spreading on bursty single-session traffic.
type spreadTracker struct {
	mu   sync.Mutex
	last map[string]spreadEntry
}

type spreadEntry struct {
	nodeID string
	at     time.Time
}

func newSpreadTracker() *spreadTracker {
	return &spreadTracker{last: make(map[string]spreadEntry)}
}

// recentNode returns the routing key's last-dispatched node if it was
// stamped within window, else "".
func (t *spreadTracker) recentNode(routingKey string, window time.Duration, now time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.last[routingKey]
	if !ok || now.Sub(e.at) > window {
		return ""
	}
	return e.nodeID
}

// stamp records nodeID as routingKey's most recent dispatch target.
func (t *spreadTracker) stamp(routingKey, nodeID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[routingKey] = spreadEntry{nodeID: nodeID, at: now}
}
