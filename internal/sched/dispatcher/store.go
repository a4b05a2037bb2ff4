// Package dispatcher creates jobs with idempotent request bindings, reserves
// node slots, drives the job FSM, and scans for pending/dispatched timeouts
// with bounded failover. It is the one component that touches both the
// registry (node selection, local capacity mirror) and the routing runtime
// (distributed binding, reservation, FSM, locks).
package dispatcher

import (
	"sync"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// Store holds this instance's in-memory view of jobs it has created or is
// tracking for timeout scanning. It mirrors (but does not replace) the
// Redis-resident FSM and binding, which remain authoritative across
// instances.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*model.Job)}
}

// Put inserts or replaces a job record.
func (s *Store) Put(j *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.JobID] = j
}

// Get returns a copy of jobID's record, or nil if unknown.
func (s *Store) Get(jobID string) *model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

// Delete removes jobID, e.g. once terminal and released.
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// Update applies fn to jobID's record under the write lock and returns the
// updated copy. Returns nil if jobID is unknown.
func (s *Store) Update(jobID string, fn func(*model.Job)) *model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	fn(j)
	cp := *j
	return &cp
}

// NonTerminal returns a snapshot of every job not yet in a terminal status,
// for the timeout scanner to walk.
func (s *Store) NonTerminal() []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out
}
