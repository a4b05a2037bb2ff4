package model

import "time"

// FSMState is one state of a job's Redis-resident finite state machine.
// States are monotone: FINISHED and RELEASED are absorbing.
type FSMState string

const (
	FSMCreated    FSMState = "CREATED"
	FSMDispatched FSMState = "DISPATCHED"
	FSMAccepted   FSMState = "ACCEPTED"
	FSMRunning    FSMState = "RUNNING"
	FSMFinished   FSMState = "FINISHED"
	FSMReleased   FSMState = "RELEASED"
)

// Terminal reports whether state admits no further transitions.
func (s FSMState) Terminal() bool {
	return s == FSMFinished || s == FSMReleased
}

// fsmOrder gives each state's position in the monotone progression, used to
// reject regressions defensively on the Go side (the authoritative gate is
// the Lua script; this mirrors it for local/mock-mode use).
var fsmOrder = map[FSMState]int{
	FSMCreated:    0,
	FSMDispatched: 1,
	FSMAccepted:   2,
	FSMRunning:    3,
	FSMFinished:   4,
	FSMReleased:   5,
}

// Before reports whether s precedes other in the monotone order.
func (s FSMState) Before(other FSMState) bool {
	return fsmOrder[s] < fsmOrder[other]
}

// JobFSM is the in-memory mirror of a job's Redis FSM hash.
type JobFSM struct {
	JobID      string
	NodeID     string
	AttemptID  int64
	State      FSMState
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedOK *bool
}
