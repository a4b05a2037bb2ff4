// Package errs defines the wire-level error taxonomy shared by the registry,
// dispatcher, session actor and routing runtime.
//
// Sentinel errors here are the leaves of the taxonomy described in the
// scheduler design: each one maps 1:1 onto a code sent back to a session or
// recorded in a metric label. Callers wrap these with [fmt.Errorf] and `%w`
// for call-stack context; callers matching on cause use [errors.Is].
package errs

import "errors"

// Wire error codes, see the scheduler's external interface contract.
const (
	CodeInvalidSession    = "INVALID_SESSION"
	CodeNodeUnavailable   = "NODE_UNAVAILABLE"
	CodeNoAvailableNode   = "NO_AVAILABLE_NODE"
	CodeReserveDenied     = "RESERVE_DENIED"
	CodeModelNotAvailable = "MODEL_NOT_AVAILABLE"
	CodeJobTimeout        = "JOB_TIMEOUT"
	CodeInternal          = "INTERNAL"
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeAlreadyInRoom     = "ALREADY_IN_ROOM"
	CodeInvalidRoomCode   = "INVALID_ROOM_CODE"
)

var (
	// ErrInvalidSession is returned when a message references an unknown or
	// closed session_id.
	ErrInvalidSession = errors.New("invalid session")

	// ErrNodeUnavailable is returned when a send to a node fails and no
	// failover could be attempted.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrNoAvailableNode is returned by create_job and by failover when the
	// selector could not find an eligible node.
	ErrNoAvailableNode = errors.New("no available node")

	// ErrReserveDenied is returned when node slot reservation fails (the
	// node's capacity is exhausted by the time the atomic reserve runs).
	ErrReserveDenied = errors.New("reserve denied")

	// ErrModelNotAvailable is surfaced when a node reports a required model
	// is not loaded for a requested service.
	ErrModelNotAvailable = errors.New("model not available")

	// ErrJobTimeout is returned when a job exhausts its failover budget
	// without completing.
	ErrJobTimeout = errors.New("job timeout")

	// ErrRoomNotFound is returned by room operations referencing an unknown
	// room code.
	ErrRoomNotFound = errors.New("room not found")

	// ErrAlreadyInRoom is returned when a peer tries to join a second room
	// without leaving the first.
	ErrAlreadyInRoom = errors.New("already in room")

	// ErrInvalidRoomCode is returned for malformed room codes.
	ErrInvalidRoomCode = errors.New("invalid room code")
)

// errCode maps a sentinel error to its wire code. Unknown errors map to
// CodeInternal.
var errCode = map[error]string{
	ErrInvalidSession:    CodeInvalidSession,
	ErrNodeUnavailable:   CodeNodeUnavailable,
	ErrNoAvailableNode:   CodeNoAvailableNode,
	ErrReserveDenied:     CodeReserveDenied,
	ErrModelNotAvailable: CodeModelNotAvailable,
	ErrJobTimeout:        CodeJobTimeout,
	ErrRoomNotFound:      CodeRoomNotFound,
	ErrAlreadyInRoom:     CodeAlreadyInRoom,
	ErrInvalidRoomCode:   CodeInvalidRoomCode,
}

// WireCode returns the wire error code for err, walking the error chain with
// [errors.Is]. Returns CodeInternal if err doesn't match any known sentinel.
func WireCode(err error) string {
	if err == nil {
		return ""
	}
	for sentinel, code := range errCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}
