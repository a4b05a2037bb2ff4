package routing

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// fsmTTL extends well beyond any lease+reservation window to aid debugging
// of recently-finished jobs.
const fsmTTL = 10 * time.Minute

// FSMInit initializes jobID's FSM hash in CREATED state for attemptID.
// Returns false if the FSM is already terminal.
func (r *Runtime) FSMInit(ctx context.Context, jobID, nodeID string, attemptID int64) (bool, error) {
	return r.runFSMScript(ctx, getScripts().fsmInit, jobID, nodeID, attemptID)
}

// FSMResetCreated resets a non-terminal job's FSM to CREATED under a
// strictly greater attemptID (the failover path).
func (r *Runtime) FSMResetCreated(ctx context.Context, jobID, newNodeID string, newAttemptID int64) (bool, error) {
	return r.runFSMScript(ctx, getScripts().fsmResetCreated, jobID, newNodeID, newAttemptID)
}

func (r *Runtime) runFSMScript(ctx context.Context, script *redis.Script, jobID, nodeID string, attemptID int64) (bool, error) {
	var ok bool
	err := r.withRetry(ctx, func() error {
		res, e := script.Run(ctx, r.client,
			[]string{r.keys.jobFSM(jobID)},
			nodeID, attemptID, time.Now().UnixMilli(), int64(fsmTTL.Seconds()),
		).Int64()
		if e != nil {
			return e
		}
		ok = res == 1
		return nil
	})
	return ok, err
}

// FSMToDispatched advances jobID's FSM from CREATED to DISPATCHED iff
// attemptID matches the FSM's current attempt. Idempotent: returns true if
// already at or past DISPATCHED.
func (r *Runtime) FSMToDispatched(ctx context.Context, jobID string, attemptID int64) (bool, error) {
	return r.runAttemptGatedScript(ctx, getScripts().fsmToDispatched, jobID, attemptID)
}

// FSMToAccepted advances DISPATCHED -> ACCEPTED.
func (r *Runtime) FSMToAccepted(ctx context.Context, jobID string, attemptID int64) (bool, error) {
	return r.runAttemptGatedScript(ctx, getScripts().fsmToAccepted, jobID, attemptID)
}

// FSMToRunning advances ACCEPTED/DISPATCHED -> RUNNING.
func (r *Runtime) FSMToRunning(ctx context.Context, jobID string, attemptID int64) (bool, error) {
	return r.runAttemptGatedScript(ctx, getScripts().fsmToRunning, jobID, attemptID)
}

func (r *Runtime) runAttemptGatedScript(ctx context.Context, script *redis.Script, jobID string, attemptID int64) (bool, error) {
	var ok bool
	err := r.withRetry(ctx, func() error {
		res, e := script.Run(ctx, r.client,
			[]string{r.keys.jobFSM(jobID)},
			strconv.FormatInt(attemptID, 10), time.Now().UnixMilli(),
		).Int64()
		if e != nil {
			return e
		}
		ok = res == 1
		return nil
	})
	return ok, err
}

// FSMToFinished marks jobID FINISHED (terminal, monotone) for attemptID.
func (r *Runtime) FSMToFinished(ctx context.Context, jobID string, attemptID int64, finishedOK bool) (bool, error) {
	okArg := "0"
	if finishedOK {
		okArg = "1"
	}
	var ok bool
	err := r.withRetry(ctx, func() error {
		res, e := getScripts().fsmToFinished.Run(ctx, r.client,
			[]string{r.keys.jobFSM(jobID)},
			strconv.FormatInt(attemptID, 10), time.Now().UnixMilli(), okArg,
		).Int64()
		if e != nil {
			return e
		}
		ok = res == 1
		return nil
	})
	return ok, err
}

// FSMToReleased marks jobID RELEASED (terminal, absorbing, unconditional).
func (r *Runtime) FSMToReleased(ctx context.Context, jobID string) error {
	return r.withRetry(ctx, func() error {
		return getScripts().fsmToReleased.Run(ctx, r.client,
			[]string{r.keys.jobFSM(jobID)}, time.Now().UnixMilli(),
		).Err()
	})
}

// GetFSM reads the current FSM record for jobID. Returns nil if the key
// doesn't exist.
func (r *Runtime) GetFSM(ctx context.Context, jobID string) (*model.JobFSM, error) {
	var h map[string]string
	err := r.withRetry(ctx, func() error {
		var e error
		h, e = r.client.HGetAll(ctx, r.keys.jobFSM(jobID)).Result()
		return e
	})
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, nil
	}
	attempt, _ := strconv.ParseInt(h["attempt_id"], 10, 64)
	createdMs, _ := strconv.ParseInt(h["created_at_ms"], 10, 64)
	updatedMs, _ := strconv.ParseInt(h["updated_at_ms"], 10, 64)
	fsm := &model.JobFSM{
		JobID:     jobID,
		NodeID:    h["node_id"],
		AttemptID: attempt,
		State:     model.FSMState(h["state"]),
		CreatedAt: time.UnixMilli(createdMs),
		UpdatedAt: time.UnixMilli(updatedMs),
	}
	if v, ok := h["finished_ok"]; ok {
		b := v == "1"
		fsm.FinishedOK = &b
	}
	return fsm, nil
}
