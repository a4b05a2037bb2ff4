package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/xlatesched/internal/sched/dispatcher"
	"github.com/MrWong99/xlatesched/internal/sched/model"
)

// JobCreator produces and dispatches a job from a finalized utterance. The
// real implementation (package app) wraps *dispatcher.Dispatcher.CreateJob
// with the job_assign send + MarkDispatched that actually puts the job in
// front of its assigned node.
type JobCreator interface {
	CreateJob(ctx context.Context, req dispatcher.CreateRequest) (*model.Job, error)
}

// AffinityStore is the subset of *routing.Runtime the actor needs for
// MaxDuration session affinity.
type AffinityStore interface {
	SetMaxDurationNode(ctx context.Context, sessionID, nodeID string) error
	GetMaxDurationNode(ctx context.Context, sessionID string) (string, error)
	ClearMaxDurationNode(ctx context.Context, sessionID string) error
}

// sessionState is the actor's mutable state, touched only from the run
// goroutine.
type sessionState struct {
	currentUtteranceIndex int
	finalizeInflight      bool

	lastChunkTimestampMs    int64
	hasLastChunkTimestampMs bool

	firstChunkClientTimestampMs    int64
	hasFirstChunkClientTimestampMs bool

	timerGeneration uint64

	// Short-merge bookkeeping: reset on every successful finalize. No
	// merge trigger is modelled yet, only the reset.
	pendingShortAudio               bool
	accumulatedShortAudioDurationMs int64
}

// Actor is one session's single-writer audio segmentation goroutine.
type Actor struct {
	cfg       Config
	sessionID string
	defaults  model.Session

	jobs     JobCreator
	affinity AffinityStore

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	st      sessionState
	buffers map[int]*utteranceBuffer

	pauseTimer *time.Timer
}

// New starts an Actor for the given session and begins its run loop
// immediately. defaults supplies the pipeline/feature flags and tenant/trace
// context carried onto every job this session produces.
func New(cfg Config, defaults model.Session, jobs JobCreator, affinity AffinityStore) *Actor {
	a := &Actor{
		cfg:       cfg,
		sessionID: defaults.SessionID,
		defaults:  defaults,
		jobs:      jobs,
		affinity:  affinity,
		events:    make(chan Event, cfg.MaxPendingEvents),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		buffers:   make(map[int]*utteranceBuffer),
	}
	go a.run()
	return a
}

// Send delivers ev to the actor. AudioChunkReceived is dropped (not
// delivered) if the event queue is full; every other event is delivered
// even if that means blocking until the actor consumes one slot or is
// closed.
func (a *Actor) Send(ev Event) {
	if _, isChunk := ev.(AudioChunkReceived); isChunk {
		select {
		case a.events <- ev:
		default:
			slog.Warn("session: dropping audio chunk, backpressure", "session_id", a.sessionID)
		}
		return
	}
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// Close stops the actor after it flushes a final finalize. Idempotent; safe
// to call more than once or concurrently with Send.
func (a *Actor) Close() {
	a.closeOnce.Do(func() {
		select {
		case a.events <- CloseSession{}:
		case <-a.done:
			return
		}
		close(a.done)
	})
	<-a.stopped
}

func (a *Actor) run() {
	defer close(a.stopped)
	for ev := range a.events {
		if a.handle(ev) {
			return
		}
	}
}

// handle processes one event on the actor goroutine. It returns true once
// the actor has fully torn down and should exit its run loop.
func (a *Actor) handle(ev Event) bool {
	switch e := ev.(type) {
	case AudioChunkReceived:
		a.onAudioChunk(e)
	case PauseExceeded:
		a.onTimerFired(e.Generation, e.TsMs, ReasonAuto)
	case TimeoutFired:
		a.onTimerFired(e.Generation, e.TsMs, ReasonAuto)
	case IsFinalReceived:
		a.triggerFinalize(ReasonManual)
	case CancelTimers:
		a.cancelPauseTimer()
	case ResetTimers:
		a.cancelPauseTimer()
		if a.st.hasLastChunkTimestampMs {
			a.armPauseTimer(a.st.lastChunkTimestampMs)
		}
	case UpdateUtteranceIndex:
		a.st.currentUtteranceIndex = e.Idx
	case finalizeComplete:
		a.onFinalizeComplete(e)
	case CloseSession:
		a.onClose()
		return true
	}
	return false
}

// targetIndex returns the utterance index new chunks append to: the
// in-flight finalize's index + 1 if a finalize is underway, else the
// current index. This is the ordering invariant from spec §4.3 — append
// first, evaluate policy second, and never append into an index that is
// already being finalized.
func (a *Actor) targetIndex() int {
	if a.st.finalizeInflight {
		return a.st.currentUtteranceIndex + 1
	}
	return a.st.currentUtteranceIndex
}

func (a *Actor) bufferFor(idx int) *utteranceBuffer {
	b, ok := a.buffers[idx]
	if !ok {
		b = &utteranceBuffer{}
		a.buffers[idx] = b
	}
	return b
}

func (a *Actor) onAudioChunk(e AudioChunkReceived) {
	idx := a.targetIndex()
	b := a.bufferFor(idx)
	b.append(e.Chunk, e.TsMs)

	a.st.lastChunkTimestampMs = e.TsMs
	a.st.hasLastChunkTimestampMs = true
	if e.HasClientTs && !a.st.hasFirstChunkClientTimestampMs {
		a.st.firstChunkClientTimestampMs = e.ClientTsMs
		a.st.hasFirstChunkClientTimestampMs = true
	}

	a.cancelPauseTimer()
	a.armPauseTimer(e.TsMs)

	// Chunk-then-policy: the append above already landed before any of
	// this evaluation runs.
	switch {
	case b.len() >= a.cfg.ExceptionBufferBytes:
		a.triggerFinalize(ReasonException)
	case e.IsFinal:
		a.triggerFinalize(ReasonManual)
	case a.cfg.MaxDurationMs > 0 && b.durationMs() >= a.cfg.MaxDurationMs:
		a.triggerFinalize(ReasonMaxDuration)
	}
}

func (a *Actor) armPauseTimer(tsMs int64) {
	if a.cfg.PauseMs <= 0 {
		return
	}
	a.st.timerGeneration++
	gen := a.st.timerGeneration
	d := time.Duration(a.cfg.PauseMs) * time.Millisecond
	a.pauseTimer = time.AfterFunc(d, func() {
		a.Send(PauseExceeded{Generation: gen, TsMs: tsMs})
	})
}

func (a *Actor) cancelPauseTimer() {
	if a.pauseTimer != nil {
		a.pauseTimer.Stop()
		a.pauseTimer = nil
	}
	a.st.timerGeneration++
}

// onTimerFired validates a timer-expiry event's fencing token before acting
// on it: the generation must still be current, and the audio buffer's
// last-chunk timestamp must still equal the value expected when the timer
// was armed. Otherwise a newer chunk arrived in the interim and the timer
// is stale.
func (a *Actor) onTimerFired(generation uint64, tsMs int64, reason FinalizeReason) {
	if generation != a.st.timerGeneration {
		return
	}
	if !a.st.hasLastChunkTimestampMs || a.st.lastChunkTimestampMs != tsMs {
		return
	}
	a.triggerFinalize(reason)
}

// triggerFinalize starts a finalize for the current utterance if one is not
// already in flight. Subsequent chunks accumulate into the next index while
// this finalize runs.
func (a *Actor) triggerFinalize(reason FinalizeReason) {
	if a.st.finalizeInflight {
		return
	}
	idx := a.st.currentUtteranceIndex
	b, ok := a.buffers[idx]
	if !ok || b.len() == 0 {
		slog.Debug("session: empty finalize skipped", "session_id", a.sessionID, "utterance_index", idx, "reason", reason.String())
		return
	}

	a.st.finalizeInflight = true
	audio := b.take()
	delete(a.buffers, idx)
	// currentUtteranceIndex is only advanced once the finalize completes
	// (onFinalizeComplete) — until then targetIndex() routes new chunks to
	// idx+1 via the finalizeInflight branch, and bumping early here would
	// make that the same key chunks keep landing in, avoiding orphaned
	// buffers.

	a.st.pendingShortAudio = false
	a.st.accumulatedShortAudioDurationMs = 0

	hangover, padding := a.edgeStabilization(reason)
	clientTsMs := a.st.firstChunkClientTimestampMs
	hasClientTs := a.st.hasFirstChunkClientTimestampMs
	a.st.hasFirstChunkClientTimestampMs = false

	go a.executeFinalize(idx, audio, reason, hangover, padding, clientTsMs, hasClientTs)
}

func (a *Actor) edgeStabilization(reason FinalizeReason) (hangover time.Duration, paddingMs int) {
	switch reason {
	case ReasonManual:
		return a.cfg.HangoverManualMs, a.cfg.PaddingManualMs
	case ReasonAuto:
		return a.cfg.HangoverAutoMs, a.cfg.PaddingAutoMs
	default: // MaxDuration, Exception: no stabilization delay
		return 0, 0
	}
}

// executeFinalize runs off the actor goroutine: it waits out the hangover
// delay, resolves MaxDuration session affinity, creates the job, and
// reports completion back to the actor via finalizeComplete.
func (a *Actor) executeFinalize(idx int, audio []byte, reason FinalizeReason, hangover time.Duration, paddingMs int, clientTsMs int64, hasClientTs bool) {
	if hangover > 0 {
		time.Sleep(hangover)
	}
	ctx := context.Background()

	// Manual and Auto finalizes end the current burst: clear any sticky
	// MaxDuration node mapping before creating their jobs so the next
	// utterance is free to reassign. MaxDuration itself uses the mapping;
	// Exception behaves like a hard cut and also clears it.
	clearsAffinity := reason != ReasonMaxDuration
	if clearsAffinity && a.affinity != nil {
		if err := a.affinity.ClearMaxDurationNode(ctx, a.sessionID); err != nil {
			slog.Warn("session: clear max-duration affinity failed", "session_id", a.sessionID, "err", err)
		}
	}

	var preferredNodeID string
	if reason == ReasonMaxDuration && a.affinity != nil {
		if nodeID, err := a.affinity.GetMaxDurationNode(ctx, a.sessionID); err != nil {
			slog.Warn("session: read max-duration affinity failed", "session_id", a.sessionID, "err", err)
		} else {
			preferredNodeID = nodeID
		}
	}

	req := dispatcher.CreateRequest{
		SessionID:              a.sessionID,
		UtteranceIndex:         idx,
		Languages:              model.Languages{Src: a.defaults.Src, Tgt: a.defaults.Tgt, Dialect: a.defaults.Dialect},
		Features:               a.defaults.DefaultFeatures,
		Pipeline:               a.defaults.DefaultPipeline,
		Audio:                  model.AudioPayload{Data: audio, Format: a.defaults.AudioFormat},
		PaddingMs:              paddingMs,
		IsManualCut:            reason == ReasonManual,
		IsTimeoutTriggered:     reason == ReasonAuto,
		IsMaxDurationTriggered: reason == ReasonMaxDuration,
		TenantID:               a.defaults.TenantID,
		TraceID:                a.defaults.TraceID,
		PreferredNodeID:        preferredNodeID,
	}
	if hasClientTs {
		req.FirstChunkClientTimestampMs = clientTsMs
	}
	job, err := a.jobs.CreateJob(ctx, req)
	if err != nil {
		slog.Error("session: finalize job creation failed", "session_id", a.sessionID, "utterance_index", idx, "reason", reason.String(), "err", err)
		a.Send(finalizeComplete{utteranceIndex: idx, reason: reason, err: err})
		return
	}

	if reason == ReasonMaxDuration && a.affinity != nil && job.AssignedNodeID != "" && preferredNodeID == "" {
		if err := a.affinity.SetMaxDurationNode(ctx, a.sessionID, job.AssignedNodeID); err != nil {
			slog.Warn("session: set max-duration affinity failed", "session_id", a.sessionID, "err", err)
		}
	}
	if clearsAffinity && a.affinity != nil {
		if err := a.affinity.ClearMaxDurationNode(ctx, a.sessionID); err != nil {
			slog.Warn("session: best-effort clear max-duration affinity failed", "session_id", a.sessionID, "err", err)
		}
	}

	a.Send(finalizeComplete{utteranceIndex: idx, reason: reason})
}

func (a *Actor) onFinalizeComplete(e finalizeComplete) {
	a.st.finalizeInflight = false
	if a.st.currentUtteranceIndex == e.utteranceIndex {
		a.st.currentUtteranceIndex = e.utteranceIndex + 1
	}
}

// onClose flushes a final finalize (no-op if the current utterance's
// buffer is empty), cancels timers, and clears all buffered state.
func (a *Actor) onClose() {
	a.cancelPauseTimer()
	a.triggerFinalize(ReasonManual)
	a.buffers = nil
	if a.affinity != nil {
		if err := a.affinity.ClearMaxDurationNode(context.Background(), a.sessionID); err != nil {
			slog.Warn("session: clear max-duration affinity on close failed", "session_id", a.sessionID, "err", err)
		}
	}
}
