package model

import "time"

// JobStatus is a job's coarse lifecycle status, distinct from (but driven
// by) the Redis-side FSM state in package routing.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobAssigned   JobStatus = "assigned"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// AudioPayload is a job's input audio, already segmented by the session
// actor.
type AudioPayload struct {
	Data       []byte
	Format     string
	SampleRate int
}

// Languages is a job's translation triple.
type Languages struct {
	Src     string
	Tgt     string
	Dialect string
}

// PipelineFlags selects which pipeline stages a job requires.
type PipelineFlags struct {
	UseASR      bool
	UseNMT      bool
	UseTTS      bool
	UseSemantic bool
	UseTone     bool
}

// FeatureFlags are optional feature toggles that expand into additional
// required services via the module dependency graph (see
// registry.RequiredServices).
type FeatureFlags struct {
	VoiceCloning bool
	// Extra carries any feature flags not modelled as a first-class field,
	// keyed by feature name, for forward compatibility with node-reported
	// feature sets.
	Extra map[string]bool
}

// Job is one unit of translation work dispatched to a node.
type Job struct {
	JobID           string
	RequestID       string
	SessionID       string
	UtteranceIndex  int
	Languages       Languages
	Features        FeatureFlags
	Pipeline        PipelineFlags
	Audio           AudioPayload
	PaddingMs       int
	IsManualCut     bool
	IsTimeoutTriggered     bool
	IsMaxDurationTriggered bool

	AssignedNodeID  string
	Status          JobStatus
	CreatedAt       time.Time
	DispatchedAt    time.Time
	DispatchedToNode bool

	FailoverAttempts  int
	DispatchAttemptID int64 // >= 1 once dispatched

	TenantID        string
	TraceID         string
	TargetSessionIDs []string

	FirstChunkClientTimestampMs int64
}

// RoutingKey returns the idempotency/spread routing key for this job's
// owning request: tenant_id if set, else session_id.
func (j *Job) RoutingKey() string {
	if j.TenantID != "" {
		return j.TenantID
	}
	return j.SessionID
}

// RequestBinding ties an idempotency key to at most one job and assigned
// node within a lease window.
type RequestBinding struct {
	RequestID        string
	JobID            string
	NodeID           string
	DispatchedToNode bool
	ExpireAtMs       int64
}

// Expired reports whether the binding's lease has elapsed as of nowMs.
func (b *RequestBinding) Expired(nowMs int64) bool {
	return nowMs >= b.ExpireAtMs
}
