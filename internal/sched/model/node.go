// Package model defines the scheduler's core domain types: nodes, pools,
// jobs, sessions and their supporting records. These are the in-process
// representations used by the registry, dispatcher and session actor; they
// are distinct from the wire payloads in package wsproto.
package model

import "time"

// ServiceType tags one pipeline stage a node can run.
type ServiceType string

const (
	ServiceASR      ServiceType = "asr"
	ServiceNMT      ServiceType = "nmt"
	ServiceTTS      ServiceType = "tts"
	ServiceSemantic ServiceType = "semantic"
	ServiceTone     ServiceType = "tone"
)

// ServiceStatus is the readiness of one installed service on a node.
type ServiceStatus string

const (
	ServiceRunning ServiceStatus = "running"
	ServiceLoading ServiceStatus = "loading"
	ServiceFailed  ServiceStatus = "failed"
)

// InstalledService is one pipeline-stage implementation a node has loaded.
type InstalledService struct {
	Type    ServiceType
	Status  ServiceStatus
	ModelID string
}

// NmtRuleKind is the shape of an NMT capability's supported-pair rule.
type NmtRuleKind string

const (
	NmtAnyToAny      NmtRuleKind = "any_to_any"
	NmtAnyToEn       NmtRuleKind = "any_to_en"
	NmtEnToAny       NmtRuleKind = "en_to_any"
	NmtSpecificPairs NmtRuleKind = "specific_pairs"
)

// LangPair is an ordered (src, tgt) language pair.
type LangPair struct {
	Src string
	Tgt string
}

// NmtCapability describes one NMT engine a node hosts and which pairs it
// covers. Exactly one of the rule-specific fields is meaningful per Rule.
type NmtCapability struct {
	Rule           NmtRuleKind
	Languages      []string   // the set this rule quantifies over (e.g. any_to_any's universe)
	SupportedPairs []LangPair // only meaningful when Rule == NmtSpecificPairs
	BlockedPairs   []LangPair
}

// LanguageCapabilities is a node's declared language coverage across all
// pipeline stages.
type LanguageCapabilities struct {
	ASRLanguages          []string
	TTSLanguages          []string
	NMT                   []NmtCapability
	SemanticLanguages     []string
	SupportedLanguagePairs []LangPair // optional precomputed cache
}

// Status is a node's coarse lifecycle state.
type Status string

const (
	StatusRegistering Status = "registering"
	StatusReady       Status = "ready"
	StatusDegraded    Status = "degraded"
	StatusOffline     Status = "offline"
)

// Hardware is the hardware summary a node declares at registration.
type Hardware struct {
	Cores  int
	Memory int64 // bytes
	GPUs   int
}

// ResourceUsage is a node's most recently reported load fractions, each in
// [0, 1].
type ResourceUsage struct {
	CPU float64
	GPU float64
	Mem float64
}

// Exceeds reports whether any fraction is at or above threshold.
func (r ResourceUsage) Exceeds(threshold float64) bool {
	return r.CPU >= threshold || r.GPU >= threshold || r.Mem >= threshold
}

// Node is a registered worker process.
type Node struct {
	NodeID            string
	Hardware          Hardware
	Status            Status
	Online            bool
	Usage             ResourceUsage
	CurrentJobs       int
	MaxConcurrentJobs int
	LastHeartbeat     time.Time
	Services          []InstalledService
	Languages         LanguageCapabilities
	AcceptPublicJobs  bool

	// RegisteredAt records when the node first registered; used by the
	// warmup/health-check promotion logic.
	RegisteredAt time.Time

	// ConsecutiveHealthyHeartbeats counts successive heartbeats received
	// while in Registering state, for the health_check_count promotion rule.
	ConsecutiveHealthyHeartbeats int
}

// HasService reports whether the node has svc installed and Running.
func (n *Node) HasService(svc ServiceType) bool {
	for _, s := range n.Services {
		if s.Type == svc && s.Status == ServiceRunning {
			return true
		}
	}
	return false
}

// HasAllServices reports whether every required service type is installed
// and Running on the node.
func (n *Node) HasAllServices(required []ServiceType) bool {
	for _, svc := range required {
		if !n.HasService(svc) {
			return false
		}
	}
	return true
}

// Available reports the node-level selectability invariant from the spec:
// online, Ready, under the resource threshold, and with spare capacity once
// reserved slots are accounted for.
func (n *Node) Available(resourceThreshold float64, reserved int) bool {
	if !n.Online || n.Status != StatusReady {
		return false
	}
	if n.Usage.Exceeds(resourceThreshold) {
		return false
	}
	return n.CurrentJobs+reserved < n.MaxConcurrentJobs
}
