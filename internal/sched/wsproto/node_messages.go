package wsproto

// NodeHardware is the hardware summary a node declares at registration.
type NodeHardware struct {
	CPU    int   `json:"cpu"`
	Mem    int64 `json:"mem"`
	GPUs   int   `json:"gpus"`
}

// InstalledModel is one model a node reports having loaded for a service.
type InstalledModel struct {
	Service string `json:"service"`
	ModelID string `json:"model_id"`
	Status  string `json:"status"` // "running" | "loading" | "failed"
}

// NmtCapability mirrors model.NmtCapability on the wire.
type NmtCapability struct {
	Rule           string     `json:"rule"`
	Languages      []string   `json:"languages,omitempty"`
	SupportedPairs []LangPair `json:"supported_pairs,omitempty"`
	BlockedPairs   []LangPair `json:"blocked_pairs,omitempty"`
}

// LangPair is an ordered (src, tgt) pair on the wire.
type LangPair struct {
	Src string `json:"src"`
	Tgt string `json:"tgt"`
}

// LanguageCapabilities mirrors model.LanguageCapabilities on the wire.
type LanguageCapabilities struct {
	ASRLanguages      []string        `json:"asr_languages,omitempty"`
	TTSLanguages      []string        `json:"tts_languages,omitempty"`
	NMT               []NmtCapability `json:"nmt,omitempty"`
	SemanticLanguages []string        `json:"semantic_languages,omitempty"`
}

// NodeRegister is a node's opening declaration on the node socket.
type NodeRegister struct {
	Type                 string               `json:"type"`
	NodeID               string               `json:"node_id,omitempty"` // empty to request a fresh one
	Version              string               `json:"version"`
	Hardware             NodeHardware         `json:"hardware"`
	MaxConcurrentJobs    int                  `json:"max_concurrent_jobs"`
	InstalledModels      []InstalledModel     `json:"installed_models,omitempty"`
	FeaturesSupported    []string             `json:"features_supported,omitempty"`
	AcceptPublicJobs     bool                 `json:"accept_public_jobs"`
	LanguageCapabilities LanguageCapabilities `json:"language_capabilities"`
}

// NodeRegisterAck confirms registration and returns the node's canonical ID.
type NodeRegisterAck struct {
	Type   string `json:"type"`
	NodeID string `json:"node_id"`
}

// NodeResourceUsage is a node's most recently measured load, each fraction
// in [0, 1].
type NodeResourceUsage struct {
	CPU float64 `json:"cpu"`
	GPU float64 `json:"gpu"`
	Mem float64 `json:"mem"`
}

// NodeHeartbeat is a periodic liveness + load report from a node.
type NodeHeartbeat struct {
	Type             string            `json:"type"`
	NodeID           string            `json:"node_id"`
	ResourceUsage    NodeResourceUsage `json:"resource_usage"`
	InstalledModels  []InstalledModel  `json:"installed_models,omitempty"`
	CurrentJobs      int               `json:"current_jobs"`
}

// JobAssign dispatches one unit of translation work to a node.
type JobAssign struct {
	Type                   string `json:"type"`
	JobID                  string `json:"job_id"`
	AttemptID              int64  `json:"attempt_id"`
	SessionID              string `json:"session_id"`
	UtteranceIndex         int    `json:"utterance_index"`
	Src                    string `json:"src"`
	Tgt                    string `json:"tgt"`
	Dialect                string `json:"dialect,omitempty"`
	Audio                  []byte `json:"audio"`
	AudioFormat            string `json:"audio_format"`
	SampleRate             int    `json:"sample_rate,omitempty"`
	Features               []string `json:"features,omitempty"`
	UseASR                 bool   `json:"use_asr"`
	UseNMT                 bool   `json:"use_nmt"`
	UseTTS                 bool   `json:"use_tts"`
	UseSemantic            bool   `json:"use_semantic,omitempty"`
	UseTone                bool   `json:"use_tone,omitempty"`
	PaddingMs              int    `json:"padding_ms,omitempty"`
	IsManualCut            bool   `json:"is_manual_cut,omitempty"`
	IsTimeoutTriggered     bool   `json:"is_timeout_triggered,omitempty"`
	IsMaxDurationTriggered bool   `json:"is_max_duration_triggered,omitempty"`
	ContextText            string `json:"context_text,omitempty"`
	GroupID                string `json:"group_id,omitempty"`
	PartIndex              int    `json:"part_index,omitempty"`
}

// JobAck is a node's immediate acknowledgement that it accepted a job_assign
// and is about to start processing.
type JobAck struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	AttemptID int64  `json:"attempt_id"`
}

// JobStarted reports that processing has actually begun (as distinct from
// the transport-level JobAck), used to distinguish a dead node from a slow
// model.
type JobStarted struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	AttemptID int64  `json:"attempt_id"`
}

// JobResult carries the pipeline's output, or an error if Success is false.
type JobResult struct {
	Type              string `json:"type"`
	JobID             string `json:"job_id"`
	AttemptID         int64  `json:"attempt_id"`
	Success           bool   `json:"success"`
	TextASR           string `json:"text_asr,omitempty"`
	TextTranslated    string `json:"text_translated,omitempty"`
	TTSAudio          []byte `json:"tts_audio,omitempty"`
	TTSFormat         string `json:"tts_format,omitempty"`
	ProcessingTimeMs  int64  `json:"processing_time_ms,omitempty"`
	Error             string `json:"error,omitempty"`
}

// JobCancel tells a node to abandon an in-flight job, sent by the
// dispatcher after a failover decision so the losing attempt's result is
// discarded on arrival.
type JobCancel struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	AttemptID int64  `json:"attempt_id"`
}

// ModelNotAvailable is sent by a node when it receives a job_assign for a
// service/model it does not have loaded, prompting an immediate failover.
type ModelNotAvailable struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	AttemptID int64  `json:"attempt_id"`
	Service   string `json:"service"`
	ModelID   string `json:"model_id,omitempty"`
}
