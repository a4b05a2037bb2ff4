package wsproto

import "github.com/MrWong99/xlatesched/internal/sched/model"

// JobToAssign converts a dispatched job into its wire job_assign message.
// AttemptID is passed separately since it's a dispatch-time concern the
// domain Job doesn't always carry up to date (see dispatcher.CreateJob).
func JobToAssign(j *model.Job, attemptID int64) JobAssign {
	var features []string
	if j.Features.VoiceCloning {
		features = append(features, "voice_cloning")
	}
	for name, on := range j.Features.Extra {
		if on {
			features = append(features, name)
		}
	}
	return JobAssign{
		Type:                   TypeJobAssign,
		JobID:                  j.JobID,
		AttemptID:              attemptID,
		SessionID:              j.SessionID,
		UtteranceIndex:         j.UtteranceIndex,
		Src:                    j.Languages.Src,
		Tgt:                    j.Languages.Tgt,
		Dialect:                j.Languages.Dialect,
		Audio:                  j.Audio.Data,
		AudioFormat:            j.Audio.Format,
		SampleRate:             j.Audio.SampleRate,
		Features:               features,
		UseASR:                 j.Pipeline.UseASR,
		UseNMT:                 j.Pipeline.UseNMT,
		UseTTS:                 j.Pipeline.UseTTS,
		UseSemantic:            j.Pipeline.UseSemantic,
		UseTone:                j.Pipeline.UseTone,
		PaddingMs:              j.PaddingMs,
		IsManualCut:            j.IsManualCut,
		IsTimeoutTriggered:     j.IsTimeoutTriggered,
		IsMaxDurationTriggered: j.IsMaxDurationTriggered,
	}
}

// NodeHardwareFromModel and its inverse convert a node's hardware summary.
func NodeHardwareFromModel(h model.Hardware) NodeHardware {
	return NodeHardware{CPU: h.Cores, Mem: h.Memory, GPUs: h.GPUs}
}

func (h NodeHardware) ToModel() model.Hardware {
	return model.Hardware{Cores: h.CPU, Memory: h.Mem, GPUs: h.GPUs}
}

// ToModel converts a wire NmtCapability to its domain form.
func (c NmtCapability) ToModel() model.NmtCapability {
	return model.NmtCapability{
		Rule:           model.NmtRuleKind(c.Rule),
		Languages:      c.Languages,
		SupportedPairs: langPairsToModel(c.SupportedPairs),
		BlockedPairs:   langPairsToModel(c.BlockedPairs),
	}
}

func langPairsToModel(pairs []LangPair) []model.LangPair {
	if pairs == nil {
		return nil
	}
	out := make([]model.LangPair, len(pairs))
	for i, p := range pairs {
		out[i] = model.LangPair{Src: p.Src, Tgt: p.Tgt}
	}
	return out
}

// ToModel converts a wire LanguageCapabilities to its domain form.
func (lc LanguageCapabilities) ToModel() model.LanguageCapabilities {
	nmt := make([]model.NmtCapability, len(lc.NMT))
	for i, c := range lc.NMT {
		nmt[i] = c.ToModel()
	}
	return model.LanguageCapabilities{
		ASRLanguages:      lc.ASRLanguages,
		TTSLanguages:      lc.TTSLanguages,
		NMT:               nmt,
		SemanticLanguages: lc.SemanticLanguages,
	}
}

// InstalledModelsToServices converts a node's wire-reported models into
// domain InstalledService records.
func InstalledModelsToServices(models []InstalledModel) []model.InstalledService {
	out := make([]model.InstalledService, len(models))
	for i, m := range models {
		out[i] = model.InstalledService{
			Type:    model.ServiceType(m.Service),
			Status:  model.ServiceStatus(m.Status),
			ModelID: m.ModelID,
		}
	}
	return out
}

// ToRegisterDecl converts a node_register message into the registry's
// RegisterDecl input. NodeID is left for the caller to fill in once a fresh
// ID is minted for an empty declaration.
func (r NodeRegister) ToRegisterDecl() (hardware model.Hardware, services []model.InstalledService, langs model.LanguageCapabilities) {
	return r.Hardware.ToModel(), InstalledModelsToServices(r.InstalledModels), r.LanguageCapabilities.ToModel()
}
