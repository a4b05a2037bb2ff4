// Package registry implements the node registry and two-level pool selector
// described in the scheduler design: it keeps the capability graph of all
// nodes, maintains language-set pools, and selects a node per request under
// capability, language, capacity and affinity constraints.
package registry

import "github.com/MrWong99/xlatesched/internal/sched/model"

// featureServiceDeps is the declarative module dependency graph mapping an
// optional feature flag to the extra service types it requires. No service
// type is ever inferred from language alone — only from pipeline flags and
// this table.
var featureServiceDeps = map[string][]model.ServiceType{
	"voice_cloning": {model.ServiceTone},
}

// RequiredServices computes the ordered, deduplicated set of ServiceTypes a
// job needs, from its pipeline flags and any optional feature flags.
func RequiredServices(pipeline model.PipelineFlags, features model.FeatureFlags) []model.ServiceType {
	var ordered []model.ServiceType
	seen := make(map[model.ServiceType]struct{})
	add := func(s model.ServiceType) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		ordered = append(ordered, s)
	}

	if pipeline.UseASR {
		add(model.ServiceASR)
	}
	if pipeline.UseNMT {
		add(model.ServiceNMT)
	}
	if pipeline.UseTTS {
		add(model.ServiceTTS)
	}
	if pipeline.UseSemantic {
		add(model.ServiceSemantic)
	}
	if pipeline.UseTone {
		add(model.ServiceTone)
	}

	if features.VoiceCloning {
		for _, s := range featureServiceDeps["voice_cloning"] {
			add(s)
		}
	}
	for name, on := range features.Extra {
		if !on {
			continue
		}
		for _, s := range featureServiceDeps[name] {
			add(s)
		}
	}

	return ordered
}
