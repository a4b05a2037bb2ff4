package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

func TestRequiredServices_FromPipelineFlagsInOrder(t *testing.T) {
	got := RequiredServices(model.PipelineFlags{UseASR: true, UseTTS: true, UseNMT: true}, model.FeatureFlags{})
	require.Equal(t, []model.ServiceType{model.ServiceASR, model.ServiceNMT, model.ServiceTTS}, got)
}

func TestRequiredServices_VoiceCloningAddsTone(t *testing.T) {
	got := RequiredServices(model.PipelineFlags{UseTTS: true}, model.FeatureFlags{VoiceCloning: true})
	require.Equal(t, []model.ServiceType{model.ServiceTTS, model.ServiceTone}, got)
}

func TestRequiredServices_DeduplicatesAcrossFlagsAndFeatures(t *testing.T) {
	got := RequiredServices(
		model.PipelineFlags{UseTone: true},
		model.FeatureFlags{VoiceCloning: true},
	)
	require.Equal(t, []model.ServiceType{model.ServiceTone}, got)
}

func TestRequiredServices_ExtraFeatureFlagsAreIgnoredWithoutADependencyEntry(t *testing.T) {
	got := RequiredServices(model.PipelineFlags{UseASR: true}, model.FeatureFlags{Extra: map[string]bool{"unmapped_feature": true}})
	require.Equal(t, []model.ServiceType{model.ServiceASR}, got)
}

func TestRequiredServices_NoFlagsYieldsEmpty(t *testing.T) {
	got := RequiredServices(model.PipelineFlags{}, model.FeatureFlags{})
	require.Empty(t, got)
}
