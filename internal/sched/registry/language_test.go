package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/model"
)

func TestSupportsPair_UsesPrecomputedCacheWhenPresent(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		SupportedLanguagePairs: []model.LangPair{{Src: "en", Tgt: "zh"}},
	}}
	require.True(t, SupportsPair(n, "en", "zh", nil))
	require.False(t, SupportsPair(n, "zh", "en", nil))
}

func TestSupportsPair_CacheAutoMatchesByTargetOnly(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		SupportedLanguagePairs: []model.LangPair{{Src: "en", Tgt: "zh"}},
	}}
	require.True(t, SupportsPair(n, "auto", "zh", nil))
	require.False(t, SupportsPair(n, "auto", "en", nil))
}

func TestSupportsPair_DerivedFromAnyToAnyRule(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		NMT: []model.NmtCapability{{Rule: model.NmtAnyToAny, Languages: []string{"en", "zh", "de"}}},
	}}
	require.True(t, SupportsPair(n, "en", "zh", []model.ServiceType{model.ServiceNMT}))
	require.False(t, SupportsPair(n, "en", "fr", []model.ServiceType{model.ServiceNMT}))
}

func TestSupportsPair_AnyToEnRule(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		NMT: []model.NmtCapability{{Rule: model.NmtAnyToEn, Languages: []string{"de", "fr"}}},
	}}
	require.True(t, SupportsPair(n, "de", "en", []model.ServiceType{model.ServiceNMT}))
	require.False(t, SupportsPair(n, "en", "de", []model.ServiceType{model.ServiceNMT}))
}

func TestSupportsPair_EnToAnyRule(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		NMT: []model.NmtCapability{{Rule: model.NmtEnToAny, Languages: []string{"de", "fr"}}},
	}}
	require.True(t, SupportsPair(n, "en", "de", []model.ServiceType{model.ServiceNMT}))
	require.False(t, SupportsPair(n, "de", "en", []model.ServiceType{model.ServiceNMT}))
}

func TestSupportsPair_SpecificPairsRule(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		NMT: []model.NmtCapability{{Rule: model.NmtSpecificPairs, SupportedPairs: []model.LangPair{{Src: "ja", Tgt: "ko"}}}},
	}}
	require.True(t, SupportsPair(n, "ja", "ko", []model.ServiceType{model.ServiceNMT}))
	require.False(t, SupportsPair(n, "ko", "ja", []model.ServiceType{model.ServiceNMT}))
}

func TestSupportsPair_BlockedPairOverridesRule(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		NMT: []model.NmtCapability{{
			Rule:         model.NmtAnyToAny,
			Languages:    []string{"en", "zh"},
			BlockedPairs: []model.LangPair{{Src: "en", Tgt: "zh"}},
		}},
	}}
	require.False(t, SupportsPair(n, "en", "zh", []model.ServiceType{model.ServiceNMT}))
	require.True(t, SupportsPair(n, "zh", "en", []model.ServiceType{model.ServiceNMT}))
}

func TestSupportsPair_RequiresASRAndTTSCoverage(t *testing.T) {
	n := &model.Node{Languages: model.LanguageCapabilities{
		NMT:          []model.NmtCapability{{Rule: model.NmtAnyToAny, Languages: []string{"en", "zh"}}},
		ASRLanguages: []string{"en"},
		TTSLanguages: []string{"zh"},
	}}
	required := []model.ServiceType{model.ServiceASR, model.ServiceNMT, model.ServiceTTS}
	require.True(t, SupportsPair(n, "en", "zh", required))
	require.False(t, SupportsPair(n, "zh", "en", required), "ASR has no zh coverage")
}

func TestRequiredLanguageSet(t *testing.T) {
	require.Equal(t, model.LanguageSet("en-zh"), RequiredLanguageSet("zh", "en", nil))
	require.Equal(t, model.LanguageSet("de-en-zh"), RequiredLanguageSet("zh", "en", []string{"de"}))
	require.Equal(t, model.LanguageSet("en"), RequiredLanguageSet("auto", "en", nil))
}
