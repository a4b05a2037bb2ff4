package registry

import "github.com/MrWong99/xlatesched/internal/sched/model"

// SupportsPair reports whether node supports translating src->tgt, using the
// node's precomputed SupportedLanguagePairs cache if present, else deriving
// support from its NMT rules intersected with ASR/TTS/semantic languages.
func SupportsPair(n *model.Node, src, tgt string, required []model.ServiceType) bool {
	if len(n.Languages.SupportedLanguagePairs) > 0 {
		for _, p := range n.Languages.SupportedLanguagePairs {
			if matchesPair(p, src, tgt) {
				return true
			}
		}
		return false
	}
	return derivedSupport(n, src, tgt, required)
}

func matchesPair(p model.LangPair, src, tgt string) bool {
	if src == "auto" {
		return p.Tgt == tgt
	}
	return p.Src == src && p.Tgt == tgt
}

// derivedSupport checks NMT-rule coverage for (src, tgt), then intersects
// with the ASR/TTS/semantic language requirements implied by `required`.
func derivedSupport(n *model.Node, src, tgt string, required []model.ServiceType) bool {
	if needs(required, model.ServiceNMT) && !nmtCovers(n.Languages.NMT, src, tgt) {
		return false
	}
	if needs(required, model.ServiceASR) && src != "auto" && !contains(n.Languages.ASRLanguages, src) {
		return false
	}
	if needs(required, model.ServiceTTS) && !contains(n.Languages.TTSLanguages, tgt) {
		return false
	}
	if needs(required, model.ServiceSemantic) {
		if src != "auto" && !contains(n.Languages.SemanticLanguages, src) {
			return false
		}
		if !contains(n.Languages.SemanticLanguages, tgt) {
			return false
		}
	}
	return true
}

func needs(required []model.ServiceType, svc model.ServiceType) bool {
	for _, r := range required {
		if r == svc {
			return true
		}
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// nmtCovers reports whether any of a node's NMT capabilities covers src->tgt.
func nmtCovers(caps []model.NmtCapability, src, tgt string) bool {
	for _, c := range caps {
		if capBlocks(c, src, tgt) {
			continue
		}
		switch c.Rule {
		case model.NmtAnyToAny:
			if (src == "auto" || contains(c.Languages, src)) && contains(c.Languages, tgt) {
				return true
			}
		case model.NmtAnyToEn:
			if tgt == "en" && (src == "auto" || contains(c.Languages, src)) {
				return true
			}
		case model.NmtEnToAny:
			if (src == "auto" || src == "en") && contains(c.Languages, tgt) {
				return true
			}
		case model.NmtSpecificPairs:
			for _, p := range c.SupportedPairs {
				if matchesPair(p, src, tgt) {
					return true
				}
			}
		}
	}
	return false
}

func capBlocks(c model.NmtCapability, src, tgt string) bool {
	for _, p := range c.BlockedPairs {
		if (p.Src == src || src == "auto") && p.Tgt == tgt {
			return true
		}
	}
	return false
}

// RequiredLanguageSet derives the canonical language set a request needs,
// from (src, tgt) plus a node's semantic_languages, for auto-pool matching.
func RequiredLanguageSet(src, tgt string, semanticLanguages []string) model.LanguageSet {
	set := make([]string, 0, len(semanticLanguages)+2)
	set = append(set, semanticLanguages...)
	if src != "auto" {
		set = append(set, src)
	}
	set = append(set, tgt)
	return model.NewLanguageSet(set)
}
