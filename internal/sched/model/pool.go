package model

import (
	"sort"
	"strings"
)

// LanguageSet is a canonical, sorted, deduplicated set of language codes. It
// implements value equality via == after construction through
// [NewLanguageSet], so two sets built from the same elements (regardless of
// input order or duplicates) compare equal as strings.
type LanguageSet string

// NewLanguageSet builds the canonical sorted-set string for langs, e.g.
// {"zh", "en", "en"} -> "en-zh". Empty or blank entries are dropped.
func NewLanguageSet(langs []string) LanguageSet {
	seen := make(map[string]struct{}, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return LanguageSet(strings.Join(out, "-"))
}

// Members splits the canonical set back into its language codes.
func (s LanguageSet) Members() []string {
	if s == "" {
		return nil
	}
	return strings.Split(string(s), "-")
}

// PoolMatchScope controls how strictly a pool's required_services must
// cover a request's required service types.
type PoolMatchScope string

const (
	ScopeAllRequired PoolMatchScope = "all_required"
	ScopeCoreOnly    PoolMatchScope = "core_only"
)

// PoolMatchMode controls set comparison between required types and a pool's
// declared services.
type PoolMatchMode string

const (
	MatchExact    PoolMatchMode = "exact"
	MatchContains PoolMatchMode = "contains"
)

// Pool is a bucket of nodes sharing one canonical language set.
type Pool struct {
	ID               int
	Name             string // == string(Languages)
	Languages        LanguageSet
	RequiredServices []ServiceType
	Mixed            bool // true for auto-source "*-<tgt>" pools
	MixedTarget      string
}

// CoreServices is the minimum required_services set every auto-generated
// pool carries.
var CoreServices = []ServiceType{ServiceASR, ServiceNMT, ServiceTTS}

// coversRequired reports whether the pool's declared services satisfy
// required under the given scope/mode combination.
func (p *Pool) coversRequired(required []ServiceType, scope PoolMatchScope, mode PoolMatchMode) bool {
	want := required
	if scope == ScopeCoreOnly {
		want = intersectCore(required)
	}
	have := serviceSet(p.RequiredServices)
	switch mode {
	case MatchExact:
		if len(want) != len(have) {
			return false
		}
		for _, w := range want {
			if _, ok := have[w]; !ok {
				return false
			}
		}
		return true
	default: // MatchContains
		for _, w := range want {
			if _, ok := have[w]; !ok {
				return false
			}
		}
		return true
	}
}

func intersectCore(required []ServiceType) []ServiceType {
	coreSet := serviceSet(CoreServices)
	out := make([]ServiceType, 0, len(required))
	for _, r := range required {
		if _, ok := coreSet[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

func serviceSet(svcs []ServiceType) map[ServiceType]struct{} {
	m := make(map[ServiceType]struct{}, len(svcs))
	for _, s := range svcs {
		m[s] = struct{}{}
	}
	return m
}

// Eligible reports whether the pool is eligible for a request requiring
// `required`, per spec §4.1 step 2.
func (p *Pool) Eligible(required []ServiceType, scope PoolMatchScope, mode PoolMatchMode) bool {
	return p.coversRequired(required, scope, mode)
}
