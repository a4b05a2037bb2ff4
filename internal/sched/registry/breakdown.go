package registry

// BreakdownReason is one ranked cause a candidate node or pool was rejected
// during selection.
type BreakdownReason string

const (
	ReasonNoOnline                BreakdownReason = "no_online"
	ReasonNotReady                BreakdownReason = "not_ready"
	ReasonResourceThreshold       BreakdownReason = "resource_threshold_exceeded"
	ReasonMissingServiceType      BreakdownReason = "missing_service_type"
	ReasonUnsupportedLanguagePair BreakdownReason = "unsupported_language_pair"
	ReasonCapacityFull            BreakdownReason = "capacity_full"
	ReasonReserveDenied           BreakdownReason = "reserve_denied"
	ReasonPoolNotEligible         BreakdownReason = "pool_not_eligible"
	ReasonExcluded                BreakdownReason = "excluded"
)

// reasonRank orders reasons from most to least specific, for
// BestReasonLabel's dominant-cause tie-break: a more specific reason (e.g.
// unsupported_language_pair) is more actionable for metrics than a vague one
// (no_online), so when counts tie we prefer the more specific reason.
var reasonRank = map[BreakdownReason]int{
	ReasonUnsupportedLanguagePair: 0,
	ReasonMissingServiceType:      1,
	ReasonResourceThreshold:       2,
	ReasonCapacityFull:            3,
	ReasonReserveDenied:           4,
	ReasonExcluded:                5,
	ReasonNotReady:                6,
	ReasonPoolNotEligible:         7,
	ReasonNoOnline:                8,
}

// NoAvailableNodeBreakdown counts why each candidate was rejected during a
// failed selection, for diagnostics and metric labelling.
type NoAvailableNodeBreakdown struct {
	NoOnline                int
	NotReady                int
	ResourceThresholdExceeded int
	MissingServiceType        int
	UnsupportedLanguagePair   int
	CapacityFull              int
	ReserveDenied             int
	PoolNotEligible           int
	Excluded                  int
}

func (b *NoAvailableNodeBreakdown) add(r BreakdownReason) {
	switch r {
	case ReasonNoOnline:
		b.NoOnline++
	case ReasonNotReady:
		b.NotReady++
	case ReasonResourceThreshold:
		b.ResourceThresholdExceeded++
	case ReasonMissingServiceType:
		b.MissingServiceType++
	case ReasonUnsupportedLanguagePair:
		b.UnsupportedLanguagePair++
	case ReasonCapacityFull:
		b.CapacityFull++
	case ReasonReserveDenied:
		b.ReserveDenied++
	case ReasonPoolNotEligible:
		b.PoolNotEligible++
	case ReasonExcluded:
		b.Excluded++
	}
}

// counts returns a reason->count map for BestReasonLabel's ranking pass.
func (b *NoAvailableNodeBreakdown) counts() map[BreakdownReason]int {
	return map[BreakdownReason]int{
		ReasonNoOnline:                b.NoOnline,
		ReasonNotReady:                b.NotReady,
		ReasonResourceThreshold:       b.ResourceThresholdExceeded,
		ReasonMissingServiceType:      b.MissingServiceType,
		ReasonUnsupportedLanguagePair: b.UnsupportedLanguagePair,
		ReasonCapacityFull:            b.CapacityFull,
		ReasonReserveDenied:           b.ReserveDenied,
		ReasonPoolNotEligible:         b.PoolNotEligible,
		ReasonExcluded:                b.Excluded,
	}
}

// BestReasonLabel returns the dominant rejection reason for metrics
// labelling: highest count first, ties broken by reasonRank specificity.
func (b *NoAvailableNodeBreakdown) BestReasonLabel() string {
	best := BreakdownReason("")
	bestCount := 0
	for r, c := range b.counts() {
		if c == 0 {
			continue
		}
		if c > bestCount || (c == bestCount && reasonRank[r] < reasonRank[best]) {
			best = r
			bestCount = c
		}
	}
	if best == "" {
		return "unknown"
	}
	return string(best)
}

// PoolAttempt records one pool's eligibility and node-filter outcome during
// a two-level selection.
type PoolAttempt struct {
	PoolID       int
	PoolName     string
	Eligible     bool
	CandidateCount int
	Selected     bool
}

// Phase3TwoLevelDebug is the diagnostic record emitted by every two-level
// selection, successful or not.
type Phase3TwoLevelDebug struct {
	PreferredPoolID   int
	PreferredPoolName string
	SelectedPoolID    int
	SelectedPoolName  string
	Attempts          []PoolAttempt
	Breakdown         NoAvailableNodeBreakdown
}
