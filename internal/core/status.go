package core

// CaseStatus is the lifecycle state of a case
type CaseStatus string

const (
	StatusPending     CaseStatus = "pending"
	StatusAnalyzing   CaseStatus = "analyzing"
	StatusAnalyzed    CaseStatus = "analyzed"
	StatusQuarantined CaseStatus = "quarantined"
	StatusResolved    CaseStatus = "resolved"
)

var transitions = map[CaseStatus][]CaseStatus{
	StatusPending:     {StatusAnalyzing},
	StatusAnalyzing:   {StatusAnalyzed, StatusQuarantined},
	StatusAnalyzed:    {StatusQuarantined, StatusResolved},
	StatusQuarantined: {StatusResolved},
}

// CanTransition reports whether moving from one status to another is a forward move.
// Staying in the same status is always permitted.
func (s CaseStatus) CanTransition(to CaseStatus) bool {
	if s == to {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Decided reports whether the pipeline has already produced a verdict
func (s CaseStatus) Decided() bool {
	return s == StatusAnalyzed || s == StatusQuarantined || s == StatusResolved
}
