package pipeline

import (
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
)

// FinalScore blends the heuristic score with whichever of the scoring and
// explanation results are available. nil means the stage produced nothing.
func FinalScore(heuristic float64, ml, llm *float64) float64 {
	var score float64
	switch {
	case ml != nil && llm != nil:
		score = 0.30*heuristic + 0.50*(*ml) + 0.20*(*llm)
	case ml != nil:
		score = 0.40*heuristic + 0.60*(*ml)
	case llm != nil:
		score = 0.60*heuristic + 0.40*(*llm)
	default:
		score = heuristic
	}
	return clamp(score)
}

// Classify maps a final score onto a verdict and its parallel risk band
func Classify(score float64, t config.Thresholds) (core.Verdict, core.RiskLevel) {
	switch {
	case score < t.Allow:
		return core.VerdictAllowed, core.RiskLow
	case score < t.Warn:
		return core.VerdictWarned, core.RiskMedium
	case score < t.Quarantine:
		return core.VerdictQuarantined, core.RiskHigh
	default:
		return core.VerdictBlocked, core.RiskCritical
	}
}

// InferCategory picks the threat category from the evidence in priority order
func InferCategory(score float64, evidence []core.Evidence) core.ThreatCategory {
	var credential, generic bool
	for _, ev := range evidence {
		switch ev.Type {
		case core.EvidenceImpersonation:
			return core.CategoryBEC
		case core.EvidencePhishingKeywords, core.EvidenceURLShortener, core.EvidenceIPURL:
			credential = true
		}
		switch ev.Type.Category() {
		case "domain", "auth":
			generic = true
		}
	}

	switch {
	case credential:
		return core.CategoryCredentialPhishing
	case generic, score > 0:
		return core.CategoryPhishing
	default:
		return core.CategoryClean
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
