package heuristic

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mikey/phish-gateway/internal/core"
)

const (
	urgencyStep   = 0.10
	urgencyCap    = 0.30
	phishingStep  = 0.15
	phishingCap   = 0.45
	financialStep = 0.10
	financialCap  = 0.30
	capsPenalty   = 0.15
	capsRatio     = 0.30
	capsMinWords  = 10
	capsMinLength = 3
)

func (e *Engine) analyzeKeywords(email *core.Email) (float64, []core.Evidence) {
	text := normalizeText(email.Subject + " " + email.BodyText)
	var (
		score float64
		found []core.Evidence
	)

	categories := []struct {
		keywords []string
		step     float64
		limit    float64
		kind     core.EvidenceType
		sev      core.Severity
		label    string
	}{
		{urgencyKeywords, urgencyStep, urgencyCap, core.EvidenceUrgencyKeywords, core.SeverityLow, "urgency"},
		{phishingKeywords, phishingStep, phishingCap, core.EvidencePhishingKeywords, core.SeverityHigh, "credential phishing"},
		{financialKeywords, financialStep, financialCap, core.EvidenceFinancialKeywords, core.SeverityMedium, "financial"},
	}

	for _, c := range categories {
		hits := countKeywords(text, c.keywords)
		if len(hits) == 0 {
			continue
		}
		score += min(c.step*float64(len(hits)), c.limit)
		found = append(found, evidence(c.kind, c.sev,
			fmt.Sprintf("Message contains %d %s phrase(s)", len(hits), c.label),
			map[string]interface{}{"keywords": hits}))
	}

	if ratio, ok := capsAbuse(email.BodyText); ok {
		score += capsPenalty
		found = append(found, evidence(core.EvidenceCapsAbuse, core.SeverityLow,
			fmt.Sprintf("%.0f%% of body words are written in capitals", ratio*100),
			map[string]interface{}{"ratio": ratio}))
	}

	return clamp01(score), found
}

// capsAbuse reports whether more than capsRatio of the words are long all-caps tokens
func capsAbuse(body string) (float64, bool) {
	words := strings.Fields(body)
	if len(words) <= capsMinWords {
		return 0, false
	}

	caps := 0
	for _, w := range words {
		if isShouted(w) {
			caps++
		}
	}
	ratio := float64(caps) / float64(len(words))
	return ratio, ratio > capsRatio
}

func isShouted(word string) bool {
	letters := 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters >= capsMinLength
}
