package heuristic

import (
	"fmt"

	"github.com/mikey/phish-gateway/internal/core"
)

// authWeights grades each mechanism by outcome. DMARC fail > SPF fail > DKIM fail > softfail > neutral.
var authWeights = map[string]map[string]float64{
	"spf": {
		"fail": 0.25, "hardfail": 0.25, "softfail": 0.12, "neutral": 0.06,
		"none": 0.04, "temperror": 0.03, "permerror": 0.08,
	},
	"dkim": {
		"fail": 0.20, "hardfail": 0.20, "softfail": 0.12, "neutral": 0.06,
		"none": 0.04, "temperror": 0.03, "permerror": 0.08, "policy": 0.06,
	},
	"dmarc": {
		"fail": 0.35, "hardfail": 0.35, "softfail": 0.12, "neutral": 0.06,
		"none": 0.04, "temperror": 0.03, "permerror": 0.08,
	},
}

var authEvidenceTypes = map[string]core.EvidenceType{
	"spf":   core.EvidenceSPF,
	"dkim":  core.EvidenceDKIM,
	"dmarc": core.EvidenceDMARC,
}

const (
	compoundTwoBonus   = 0.15
	compoundThreeBonus = 0.30
	replyToMismatch    = 0.20
	brandAuthFactor    = 1.25
)

func isAuthFailure(result string) bool {
	return result == "fail" || result == "hardfail"
}

func (e *Engine) analyzeAuth(email *core.Email, brandRelated bool) (float64, []core.Evidence) {
	var (
		score    float64
		failures int
		found    []core.Evidence
	)

	for _, mech := range []string{"dmarc", "spf", "dkim"} {
		result := email.Auth(mech)
		w := authWeights[mech][result]
		if w == 0 {
			continue
		}
		score += w
		sev := core.SeverityLow
		if isAuthFailure(result) {
			failures++
			sev = core.SeverityHigh
		}
		found = append(found, evidence(authEvidenceTypes[mech], sev,
			fmt.Sprintf("%s result is %s", mech, result),
			map[string]interface{}{"mechanism": mech, "result": result}))
	}

	switch {
	case failures >= 3:
		score += compoundThreeBonus
	case failures == 2:
		score += compoundTwoBonus
	}
	if failures >= 2 {
		found = append(found, evidence(core.EvidenceCompoundAuthFailure, core.SeverityHigh,
			fmt.Sprintf("%d of 3 authentication mechanisms failed", failures),
			map[string]interface{}{"failures": failures}))
	}

	if rt := email.ReplyToDomain(); rt != "" && rt != email.SenderDomain() {
		score += replyToMismatch
		found = append(found, evidence(core.EvidenceReplyToMismatch, core.SeverityMedium,
			fmt.Sprintf("Reply-To domain %s differs from sender domain %s", rt, email.SenderDomain()),
			map[string]interface{}{"reply_to_domain": rt, "sender_domain": email.SenderDomain()}))
	}

	if brandRelated && score > 0 {
		score *= brandAuthFactor
		found = append(found, evidence(core.EvidenceBrandAuthFailure, core.SeverityHigh,
			"Authentication problems on a domain tied to a trusted brand",
			map[string]interface{}{"domain": email.SenderDomain(), "factor": brandAuthFactor}))
	}

	return clamp01(score), found
}
