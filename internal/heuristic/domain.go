package heuristic

import (
	"fmt"
	"strings"

	"github.com/mikey/phish-gateway/internal/core"
)

const (
	scoreBlacklisted   = 1.0
	scoreSuspiciousTLD = 0.6
	scoreTypoDistance1 = 0.9
	scoreTypoDistance2 = 0.75
	scoreLookalike     = 0.85
)

// brand is a trusted domain with its precomputed imitation variants
type brand struct {
	domain    string
	label     string
	protected bool
	variants  map[string]struct{}
}

func newBrand(domain string, protected bool) brand {
	label := brandLabel(domain)
	return brand{domain: domain, label: label, protected: protected, variants: substitutionVariants(label)}
}

// substitutionVariants generates the brand label with one position substituted,
// and with every occurrence of a letter substituted.
func substitutionVariants(label string) map[string]struct{} {
	variants := map[string]struct{}{label: {}}
	runes := []rune(label)
	for i, r := range runes {
		for _, sub := range substitutions[r] {
			v := make([]rune, len(runes))
			copy(v, runes)
			v[i] = sub
			variants[string(v)] = struct{}{}
		}
	}
	for from, subs := range substitutions {
		if !strings.ContainsRune(label, from) {
			continue
		}
		for _, sub := range subs {
			variants[strings.ReplaceAll(label, string(from), string(sub))] = struct{}{}
		}
	}
	return variants
}

// domainResult carries the domain score plus whether the sender is brand related
type domainResult struct {
	score        float64
	evidence     []core.Evidence
	brandRelated bool
}

func (e *Engine) analyzeDomain(email *core.Email, snap PolicySnapshot) domainResult {
	var res domainResult

	domain := normalizeText(email.SenderDomain())
	if domain == "" {
		return res
	}

	if _, ok := snap.Block[domain]; ok {
		res.score = scoreBlacklisted
		res.evidence = append(res.evidence, evidence(core.EvidenceBlacklistedDomain, core.SeverityCritical,
			fmt.Sprintf("Sender domain %s is on the block list", domain),
			map[string]interface{}{"domain": domain}))
		return res
	}
	if _, ok := snap.Block[strings.ToLower(email.From)]; ok {
		res.score = scoreBlacklisted
		res.evidence = append(res.evidence, evidence(core.EvidenceBlacklistedDomain, core.SeverityCritical,
			fmt.Sprintf("Sender %s is on the block list", email.From),
			map[string]interface{}{"address": strings.ToLower(email.From)}))
		return res
	}

	if tld, ok := hasSuspiciousTLD(domain); ok {
		res.score = max(res.score, scoreSuspiciousTLD)
		res.evidence = append(res.evidence, evidence(core.EvidenceSuspiciousTLD, core.SeverityMedium,
			fmt.Sprintf("Sender domain uses high-risk TLD %s", tld),
			map[string]interface{}{"domain": domain, "tld": tld}))
	}

	reg := registrable(domain)
	if e.isTrustedBrandDomain(reg) {
		res.brandRelated = true
		return res
	}

	if target, dist, ok := e.nearestKnown(reg); ok {
		score := scoreTypoDistance2
		if dist == 1 {
			score = scoreTypoDistance1
		}
		res.score = max(res.score, score)
		res.brandRelated = true
		res.evidence = append(res.evidence, evidence(core.EvidenceTyposquatting, core.SeverityHigh,
			fmt.Sprintf("Sender domain %s is %d edit(s) away from %s", reg, dist, target),
			map[string]interface{}{"domain": reg, "target": target, "distance": dist}))
		return res
	}

	if b, ok := e.lookalikeOf(reg); ok {
		res.score = max(res.score, scoreLookalike)
		res.brandRelated = true
		sev := core.SeverityHigh
		if b.protected {
			sev = core.SeverityCritical
		}
		res.evidence = append(res.evidence, evidence(core.EvidenceBrandLookalike, sev,
			fmt.Sprintf("Sender domain %s imitates brand %s", reg, b.domain),
			map[string]interface{}{"domain": reg, "brand": b.domain, "protected": b.protected}))
	}

	return res
}

// isTrustedBrandDomain reports whether reg is one of the brands itself
func (e *Engine) isTrustedBrandDomain(reg string) bool {
	for _, b := range e.brands {
		if isSameOrSubdomain(reg, b.domain) {
			return true
		}
	}
	return false
}

// nearestKnown finds a brand domain within edit distance 1-2 of reg
func (e *Engine) nearestKnown(reg string) (string, int, bool) {
	if _, ok := freemailDomains[reg]; ok {
		return "", 0, false
	}
	best, bestDist := "", 3
	for _, b := range e.brands {
		d := boundedLevenshtein(reg, b.domain, 2)
		if d >= 1 && d < bestDist {
			best, bestDist = b.domain, d
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestDist, true
}

// lookalikeOf matches reg against brand substitution variants, either as the
// whole label or combined with a lure word (paypa1-security, secure-paypal).
func (e *Engine) lookalikeOf(reg string) (brand, bool) {
	label := brandLabel(reg)
	tokens := strings.Split(label, "-")

	for _, b := range e.brands {
		// Short labels such as "ups" produce too many accidental token matches.
		if len(b.label) < 4 {
			continue
		}
		if _, ok := b.variants[label]; ok {
			return b, true
		}
		if len(tokens) < 2 {
			if hasLurePrefixOrSuffix(label, b) {
				return b, true
			}
			continue
		}
		brandToken, lureToken := false, false
		for _, tok := range tokens {
			if _, ok := b.variants[tok]; ok {
				brandToken = true
			} else if _, ok := lureWords[tok]; ok {
				lureToken = true
			}
		}
		if brandToken && lureToken {
			return b, true
		}
	}
	return brand{}, false
}

// hasLurePrefixOrSuffix detects concatenated forms such as paypalsecurity or securepaypal
func hasLurePrefixOrSuffix(label string, b brand) bool {
	for v := range b.variants {
		if len(label) <= len(v) {
			continue
		}
		if strings.HasPrefix(label, v) {
			if _, ok := lureWords[label[len(v):]]; ok {
				return true
			}
		}
		if strings.HasSuffix(label, v) {
			if _, ok := lureWords[label[:len(label)-len(v)]]; ok {
				return true
			}
		}
	}
	return false
}
