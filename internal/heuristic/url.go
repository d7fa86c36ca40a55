package heuristic

import (
	"context"
	"fmt"

	"github.com/mikey/phish-gateway/internal/core"
)

const (
	baseShortener     = 0.4
	baseIPLiteral     = 0.7
	baseSuspiciousTLD = 0.5
	occurrenceStep    = 0.1
	maxOccurrences    = 3
)

// occurrenceScore applies the per-occurrence increment, counting at most maxOccurrences
func occurrenceScore(base float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	return base + occurrenceStep*float64(min(n, maxOccurrences)-1)
}

func (e *Engine) analyzeURLs(ctx context.Context, email *core.Email) (float64, []core.Evidence) {
	if len(email.URLs) == 0 {
		return 0, nil
	}

	var shortened []string
	for _, u := range email.URLs {
		if _, ok := shortenerHosts[hostOf(u)]; ok {
			shortened = append(shortened, u)
		}
	}

	resolved := map[string]resolution{}
	if len(shortened) > 0 && e.resolveShorteners && e.resolver != nil {
		for u, r := range e.resolver.ResolveAll(ctx, shortened, e.resolutionTimeout) {
			resolved[u] = resolution{final: r.Final, blocked: r.Blocked, reason: r.Reason}
		}
	}

	var (
		shortCount, ipCount, tldCount int
		found                         []core.Evidence
	)

	classify := func(target, original string) {
		host := hostOf(target)
		data := map[string]interface{}{"url": target}
		if original != "" {
			data["resolved_from"] = original
		}
		if isIPLiteral(host) {
			ipCount++
			desc := fmt.Sprintf("URL points to IP address %s", host)
			if original != "" {
				desc = fmt.Sprintf("Shortened URL %s resolves to IP address %s", original, host)
			}
			found = append(found, evidence(core.EvidenceIPURL, core.SeverityHigh, desc, data))
			return
		}
		if tld, ok := hasSuspiciousTLD(host); ok {
			tldCount++
			data["tld"] = tld
			desc := fmt.Sprintf("URL host %s uses high-risk TLD %s", host, tld)
			if original != "" {
				desc = fmt.Sprintf("Shortened URL %s resolves to %s on high-risk TLD %s", original, host, tld)
			}
			found = append(found, evidence(core.EvidenceSuspiciousTLDURL, core.SeverityMedium, desc, data))
		}
	}

	for _, u := range email.URLs {
		host := hostOf(u)
		if _, ok := shortenerHosts[host]; !ok {
			classify(u, "")
			continue
		}

		shortCount++
		data := map[string]interface{}{"url": u, "shortener": host}
		r, ok := resolved[u]
		switch {
		case !ok:
			data["resolution"] = "not resolved"
		case r.final != "":
			data["resolved_to"] = r.final
		case r.blocked != "":
			data["blocked_target"] = r.blocked
			data["resolution"] = r.reason
		default:
			data["resolution"] = r.reason
		}
		found = append(found, evidence(core.EvidenceURLShortener, core.SeverityLow,
			fmt.Sprintf("URL uses shortener %s", host), data))

		if r.final != "" {
			classify(r.final, u)
		} else if r.blocked != "" {
			classify(r.blocked, u)
		}
	}

	score := max(
		occurrenceScore(baseShortener, shortCount),
		occurrenceScore(baseIPLiteral, ipCount),
		occurrenceScore(baseSuspiciousTLD, tldCount),
	)
	return score, found
}

type resolution struct {
	final   string
	blocked string
	reason  string
}
