package heuristic

import (
	"net"
	"net/url"
	"strings"

	"github.com/mikey/phish-gateway/internal/core"
	"golang.org/x/text/unicode/norm"
)

// boundedLevenshtein returns the edit distance between a and b, or limit+1 as
// soon as the distance is known to exceed limit.
func boundedLevenshtein(a, b string, limit int) int {
	if d := len(a) - len(b); d > limit || -d > limit {
		return limit + 1
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		// Every later cell derives from this row, so the distance cannot drop below rowMin.
		if rowMin > limit {
			return limit + 1
		}
		prev, curr = curr, prev
	}

	if prev[len(b)] > limit {
		return limit + 1
	}
	return prev[len(b)]
}

// normalizeText folds compatibility characters (fullwidth letters, ligatures) and lowercases
func normalizeText(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

// multiLabelSuffixes are public suffixes that take an extra label when
// computing the registrable domain.
var multiLabelSuffixes = map[string]struct{}{
	"co.uk": {}, "org.uk": {}, "ac.uk": {}, "gov.uk": {}, "com.au": {}, "net.au": {},
	"co.jp": {}, "co.nz": {}, "com.br": {}, "co.in": {}, "co.za": {}, "com.mx": {},
}

// registrable returns the registrable part of a domain (e.g. mail.example.co.uk -> example.co.uk)
func registrable(domain string) string {
	labels := strings.Split(strings.Trim(domain, "."), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	lastTwo := labels[len(labels)-2] + "." + labels[len(labels)-1]
	if _, ok := multiLabelSuffixes[lastTwo]; ok {
		return strings.Join(labels[len(labels)-3:], ".")
	}
	return lastTwo
}

// brandLabel returns the label left of the public suffix (paypal.com -> paypal)
func brandLabel(domain string) string {
	reg := registrable(domain)
	if i := strings.IndexByte(reg, '.'); i > 0 {
		return reg[:i]
	}
	return reg
}

// isSameOrSubdomain reports whether domain equals parent or is below it
func isSameOrSubdomain(domain, parent string) bool {
	return domain == parent || strings.HasSuffix(domain, "."+parent)
}

func hasSuspiciousTLD(host string) (string, bool) {
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return tld, true
		}
	}
	return "", false
}

// hostOf returns the lowercased hostname of a URL, without port or brackets
func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}

func isIPLiteral(host string) bool {
	return host != "" && net.ParseIP(host) != nil
}

// countKeywords returns the distinct keywords present in text
func countKeywords(text string, keywords []string) []string {
	var found []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	return found
}

func evidence(t core.EvidenceType, sev core.Severity, desc string, data map[string]interface{}) core.Evidence {
	return core.Evidence{Type: t, Severity: sev, Description: desc, Data: data}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
