package heuristic

import (
	"context"
	"testing"
	"time"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/urlresolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeResolver struct {
	results map[string]urlresolver.Resolution
	calls   int
}

func (f *fakeResolver) ResolveAll(_ context.Context, urls []string, _ time.Duration) map[string]urlresolver.Resolution {
	f.calls++
	out := make(map[string]urlresolver.Resolution)
	for _, u := range urls {
		if r, ok := f.results[u]; ok {
			out[u] = r
		}
	}
	return out
}

func defaultHeuristicConfig() config.HeuristicConfig {
	return config.NewFromViper(config.NewEmptyViper()).GetHeuristic()
}

func newTestEngine(resolver URLResolver, protected ...string) *Engine {
	cfg := defaultHeuristicConfig()
	cfg.ProtectedDomains = protected
	return NewEngine(cfg, resolver, zap.NewNop())
}

func hasEvidence(list []core.Evidence, t core.EvidenceType) bool {
	for _, e := range list {
		if e.Type == t {
			return true
		}
	}
	return false
}

func TestDomainDetector(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		block     map[string]struct{}
		wantScore float64
		wantType  core.EvidenceType
		notType   core.EvidenceType
	}{
		{name: "block list is terminal", from: "a@evil.example", block: map[string]struct{}{"evil.example": {}}, wantScore: 1.0, wantType: core.EvidenceBlacklistedDomain},
		{name: "typosquat distance one", from: "a@paypa1.com", wantScore: 0.9, wantType: core.EvidenceTyposquatting},
		{name: "typosquat distance two", from: "a@rnicrosoft.com", wantScore: 0.75, wantType: core.EvidenceTyposquatting},
		{name: "exact known domain is not flagged", from: "service@paypal.com", wantScore: 0, notType: core.EvidenceTyposquatting},
		{name: "subdomain of known domain is not flagged", from: "no-reply@email.paypal.com", wantScore: 0, notType: core.EvidenceTyposquatting},
		{name: "distance three is not typosquatting", from: "a@paypxyz.com", wantScore: 0, notType: core.EvidenceTyposquatting},
		{name: "brand lookalike with lure suffix", from: "security@paypa1-security.com", wantScore: 0.85, wantType: core.EvidenceBrandLookalike},
		{name: "brand lookalike with lure prefix", from: "a@secure-paypal.com", wantScore: 0.85, wantType: core.EvidenceBrandLookalike},
		{name: "brand lookalike concatenated", from: "a@paypalsecurity.com", wantScore: 0.85, wantType: core.EvidenceBrandLookalike},
		{name: "protected brand on another tld", from: "it@str1ke.io", wantScore: 0.85, wantType: core.EvidenceBrandLookalike},
		{name: "suspicious tld", from: "deals@promo.xyz", wantScore: 0.6, wantType: core.EvidenceSuspiciousTLD},
		{name: "freemail is not a typosquat of gmail", from: "someone@mail.com", wantScore: 0, notType: core.EvidenceTyposquatting},
		{name: "unrelated domain", from: "a@example.org", wantScore: 0},
	}

	e := newTestEngine(nil, "strike.sh")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.analyzeDomain(&core.Email{From: tt.from}, PolicySnapshot{Block: tt.block})
			assert.InDelta(t, tt.wantScore, res.score, 1e-9)
			if tt.wantType != "" {
				assert.True(t, hasEvidence(res.evidence, tt.wantType), "expected %s", tt.wantType)
			}
			if tt.notType != "" {
				assert.False(t, hasEvidence(res.evidence, tt.notType), "unexpected %s", tt.notType)
			}
		})
	}
}

func TestTyposquatNeverBothWithLookalike(t *testing.T) {
	e := newTestEngine(nil)
	res := e.analyzeDomain(&core.Email{From: "a@paypa1.com"}, PolicySnapshot{})
	assert.True(t, hasEvidence(res.evidence, core.EvidenceTyposquatting))
	assert.False(t, hasEvidence(res.evidence, core.EvidenceBrandLookalike))
}

func TestURLDetector(t *testing.T) {
	resolver := &fakeResolver{results: map[string]urlresolver.Resolution{
		"https://bit.ly/abc": {OK: true, Final: "http://203.0.113.5/login"},
		"https://bit.ly/tld": {OK: true, Final: "https://account-check.top/x"},
		"https://bit.ly/int": {Blocked: "http://10.0.0.1/admin", Reason: "blocked address 10.0.0.1"},
		"https://bit.ly/ok":  {OK: true, Final: "https://example.com/article"},
	}}
	e := newTestEngine(resolver)

	tests := []struct {
		name      string
		urls      []string
		wantScore float64
		wantType  core.EvidenceType
	}{
		{name: "shortener hiding an ip", urls: []string{"https://bit.ly/abc"}, wantScore: 0.7, wantType: core.EvidenceIPURL},
		{name: "shortener hiding a bad tld", urls: []string{"https://bit.ly/tld"}, wantScore: 0.5, wantType: core.EvidenceSuspiciousTLDURL},
		{name: "shortener redirecting to internal address", urls: []string{"https://bit.ly/int"}, wantScore: 0.7, wantType: core.EvidenceIPURL},
		{name: "benign shortener", urls: []string{"https://bit.ly/ok"}, wantScore: 0.4, wantType: core.EvidenceURLShortener},
		{name: "two shorteners", urls: []string{"https://bit.ly/ok", "https://tinyurl.com/zzz"}, wantScore: 0.5, wantType: core.EvidenceURLShortener},
		{name: "ip occurrences capped at three", urls: []string{"http://1.2.3.4/a", "http://1.2.3.5/b", "http://1.2.3.6/c", "http://1.2.3.7/d"}, wantScore: 0.9, wantType: core.EvidenceIPURL},
		{name: "suspicious tld host", urls: []string{"http://login.example.top/"}, wantScore: 0.5, wantType: core.EvidenceSuspiciousTLDURL},
		{name: "clean urls", urls: []string{"https://example.com/"}, wantScore: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ev := e.analyzeURLs(context.Background(), &core.Email{URLs: tt.urls})
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			if tt.wantType != "" {
				assert.True(t, hasEvidence(ev, tt.wantType))
			}
		})
	}
}

func TestURLDetectorResolvedEvidenceNamesResolvedHost(t *testing.T) {
	resolver := &fakeResolver{results: map[string]urlresolver.Resolution{
		"https://bit.ly/abc": {OK: true, Final: "http://203.0.113.5/login"},
	}}
	e := newTestEngine(resolver)

	_, ev := e.analyzeURLs(context.Background(), &core.Email{URLs: []string{"https://bit.ly/abc"}})
	var ip *core.Evidence
	for i := range ev {
		if ev[i].Type == core.EvidenceIPURL {
			ip = &ev[i]
		}
	}
	require.NotNil(t, ip)
	assert.Equal(t, "http://203.0.113.5/login", ip.Data["url"])
	assert.Equal(t, "https://bit.ly/abc", ip.Data["resolved_from"])
}

func TestURLDetectorSkipsResolverWithoutShorteners(t *testing.T) {
	resolver := &fakeResolver{}
	e := newTestEngine(resolver)
	e.analyzeURLs(context.Background(), &core.Email{URLs: []string{"https://example.com/"}})
	assert.Equal(t, 0, resolver.calls)
}

func TestKeywordDetector(t *testing.T) {
	e := newTestEngine(nil)

	tests := []struct {
		name      string
		subject   string
		body      string
		wantScore float64
		wantType  core.EvidenceType
	}{
		{name: "phishing plus urgency", body: "Please verify your account immediately.", wantScore: 0.25, wantType: core.EvidencePhishingKeywords},
		{name: "financial capped", body: "wire transfer bank transfer gift card payroll iban", wantScore: 0.30, wantType: core.EvidenceFinancialKeywords},
		{name: "subject counts", subject: "URGENT", body: "see attached", wantScore: 0.10, wantType: core.EvidenceUrgencyKeywords},
		{name: "caps abuse", body: "THIS IS YOUR FINAL CHANCE TO CLAIM THE PRIZE we have for you today ok", wantScore: 0.15, wantType: core.EvidenceCapsAbuse},
		{name: "short shouting body is ignored", body: "HELLO THERE FRIEND", wantScore: 0},
		{name: "clean", subject: "Lunch", body: "Shall we meet at noon?", wantScore: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, ev := e.analyzeKeywords(&core.Email{Subject: tt.subject, BodyText: tt.body})
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			if tt.wantType != "" {
				assert.True(t, hasEvidence(ev, tt.wantType))
			}
		})
	}
}

func TestAuthWeightOrdering(t *testing.T) {
	assert.Greater(t, authWeights["dmarc"]["fail"], authWeights["spf"]["fail"])
	assert.Greater(t, authWeights["spf"]["fail"], authWeights["dkim"]["fail"])
	assert.Greater(t, authWeights["dkim"]["fail"], authWeights["spf"]["softfail"])
	assert.Greater(t, authWeights["spf"]["softfail"], authWeights["spf"]["neutral"])
}

func TestAuthDetector(t *testing.T) {
	e := newTestEngine(nil)

	tests := []struct {
		name         string
		auth         map[string]string
		replyTo      string
		brandRelated bool
		wantScore    float64
		wantType     core.EvidenceType
	}{
		{name: "all pass", auth: map[string]string{"spf": "pass", "dkim": "pass", "dmarc": "pass"}, wantScore: 0},
		{name: "dmarc fail", auth: map[string]string{"spf": "pass", "dkim": "pass", "dmarc": "fail"}, wantScore: 0.35, wantType: core.EvidenceDMARC},
		{name: "spf softfail", auth: map[string]string{"spf": "softfail", "dkim": "pass", "dmarc": "pass"}, wantScore: 0.12, wantType: core.EvidenceSPF},
		{name: "missing results grade as none", auth: nil, wantScore: 0.12},
		{name: "two failures", auth: map[string]string{"spf": "fail", "dkim": "fail", "dmarc": "pass"}, wantScore: 0.60, wantType: core.EvidenceCompoundAuthFailure},
		{name: "three failures capped", auth: map[string]string{"spf": "fail", "dkim": "fail", "dmarc": "fail"}, wantScore: 1.0, wantType: core.EvidenceCompoundAuthFailure},
		{name: "reply-to mismatch", auth: map[string]string{"spf": "pass", "dkim": "pass", "dmarc": "pass"}, replyTo: "x@gmail.com", wantScore: 0.20, wantType: core.EvidenceReplyToMismatch},
		{name: "brand related spf fail", auth: map[string]string{"spf": "fail", "dkim": "pass", "dmarc": "pass"}, brandRelated: true, wantScore: 0.3125, wantType: core.EvidenceBrandAuthFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &core.Email{From: "a@corp.example", ReplyTo: tt.replyTo, AuthResults: tt.auth}
			score, ev := e.analyzeAuth(email, tt.brandRelated)
			assert.InDelta(t, tt.wantScore, score, 1e-9)
			if tt.wantType != "" {
				assert.True(t, hasEvidence(ev, tt.wantType))
			}
		})
	}
}
