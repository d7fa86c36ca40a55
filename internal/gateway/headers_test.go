package gateway

import (
	"strings"
	"testing"

	"github.com/mikey/phish-gateway/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestInjectHeaders(t *testing.T) {
	raw := "From: a@example.org\r\n" +
		"X-PhishGate-Verdict: ALLOWED\r\n" +
		"x-phishgate-score: 0.0000\r\n" +
		"  folded continuation\r\n" +
		"Subject: hi\r\n" +
		"\r\n" +
		"X-PhishGate-Verdict: in the body stays\r\n"

	tests := []struct {
		name    string
		verdict core.Verdict
		warning bool
	}{
		{"allowed", core.VerdictAllowed, false},
		{"warned", core.VerdictWarned, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := string(InjectHeaders([]byte(raw), &core.AnalysisResult{
				CaseID:  "case-1",
				Score:   0.45678,
				Verdict: tt.verdict,
			}))

			want := "X-PhishGate-Version: " + Version + "\r\n" +
				"X-PhishGate-Score: 0.4568\r\n" +
				"X-PhishGate-Verdict: " + string(tt.verdict) + "\r\n" +
				"X-PhishGate-Case-ID: case-1\r\n"
			if tt.warning {
				want += "X-PhishGate-Warning: true\r\n"
			}
			want += "From: a@example.org\r\n" +
				"Subject: hi\r\n" +
				"\r\n" +
				"X-PhishGate-Verdict: in the body stays\r\n"

			assert.Equal(t, want, out)
		})
	}
}

func TestStripOwnHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lf only", "X-PhishGate-Score: 1\nSubject: x\n\nbody\n", "Subject: x\n\nbody\n"},
		{"no header terminator", "X-PhishGate-Score: 1\r\n", "X-PhishGate-Score: 1\r\n"},
		{"empty headers", "\r\nX-PhishGate-Score: 1\r\n", "\r\nX-PhishGate-Score: 1\r\n"},
		{"similar name kept", "X-PhishGateway: keep\r\n\r\nb", "X-PhishGateway: keep\r\n\r\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(stripOwnHeaders([]byte(tt.raw))))
		})
	}
}

func TestInjectHeadersKeepsBody(t *testing.T) {
	body := strings.Repeat("line\r\n", 100)
	raw := []byte("Subject: x\r\n\r\n" + body)
	out := InjectHeaders(raw, &core.AnalysisResult{CaseID: "c", Verdict: core.VerdictAllowed})
	assert.True(t, strings.HasSuffix(string(out), "\r\n\r\n"+body))
}
