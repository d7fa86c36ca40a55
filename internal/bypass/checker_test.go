package bypass

import (
	"testing"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func email(from string, auth map[string]string) *core.Email {
	return &core.Email{From: from, AuthResults: auth}
}

func TestChecker(t *testing.T) {
	pass := map[string]string{"spf": "pass", "dkim": "pass", "dmarc": "pass"}

	tests := []struct {
		name    string
		cfg     config.BypassConfig
		email   *core.Email
		entries map[string]struct{}
		want    bool
	}{
		{
			name:  "allowlisted with spf pass",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}, SPFRequired: true},
			email: email("user@strike.sh", pass),
			want:  true,
		},
		{
			name:  "subdomain of allowlisted domain",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}, SPFRequired: true},
			email: email("alerts@mail.strike.sh", pass),
			want:  true,
		},
		{
			name:  "lookalike suffix is not a subdomain",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}, SPFRequired: true},
			email: email("user@evilstrike.sh", pass),
			want:  false,
		},
		{
			name:  "spf fail denies",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}, SPFRequired: true},
			email: email("user@strike.sh", map[string]string{"spf": "fail"}),
			want:  false,
		},
		{
			name:  "spf not required",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}},
			email: email("user@strike.sh", map[string]string{"spf": "softfail"}),
			want:  true,
		},
		{
			name:  "dkim or dmarc required, only dmarc passes",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}, SPFRequired: true, DKIMOrDMARCRequired: true},
			email: email("user@strike.sh", map[string]string{"spf": "pass", "dkim": "fail", "dmarc": "pass"}),
			want:  true,
		},
		{
			name:  "dkim or dmarc required, neither passes",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}, SPFRequired: true, DKIMOrDMARCRequired: true},
			email: email("user@strike.sh", map[string]string{"spf": "pass"}),
			want:  false,
		},
		{
			name:    "policy allow entry",
			cfg:     config.BypassConfig{SPFRequired: true},
			email:   email("billing@vendor.example", pass),
			entries: map[string]struct{}{"vendor.example": {}},
			want:    true,
		},
		{
			name:    "policy allow entry for a full address",
			cfg:     config.BypassConfig{SPFRequired: true},
			email:   email("Billing@Vendor.example", pass),
			entries: map[string]struct{}{"billing@vendor.example": {}},
			want:    true,
		},
		{
			name:  "no domain",
			cfg:   config.BypassConfig{AllowlistDomains: []string{"strike.sh"}},
			email: email("postmaster", pass),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(tt.cfg, zap.NewNop())
			d := c.Check(tt.email, tt.entries)
			assert.Equal(t, tt.want, d.Allowed, d.Reason)
		})
	}
}
