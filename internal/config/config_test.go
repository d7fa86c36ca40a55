package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())
	require.NoError(t, cfg.Validate())

	p := cfg.GetPipeline()
	assert.Equal(t, 30*time.Second, p.Timeout)
	assert.False(t, p.MLEnabled)
	assert.Equal(t, Thresholds{Allow: 0.3, Warn: 0.6, Quarantine: 0.8}, p.Thresholds)

	h := cfg.GetHeuristic()
	assert.InDelta(t, 0.35, h.Weights.Auth, 1e-9)
	assert.Equal(t, 5*time.Second, h.ResolutionTimeout)

	r := cfg.GetResolver()
	assert.Equal(t, 3, r.MaxHops)
	assert.Equal(t, 3*time.Second, r.HopTimeout)

	assert.Empty(t, cfg.GetParser().TrustedAuthservIDs)

	assert.Equal(t, 250, cfg.GetGateway().QuarantineCode)
	assert.True(t, cfg.GetBypass().SPFRequired)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   interface{}
		wantErr bool
	}{
		{name: "defaults are valid", wantErr: false},
		{name: "weights not summing to one", key: "heuristic.weights.auth", value: 0.5, wantErr: true},
		{name: "thresholds out of order", key: "thresholds.warn", value: 0.9, wantErr: true},
		{name: "non 2xx quarantine code", key: "gateway.quarantine_code", value: 451, wantErr: true},
		{name: "custom 2xx quarantine code", key: "gateway.quarantine_code", value: 251, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewEmptyViper()
			if tt.key != "" {
				v.Set(tt.key, tt.value)
			}
			err := NewFromViper(v).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  accepted_domains: [" Strike.SH ", "example.com"]
bypass:
  allowlist_domains: ["strike.sh"]
  dkim_or_dmarc_required: true
pipeline:
  timeout: 12s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"strike.sh", "example.com"}, cfg.GetGateway().AcceptedDomains)
	assert.True(t, cfg.GetBypass().DKIMOrDMARCRequired)
	assert.Equal(t, 12*time.Second, cfg.GetPipeline().Timeout)
}
