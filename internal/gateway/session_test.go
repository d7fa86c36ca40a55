package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/phish-gateway/internal/adapters/store"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/metrics"
	"github.com/mikey/phish-gateway/internal/parser"
	"github.com/mikey/phish-gateway/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testMessage = []byte("From: Alice <alice@example.org>\r\n" +
	"To: bob@corp.example\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Message-ID: <m1@example.org>\r\n" +
	"\r\n" +
	"Hi Bob, numbers attached.\r\n")

type fakeAnalyzer struct {
	mu      sync.Mutex
	verdict core.Verdict
	err     error
	panics  bool
	ids     []string

	// repo, when set, backs results with real cases
	repo core.Repository
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, emailID string) (*core.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, emailID)
	if f.panics {
		panic("analyzer exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	result := &core.AnalysisResult{
		CaseID:     "case-" + emailID,
		CaseNumber: 1,
		Score:      0.5,
		Verdict:    f.verdict,
	}
	if f.repo != nil {
		c, err := f.repo.GetOrCreateCase(ctx, emailID)
		if err != nil {
			return nil, err
		}
		for _, s := range []core.CaseStatus{core.StatusAnalyzing, core.StatusQuarantined} {
			c.Status = s
			if err := f.repo.UpdateCase(ctx, c); err != nil {
				return nil, err
			}
		}
		result.CaseID, result.CaseNumber = c.ID, c.Number
	}
	return result, nil
}

func (f *fakeAnalyzer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

type relayed struct {
	raw        []byte
	sender     string
	recipients []string
	metadata   map[string]string
}

type fakeRelay struct {
	mu   sync.Mutex
	fail bool
	msgs []relayed
}

func (f *fakeRelay) Forward(ctx context.Context, raw []byte, sender string, recipients []string, metadata map[string]string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, relayed{raw: raw, sender: sender, recipients: recipients, metadata: metadata})
	return !f.fail
}

func (f *fakeRelay) sent() []relayed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relayed(nil), f.msgs...)
}

type fakeQuarantine struct {
	mu     sync.Mutex
	err    error
	stored map[string][]byte
}

func (f *fakeQuarantine) Store(ctx context.Context, caseID string, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.stored == nil {
		f.stored = make(map[string][]byte)
	}
	f.stored[caseID] = raw
	return nil
}

func (f *fakeQuarantine) Retrieve(ctx context.Context, caseID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.stored[caseID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return raw, nil
}

func (f *fakeQuarantine) Delete(ctx context.Context, caseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stored, caseID)
	return nil
}

type rig struct {
	gateway    *Gateway
	repo       *store.MemoryStore
	analyzer   *fakeAnalyzer
	relay      *fakeRelay
	quarantine *fakeQuarantine
}

func newRig(t *testing.T, analyzer *fakeAnalyzer, mutate func(*config.GatewayConfig)) *rig {
	t.Helper()
	cfg := config.NewFromViper(config.NewEmptyViper()).GetGateway()
	cfg.AcceptedDomains = []string{"corp.example"}
	if mutate != nil {
		mutate(&cfg)
	}

	r := &rig{
		repo:       store.NewMemoryStore(zap.NewNop()),
		analyzer:   analyzer,
		relay:      &fakeRelay{},
		quarantine: &fakeQuarantine{},
	}
	r.gateway = New(cfg, parser.New(zap.NewNop()), r.repo,
		analyzer, r.relay, r.quarantine, zap.NewNop())
	return r
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), "expected *smtp.SMTPError, got %v", err)
	return smtpErr.Code
}

func TestDeliverVerdicts(t *testing.T) {
	tests := []struct {
		name        string
		verdict     core.Verdict
		code        int
		relayed     bool
		quarantined bool
		warning     bool
	}{
		{"allowed", core.VerdictAllowed, 0, true, false, false},
		{"warned", core.VerdictWarned, 0, true, false, true},
		{"quarantined", core.VerdictQuarantined, 250, false, true, false},
		{"blocked", core.VerdictBlocked, 550, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, &fakeAnalyzer{verdict: tt.verdict}, nil)

			err := r.gateway.Deliver(context.Background(), "alice@example.org", []string{"bob@corp.example"}, testMessage)
			if tt.code == 0 {
				require.NoError(t, err)
			} else {
				assert.Equal(t, tt.code, smtpCode(t, err))
			}

			sent := r.relay.sent()
			if tt.relayed {
				require.Len(t, sent, 1)
				out := string(sent[0].raw)
				assert.Contains(t, out, HeaderVerdict+": "+string(tt.verdict)+"\r\n")
				assert.Contains(t, out, HeaderScore+": 0.5000\r\n")
				assert.Equal(t, tt.warning, strings.Contains(out, HeaderWarning+": true"))
				assert.Equal(t, string(tt.verdict), sent[0].metadata["verdict"])
				assert.True(t, strings.HasSuffix(out, string(testMessage)))
			} else {
				assert.Empty(t, sent)
			}

			assert.Equal(t, tt.quarantined, len(r.quarantine.stored) == 1)
			for _, raw := range r.quarantine.stored {
				assert.Equal(t, testMessage, raw)
			}
		})
	}
}

func TestDeliverBlockedResponse(t *testing.T) {
	r := newRig(t, &fakeAnalyzer{verdict: core.VerdictBlocked}, nil)
	err := r.gateway.Deliver(context.Background(), "alice@example.org", []string{"bob@corp.example"}, testMessage)

	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, smtp.EnhancedCode{5, 7, 1}, smtpErr.EnhancedCode)
}

func TestDeliverFailsOpen(t *testing.T) {
	tests := []struct {
		name          string
		analyzer      *fakeAnalyzer
		quarantineErr error
	}{
		{"analyzer error", &fakeAnalyzer{err: errors.New("database is locked")}, nil},
		{"pipeline timeout", &fakeAnalyzer{err: fmt.Errorf("case 1: %w", pipeline.ErrPipelineTimeout)}, nil},
		{"analyzer panic", &fakeAnalyzer{panics: true}, nil},
		{"quarantine failure", &fakeAnalyzer{verdict: core.VerdictQuarantined}, errors.New("disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.analyzer, nil)
			r.quarantine.err = tt.quarantineErr

			err := r.gateway.Deliver(context.Background(), "alice@example.org", []string{"bob@corp.example"}, testMessage)
			require.NoError(t, err)

			sent := r.relay.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, testMessage, sent[0].raw)
			assert.Equal(t, []string{"bob@corp.example"}, sent[0].recipients)
		})
	}
}

func TestDeliverQuarantineFailureResolvesCase(t *testing.T) {
	tests := []struct {
		name           string
		noStorage      bool
		relayFails     bool
		wantResolution string
	}{
		{name: "storage error", wantResolution: ResolutionQuarantineFailedRelayed},
		{name: "no storage configured", noStorage: true, wantResolution: ResolutionQuarantineFailedRelayed},
		{name: "storage and relay fail", relayFails: true, wantResolution: ResolutionQuarantineFailedLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, &fakeAnalyzer{verdict: core.VerdictQuarantined}, nil)
			r.analyzer.repo = r.repo
			r.quarantine.err = errors.New("disk full")
			r.relay.fail = tt.relayFails
			if tt.noStorage {
				r.gateway.quarantine = nil
			}
			before := testutil.ToFloat64(metrics.FailOpen.WithLabelValues("quarantine"))

			err := r.gateway.Deliver(context.Background(), "alice@example.org", []string{"bob@corp.example"}, testMessage)
			require.NoError(t, err)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.FailOpen.WithLabelValues("quarantine")))

			require.Len(t, r.analyzer.ids, 1)
			c, err := r.repo.GetOrCreateCase(context.Background(), r.analyzer.ids[0])
			require.NoError(t, err)
			assert.Equal(t, core.StatusResolved, c.Status)
			assert.Equal(t, tt.wantResolution, c.Resolution)

			_, err = NewReleaser(r.repo, r.quarantine, r.relay, zap.NewNop()).Release(context.Background(), c.ID)
			assert.ErrorIs(t, err, ErrNotQuarantined)
		})
	}
}

func TestSameContent(t *testing.T) {
	base := core.Email{From: "alice@example.org", Subject: "Invoice", BodyText: "see attached", BodyHTML: "<p>see attached</p>"}
	tests := []struct {
		name   string
		mutate func(*core.Email)
		want   bool
	}{
		{name: "identical", mutate: func(*core.Email) {}, want: true},
		{name: "different body", mutate: func(e *core.Email) { e.BodyText = "wire the money" }, want: false},
		{name: "different html", mutate: func(e *core.Email) { e.BodyHTML = `<a href="http://evil.example">x</a>` }, want: false},
		{name: "different subject", mutate: func(e *core.Email) { e.Subject = "Urgent" }, want: false},
		{name: "different sender", mutate: func(e *core.Email) { e.From = "mallory@evil.example" }, want: false},
		{name: "received time ignored", mutate: func(e *core.Email) { e.ReceivedAt = e.ReceivedAt.Add(time.Hour) }, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			assert.Equal(t, tt.want, sameContent(&base, &other))
		})
	}
}

func TestDeliverAcceptsWhenRelayFails(t *testing.T) {
	r := newRig(t, &fakeAnalyzer{verdict: core.VerdictAllowed}, nil)
	r.relay.fail = true
	before := testutil.ToFloat64(metrics.RelayFailures)

	err := r.gateway.Deliver(context.Background(), "alice@example.org", []string{"bob@corp.example"}, testMessage)
	assert.NoError(t, err)
	assert.Len(t, r.relay.sent(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RelayFailures))
}

func TestDeliverActiveUsers(t *testing.T) {
	tests := []struct {
		name     string
		rcpt     string
		analyzed bool
	}{
		{"inactive recipient relays directly", "bob@corp.example", false},
		{"active recipient is analyzed", "Carol@corp.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, &fakeAnalyzer{verdict: core.VerdictAllowed}, func(c *config.GatewayConfig) {
				c.ActiveUsers = []string{"carol@corp.example"}
			})

			require.NoError(t, r.gateway.Deliver(context.Background(), "alice@example.org", []string{tt.rcpt}, testMessage))
			assert.Equal(t, tt.analyzed, r.analyzer.calls() == 1)

			sent := r.relay.sent()
			require.Len(t, sent, 1)
			if !tt.analyzed {
				assert.Equal(t, testMessage, sent[0].raw)
			}
		})
	}
}

func TestDeliverCustomQuarantineCode(t *testing.T) {
	r := newRig(t, &fakeAnalyzer{verdict: core.VerdictQuarantined}, func(c *config.GatewayConfig) {
		c.QuarantineCode = 252
		c.QuarantineMessage = "Held for review"
	})

	err := r.gateway.Deliver(context.Background(), "alice@example.org", []string{"bob@corp.example"}, testMessage)
	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 252, smtpErr.Code)
	assert.Equal(t, "Held for review", smtpErr.Message)
}

func TestDeliverDuplicateMessageReusesEmail(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: core.VerdictAllowed}
	r := newRig(t, analyzer, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, r.gateway.Deliver(context.Background(), "alice@example.org", []string{"bob@corp.example"}, testMessage))
	}
	require.Len(t, analyzer.ids, 2)
	assert.Equal(t, analyzer.ids[0], analyzer.ids[1])
}

func TestAcceptsRecipient(t *testing.T) {
	r := newRig(t, &fakeAnalyzer{}, nil)
	assert.True(t, r.gateway.AcceptsRecipient("bob@corp.example"))
	assert.True(t, r.gateway.AcceptsRecipient("<BOB@Corp.Example>"))
	assert.False(t, r.gateway.AcceptsRecipient("bob@other.example"))
	assert.False(t, r.gateway.AcceptsRecipient("postmaster"))

	open := newRig(t, &fakeAnalyzer{}, func(c *config.GatewayConfig) { c.AcceptedDomains = nil })
	assert.True(t, open.gateway.AcceptsRecipient("anyone@anywhere.example"))
}

func TestSMTPSession(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: core.VerdictWarned}
	r := newRig(t, analyzer, func(c *config.GatewayConfig) { c.Domain = "gw.test" })

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := r.gateway.newServer()
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	c, err := smtp.Dial(l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("client.test"))
	require.NoError(t, c.Mail("alice@example.org", nil))

	err = c.Rcpt("mallory@other.example", nil)
	require.Error(t, err)
	assert.Equal(t, 550, smtpCode(t, err))
	assert.Equal(t, 0, analyzer.calls())

	require.NoError(t, c.Rcpt("bob@corp.example", nil))

	wc, err := c.Data()
	require.NoError(t, err)
	_, err = wc.Write(testMessage)
	require.NoError(t, err)
	require.NoError(t, wc.Close())
	require.NoError(t, c.Quit())

	sent := r.relay.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.org", sent[0].sender)
	assert.Equal(t, []string{"bob@corp.example"}, sent[0].recipients)
	assert.Contains(t, string(sent[0].raw), HeaderWarning+": true\r\n")
}
