package heuristic

import (
	"context"
	"testing"

	"github.com/mikey/phish-gateway/internal/core"
	"github.com/stretchr/testify/assert"
)

func wellFormedHeaders() map[string][]string {
	return map[string][]string{
		"Date":       {"Mon, 12 Oct 2026 09:00:00 +0000"},
		"Message-Id": {"<abc@mx.example>"},
		"Received":   {"from mx.example by gateway"},
	}
}

func allAuth(result string) map[string]string {
	return map[string]string{"spf": result, "dkim": result, "dmarc": result}
}

func TestEngineLookalikeWithAuthFailures(t *testing.T) {
	e := newTestEngine(nil)
	email := &core.Email{
		From:        "security@paypa1-security.com",
		Subject:     "Account notice",
		BodyText:    "Please verify your account immediately",
		Headers:     wellFormedHeaders(),
		AuthResults: allAuth("fail"),
	}

	res := e.Analyze(context.Background(), email, PolicySnapshot{})

	assert.InDelta(t, 0.85, res.Components.Domain, 1e-9)
	assert.InDelta(t, 0.25, res.Components.Keyword, 1e-9)
	assert.InDelta(t, 1.0, res.Components.Auth, 1e-9)
	assert.InDelta(t, 1.15, res.Components.Correlation, 1e-9)
	assert.InDelta(t, 0.69, res.Score, 1e-9)
	assert.Greater(t, res.Score, 0.6)
	assert.True(t, hasEvidence(res.Evidence, core.EvidenceCompoundAuthFailure))
}

func TestEngineCorrelationAllFour(t *testing.T) {
	e := newTestEngine(nil)
	email := &core.Email{
		From:        "security@paypa1-security.com",
		BodyText:    "Please verify your account immediately",
		URLs:        []string{"http://203.0.113.5/x"},
		Headers:     wellFormedHeaders(),
		AuthResults: allAuth("fail"),
	}

	res := e.Analyze(context.Background(), email, PolicySnapshot{})
	assert.InDelta(t, 1.25, res.Components.Correlation, 1e-9)
	assert.InDelta(t, 0.96875, res.Score, 1e-9)
}

func TestEngineCleanMessage(t *testing.T) {
	e := newTestEngine(nil)
	email := &core.Email{
		From:        "alice@corp.example",
		Subject:     "Lunch",
		BodyText:    "Shall we meet at noon?",
		URLs:        []string{"https://corp.example/menu"},
		Headers:     wellFormedHeaders(),
		AuthResults: allAuth("pass"),
	}

	res := e.Analyze(context.Background(), email, PolicySnapshot{})
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Evidence)
}

func TestAttachmentDoubleExtensionDominates(t *testing.T) {
	e := newTestEngine(nil)
	email := &core.Email{Attachments: []core.Attachment{
		{Filename: "invoice.pdf.exe"},
		{Filename: "run.exe"},
		{Filename: "report.final.pdf"},
	}}

	bonus, ev := e.attachmentBonus(email)
	assert.InDelta(t, 0.25, bonus, 1e-9)
	assert.True(t, hasEvidence(ev, core.EvidenceDoubleExtension))
	assert.True(t, hasEvidence(ev, core.EvidenceDangerousAttachment))
	assert.Len(t, ev, 2)
}

func TestHeaderAnomalyBonusIsCapped(t *testing.T) {
	e := newTestEngine(nil)
	email := &core.Email{
		From: "a@corp.example",
		Headers: map[string][]string{
			"Return-Path": {"<bounce@bulk.example>"},
			"X-Mailer":    {"PHPMailer 6.0"},
		},
	}

	bonus, ev := e.headerBonus(email)
	assert.InDelta(t, 0.15, bonus, 1e-9)
	assert.Len(t, ev, 1)
	assert.Len(t, ev[0].Data["anomalies"], 5)
}

func TestImpersonation(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		display string
		want    bool
	}{
		{name: "brand in display name from unrelated domain", from: "random@mailer.example", display: "PayPal Support", want: true},
		{name: "brand in display name from brand domain", from: "service@paypal.com", display: "PayPal", want: false},
		{name: "executive title on freemail", from: "john.smith.ceo@gmail.com", display: "John Smith (CEO)", want: true},
		{name: "executive title on corporate domain", from: "john@corp.example", display: "John Smith, CEO", want: false},
		{name: "embedded address of another domain", from: "x@mailer.example", display: "support@bank.example", want: true},
		{name: "plain name", from: "alice@corp.example", display: "Alice Martin", want: false},
	}

	e := newTestEngine(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := e.impersonation(&core.Email{From: tt.from, FromDisplayName: tt.display})
			assert.Equal(t, tt.want, len(ev) > 0)
		})
	}
}

func TestEngineImpersonationBonus(t *testing.T) {
	e := newTestEngine(nil)
	email := &core.Email{
		From:            "random@mailer.example",
		FromDisplayName: "PayPal Support",
		Headers:         wellFormedHeaders(),
		AuthResults:     allAuth("pass"),
	}

	res := e.Analyze(context.Background(), email, PolicySnapshot{})
	assert.InDelta(t, 0.20, res.Score, 1e-9)
	assert.True(t, hasEvidence(res.Evidence, core.EvidenceImpersonation))
}

func TestEngineScoreAlwaysInRange(t *testing.T) {
	e := newTestEngine(nil, "strike.sh")
	emails := []*core.Email{
		{},
		{
			From:            "a@evil.example",
			FromDisplayName: "Strike CEO",
			ReplyTo:         "x@gmail.com",
			BodyText:        "URGENT WIRE TRANSFER NEEDED verify your account immediately gift card payroll iban reset your password NOW PLEASE ACT",
			URLs:            []string{"http://1.1.1.1", "http://2.2.2.2", "http://3.3.3.3"},
			AuthResults:     allAuth("fail"),
			Attachments:     []core.Attachment{{Filename: "a.pdf.exe"}},
		},
		{From: "not-an-address"},
		{From: "a@b.xyz", URLs: []string{"::bad::"}},
	}

	for _, email := range emails {
		res := e.Analyze(context.Background(), email, PolicySnapshot{Block: map[string]struct{}{"evil.example": {}}})
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
}
