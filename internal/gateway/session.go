package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-smtp"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/metrics"
	"go.uber.org/zap"
)

// Resolutions recorded when a quarantine verdict could not be held
const (
	ResolutionQuarantineFailedRelayed = "fail-open: relayed after quarantine storage failure"
	ResolutionQuarantineFailedLost    = "fail-open: quarantine storage and relay failed"
)

var errRejectedPhishing = &smtp.SMTPError{
	Code:         550,
	EnhancedCode: smtp.EnhancedCode{5, 7, 1},
	Message:      "Message rejected: classified as phishing",
}

var errNoQuarantine = errors.New("no quarantine storage configured")

var errRelayDenied = &smtp.SMTPError{
	Code:         550,
	EnhancedCode: smtp.EnhancedCode{5, 1, 2},
	Message:      "Relay access denied: recipient domain not accepted",
}

// session implements smtp.Session for one SMTP connection
type session struct {
	gateway    *Gateway
	remote     string
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the connection closes
func (s *session) Logout() error {
	return nil
}

// Mail sets the envelope sender
func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt accepts recipients of accepted domains only
func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if !s.gateway.AcceptsRecipient(to) {
		metrics.Rejected.WithLabelValues("rcpt").Inc()
		s.gateway.logger.Info("Rejecting recipient outside accepted domains",
			zap.String("recipient", to),
			zap.String("sender", s.sender),
			zap.String("remote", s.remote))
		return errRelayDenied
	}
	s.recipients = append(s.recipients, to)
	return nil
}

// Data reads the message and hands it to the gateway
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.gateway.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}
	return s.gateway.Deliver(context.Background(), s.sender, s.recipients, raw)
}

// Deliver decides the fate of one message and returns the SMTP response for DATA.
// A nil error is a 250 acceptance; quarantine acceptances are *smtp.SMTPError values with a 2xx code.
func (g *Gateway) Deliver(ctx context.Context, sender string, recipients []string, raw []byte) error {
	if !g.hasActiveUser(recipients) {
		g.logger.Debug("No active user among recipients, relaying without analysis",
			zap.String("sender", sender),
			zap.Strings("recipients", recipients))
		g.forward(ctx, raw, sender, recipients, nil)
		return nil
	}

	result, err := g.analyze(ctx, sender, recipients, raw)
	if err != nil {
		g.failOpen(ctx, "analysis", err, raw, sender, recipients)
		return nil
	}

	logger := g.logger.With(
		zap.String("case_id", result.CaseID),
		zap.Int64("case_number", result.CaseNumber),
		zap.String("sender", sender),
		zap.String("verdict", string(result.Verdict)),
		zap.Float64("score", result.Score))

	switch result.Verdict {
	case core.VerdictBlocked:
		metrics.Rejected.WithLabelValues("data").Inc()
		logger.Info("Rejecting message")
		return errRejectedPhishing

	case core.VerdictQuarantined:
		err := errNoQuarantine
		if g.quarantine != nil {
			err = g.quarantine.Store(ctx, result.CaseID, raw)
		}
		if err != nil {
			logger.Error("Failed to store quarantined message", zap.Error(err))
			delivered := g.failOpen(ctx, "quarantine", err, raw, sender, recipients)
			g.resolveUnheld(ctx, logger, result.CaseID, delivered)
			return nil
		}
		logger.Info("Message quarantined")
		return g.quarantineResponse()

	default:
		logger.Info("Relaying message")
		g.forward(ctx, InjectHeaders(raw, result), sender, recipients, map[string]string{
			"case_id": result.CaseID,
			"verdict": string(result.Verdict),
		})
		return nil
	}
}

// analyze parses, persists and scores a message; panics become errors
func (g *Gateway) analyze(ctx context.Context, sender string, recipients []string, raw []byte) (result *core.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	email := g.parser.Parse(raw, sender, recipients)

	stored, created, err := g.emails.SaveEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to persist email: %w", err)
	}
	if !created {
		if sameContent(stored, email) {
			g.logger.Debug("Duplicate message received", zap.String("message_id", stored.MessageID))
		} else {
			g.logger.Warn("Message-ID reused with different content, returning stored decision",
				zap.String("message_id", stored.MessageID),
				zap.String("email_id", stored.ID),
				zap.String("sender", sender))
		}
	}

	result, err = g.analyzer.Analyze(ctx, stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze email: %w", err)
	}
	return result, nil
}

// failOpen relays the original message after an internal failure and
// reports whether the relay accepted it
func (g *Gateway) failOpen(ctx context.Context, reason string, cause error, raw []byte, sender string, recipients []string) bool {
	metrics.FailOpen.WithLabelValues(reason).Inc()
	g.logger.Error("Processing failed, relaying original message",
		zap.String("reason", reason),
		zap.String("sender", sender),
		zap.Strings("recipients", recipients),
		zap.Error(cause))
	return g.forward(ctx, raw, sender, recipients, nil)
}

// resolveUnheld closes a quarantined case whose message never reached
// quarantine storage, so that it is not offered for release
func (g *Gateway) resolveUnheld(ctx context.Context, logger *zap.Logger, caseID string, delivered bool) {
	resolution := ResolutionQuarantineFailedRelayed
	if !delivered {
		resolution = ResolutionQuarantineFailedLost
	}
	if _, err := g.emails.ResolveCase(ctx, caseID, resolution); err != nil {
		logger.Error("Failed to resolve case after quarantine failure",
			zap.String("resolution", resolution),
			zap.Error(err))
		return
	}
	logger.Warn("Case resolved without quarantine", zap.String("resolution", resolution))
}

func (g *Gateway) forward(ctx context.Context, raw []byte, sender string, recipients []string, metadata map[string]string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RelayFailures.Inc()
			g.logger.Error("Relay panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	if !g.relay.Forward(ctx, raw, sender, recipients, metadata) {
		metrics.RelayFailures.Inc()
		g.logger.Error("Relay did not accept message",
			zap.String("sender", sender),
			zap.Strings("recipients", recipients))
		return false
	}
	return true
}

// sameContent reports whether a re-received message matches the stored copy
func sameContent(stored, email *core.Email) bool {
	return stored.From == email.From &&
		stored.Subject == email.Subject &&
		stored.BodyText == email.BodyText &&
		stored.BodyHTML == email.BodyHTML
}

func (g *Gateway) quarantineResponse() error {
	return &smtp.SMTPError{
		Code:         g.cfg.QuarantineCode,
		EnhancedCode: smtp.EnhancedCode{2, 0, 0},
		Message:      g.cfg.QuarantineMessage,
	}
}
