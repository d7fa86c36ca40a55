package parser

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-msgauth/authres"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

const (
	maxPartBytes = 2 << 20
	maxURLs      = 200
)

// SynthesizedDomain is the right-hand side of message IDs generated for
// messages that arrive without one.
const SynthesizedDomain = "phishgate.invalid"

// Parser turns raw RFC 5322 bytes into a core.Email
type Parser struct {
	logger     *zap.Logger
	trustedIDs map[string]struct{}
}

// Option configures a Parser
type Option func(*Parser)

// WithTrustedAuthservIDs restricts Authentication-Results processing to
// headers stamped by one of the given authserv-ids.
func WithTrustedAuthservIDs(ids []string) Option {
	return func(p *Parser) {
		for _, id := range ids {
			if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
				p.trustedIDs[id] = struct{}{}
			}
		}
	}
}

// New creates a new message parser
func New(logger *zap.Logger, opts ...Option) *Parser {
	p := &Parser{logger: logger, trustedIDs: make(map[string]struct{})}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse never fails: malformed input degrades to the envelope addresses, the
// raw bytes as body and a message ID derived from the content.
func (p *Parser) Parse(raw []byte, envelopeFrom string, envelopeTo []string) (email *core.Email) {
	email = &core.Email{
		From:        envelopeFrom,
		To:          append([]string(nil), envelopeTo...),
		Headers:     make(map[string][]string),
		AuthResults: make(map[string]string),
		ReceivedAt:  time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered from panic while parsing message", zap.Any("panic", r))
		}
		if email.MessageID == "" {
			email.MessageID = synthesizeMessageID(raw)
		}
		if email.BodyText == "" && email.BodyHTML != "" {
			email.BodyText = htmlToText(email.BodyHTML)
		}
		email.URLs = extractURLs(email.BodyText, email.BodyHTML)
		p.parseAuthResults(email)
	}()

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		p.logger.Warn("Failed to parse message, falling back to raw body", zap.Error(err))
		email.BodyText = string(limit(raw))
		return email
	}
	defer mr.Close()

	p.readHeaders(email, mr.Header)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if part == nil {
				p.logger.Debug("Stopping at unreadable MIME part", zap.Error(err))
				break
			}
		}
		p.readPart(email, part)
	}

	return email
}

func (p *Parser) readHeaders(email *core.Email, h mail.Header) {
	fields := h.Fields()
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		email.Headers[key] = append(email.Headers[key], v)
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		email.From = from[0].Address
		email.FromDisplayName = from[0].Name
	} else if err != nil {
		p.logger.Debug("Unparseable From header, using envelope sender", zap.Error(err))
	}

	if replyTo, err := h.AddressList("Reply-To"); err == nil && len(replyTo) > 0 {
		email.ReplyTo = replyTo[0].Address
	}

	if len(email.To) == 0 {
		if to, err := h.AddressList("To"); err == nil {
			for _, a := range to {
				email.To = append(email.To, a.Address)
			}
		}
	}

	if subject, err := h.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = h.Get("Subject")
	}

	if id, err := h.MessageID(); err == nil && id != "" {
		email.MessageID = id
	}
}

func (p *Parser) readPart(email *core.Email, part *mail.Part) {
	switch h := part.Header.(type) {
	case *mail.InlineHeader:
		ct, _, _ := h.ContentType()
		filename, _ := (&mail.AttachmentHeader{Header: h.Header}).Filename()
		if filename != "" && !strings.HasPrefix(ct, "text/") {
			email.Attachments = append(email.Attachments, attachment(filename, ct, part.Body))
			return
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			p.logger.Debug("Failed to read inline part", zap.Error(err))
		}
		switch ct {
		case "text/html":
			email.BodyHTML += string(body)
		case "text/plain", "":
			if email.BodyText != "" {
				email.BodyText += "\n"
			}
			email.BodyText += string(body)
		}
	case *mail.AttachmentHeader:
		filename, _ := h.Filename()
		ct, _, _ := h.ContentType()
		email.Attachments = append(email.Attachments, attachment(filename, ct, part.Body))
	}
}

func attachment(filename, contentType string, body io.Reader) core.Attachment {
	n, _ := io.Copy(io.Discard, body)
	return core.Attachment{Filename: filename, ContentType: contentType, Size: n}
}

// parseAuthResults reads SPF, DKIM and DMARC outcomes from a single
// Authentication-Results header: the first one stamped by a trusted
// authserv-id, or the topmost one when no ids are configured. Received-SPF
// is a fallback for SPF.
func (p *Parser) parseAuthResults(email *core.Email) {
	if results, ok := p.trustedAuthResults(email.Headers["Authentication-Results"]); ok {
		for _, r := range results {
			switch r := r.(type) {
			case *authres.SPFResult:
				setAuth(email, "spf", string(r.Value))
			case *authres.DKIMResult:
				// Any passing signature counts for DKIM.
				if r.Value == authres.ResultPass || email.AuthResults["dkim"] == "" {
					email.AuthResults["dkim"] = strings.ToLower(string(r.Value))
				}
			case *authres.DMARCResult:
				setAuth(email, "dmarc", string(r.Value))
			}
		}
	}

	if _, ok := email.AuthResults["spf"]; !ok {
		if v := email.Header("Received-SPF"); v != "" {
			if fields := strings.Fields(v); len(fields) > 0 {
				email.AuthResults["spf"] = strings.ToLower(fields[0])
			}
		}
	}
}

func (p *Parser) trustedAuthResults(headers []string) ([]authres.Result, bool) {
	for i, v := range headers {
		id, results, err := authres.Parse(v)
		if len(p.trustedIDs) == 0 {
			if i > 0 || err != nil {
				return nil, false
			}
			return results, true
		}
		if err != nil {
			continue
		}
		if _, ok := p.trustedIDs[strings.ToLower(id)]; ok {
			return results, true
		}
	}
	return nil, false
}

func setAuth(email *core.Email, mechanism, value string) {
	if _, ok := email.AuthResults[mechanism]; !ok && value != "" {
		email.AuthResults[mechanism] = strings.ToLower(value)
	}
}

func synthesizeMessageID(raw []byte) string {
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x@%s", sum[:16], SynthesizedDomain)
}

func limit(raw []byte) []byte {
	if len(raw) > maxPartBytes {
		return raw[:maxPartBytes]
	}
	return raw
}
