package relay

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/phish-gateway/internal/config"
	"go.uber.org/zap"
)

// SMTPRelay forwards messages to the downstream MTA over SMTP
type SMTPRelay struct {
	address     string
	helo        string
	dialTimeout time.Duration
	timeout     time.Duration
	logger      *zap.Logger
}

// NewSMTPRelay creates a new SMTP relay
func NewSMTPRelay(cfg config.RelayConfig, logger *zap.Logger) *SMTPRelay {
	helo := cfg.Helo
	if helo == "" {
		if hostname, err := os.Hostname(); err == nil {
			helo = hostname
		} else {
			helo = "localhost"
		}
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPRelay{
		address:     cfg.Address,
		helo:        helo,
		dialTimeout: dialTimeout,
		timeout:     timeout,
		logger:      logger,
	}
}

// Forward implements core.Relay
func (r *SMTPRelay) Forward(ctx context.Context, raw []byte, sender string, recipients []string, metadata map[string]string) bool {
	if err := r.send(ctx, raw, sender, recipients); err != nil {
		r.logger.Error("Failed to relay message",
			zap.String("relay", r.address),
			zap.String("sender", sender),
			zap.Strings("recipients", recipients),
			zap.Any("metadata", metadata),
			zap.Error(err))
		return false
	}
	r.logger.Debug("Message relayed",
		zap.String("relay", r.address),
		zap.String("sender", sender),
		zap.Int("recipients", len(recipients)))
	return true
}

func (r *SMTPRelay) send(ctx context.Context, raw []byte, sender string, recipients []string) error {
	dialer := &net.Dialer{Timeout: r.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.address)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(r.helo); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := 0
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			r.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", rcpt),
				zap.Error(err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := bytes.NewReader(raw).WriteTo(wc); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("relay rejected message data: %w", err)
	}

	if err := c.Quit(); err != nil {
		r.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}
