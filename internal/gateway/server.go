package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// Parser turns raw bytes into an Email; it never fails
type Parser interface {
	Parse(raw []byte, envelopeFrom string, envelopeTo []string) *core.Email
}

// EmailStore persists parsed emails and closes cases the gateway delivered itself
type EmailStore interface {
	SaveEmail(ctx context.Context, email *core.Email) (*core.Email, bool, error)
	ResolveCase(ctx context.Context, id string, resolution string) (*core.Case, error)
}

// Analyzer runs the decision pipeline for a stored email
type Analyzer interface {
	Analyze(ctx context.Context, emailID string) (*core.AnalysisResult, error)
}

// Gateway is the inline SMTP listener in front of the downstream MTA
type Gateway struct {
	cfg         config.GatewayConfig
	parser      Parser
	emails      EmailStore
	analyzer    Analyzer
	relay       core.Relay
	quarantine  core.QuarantineStorage
	logger      *zap.Logger
	accepted    map[string]struct{}
	activeUsers map[string]struct{}
	server      *smtp.Server
}

// New creates a new SMTP gateway
func New(
	cfg config.GatewayConfig,
	parser Parser,
	emails EmailStore,
	analyzer Analyzer,
	relay core.Relay,
	quarantine core.QuarantineStorage,
	logger *zap.Logger,
) *Gateway {
	if cfg.QuarantineCode == 0 {
		cfg.QuarantineCode = 250
	}
	if cfg.QuarantineMessage == "" {
		cfg.QuarantineMessage = "OK: queued"
	}
	if len(cfg.AcceptedDomains) == 0 {
		logger.Warn("No accepted domains configured, all recipient domains will be accepted")
	}
	return &Gateway{
		cfg:         cfg,
		parser:      parser,
		emails:      emails,
		analyzer:    analyzer,
		relay:       relay,
		quarantine:  quarantine,
		logger:      logger,
		accepted:    toSet(cfg.AcceptedDomains),
		activeUsers: toSet(cfg.ActiveUsers),
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func (g *Gateway) newServer() *smtp.Server {
	s := smtp.NewServer(&backend{gateway: g})
	s.Addr = g.cfg.ListenAddress
	s.Domain = g.cfg.Domain
	s.ReadTimeout = g.cfg.ReadTimeout
	s.WriteTimeout = g.cfg.WriteTimeout
	s.MaxMessageBytes = g.cfg.MaxMessageBytes
	s.MaxRecipients = g.cfg.MaxRecipients
	return s
}

// Start starts listening in the background
func (g *Gateway) Start() error {
	g.server = g.newServer()

	g.logger.Info("SMTP gateway starting",
		zap.String("address", g.cfg.ListenAddress),
		zap.Strings("accepted_domains", g.cfg.AcceptedDomains))

	go func() {
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			g.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the listener and all open sessions
func (g *Gateway) Stop() error {
	if g.server != nil {
		return g.server.Close()
	}
	return nil
}

// AcceptsRecipient reports whether mail for addr is handled by this gateway
func (g *Gateway) AcceptsRecipient(addr string) bool {
	if len(g.accepted) == 0 {
		return true
	}
	_, ok := g.accepted[core.DomainOf(addr)]
	return ok
}

func (g *Gateway) hasActiveUser(recipients []string) bool {
	if len(g.activeUsers) == 0 {
		return true
	}
	for _, r := range recipients {
		if _, ok := g.activeUsers[strings.ToLower(strings.Trim(r, "<>"))]; ok {
			return true
		}
	}
	return false
}

type backend struct {
	gateway *Gateway
}

// NewSession implements smtp.Backend
func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{
		gateway: b.gateway,
		remote:  remote,
	}, nil
}
