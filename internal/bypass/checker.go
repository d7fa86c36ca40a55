package bypass

import (
	"strings"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"go.uber.org/zap"
)

// Decision is the outcome of a bypass check
type Decision struct {
	Allowed bool
	Matched string
	Reason  string
}

// Checker decides whether a sender is trusted enough to skip scoring
type Checker struct {
	domains             []string
	spfRequired         bool
	dkimOrDMARCRequired bool
	logger              *zap.Logger
}

// NewChecker creates a new bypass checker
func NewChecker(cfg config.BypassConfig, logger *zap.Logger) *Checker {
	domains := make([]string, 0, len(cfg.AllowlistDomains))
	for _, d := range cfg.AllowlistDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains = append(domains, d)
		}
	}

	if len(domains) > 0 {
		logger.Info("Initialized bypass checker",
			zap.Strings("domains", domains),
			zap.Bool("spf_required", cfg.SPFRequired),
			zap.Bool("dkim_or_dmarc_required", cfg.DKIMOrDMARCRequired))
	}

	return &Checker{
		domains:             domains,
		spfRequired:         cfg.SPFRequired,
		dkimOrDMARCRequired: cfg.DKIMOrDMARCRequired,
		logger:              logger,
	}
}

// Check evaluates an email against the configured allowlist and the active
// allow-list policy entries.
func (c *Checker) Check(email *core.Email, allowEntries map[string]struct{}) Decision {
	domain := email.SenderDomain()
	if domain == "" {
		return Decision{Reason: "sender has no domain"}
	}

	matched := c.match(strings.ToLower(email.From), domain, allowEntries)
	if matched == "" {
		return Decision{Reason: "sender domain not allowlisted"}
	}

	if c.spfRequired && email.Auth("spf") != "pass" {
		c.logger.Debug("Allowlisted sender failed SPF requirement",
			zap.String("domain", domain),
			zap.String("spf", email.Auth("spf")))
		return Decision{Matched: matched, Reason: "spf did not pass"}
	}

	if c.dkimOrDMARCRequired && email.Auth("dkim") != "pass" && email.Auth("dmarc") != "pass" {
		return Decision{Matched: matched, Reason: "neither dkim nor dmarc passed"}
	}

	return Decision{Allowed: true, Matched: matched, Reason: "trusted authenticated sender"}
}

func (c *Checker) match(address, domain string, allowEntries map[string]struct{}) string {
	for _, allowed := range c.domains {
		if matchesDomain(domain, allowed) {
			return allowed
		}
	}
	if _, ok := allowEntries[address]; ok {
		return address
	}
	for entry := range allowEntries {
		if !strings.Contains(entry, "@") && matchesDomain(domain, entry) {
			return entry
		}
	}
	return ""
}

// matchesDomain reports whether domain equals allowed or is a subdomain of it
func matchesDomain(domain, allowed string) bool {
	return domain == allowed || strings.HasSuffix(domain, "."+allowed)
}
