package heuristic

import (
	"fmt"
	"path"
	"strings"

	"github.com/mikey/phish-gateway/internal/core"
)

func (e *Engine) attachmentBonus(email *core.Email) (float64, []core.Evidence) {
	var (
		bonus float64
		found []core.Evidence
	)
	for _, att := range email.Attachments {
		name := strings.ToLower(strings.TrimSpace(att.Filename))
		ext := path.Ext(name)
		if _, ok := dangerousExtensions[ext]; !ok {
			continue
		}

		inner := path.Ext(strings.TrimSuffix(name, ext))
		if _, decoy := decoyExtensions[inner]; decoy {
			bonus = max(bonus, e.bonuses.DoubleExtension)
			found = append(found, evidence(core.EvidenceDoubleExtension, core.SeverityCritical,
				fmt.Sprintf("Attachment %s hides %s behind %s", att.Filename, ext, inner),
				map[string]interface{}{"filename": att.Filename, "content_type": att.ContentType}))
			continue
		}

		bonus = max(bonus, e.bonuses.DangerousExtension)
		found = append(found, evidence(core.EvidenceDangerousAttachment, core.SeverityHigh,
			fmt.Sprintf("Attachment %s has executable extension %s", att.Filename, ext),
			map[string]interface{}{"filename": att.Filename, "content_type": att.ContentType}))
	}
	return bonus, found
}

func (e *Engine) headerBonus(email *core.Email) (float64, []core.Evidence) {
	var anomalies []string

	if email.Header("Date") == "" {
		anomalies = append(anomalies, "missing Date header")
	}
	if email.Header("Message-Id") == "" {
		anomalies = append(anomalies, "missing Message-ID header")
	}
	if email.Header("Received") == "" {
		anomalies = append(anomalies, "no Received header")
	}
	if rp := core.DomainOf(email.Header("Return-Path")); rp != "" && email.SenderDomain() != "" &&
		registrable(rp) != registrable(email.SenderDomain()) {
		anomalies = append(anomalies, fmt.Sprintf("Return-Path domain %s differs from From domain", rp))
	}
	if mailer := strings.ToLower(email.Header("X-Mailer")); mailer != "" {
		for _, bulk := range bulkMailers {
			if strings.Contains(mailer, bulk) {
				anomalies = append(anomalies, "sent with bulk mailer "+bulk)
				break
			}
		}
	}

	if len(anomalies) == 0 {
		return 0, nil
	}
	bonus := min(e.bonuses.HeaderAnomaly*float64(len(anomalies)), e.bonuses.HeaderAnomalyCap)
	return bonus, []core.Evidence{evidence(core.EvidenceHeaderAnomaly, core.SeverityLow,
		fmt.Sprintf("%d header anomalies", len(anomalies)),
		map[string]interface{}{"anomalies": anomalies})}
}

// impersonation detects display names claiming a brand or an executive role
// that the sending domain cannot back up.
func (e *Engine) impersonation(email *core.Email) []core.Evidence {
	display := normalizeText(email.FromDisplayName)
	if display == "" {
		return nil
	}
	domain := email.SenderDomain()
	reg := registrable(domain)

	var found []core.Evidence
	words := strings.FieldsFunc(display, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.' || r == ',' || r == '@' || r == '(' || r == ')'
	})
	for _, b := range e.brands {
		if len(b.label) < 4 || isSameOrSubdomain(reg, b.domain) {
			continue
		}
		for _, w := range words {
			if w == b.label {
				found = append(found, evidence(core.EvidenceImpersonation, core.SeverityHigh,
					fmt.Sprintf("Display name %q claims %s but mail comes from %s", email.FromDisplayName, b.domain, domain),
					map[string]interface{}{"display_name": email.FromDisplayName, "brand": b.domain, "sender_domain": domain}))
				return found
			}
		}
	}

	if _, freemail := freemailDomains[reg]; freemail {
		for _, title := range executiveTitles {
			if containsWord(display, title) {
				found = append(found, evidence(core.EvidenceImpersonation, core.SeverityHigh,
					fmt.Sprintf("Display name %q carries executive title %q on free mail domain %s", email.FromDisplayName, title, domain),
					map[string]interface{}{"display_name": email.FromDisplayName, "title": title, "sender_domain": domain}))
				return found
			}
		}
	}

	if embedded := core.DomainOf(display); strings.Contains(embedded, ".") && registrable(embedded) != reg {
		found = append(found, evidence(core.EvidenceImpersonation, core.SeverityMedium,
			fmt.Sprintf("Display name embeds address at %s while sender is %s", embedded, domain),
			map[string]interface{}{"display_name": email.FromDisplayName, "embedded_domain": embedded, "sender_domain": domain}))
	}
	return found
}

// containsWord matches phrase at word boundaries
func containsWord(text, phrase string) bool {
	for i := strings.Index(text, phrase); i >= 0; {
		before := i == 0 || !isWordChar(text[i-1])
		end := i + len(phrase)
		after := end == len(text) || !isWordChar(text[end])
		if before && after {
			return true
		}
		next := strings.Index(text[i+1:], phrase)
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
