package core

import (
	"net/textproto"
	"strings"
	"time"
)

// Verdict is the final pipeline decision for a message
type Verdict string

const (
	VerdictAllowed     Verdict = "ALLOWED"
	VerdictWarned      Verdict = "WARNED"
	VerdictQuarantined Verdict = "QUARANTINED"
	VerdictBlocked     Verdict = "BLOCKED"
)

// RiskLevel bands the final score in parallel to the verdict
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ThreatCategory is inferred from the evidence collected for a case
type ThreatCategory string

const (
	CategoryClean              ThreatCategory = "CLEAN"
	CategoryPhishing           ThreatCategory = "PHISHING"
	CategoryCredentialPhishing ThreatCategory = "CREDENTIAL_PHISHING"
	CategoryBEC                ThreatCategory = "BEC"
)

// Stage identifies the pipeline stage that produced an Analysis
type Stage string

const (
	StageBypass    Stage = "bypass"
	StageHeuristic Stage = "heuristic"
	StageML        Stage = "ml"
	StageLLM       Stage = "llm"
)

// Severity tags a piece of evidence
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EvidenceType classifies a detection signal
type EvidenceType string

const (
	EvidenceBlacklistedDomain   EvidenceType = "domain_blacklisted"
	EvidenceSuspiciousTLD       EvidenceType = "domain_suspicious_tld"
	EvidenceTyposquatting       EvidenceType = "domain_typosquatting"
	EvidenceBrandLookalike      EvidenceType = "domain_brand_lookalike"
	EvidenceURLShortener        EvidenceType = "url_shortener"
	EvidenceIPURL               EvidenceType = "url_ip_literal"
	EvidenceSuspiciousTLDURL    EvidenceType = "url_suspicious_tld"
	EvidenceUrgencyKeywords     EvidenceType = "keyword_urgency"
	EvidencePhishingKeywords    EvidenceType = "keyword_phishing"
	EvidenceFinancialKeywords   EvidenceType = "keyword_financial"
	EvidenceCapsAbuse           EvidenceType = "keyword_caps_abuse"
	EvidenceSPF                 EvidenceType = "auth_spf"
	EvidenceDKIM                EvidenceType = "auth_dkim"
	EvidenceDMARC               EvidenceType = "auth_dmarc"
	EvidenceCompoundAuthFailure EvidenceType = "auth_compound_failure"
	EvidenceReplyToMismatch     EvidenceType = "auth_reply_to_mismatch"
	EvidenceBrandAuthFailure    EvidenceType = "auth_brand_failure"
	EvidenceDangerousAttachment EvidenceType = "attachment_dangerous"
	EvidenceDoubleExtension     EvidenceType = "attachment_double_extension"
	EvidenceHeaderAnomaly       EvidenceType = "header_anomaly"
	EvidenceImpersonation       EvidenceType = "impersonation_display_name"
	EvidenceBypass              EvidenceType = "bypass_trusted_sender"
	EvidenceMLScore             EvidenceType = "ml_score"
	EvidenceLLMAssessment       EvidenceType = "llm_assessment"
)

// Category returns the detector family an evidence type belongs to
func (t EvidenceType) Category() string {
	s := string(t)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}

// ListType distinguishes allow-list and block-list policy entries
type ListType string

const (
	ListAllow ListType = "allow"
	ListBlock ListType = "block"
)

// EntryType describes what a policy entry matches against
type EntryType string

const (
	EntryDomain EntryType = "domain"
	EntryEmail  EntryType = "email"
	EntryURL    EntryType = "url"
	EntryIP     EntryType = "ip"
)

// Attachment describes one attachment of a message
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Email represents one inbound message, created once per Message-ID
type Email struct {
	ID              string
	MessageID       string
	From            string
	FromDisplayName string
	To              []string
	ReplyTo         string
	Subject         string
	BodyText        string
	BodyHTML        string
	Headers         map[string][]string
	URLs            []string
	Attachments     []Attachment
	AuthResults     map[string]string
	ReceivedAt      time.Time
}

// SenderDomain returns the lowercased domain of the From address
func (e *Email) SenderDomain() string {
	return DomainOf(e.From)
}

// ReplyToDomain returns the lowercased domain of the Reply-To address
func (e *Email) ReplyToDomain() string {
	return DomainOf(e.ReplyTo)
}

// Auth returns the result recorded for an authentication mechanism, "none" if absent
func (e *Email) Auth(mechanism string) string {
	if v, ok := e.AuthResults[mechanism]; ok && v != "" {
		return v
	}
	return "none"
}

// Header returns the first value of a header, matched case-insensitively
func (e *Email) Header(name string) string {
	if v := e.Headers[textproto.CanonicalMIMEHeaderKey(name)]; len(v) > 0 {
		return v[0]
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Text returns subject and body concatenated for text classifiers
func (e *Email) Text() string {
	var b strings.Builder
	b.WriteString(e.Subject)
	b.WriteString("\n")
	b.WriteString(e.BodyText)
	return b.String()
}

// DomainOf extracts the domain part of an address
func DomainOf(address string) string {
	address = strings.TrimSpace(strings.Trim(address, "<>"))
	i := strings.LastIndexByte(address, '@')
	if i < 0 || i == len(address)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(address[i+1:], "."))
}

// Case is the investigation aggregate for one Email
type Case struct {
	ID               string
	Number           int64
	EmailID          string
	Status           CaseStatus
	FinalScore       *float64
	RiskLevel        RiskLevel
	Verdict          Verdict
	Category         ThreatCategory
	PipelineDuration time.Duration
	Resolution       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Analysis holds the result of one stage for one case
type Analysis struct {
	ID            string
	CaseID        string
	Stage         Stage
	Score         *float64
	Confidence    float64
	Explanation   string
	Metadata      map[string]interface{}
	ExecutionTime time.Duration
	Evidence      []Evidence
	CreatedAt     time.Time
}

// Evidence is one typed detection signal
type Evidence struct {
	ID          string                 `json:"id,omitempty"`
	AnalysisID  string                 `json:"analysis_id,omitempty"`
	Type        EvidenceType           `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// PolicyEntry is an allow-list or block-list record
type PolicyEntry struct {
	ID        string
	ListType  ListType
	EntryType EntryType
	Value     string
	Active    bool
	CreatedAt time.Time
}

// ScoreResult is the outcome of a scoring provider call
type ScoreResult struct {
	Score      float64
	Confidence float64
	Available  bool
	Model      string
	Err        error
}

// Usable reports whether the result should take part in the final score
func (r ScoreResult) Usable() bool {
	return r.Available && r.Confidence > 0
}

// ExplainRequest carries the context handed to an explanation provider
type ExplainRequest struct {
	Email          *Email
	HeuristicScore float64
	MLScore        *float64
	Evidence       []Evidence
}

// ExplainResult is the outcome of an explanation provider call
type ExplainResult struct {
	Score       float64
	Confidence  float64
	Explanation string
	ProviderID  string
	Available   bool
}

// Usable reports whether the result should take part in the final score
func (r ExplainResult) Usable() bool {
	return r.Available && r.Confidence > 0
}

// AnalysisResult is what the orchestrator reports back to its caller
type AnalysisResult struct {
	CaseID         string
	CaseNumber     int64
	Score          float64
	Verdict        Verdict
	RiskLevel      RiskLevel
	Category       ThreatCategory
	Bypassed       bool
	HeuristicScore float64
	Duration       time.Duration
}
