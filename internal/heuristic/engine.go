package heuristic

import (
	"context"
	"time"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/urlresolver"
	"go.uber.org/zap"
)

// URLResolver resolves a batch of shortened URLs under one shared deadline
type URLResolver interface {
	ResolveAll(ctx context.Context, urls []string, timeout time.Duration) map[string]urlresolver.Resolution
}

// PolicySnapshot is the allow/block list state loaded once per pipeline run
type PolicySnapshot struct {
	Allow map[string]struct{}
	Block map[string]struct{}
}

// Components breaks the heuristic score down for the analysis metadata
type Components struct {
	Domain        float64 `json:"domain"`
	URL           float64 `json:"url"`
	Keyword       float64 `json:"keyword"`
	Auth          float64 `json:"auth"`
	Weighted      float64 `json:"weighted"`
	Correlation   float64 `json:"correlation"`
	Attachment    float64 `json:"attachment_bonus"`
	Header        float64 `json:"header_bonus"`
	Impersonation float64 `json:"impersonation_bonus"`
}

// Result is the output of the heuristic engine
type Result struct {
	Score      float64
	Evidence   []core.Evidence
	Components Components
}

// Engine is the rule-based scorer combining four weighted sub-detectors
type Engine struct {
	weights           config.Weights
	correlationThree  float64
	correlationFour   float64
	bonuses           config.Bonuses
	brands            []brand
	resolver          URLResolver
	resolveShorteners bool
	resolutionTimeout time.Duration
	logger            *zap.Logger
}

// NewEngine creates a new heuristic engine. resolver may be nil, in which case
// shortened URLs are scored without being followed.
func NewEngine(cfg config.HeuristicConfig, resolver URLResolver, logger *zap.Logger) *Engine {
	brands := make([]brand, 0, len(knownDomains)+len(cfg.ProtectedDomains))
	seen := make(map[string]struct{})
	for _, d := range cfg.ProtectedDomains {
		if _, ok := seen[d]; ok || d == "" {
			continue
		}
		seen[d] = struct{}{}
		brands = append(brands, newBrand(d, true))
	}
	for _, d := range knownDomains {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		brands = append(brands, newBrand(d, false))
	}

	timeout := cfg.ResolutionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Engine{
		weights:           cfg.Weights,
		correlationThree:  cfg.CorrelationThree,
		correlationFour:   cfg.CorrelationFour,
		bonuses:           cfg.Bonuses,
		brands:            brands,
		resolver:          resolver,
		resolveShorteners: cfg.ResolveShorteners,
		resolutionTimeout: timeout,
		logger:            logger,
	}
}

// Analyze scores an email. It only blocks on URL resolution, which is bounded
// by the resolution timeout and by ctx.
func (e *Engine) Analyze(ctx context.Context, email *core.Email, snap PolicySnapshot) Result {
	var (
		c        Components
		evidence []core.Evidence
	)

	dom := e.analyzeDomain(email, snap)
	c.Domain = dom.score
	evidence = append(evidence, dom.evidence...)

	urlScore, urlEvidence := e.analyzeURLs(ctx, email)
	c.URL = urlScore
	evidence = append(evidence, urlEvidence...)

	kwScore, kwEvidence := e.analyzeKeywords(email)
	c.Keyword = kwScore
	evidence = append(evidence, kwEvidence...)

	authScore, authEvidence := e.analyzeAuth(email, dom.brandRelated)
	c.Auth = authScore
	evidence = append(evidence, authEvidence...)

	c.Weighted = c.Domain*e.weights.Domain + c.URL*e.weights.URL +
		c.Keyword*e.weights.Keyword + c.Auth*e.weights.Auth

	c.Correlation = 1.0
	switch fired := countNonZero(c.Domain, c.URL, c.Keyword, c.Auth); {
	case fired == 4:
		c.Correlation = e.correlationFour
	case fired >= 3:
		c.Correlation = e.correlationThree
	}

	var attEvidence, hdrEvidence []core.Evidence
	c.Attachment, attEvidence = e.attachmentBonus(email)
	c.Header, hdrEvidence = e.headerBonus(email)
	evidence = append(evidence, attEvidence...)
	evidence = append(evidence, hdrEvidence...)

	if imp := e.impersonation(email); len(imp) > 0 {
		c.Impersonation = e.bonuses.Impersonation
		evidence = append(evidence, imp...)
	}

	score := clamp01(c.Weighted*c.Correlation + c.Attachment + c.Header + c.Impersonation)

	e.logger.Debug("Heuristic analysis complete",
		zap.String("message_id", email.MessageID),
		zap.Float64("score", score),
		zap.Float64("domain", c.Domain),
		zap.Float64("url", c.URL),
		zap.Float64("keyword", c.Keyword),
		zap.Float64("auth", c.Auth),
		zap.Int("evidence", len(evidence)))

	return Result{Score: score, Evidence: evidence, Components: c}
}

func countNonZero(values ...float64) int {
	n := 0
	for _, v := range values {
		if v > 0 {
			n++
		}
	}
	return n
}
