package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/phish-gateway/internal/bypass"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/heuristic"
	"github.com/mikey/phish-gateway/internal/metrics"
	"go.uber.org/zap"
)

// ErrPipelineTimeout is returned when the outer analysis deadline expires
var ErrPipelineTimeout = errors.New("pipeline timeout exceeded")

const (
	defaultTimeout        = 30 * time.Second
	defaultScoringTimeout = 5 * time.Second
	defaultExplainTimeout = 10 * time.Second
)

// Heuristic is the rule-based stage
type Heuristic interface {
	Analyze(ctx context.Context, email *core.Email, snap heuristic.PolicySnapshot) heuristic.Result
}

// Bypass decides whether a sender skips analysis
type Bypass interface {
	Check(email *core.Email, allowEntries map[string]struct{}) bypass.Decision
}

// Orchestrator sequences the analysis stages for one email and persists the outcome
type Orchestrator struct {
	repo      core.Repository
	bypass    Bypass
	heuristic Heuristic
	scorer    core.Scorer
	explainer core.Explainer
	cfg       config.PipelineConfig
	logger    *zap.Logger
}

// New creates a new orchestrator. scorer and explainer may be nil.
func New(
	repo core.Repository,
	bypass Bypass,
	heuristic Heuristic,
	scorer core.Scorer,
	explainer core.Explainer,
	cfg config.PipelineConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ScoringTimeout <= 0 {
		cfg.ScoringTimeout = defaultScoringTimeout
	}
	if cfg.ExplainTimeout <= 0 {
		cfg.ExplainTimeout = defaultExplainTimeout
	}
	return &Orchestrator{
		repo:      repo,
		bypass:    bypass,
		heuristic: heuristic,
		scorer:    scorer,
		explainer: explainer,
		cfg:       cfg,
		logger:    logger,
	}
}

type outcome struct {
	result *core.AnalysisResult
	err    error
}

// Analyze runs the pipeline for a stored email. When the outer timeout
// expires it returns ErrPipelineTimeout without waiting for the stages.
func (o *Orchestrator) Analyze(ctx context.Context, emailID string) (*core.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("pipeline panic: %v", r)}
			}
		}()
		res, err := o.run(ctx, emailID)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		o.logger.Warn("Pipeline timed out",
			zap.String("email_id", emailID),
			zap.Duration("timeout", o.cfg.Timeout))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrPipelineTimeout
		}
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, emailID string) (*core.AnalysisResult, error) {
	start := time.Now()

	email, err := o.repo.GetEmail(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email %s: %w", emailID, err)
	}

	c, err := o.repo.GetOrCreateCase(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get case for email %s: %w", emailID, err)
	}

	if c.Status.Decided() {
		o.logger.Debug("Case already decided, returning stored result",
			zap.String("case_id", c.ID),
			zap.String("status", string(c.Status)))
		return storedResult(c), nil
	}

	if c.Status == core.StatusPending {
		c.Status = core.StatusAnalyzing
		if err := o.repo.UpdateCase(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to mark case %s analyzing: %w", c.ID, err)
		}
	}

	snap := o.snapshot(ctx)

	if decision := o.bypass.Check(email, snap.Allow); decision.Allowed {
		return o.finishBypass(ctx, c, decision, start)
	}

	hStart := time.Now()
	hres := o.heuristic.Analyze(ctx, email, snap)
	hScore := hres.Score
	o.save(ctx, &core.Analysis{
		CaseID:        c.ID,
		Stage:         core.StageHeuristic,
		Score:         &hScore,
		Confidence:    1.0,
		Explanation:   fmt.Sprintf("%d signals", len(hres.Evidence)),
		Metadata:      map[string]interface{}{"components": hres.Components},
		ExecutionTime: time.Since(hStart),
		Evidence:      hres.Evidence,
	})

	var mlScore *float64
	if o.cfg.MLEnabled && o.scorer != nil {
		if s, ok := o.runScoring(ctx, c.ID, email); ok {
			mlScore = &s
		}
	}

	var llmScore *float64
	if o.explainer != nil {
		if s, ok := o.runExplain(ctx, c.ID, email, hScore, mlScore, hres.Evidence); ok {
			llmScore = &s
		}
	}

	final := FinalScore(hScore, mlScore, llmScore)
	verdict, risk := Classify(final, o.cfg.Thresholds)
	category := InferCategory(final, hres.Evidence)

	c.FinalScore = &final
	c.Verdict = verdict
	c.RiskLevel = risk
	c.Category = category
	c.PipelineDuration = time.Since(start)
	c.Status = core.StatusAnalyzed
	if verdict == core.VerdictQuarantined {
		c.Status = core.StatusQuarantined
	}
	if err := o.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist case %s: %w", c.ID, err)
	}

	metrics.Verdicts.WithLabelValues(string(verdict)).Inc()
	metrics.PipelineDuration.Observe(c.PipelineDuration.Seconds())

	o.logger.Info("Email analyzed",
		zap.String("case_id", c.ID),
		zap.Int64("case_number", c.Number),
		zap.String("sender", email.From),
		zap.Float64("heuristic_score", hScore),
		zap.Float64("final_score", final),
		zap.String("verdict", string(verdict)),
		zap.String("category", string(category)),
		zap.Duration("duration", c.PipelineDuration))

	return &core.AnalysisResult{
		CaseID:         c.ID,
		CaseNumber:     c.Number,
		Score:          final,
		Verdict:        verdict,
		RiskLevel:      risk,
		Category:       category,
		HeuristicScore: hScore,
		Duration:       c.PipelineDuration,
	}, nil
}

// snapshot loads the policy lists once per run. A failing store degrades to
// empty lists.
func (o *Orchestrator) snapshot(ctx context.Context) heuristic.PolicySnapshot {
	snap := heuristic.PolicySnapshot{
		Allow: map[string]struct{}{},
		Block: map[string]struct{}{},
	}
	if allow, err := o.repo.ActiveEntries(ctx, core.ListAllow); err != nil {
		o.logger.Error("Failed to load allow list", zap.Error(err))
	} else {
		snap.Allow = allow
	}
	if block, err := o.repo.ActiveEntries(ctx, core.ListBlock); err != nil {
		o.logger.Error("Failed to load block list", zap.Error(err))
	} else {
		snap.Block = block
	}
	return snap
}

func (o *Orchestrator) finishBypass(ctx context.Context, c *core.Case, d bypass.Decision, start time.Time) (*core.AnalysisResult, error) {
	zero := 0.0
	o.save(ctx, &core.Analysis{
		CaseID:      c.ID,
		Stage:       core.StageBypass,
		Score:       &zero,
		Confidence:  1.0,
		Explanation: d.Reason,
		Metadata:    map[string]interface{}{"matched": d.Matched},
		Evidence: []core.Evidence{{
			Type:        core.EvidenceBypass,
			Severity:    core.SeverityLow,
			Description: d.Reason,
			Data:        map[string]interface{}{"matched": d.Matched},
		}},
		ExecutionTime: time.Since(start),
	})

	c.FinalScore = &zero
	c.Verdict = core.VerdictAllowed
	c.RiskLevel = core.RiskLow
	c.Category = core.CategoryClean
	c.Status = core.StatusAnalyzed
	c.PipelineDuration = time.Since(start)
	if err := o.repo.UpdateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist case %s: %w", c.ID, err)
	}

	metrics.Verdicts.WithLabelValues(string(core.VerdictAllowed)).Inc()
	o.logger.Info("Skipping analysis for trusted sender",
		zap.String("case_id", c.ID),
		zap.String("matched", d.Matched),
		zap.String("action", "bypass"))

	return &core.AnalysisResult{
		CaseID:     c.ID,
		CaseNumber: c.Number,
		Score:      0,
		Verdict:    core.VerdictAllowed,
		RiskLevel:  core.RiskLow,
		Category:   core.CategoryClean,
		Bypassed:   true,
		Duration:   c.PipelineDuration,
	}, nil
}

func (o *Orchestrator) runScoring(ctx context.Context, caseID string, email *core.Email) (float64, bool) {
	start := time.Now()
	res := bounded(ctx, o.cfg.ScoringTimeout,
		func(ctx context.Context) core.ScoreResult { return o.scorer.Score(ctx, email.Text()) },
		func(err error) core.ScoreResult { return core.ScoreResult{Err: err} })

	a := &core.Analysis{
		CaseID:        caseID,
		Stage:         core.StageML,
		Metadata:      map[string]interface{}{"available": res.Usable(), "model": res.Model},
		ExecutionTime: time.Since(start),
	}
	if res.Err != nil {
		a.Metadata["error"] = res.Err.Error()
	}

	if !res.Usable() {
		metrics.StageUnavailable.WithLabelValues(string(core.StageML)).Inc()
		o.logger.Warn("Scoring stage unavailable", zap.String("case_id", caseID), zap.Error(res.Err))
		o.save(ctx, a)
		return 0, false
	}

	score := clamp(res.Score)
	a.Score = &score
	a.Confidence = res.Confidence
	a.Explanation = fmt.Sprintf("%s classified the message at %.3f", res.Model, score)
	a.Evidence = []core.Evidence{{
		Type:        core.EvidenceMLScore,
		Severity:    severityFor(score),
		Description: a.Explanation,
		Data:        map[string]interface{}{"score": score, "confidence": res.Confidence},
	}}
	o.save(ctx, a)
	return score, true
}

func (o *Orchestrator) runExplain(ctx context.Context, caseID string, email *core.Email, hScore float64, mlScore *float64, evidence []core.Evidence) (float64, bool) {
	start := time.Now()
	req := core.ExplainRequest{
		Email:          email,
		HeuristicScore: hScore,
		MLScore:        mlScore,
		Evidence:       evidence,
	}
	res := bounded(ctx, o.cfg.ExplainTimeout,
		func(ctx context.Context) core.ExplainResult { return o.explainer.Explain(ctx, req) },
		func(err error) core.ExplainResult {
			return core.ExplainResult{Explanation: fmt.Sprintf("explanation unavailable: %v", err)}
		})

	a := &core.Analysis{
		CaseID:        caseID,
		Stage:         core.StageLLM,
		Explanation:   res.Explanation,
		Metadata:      map[string]interface{}{"available": res.Usable(), "provider": res.ProviderID},
		ExecutionTime: time.Since(start),
	}

	if !res.Usable() {
		metrics.StageUnavailable.WithLabelValues(string(core.StageLLM)).Inc()
		o.logger.Warn("Explanation stage unavailable", zap.String("case_id", caseID))
		o.save(ctx, a)
		return 0, false
	}

	score := clamp(res.Score)
	a.Score = &score
	a.Confidence = res.Confidence
	a.Evidence = []core.Evidence{{
		Type:        core.EvidenceLLMAssessment,
		Severity:    severityFor(score),
		Description: res.Explanation,
		Data:        map[string]interface{}{"provider": res.ProviderID, "score": score},
	}}
	o.save(ctx, a)
	return score, true
}

// save persists an analysis. A repeated stage from a retried run is not an error.
func (o *Orchestrator) save(ctx context.Context, a *core.Analysis) {
	if err := o.repo.SaveAnalysis(ctx, a); err != nil {
		if errors.Is(err, core.ErrDuplicateAnalysis) {
			o.logger.Debug("Analysis already recorded", zap.String("case_id", a.CaseID), zap.String("stage", string(a.Stage)))
			return
		}
		o.logger.Error("Failed to save analysis",
			zap.String("case_id", a.CaseID),
			zap.String("stage", string(a.Stage)),
			zap.Error(err))
	}
}

func storedResult(c *core.Case) *core.AnalysisResult {
	res := &core.AnalysisResult{
		CaseID:     c.ID,
		CaseNumber: c.Number,
		Verdict:    c.Verdict,
		RiskLevel:  c.RiskLevel,
		Category:   c.Category,
		Duration:   c.PipelineDuration,
	}
	if c.FinalScore != nil {
		res.Score = *c.FinalScore
	}
	return res
}

func severityFor(score float64) core.Severity {
	switch {
	case score >= 0.8:
		return core.SeverityCritical
	case score >= 0.6:
		return core.SeverityHigh
	case score >= 0.3:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}
