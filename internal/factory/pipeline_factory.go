package factory

import (
	"github.com/mikey/phish-gateway/internal/bypass"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/heuristic"
	"github.com/mikey/phish-gateway/internal/pipeline"
	"github.com/mikey/phish-gateway/internal/urlresolver"
	"go.uber.org/zap"
)

// PipelineFactory wires the analysis stages into an orchestrator
type PipelineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPipelineFactory creates a new pipeline factory
func NewPipelineFactory(cfg *config.Config, logger *zap.Logger) *PipelineFactory {
	return &PipelineFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateOrchestrator creates the orchestrator; scorer and explainer may be nil
func (f *PipelineFactory) CreateOrchestrator(repo core.Repository, scorer core.Scorer, explainer core.Explainer) *pipeline.Orchestrator {
	resolver := urlresolver.New(f.cfg.GetResolver(), f.logger.Named("resolver"))
	engine := heuristic.NewEngine(f.cfg.GetHeuristic(), resolver, f.logger.Named("heuristic"))
	checker := bypass.NewChecker(f.cfg.GetBypass(), f.logger.Named("bypass"))

	return pipeline.New(repo, checker, engine, scorer, explainer, f.cfg.GetPipeline(), f.logger.Named("pipeline"))
}
