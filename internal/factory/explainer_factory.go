package factory

import (
	"context"
	"fmt"

	"github.com/mikey/phish-gateway/internal/adapters/bedrock"
	"github.com/mikey/phish-gateway/internal/adapters/gemini"
	"github.com/mikey/phish-gateway/internal/adapters/openai"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/explain"
	"github.com/mikey/phish-gateway/internal/utils"
	"go.uber.org/zap"
)

// ExplainerFactory creates the LLM explanation stage
type ExplainerFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewExplainerFactory creates a new explainer factory
func NewExplainerFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ExplainerFactory {
	return &ExplainerFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateExplainer builds a fallback chain from llm.provider and llm.secondary_provider.
// It returns nil when no provider is configured.
func (f *ExplainerFactory) CreateExplainer(ctx context.Context) (core.Explainer, error) {
	llmCfg := f.cfg.GetLLM()
	if llmCfg.Provider == "" {
		f.logger.Info("No LLM provider configured, explanation stage disabled")
		return nil, nil
	}

	primary, err := f.createProvider(ctx, llmCfg.Provider)
	if err != nil {
		return nil, err
	}
	providers := []core.ExplanationProvider{primary}

	if llmCfg.SecondaryProvider != "" && llmCfg.SecondaryProvider != llmCfg.Provider {
		secondary, err := f.createProvider(ctx, llmCfg.SecondaryProvider)
		if err != nil {
			f.logger.Warn("Secondary LLM provider unavailable",
				zap.String("provider", llmCfg.SecondaryProvider),
				zap.Error(err))
		} else {
			providers = append(providers, secondary)
		}
	}

	f.logger.Info("Explanation stage configured",
		zap.String("provider", llmCfg.Provider),
		zap.String("secondary_provider", llmCfg.SecondaryProvider))
	return explain.NewFallback(f.logger.Named("explain"), providers...), nil
}

func (f *ExplainerFactory) createProvider(ctx context.Context, name string) (core.ExplanationProvider, error) {
	switch name {
	case "bedrock":
		return bedrock.NewFactory(f.cfg.GetBedrock(), f.logger, f.textProcessor).CreateProvider(ctx)
	case "gemini":
		return gemini.NewFactory(f.cfg.GetGemini(), f.logger, f.textProcessor).CreateProvider(ctx)
	case "openai":
		return openai.NewFactory(f.cfg.GetOpenAI(), f.logger, f.textProcessor).CreateProvider()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", name)
	}
}
