package openai

import (
	"fmt"

	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/explain"
	"github.com/mikey/phish-gateway/internal/utils"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Factory creates OpenAI explanation providers
type Factory struct {
	cfg           config.OpenAIConfig
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewFactory creates a new factory for OpenAI explainers
func NewFactory(cfg config.OpenAIConfig, logger *zap.Logger, textProcessor *utils.TextProcessor) *Factory {
	return &Factory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateProvider creates a new OpenAI explainer
func (f *Factory) CreateProvider() (*Explainer, error) {
	if f.cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	return NewExplainer(
		openai.NewClient(f.cfg.APIKey),
		f.cfg.ModelName,
		f.cfg.MaxTokens,
		f.cfg.Temperature,
		f.cfg.TopP,
		explain.NewPromptBuilder(f.textProcessor, f.cfg.MaxBodySize),
		f.logger,
	), nil
}
