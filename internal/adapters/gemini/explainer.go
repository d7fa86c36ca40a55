package gemini

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/explain"
	"go.uber.org/zap"
)

// Generator is the subset of genai.GenerativeModel used by the explainer
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Explainer is an explanation provider backed by Google Gemini
type Explainer struct {
	model     Generator
	closer    io.Closer
	modelName string
	prompts   *explain.PromptBuilder
	logger    *zap.Logger
}

// NewExplainer creates a new Gemini explanation provider. closer may be nil.
func NewExplainer(model Generator, closer io.Closer, modelName string, prompts *explain.PromptBuilder, logger *zap.Logger) *Explainer {
	return &Explainer{
		model:     model,
		closer:    closer,
		modelName: modelName,
		prompts:   prompts,
		logger:    logger,
	}
}

// Name identifies the provider
func (e *Explainer) Name() string {
	return "gemini"
}

// Explain asks the model for an assessment of the message
func (e *Explainer) Explain(ctx context.Context, req core.ExplainRequest) (core.ExplainResult, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(e.prompts.Build(req)))
	if err != nil {
		return core.ExplainResult{}, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return core.ExplainResult{}, fmt.Errorf("empty response from Gemini")
	}

	assessment, err := explain.ParseAssessment(text)
	if err != nil {
		return core.ExplainResult{}, err
	}

	e.logger.Debug("Gemini assessment received",
		zap.String("model", e.modelName),
		zap.Float64("score", assessment.Score))

	return assessment.Result(e.Name() + ":" + e.modelName), nil
}

// Close closes the underlying client
func (e *Explainer) Close() error {
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
