package openai

import (
	"context"
	"fmt"

	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/explain"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChatClient is the subset of the OpenAI client used by the explainer
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Explainer is an explanation provider backed by OpenAI chat completions
type Explainer struct {
	client      ChatClient
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	prompts     *explain.PromptBuilder
	logger      *zap.Logger
}

// NewExplainer creates a new OpenAI explanation provider
func NewExplainer(
	client ChatClient,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	prompts *explain.PromptBuilder,
	logger *zap.Logger,
) *Explainer {
	return &Explainer{
		client:      client,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		prompts:     prompts,
		logger:      logger,
	}
}

// Name identifies the provider
func (e *Explainer) Name() string {
	return "openai"
}

// Explain asks the model for an assessment of the message
func (e *Explainer) Explain(ctx context.Context, req core.ExplainRequest) (core.ExplainResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: e.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: explain.SystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: e.prompts.Build(req),
			},
		},
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
		TopP:        e.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := e.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return core.ExplainResult{}, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.ExplainResult{}, fmt.Errorf("empty response from OpenAI")
	}

	assessment, err := explain.ParseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		return core.ExplainResult{}, err
	}

	e.logger.Debug("OpenAI assessment received",
		zap.String("model", e.modelName),
		zap.String("response_id", resp.ID),
		zap.Float64("score", assessment.Score))

	return assessment.Result(e.Name() + ":" + e.modelName), nil
}
