package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/explain"
	"go.uber.org/zap"
)

// InvokeModelAPI is the subset of the Bedrock runtime client used by the explainer
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Explainer is an explanation provider backed by Amazon Bedrock
type Explainer struct {
	client      InvokeModelAPI
	modelID     string
	maxTokens   int
	temperature float32
	topP        float32
	prompts     *explain.PromptBuilder
	logger      *zap.Logger
}

// NewExplainer creates a new Bedrock explanation provider
func NewExplainer(
	client InvokeModelAPI,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	prompts *explain.PromptBuilder,
	logger *zap.Logger,
) *Explainer {
	return &Explainer{
		client:      client,
		modelID:     modelID,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		prompts:     prompts,
		logger:      logger,
	}
}

// Name identifies the provider
func (e *Explainer) Name() string {
	return "bedrock"
}

// Explain asks the model for an assessment of the message
func (e *Explainer) Explain(ctx context.Context, req core.ExplainRequest) (core.ExplainResult, error) {
	payload, err := e.payload(e.prompts.Build(req))
	if err != nil {
		return core.ExplainResult{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return core.ExplainResult{}, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	text, err := e.responseText(resp.Body)
	if err != nil {
		return core.ExplainResult{}, err
	}

	assessment, err := explain.ParseAssessment(text)
	if err != nil {
		return core.ExplainResult{}, err
	}

	e.logger.Debug("Bedrock assessment received",
		zap.String("model", e.modelID),
		zap.Float64("score", assessment.Score))

	return assessment.Result(e.Name() + ":" + e.modelID), nil
}

func (e *Explainer) payload(prompt string) ([]byte, error) {
	switch {
	case e.isAnthropicModel():
		return json.Marshal(map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        e.maxTokens,
			"temperature":       e.temperature,
			"top_p":             e.topP,
			"system":            explain.SystemPrompt,
			"messages": []map[string]interface{}{
				{"role": "user", "content": prompt},
			},
		})
	case e.isAmazonTitanModel():
		return json.Marshal(map[string]interface{}{
			"inputText": explain.SystemPrompt + "\n\n" + prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": e.maxTokens,
				"temperature":   e.temperature,
				"topP":          e.topP,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"prompt":      explain.SystemPrompt + "\n\n" + prompt,
			"max_tokens":  e.maxTokens,
			"temperature": e.temperature,
			"top_p":       e.topP,
		})
	}
}

func (e *Explainer) responseText(body []byte) (string, error) {
	switch {
	case e.isAnthropicModel():
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		var b strings.Builder
		for _, c := range resp.Content {
			if c.Type == "text" {
				b.WriteString(c.Text)
			}
		}
		if b.Len() == 0 {
			return "", fmt.Errorf("empty response from Claude model")
		}
		return b.String(), nil
	case e.isAmazonTitanModel():
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(resp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return resp.Results[0].OutputText, nil
	default:
		var resp struct {
			Output     string `json:"output"`
			Text       string `json:"text"`
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return string(body), nil
		}
		for _, s := range []string{resp.Output, resp.Text, resp.Generation} {
			if s != "" {
				return s, nil
			}
		}
		return string(body), nil
	}
}

func (e *Explainer) isAnthropicModel() bool {
	return strings.HasPrefix(e.modelID, "anthropic.") || strings.Contains(e.modelID, ".anthropic.")
}

func (e *Explainer) isAmazonTitanModel() bool {
	return strings.HasPrefix(e.modelID, "amazon.titan")
}
