package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient provides access to the Anthropic Messages API.
type AnthropicClient struct {
	client           *anthropic.Client
	model            string
	maxContextTokens int
	maxOutputTokens  int
	logger           *zap.Logger
}

// AnthropicConfig holds configuration for creating an Anthropic client.
type AnthropicConfig struct {
	Model            string
	APIKey           string
	MaxContextTokens int
	MaxOutputTokens  int
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg *AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	maxOutput := cfg.MaxOutputTokens
	if maxOutput <= 0 {
		maxOutput = 1024
	}

	return &AnthropicClient{
		client:           anthropic.NewClient(cfg.APIKey),
		model:            cfg.Model,
		maxContextTokens: cfg.MaxContextTokens,
		maxOutputTokens:  maxOutput,
		logger:           logger.Named("llm"),
	}, nil
}

// Complete generates a chat completion. System messages are lifted into the
// Messages API system field; user and assistant turns map directly.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, params Params) (*Completion, error) {
	var system string
	turns := make([]anthropic.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantTextMessage(m.Content))
		default:
			turns = append(turns, anthropic.NewUserTextMessage(m.Content))
		}
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  turns,
		MaxTokens: maxTokens,
	}
	if system != "" {
		req.System = system
	}
	if params.Temperature > 0 {
		temp := float32(params.Temperature)
		req.Temperature = &temp
	}

	start := time.Now()
	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyAnthropicError(err)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &Completion{
		Content:          resp.GetFirstContentText(),
		FinishReason:     string(resp.StopReason),
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

// CompleteJSON generates a completion that must parse as JSON.
func (c *AnthropicClient) CompleteJSON(ctx context.Context, messages []Message, params Params, schemaHint string) (json.RawMessage, error) {
	return completeJSON(ctx, c, messages, params, schemaHint)
}

// Name returns the configured model name.
func (c *AnthropicClient) Name() string { return c.model }

// MaxContextTokens returns the model's declared context window.
func (c *AnthropicClient) MaxContextTokens() int { return c.maxContextTokens }

// MaxOutputTokens returns the model's output token limit.
func (c *AnthropicClient) MaxOutputTokens() int { return c.maxOutputTokens }

var _ Provider = (*AnthropicClient)(nil)

// classifyAnthropicError maps API errors, honoring rate-limit responses with
// a retry-after hint.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsRateLimitErr() {
			return &RetryAfterError{After: 5 * time.Second, Cause: ClassifyError(err)}
		}
	}
	return ClassifyError(err)
}
