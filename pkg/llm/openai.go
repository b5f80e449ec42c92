package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient provides access to OpenAI-compatible LLM endpoints, including
// local servers (vLLM, Ollama) that speak the same protocol.
type OpenAIClient struct {
	client           *openai.Client
	endpoint         string
	model            string
	embeddingModel   string
	maxContextTokens int
	maxOutputTokens  int
	logger           *zap.Logger
}

// OpenAIConfig holds configuration for creating an OpenAI-compatible client.
type OpenAIConfig struct {
	Endpoint         string // Base URL, e.g. "https://api.openai.com/v1"
	Model            string
	APIKey           string // Optional for local endpoints
	EmbeddingModel   string
	MaxContextTokens int
	MaxOutputTokens  int
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(cfg *OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	return &OpenAIClient{
		client:           openai.NewClientWithConfig(clientConfig),
		endpoint:         cfg.Endpoint,
		model:            cfg.Model,
		embeddingModel:   embeddingModel,
		maxContextTokens: cfg.MaxContextTokens,
		maxOutputTokens:  cfg.MaxOutputTokens,
		logger:           logger.Named("llm"),
	}, nil
}

// Complete generates a chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, params Params) (*Completion, error) {
	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxOutputTokens
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("messages", len(messages)),
		zap.Float64("temperature", params.Temperature))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(params.Temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, ClassifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, ClassifyError(fmt.Errorf("no choices in response"))
	}

	choice := resp.Choices[0]
	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &Completion{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// CompleteJSON generates a completion that must parse as JSON, retrying once
// with a stricter system message on malformed output.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, messages []Message, params Params, schemaHint string) (json.RawMessage, error) {
	return completeJSON(ctx, c, messages, params, schemaHint)
}

// CreateEmbedding generates an embedding vector for the input text.
func (c *OpenAIClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings generates embeddings for multiple inputs.
func (c *OpenAIClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", ClassifyError(err))
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

// Name returns the configured model name.
func (c *OpenAIClient) Name() string { return c.model }

// EmbeddingModel returns the embedding model name.
func (c *OpenAIClient) EmbeddingModel() string { return c.embeddingModel }

// MaxContextTokens returns the model's declared context window.
func (c *OpenAIClient) MaxContextTokens() int { return c.maxContextTokens }

// MaxOutputTokens returns the model's output token limit.
func (c *OpenAIClient) MaxOutputTokens() int { return c.maxOutputTokens }

var (
	_ Provider = (*OpenAIClient)(nil)
	_ Embedder = (*OpenAIClient)(nil)
)

// jsonOnlySystem is appended on the retry pass of CompleteJSON.
const jsonOnlySystem = "Respond with valid JSON only. No prose, no markdown fences, no explanations outside the JSON."

// completeJSON implements the shared JSON contract: one attempt, then one
// retry with a stricter system message, then failure.
func completeJSON(ctx context.Context, p Provider, messages []Message, params Params, schemaHint string) (json.RawMessage, error) {
	attempt := messages
	if schemaHint != "" {
		attempt = append([]Message{}, messages...)
		attempt = append(attempt, Message{Role: RoleUser, Content: "The JSON must match this shape:\n" + schemaHint})
	}

	comp, err := p.Complete(ctx, attempt, params)
	if err != nil {
		return nil, err
	}

	jsonStr, jerr := ExtractJSON(comp.Content)
	if jerr == nil {
		return json.RawMessage(jsonStr), nil
	}

	strict := append([]Message{{Role: RoleSystem, Content: jsonOnlySystem}}, attempt...)
	comp, err = p.Complete(ctx, strict, params)
	if err != nil {
		return nil, err
	}

	jsonStr, jerr = ExtractJSON(comp.Content)
	if jerr != nil {
		return nil, ClassifyError(fmt.Errorf("malformed JSON after strict retry: %w", jerr))
	}
	return json.RawMessage(jsonStr), nil
}
