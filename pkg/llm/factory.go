package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
)

// NewProvider builds a Provider from the llm configuration section. The
// reload coordinator calls this again when the section changes.
func NewProvider(cfg *config.LLMConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(&OpenAIConfig{
			Endpoint:         cfg.Endpoint,
			Model:            cfg.Model,
			APIKey:           cfg.APIKey,
			EmbeddingModel:   cfg.EmbeddingModel,
			MaxContextTokens: cfg.MaxContextTokens,
			MaxOutputTokens:  cfg.MaxOutputTokens,
		}, logger)
	case "anthropic":
		return NewAnthropicClient(&AnthropicConfig{
			Model:            cfg.Model,
			APIKey:           cfg.APIKey,
			MaxContextTokens: cfg.MaxContextTokens,
			MaxOutputTokens:  cfg.MaxOutputTokens,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewEmbedder builds an Embedder from the llm configuration section.
// Anthropic has no embeddings endpoint, so embeddings always go through the
// OpenAI-compatible client.
func NewEmbedder(cfg *config.LLMConfig, logger *zap.Logger) (Embedder, error) {
	return NewOpenAIClient(&OpenAIConfig{
		Endpoint:         cfg.Endpoint,
		Model:            cfg.Model,
		APIKey:           cfg.APIKey,
		EmbeddingModel:   cfg.EmbeddingModel,
		MaxContextTokens: cfg.MaxContextTokens,
		MaxOutputTokens:  cfg.MaxOutputTokens,
	}, logger)
}
