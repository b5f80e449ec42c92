// Package llm provides language model provider clients for SQL generation,
// ontology extraction and embeddings.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params tunes a single completion call.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Completion is the result of a chat completion.
type Completion struct {
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Provider is the capability interface for a language model endpoint.
// Use it for dependency injection to enable mocking in tests.
type Provider interface {
	// Complete generates a chat completion.
	Complete(ctx context.Context, messages []Message, params Params) (*Completion, error)

	// CompleteJSON generates a completion that must be valid JSON. On a
	// non-JSON response it retries once with a stricter JSON-only system
	// message, then fails.
	CompleteJSON(ctx context.Context, messages []Message, params Params, schemaHint string) (json.RawMessage, error)

	// Name returns a provider-agnostic model name for logging and traces.
	Name() string

	// MaxContextTokens returns the model's declared context window.
	MaxContextTokens() int

	// MaxOutputTokens returns the model's output token limit.
	MaxOutputTokens() int
}

// Embedder generates dense vectors for retrieval.
type Embedder interface {
	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)

	// EmbeddingModel returns the model used for embeddings. Fixed for the
	// lifetime of a collection.
	EmbeddingModel() string
}
