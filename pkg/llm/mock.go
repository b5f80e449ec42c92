package llm

import (
	"context"
	"encoding/json"
)

// MockProvider is a configurable mock for testing LLM-driven behavior.
// Set the function fields to control responses in tests.
type MockProvider struct {
	// CompleteFunc is called when Complete is invoked. If nil, returns an
	// empty completion.
	CompleteFunc func(ctx context.Context, messages []Message, params Params) (*Completion, error)

	// CompleteJSONFunc is called when CompleteJSON is invoked. If nil, the
	// default JSON contract runs over CompleteFunc.
	CompleteJSONFunc func(ctx context.Context, messages []Message, params Params, schemaHint string) (json.RawMessage, error)

	// CreateEmbeddingFunc is called for both single and batch embedding
	// requests. If nil, returns a fixed unit vector so cosine math stays
	// well-defined in tests.
	CreateEmbeddingFunc func(ctx context.Context, input string) ([]float32, error)

	// Model is returned by Name. Defaults to "mock-model".
	Model string

	// ContextTokens is returned by MaxContextTokens. Defaults to 8000.
	ContextTokens int

	// OutputTokens is returned by MaxOutputTokens. Defaults to 1024.
	OutputTokens int

	// Call tracking for verification.
	CompleteCalls     int
	CompleteJSONCalls int
	EmbeddingCalls    int

	// Prompts records every prompt passed to Complete, for assertions on
	// prompt content and size.
	Prompts [][]Message
}

// NewMockProvider creates a mock with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Model:         "mock-model",
		ContextTokens: 8000,
		OutputTokens:  1024,
	}
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, messages []Message, params Params) (*Completion, error) {
	m.CompleteCalls++
	m.Prompts = append(m.Prompts, messages)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages, params)
	}
	return &Completion{}, nil
}

// CompleteJSON implements Provider.
func (m *MockProvider) CompleteJSON(ctx context.Context, messages []Message, params Params, schemaHint string) (json.RawMessage, error) {
	m.CompleteJSONCalls++
	m.Prompts = append(m.Prompts, messages)
	if m.CompleteJSONFunc != nil {
		return m.CompleteJSONFunc(ctx, messages, params, schemaHint)
	}
	return completeJSON(ctx, m, messages, params, schemaHint)
}

// CreateEmbedding implements Embedder.
func (m *MockProvider) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	m.EmbeddingCalls++
	if m.CreateEmbeddingFunc != nil {
		return m.CreateEmbeddingFunc(ctx, input)
	}
	return []float32{1, 0, 0}, nil
}

// CreateEmbeddings implements Embedder.
func (m *MockProvider) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec, err := m.CreateEmbedding(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// EmbeddingModel implements Embedder.
func (m *MockProvider) EmbeddingModel() string { return "mock-embedding" }

// Name implements Provider.
func (m *MockProvider) Name() string { return m.Model }

// MaxContextTokens implements Provider.
func (m *MockProvider) MaxContextTokens() int {
	if m.ContextTokens > 0 {
		return m.ContextTokens
	}
	return 8000
}

// MaxOutputTokens implements Provider.
func (m *MockProvider) MaxOutputTokens() int {
	if m.OutputTokens > 0 {
		return m.OutputTokens
	}
	return 1024
}

var (
	_ Provider = (*MockProvider)(nil)
	_ Embedder = (*MockProvider)(nil)
)
