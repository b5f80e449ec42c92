// Package retrieval stores past successful query pairs and surfaces
// semantically similar ones as few-shot examples for generation.
package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
)

// Document is one stored vector with its payload.
type Document struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is one search result.
type Hit struct {
	Document
	Score float64
}

// VectorBackend is the similarity store. Implementations must be safe for
// concurrent use.
type VectorBackend interface {
	CreateCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Search returns the topK most similar documents above minScore,
	// descending by score. The filter restricts results to documents whose
	// payload matches every key exactly.
	Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64, filter map[string]any) ([]Hit, error)

	Delete(ctx context.Context, collection string, ids []string) error
	Count(ctx context.Context, collection string) (int, error)

	// Clear removes every document in the collection.
	Clear(ctx context.Context, collection string) error
}

// MemoryVectorBackend is an in-process cosine-similarity store.
type MemoryVectorBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemoryVectorBackend creates an empty vector store.
func NewMemoryVectorBackend() *MemoryVectorBackend {
	return &MemoryVectorBackend{collections: make(map[string]map[string]Document)}
}

var _ VectorBackend = (*MemoryVectorBackend)(nil)

func (m *MemoryVectorBackend) CreateCollection(_ context.Context, name string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]Document)
	}
	return nil
}

func (m *MemoryVectorBackend) Upsert(_ context.Context, collection string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Document)
		m.collections[collection] = coll
	}
	for _, d := range docs {
		coll[d.ID] = d
	}
	return nil
}

func (m *MemoryVectorBackend) Search(_ context.Context, collection string, vector []float32, topK int, minScore float64, filter map[string]any) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[collection]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	var hits []Hit
	for _, d := range coll {
		if !payloadMatches(d.Payload, filter) {
			continue
		}
		score := CosineSimilarity(vector, d.Vector)
		if score < minScore {
			continue
		}
		hits = append(hits, Hit{Document: d, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryVectorBackend) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		return apperrors.ErrNotFound
	}
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (m *MemoryVectorBackend) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collection]
	if !ok {
		return 0, apperrors.ErrNotFound
	}
	return len(coll), nil
}

func (m *MemoryVectorBackend) Clear(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		return apperrors.ErrNotFound
	}
	m.collections[collection] = make(map[string]Document)
	return nil
}

func payloadMatches(payload, filter map[string]any) bool {
	for k, want := range filter {
		if payload[k] != want {
			return false
		}
	}
	return true
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
