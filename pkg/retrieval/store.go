package retrieval

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/llm"
)

// Record is one past query pair.
type Record struct {
	ID           string    `json:"id"`
	UserQuery    string    `json:"user_query"`
	SQLQuery     string    `json:"sql_query"`
	ConnectionID string    `json:"connection_id"`
	Dialect      string    `json:"dialect"`
	SchemaName   string    `json:"schema_name"`
	Success      bool      `json:"success"`
	CreatedAt    time.Time `json:"created_at"`
}

// Example is one retrieved few-shot example with its similarity score.
type Example struct {
	UserQuery string  `json:"user_query"`
	SQLQuery  string  `json:"sql_query"`
	Score     float64 `json:"score"`
}

// recordNamespace seeds the deterministic record IDs.
var recordNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// RecordID derives the deterministic ID of a record. Recording the same
// (user_query, sql_query, connection_id) twice overwrites rather than
// duplicates.
func RecordID(userQuery, sqlQuery, connectionID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(userQuery+"\x00"+sqlQuery+"\x00"+connectionID)).String()
}

// Store records past queries and retrieves similar ones.
type Store struct {
	cfg      config.RetrievalConfig
	backend  VectorBackend
	embedder llm.Embedder
	logger   *zap.Logger
}

// NewStore creates a retrieval store over the given backend and embedder.
func NewStore(cfg config.RetrievalConfig, backend VectorBackend, embedder llm.Embedder, logger *zap.Logger) *Store {
	return &Store{
		cfg:      cfg,
		backend:  backend,
		embedder: embedder,
		logger:   logger.Named("retrieval-store"),
	}
}

// Record stores one past query pair, embedding the user query.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if !s.cfg.Enabled {
		return apperrors.ErrDisabled
	}
	if rec.UserQuery == "" || rec.SQLQuery == "" {
		return fmt.Errorf("record requires user_query and sql_query")
	}

	vector, err := s.embedder.CreateEmbedding(ctx, rec.UserQuery)
	if err != nil {
		return fmt.Errorf("embed user query: %w", err)
	}

	if rec.ID == "" {
		rec.ID = RecordID(rec.UserQuery, rec.SQLQuery, rec.ConnectionID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	doc := Document{
		ID:     rec.ID,
		Vector: vector,
		Payload: map[string]any{
			"user_query":    rec.UserQuery,
			"sql_query":     rec.SQLQuery,
			"connection_id": rec.ConnectionID,
			"dialect":       rec.Dialect,
			"schema_name":   rec.SchemaName,
			"success":       rec.Success,
			"created_at":    rec.CreatedAt.Format(time.RFC3339),
		},
	}

	if err := s.backend.Upsert(ctx, s.cfg.Collection, []Document{doc}); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	s.logger.Debug("recorded query pair",
		zap.String("id", rec.ID),
		zap.String("connection_id", rec.ConnectionID))
	return nil
}

// Search returns the topK most similar successful past queries for the same
// dialect and schema, above the similarity threshold, best first.
func (s *Store) Search(ctx context.Context, userQuery, dialect, schemaName string) ([]Example, error) {
	if !s.cfg.Enabled {
		return nil, apperrors.ErrDisabled
	}

	vector, err := s.embedder.CreateEmbedding(ctx, userQuery)
	if err != nil {
		return nil, fmt.Errorf("embed user query: %w", err)
	}

	filter := map[string]any{
		"dialect":     dialect,
		"schema_name": schemaName,
		"success":     true,
	}

	hits, err := s.backend.Search(ctx, s.cfg.Collection, vector, s.cfg.TopK, s.cfg.SimilarityThreshold, filter)
	if err != nil {
		if err == apperrors.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}

	examples := make([]Example, 0, len(hits))
	for _, h := range hits {
		uq, _ := h.Payload["user_query"].(string)
		sq, _ := h.Payload["sql_query"].(string)
		examples = append(examples, Example{UserQuery: uq, SQLQuery: sq, Score: h.Score})
	}
	return examples, nil
}

// FormatExamples renders retrieved examples as a prompt block.
func FormatExamples(examples []Example) string {
	if len(examples) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Similar past queries:\n")
	for _, ex := range examples {
		sb.WriteString("Q: " + ex.UserQuery + "\n")
		sb.WriteString("SQL: " + ex.SQLQuery + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// BulkImport reads CSV rows of the form
// user_query,sql_query,connection_id,dialect,schema_name and records each
// as a successful pair. A header row starting with "user_query" is skipped.
// Returns the number imported; individual bad rows are skipped and logged.
func (s *Store) BulkImport(ctx context.Context, r io.Reader) (int, error) {
	if !s.cfg.Enabled {
		return 0, apperrors.ErrDisabled
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	imported := 0
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("csv read line %d: %w", line, err)
		}
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "user_query") {
			continue
		}
		if len(row) < 2 {
			s.logger.Warn("skipping short csv row", zap.Int("line", line))
			continue
		}

		rec := Record{
			UserQuery: strings.TrimSpace(row[0]),
			SQLQuery:  strings.TrimSpace(row[1]),
			Success:   true,
		}
		if len(row) > 2 {
			rec.ConnectionID = strings.TrimSpace(row[2])
		}
		if len(row) > 3 {
			rec.Dialect = strings.TrimSpace(row[3])
		}
		if len(row) > 4 {
			rec.SchemaName = strings.TrimSpace(row[4])
		}

		if err := s.Record(ctx, rec); err != nil {
			s.logger.Warn("skipping csv row", zap.Int("line", line), zap.Error(err))
			continue
		}
		imported++
	}
	return imported, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.backend.Count(ctx, s.cfg.Collection)
	if err == apperrors.ErrNotFound {
		return 0, nil
	}
	return n, err
}

// Clear removes every stored record.
func (s *Store) Clear(ctx context.Context) error {
	err := s.backend.Clear(ctx, s.cfg.Collection)
	if err == apperrors.ErrNotFound {
		return nil
	}
	return err
}
