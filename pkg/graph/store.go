package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/ontology"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

// minPropertyWordLen is the shortest question word considered for compound
// property matching, mirroring the ontology resolver.
const minPropertyWordLen = 4

// Service owns the knowledge graph: it synchronizes schema and ontology
// into the backend and answers relevance and join-path questions.
//
// When the primary backend is external, every write is mirrored into an
// in-memory fallback and reads retry on the mirror when the primary fails
// mid-flight. The graph layer is advisory and must not block queries.
type Service struct {
	cfg      config.GraphConfig
	backend  Backend
	fallback *MemoryBackend // nil when the primary is already in-memory
	logger   *zap.Logger
}

// NewService builds the graph service. When the configured external backend
// cannot be reached at startup the service runs on the in-memory backend
// alone; when it connects, an in-memory mirror shadows it for call-time
// degradation.
func NewService(ctx context.Context, cfg config.GraphConfig, logger *zap.Logger) *Service {
	logger = logger.Named("graph-service")

	var backend Backend
	if cfg.Backend == "neo4j" && cfg.URI != "" {
		b, err := NewNeo4jBackend(ctx, cfg.URI, cfg.Username, cfg.Password)
		if err != nil {
			logger.Warn("neo4j unavailable, falling back to in-memory graph",
				zap.String("uri", cfg.URI),
				zap.Error(err))
		} else {
			backend = b
		}
	}

	var fallback *MemoryBackend
	if backend == nil {
		backend = NewMemoryBackend()
	} else {
		fallback = NewMemoryBackend()
	}

	return &Service{cfg: cfg, backend: backend, fallback: fallback, logger: logger}
}

// NewServiceWithBackend wires an explicit backend. Non-memory backends get
// an in-memory mirror, same as NewService. Used by tests.
func NewServiceWithBackend(cfg config.GraphConfig, backend Backend, logger *zap.Logger) *Service {
	s := &Service{cfg: cfg, backend: backend, logger: logger.Named("graph-service")}
	if _, ok := backend.(*MemoryBackend); !ok {
		s.fallback = NewMemoryBackend()
	}
	return s
}

// Sync replaces the connection's subgraph from the snapshot and, when
// available, the ontology. Idempotent: node and edge identity is
// deterministic, and the previous subgraph is cleared first. A failing
// external backend degrades to the in-memory mirror instead of failing the
// sync.
func (s *Service) Sync(ctx context.Context, connectionID string, snap *schema.Snapshot, o *ontology.Ontology) (*SyncReport, error) {
	if !s.cfg.Enabled {
		return nil, apperrors.ErrDisabled
	}

	nodes, edges := buildSubgraph(connectionID, snap, o)

	if err := s.backend.ReplaceSubgraph(ctx, connectionID, nodes, edges); err != nil {
		if s.fallback == nil {
			return nil, fmt.Errorf("graph sync: %w", err)
		}
		s.logger.Warn("graph backend write failed, degrading to in-memory mirror",
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
	if s.fallback != nil {
		if err := s.fallback.ReplaceSubgraph(ctx, connectionID, nodes, edges); err != nil {
			return nil, fmt.Errorf("graph mirror sync: %w", err)
		}
	}

	report := &SyncReport{ConnectionID: connectionID, Nodes: len(nodes), Edges: len(edges)}
	s.logger.Info("graph synchronized",
		zap.String("connection_id", connectionID),
		zap.Int("nodes", report.Nodes),
		zap.Int("edges", report.Edges))
	return report, nil
}

// buildSubgraph derives the node and edge set for one connection. Table
// node names are lowercased so lookups are case-insensitive.
//
// The projection: Database -HAS_SCHEMA-> Schema -CONTAINS-> Table
// -HAS_COLUMN-> Column, with column-level REFERENCES edges carrying the
// constraint name, table-level RELATED_TO edges derived from the same
// foreign keys, Table -HAS_INDEX-> Index, and the ontology's
// Concept -HAS_PROPERTY-> Property -MAPS_TO_COLUMN-> Column chain.
// Tables without a schema qualifier hang off the database directly.
func buildSubgraph(connectionID string, snap *schema.Snapshot, o *ontology.Ontology) ([]Node, []Edge) {
	var nodes []Node
	var edges []Edge

	dbID := DatabaseNodeID(connectionID)
	nodes = append(nodes, Node{
		ID:           dbID,
		Label:        LabelDatabase,
		Name:         snap.DatabaseName,
		ConnectionID: connectionID,
	})

	schemaSeen := make(map[string]bool)
	for i := range snap.Tables {
		t := &snap.Tables[i]
		tName := strings.ToLower(t.TableName)
		tID := TableNodeID(connectionID, tName)
		nodes = append(nodes, Node{
			ID:           tID,
			Label:        LabelTable,
			Name:         tName,
			ConnectionID: connectionID,
			Props:        map[string]any{"row_count": t.RowCount, "full_name": t.FullName},
		})

		if schemaName, ok := schemaOf(t); ok {
			sID := SchemaNodeID(connectionID, schemaName)
			if !schemaSeen[schemaName] {
				schemaSeen[schemaName] = true
				nodes = append(nodes, Node{
					ID:           sID,
					Label:        LabelSchema,
					Name:         schemaName,
					ConnectionID: connectionID,
				})
				edges = append(edges, Edge{FromID: dbID, ToID: sID, Type: EdgeHasSchema})
			}
			edges = append(edges, Edge{FromID: sID, ToID: tID, Type: EdgeContains})
		} else {
			edges = append(edges, Edge{FromID: dbID, ToID: tID, Type: EdgeContains})
		}

		for _, c := range t.Columns {
			cID := ColumnNodeID(connectionID, tName, strings.ToLower(c.Name))
			nodes = append(nodes, Node{
				ID:           cID,
				Label:        LabelColumn,
				Name:         strings.ToLower(c.Name),
				ConnectionID: connectionID,
				Props: map[string]any{
					"data_type":   c.DataType,
					"primary_key": c.IsPrimaryKey,
					"nullable":    c.IsNullable,
				},
			})
			edges = append(edges, Edge{FromID: tID, ToID: cID, Type: EdgeHasColumn})
		}

		for _, idx := range t.Indexes {
			idxID := IndexNodeID(connectionID, tName, strings.ToLower(idx.Name))
			nodes = append(nodes, Node{
				ID:           idxID,
				Label:        LabelIndex,
				Name:         strings.ToLower(idx.Name),
				ConnectionID: connectionID,
				Props: map[string]any{
					"unique":  idx.Unique,
					"columns": strings.ToLower(strings.Join(idx.Columns, ",")),
				},
			})
			edges = append(edges, Edge{FromID: tID, ToID: idxID, Type: EdgeHasIndex})
		}

		for _, fk := range t.ForeignKeys {
			refTable := strings.ToLower(fk.RefTable)
			edges = append(edges, Edge{
				FromID: ColumnNodeID(connectionID, tName, strings.ToLower(fk.Column)),
				ToID:   ColumnNodeID(connectionID, refTable, strings.ToLower(fk.RefColumn)),
				Type:   EdgeReferences,
				Props:  map[string]any{"constraint_name": fk.ConstraintName},
			})
			// The same key, lifted to table level for join-path search.
			edges = append(edges, Edge{
				FromID: tID,
				ToID:   TableNodeID(connectionID, refTable),
				Type:   EdgeRelatedTo,
				Props: map[string]any{
					"from_column":     strings.ToLower(fk.Column),
					"to_column":       strings.ToLower(fk.RefColumn),
					"constraint_name": fk.ConstraintName,
				},
			})
		}
	}

	if o != nil {
		for _, c := range o.Concepts {
			conceptID := ConceptNodeID(connectionID, c.Name)
			nodes = append(nodes, Node{
				ID:           conceptID,
				Label:        LabelConcept,
				Name:         c.Name,
				ConnectionID: connectionID,
				Props:        map[string]any{"description": c.Description},
			})
		}
		for _, p := range o.Properties {
			propID := PropertyNodeID(connectionID, p.Concept, p.PropertyName)
			nodes = append(nodes, Node{
				ID:           propID,
				Label:        LabelProperty,
				Name:         p.PropertyName,
				ConnectionID: connectionID,
				Props:        map[string]any{"semantic_meaning": p.SemanticMeaning},
			})
			edges = append(edges, Edge{
				FromID: ConceptNodeID(connectionID, p.Concept),
				ToID:   propID,
				Type:   EdgeHasProperty,
			})
			edges = append(edges, Edge{
				FromID: propID,
				ToID:   ColumnNodeID(connectionID, strings.ToLower(p.Table), strings.ToLower(p.Column)),
				Type:   EdgeMapsToColumn,
				Props:  map[string]any{"confidence": p.Confidence},
			})
		}
	}

	return nodes, edges
}

// schemaOf extracts the schema qualifier from a table's full name.
func schemaOf(t *schema.TableInfo) (string, bool) {
	prefix, _, found := strings.Cut(t.FullName, ".")
	if !found || prefix == "" {
		return "", false
	}
	return strings.ToLower(prefix), true
}

// Insights answers "what in the graph is relevant to this question": tables
// whose names appear in the question, concepts matched by name or through
// their properties, suggested columns grouped by table, neighboring tables
// one join away from the hits, and join paths connecting the matched
// tables. Reads retry on the in-memory mirror when the primary backend
// fails.
func (s *Service) Insights(ctx context.Context, connectionID, userQuery string, o *ontology.Ontology) ([]Insight, error) {
	if !s.cfg.Enabled {
		return nil, apperrors.ErrDisabled
	}

	q := strings.ToLower(userQuery)
	var insights []Insight

	be := s.backend
	tables, err := be.Nodes(ctx, connectionID, LabelTable)
	if err != nil && s.fallback != nil {
		s.logger.Warn("graph backend read failed, serving from in-memory mirror",
			zap.Error(err))
		be = s.fallback
		tables, err = be.Nodes(ctx, connectionID, LabelTable)
	}
	if err != nil {
		return nil, fmt.Errorf("graph insights: %w", err)
	}

	var matched []string
	for _, t := range tables {
		if tableNameMatches(q, t.Name) {
			matched = append(matched, t.Name)
			insights = append(insights, Insight{
				Kind:       "table",
				Text:       fmt.Sprintf("table %s is mentioned in the question", t.Name),
				Confidence: 0.9,
			})
		}
	}

	if o != nil {
		for _, c := range o.Concepts {
			if !conceptMentioned(q, &c) {
				continue
			}
			for _, tbl := range c.Tables {
				name := strings.ToLower(tbl)
				if !contains(matched, name) {
					matched = append(matched, name)
				}
				insights = append(insights, Insight{
					Kind:       "concept_mapping",
					Text:       fmt.Sprintf("concept %s maps to table %s", c.Name, name),
					Confidence: 0.8,
				})
			}
		}

		propInsights, propTables := propertyInsights(q, o)
		insights = append(insights, propInsights...)
		for _, name := range propTables {
			if !contains(matched, name) {
				matched = append(matched, name)
			}
		}
	}

	insights = append(insights, s.relatedTableInsights(ctx, be, connectionID, matched)...)

	maxDepth := s.cfg.MaxJoinDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	for i := 0; i < len(matched); i++ {
		for j := i + 1; j < len(matched); j++ {
			path, err := be.ShortestJoinPath(ctx, connectionID, matched[i], matched[j], maxDepth)
			if err != nil {
				s.logger.Warn("join path lookup failed",
					zap.String("user_query", userQuery),
					zap.Error(err))
				continue
			}
			if path == nil || len(path.Hops) == 0 {
				continue
			}
			insights = append(insights, Insight{
				Kind:       "join_path",
				Text:       formatJoinPath(path),
				Confidence: 0.85,
			})
		}
	}

	return insights, nil
}

// propertyInsights matches the question against the ontology's property
// names and turns the hits into suggested columns grouped by table plus a
// confidence-ranked concept list. Returns the tables the hits point at.
func propertyInsights(q string, o *ontology.Ontology) ([]Insight, []string) {
	qWords := questionTokens(q)

	colsByTable := make(map[string][]string)
	var tableOrder []string
	conceptScore := make(map[string]float64)
	seenCol := make(map[string]bool)

	for i := range o.Properties {
		p := &o.Properties[i]
		if !propertyMentioned(q, qWords, p.PropertyName) {
			continue
		}
		tbl := strings.ToLower(p.Table)
		col := strings.ToLower(p.Column)
		key := tbl + "." + col
		if seenCol[key] {
			continue
		}
		seenCol[key] = true

		if _, ok := colsByTable[tbl]; !ok {
			tableOrder = append(tableOrder, tbl)
		}
		colsByTable[tbl] = append(colsByTable[tbl], col)
		if p.Confidence > conceptScore[p.Concept] {
			conceptScore[p.Concept] = p.Confidence
		}
	}

	var insights []Insight
	for _, tbl := range tableOrder {
		insights = append(insights, Insight{
			Kind:       "column_suggestion",
			Text:       fmt.Sprintf("columns %s of table %s match the question", strings.Join(colsByTable[tbl], ", "), tbl),
			Confidence: 0.75,
		})
	}

	ranked := make([]string, 0, len(conceptScore))
	for name := range conceptScore {
		ranked = append(ranked, name)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if conceptScore[ranked[i]] != conceptScore[ranked[j]] {
			return conceptScore[ranked[i]] > conceptScore[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	for _, name := range ranked {
		insights = append(insights, Insight{
			Kind:       "concept",
			Text:       fmt.Sprintf("concept %s matches the question through its properties", name),
			Confidence: conceptScore[name],
		})
	}

	return insights, tableOrder
}

// relatedTableInsights reports tables one join away from the hit tables.
func (s *Service) relatedTableInsights(ctx context.Context, be Backend, connectionID string, matched []string) []Insight {
	var insights []Insight
	reported := make(map[string]bool)
	for _, name := range matched {
		reported[name] = true
	}

	for _, name := range matched {
		edges, err := be.Neighbors(ctx, TableNodeID(connectionID, name), EdgeRelatedTo)
		if err != nil {
			s.logger.Warn("neighbor lookup failed", zap.String("table", name), zap.Error(err))
			continue
		}
		for _, e := range edges {
			for _, id := range []string{e.FromID, e.ToID} {
				other := tableNameFromNodeID(connectionID, id)
				if other == "" || reported[other] {
					continue
				}
				reported[other] = true
				insights = append(insights, Insight{
					Kind:       "related_table",
					Text:       fmt.Sprintf("table %s joins to table %s", name, other),
					Confidence: 0.6,
				})
			}
		}
	}
	return insights
}

// FormatInsights renders insights as a prompt block. Empty when there are
// no insights.
func FormatInsights(insights []Insight) string {
	if len(insights) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Graph context:\n")
	for _, in := range insights {
		sb.WriteString("- " + in.Text + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatJoinPath(p *JoinPath) string {
	var parts []string
	for _, h := range p.Hops {
		parts = append(parts, fmt.Sprintf("%s.%s = %s.%s", h.FromTable, h.FromColumn, h.ToTable, h.ToColumn))
	}
	return fmt.Sprintf("join %s via %s", strings.Join(p.Tables, " -> "), strings.Join(parts, " AND "))
}

// tableNameMatches checks the raw name and its underscore-joined words
// against the question.
func tableNameMatches(q, tableName string) bool {
	if strings.Contains(q, tableName) {
		return true
	}
	spaced := strings.ReplaceAll(tableName, "_", " ")
	return spaced != tableName && strings.Contains(q, spaced)
}

func conceptMentioned(q string, c *ontology.Concept) bool {
	if strings.Contains(q, strings.ToLower(c.Name)) {
		return true
	}
	for _, syn := range c.Synonyms {
		if syn != "" && strings.Contains(q, strings.ToLower(syn)) {
			return true
		}
	}
	return false
}

// propertyMentioned mirrors the ontology resolver's lexical strategies: the
// question contains the property name, the property name contains the
// question, or a long-enough question word is a substring of the compound
// property name.
func propertyMentioned(q string, qWords []string, propertyName string) bool {
	name := strings.ToLower(propertyName)
	if name == "" {
		return false
	}
	if strings.Contains(q, name) {
		return true
	}
	if strings.Contains(name, strings.TrimSpace(q)) {
		return true
	}
	for _, w := range qWords {
		if len(w) >= minPropertyWordLen && strings.Contains(name, w) {
			return true
		}
	}
	return false
}

func questionTokens(q string) []string {
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func tableNameFromNodeID(connectionID, nodeID string) string {
	prefix := connectionID + ":table:"
	if strings.HasPrefix(nodeID, prefix) {
		return nodeID[len(prefix):]
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Invalidate removes the connection's subgraph from the primary backend and
// the mirror.
func (s *Service) Invalidate(ctx context.Context, connectionID string) error {
	err := s.backend.DeleteSubgraph(ctx, connectionID)
	if s.fallback != nil {
		if ferr := s.fallback.DeleteSubgraph(ctx, connectionID); ferr != nil {
			return ferr
		}
		if err != nil {
			s.logger.Warn("graph backend delete failed, mirror cleared", zap.Error(err))
			return nil
		}
	}
	return err
}

// Close releases the backend.
func (s *Service) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}
