package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlsage-io/sqlsage-engine/pkg/apperrors"
	"github.com/sqlsage-io/sqlsage-engine/pkg/config"
	"github.com/sqlsage-io/sqlsage-engine/pkg/ontology"
	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

func testService(t *testing.T) *Service {
	t.Helper()
	cfg := config.GraphConfig{Enabled: true, Backend: "memory", MaxJoinDepth: 2}
	return NewServiceWithBackend(cfg, NewMemoryBackend(), zap.NewNop())
}

func testOntology() *ontology.Ontology {
	return &ontology.Ontology{
		ConnectionID: "shop_h_5432",
		Concepts: []ontology.Concept{
			{Name: "Customer", Tables: []string{"users"}, Synonyms: []string{"client"}},
		},
		Properties: []ontology.Property{
			{Concept: "Customer", PropertyName: "customerid", Table: "users", Column: "id", Confidence: 0.9},
		},
	}
}

func TestSyncReportsCounts(t *testing.T) {
	svc := testService(t)

	report, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), testOntology())
	require.NoError(t, err)
	assert.Equal(t, "shop_h_5432", report.ConnectionID)
	assert.Greater(t, report.Nodes, 0)
	assert.Greater(t, report.Edges, 0)

	// Idempotence at the service level.
	again, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), testOntology())
	require.NoError(t, err)
	assert.Equal(t, report.Nodes, again.Nodes)
	assert.Equal(t, report.Edges, again.Edges)
}

func TestSyncDisabled(t *testing.T) {
	cfg := config.GraphConfig{Enabled: false, Backend: "memory"}
	svc := NewServiceWithBackend(cfg, NewMemoryBackend(), zap.NewNop())

	_, err := svc.Sync(context.Background(), "c", chainSnapshot(), nil)
	assert.ErrorIs(t, err, apperrors.ErrDisabled)
}

func TestInsightsTableMention(t *testing.T) {
	svc := testService(t)
	_, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), nil)
	require.NoError(t, err)

	insights, err := svc.Insights(context.Background(), "shop_h_5432", "how many orders were placed", nil)
	require.NoError(t, err)

	require.NotEmpty(t, insights)
	assert.Equal(t, "table", insights[0].Kind)
	assert.Contains(t, insights[0].Text, "orders")
}

func TestInsightsUnderscoreTableName(t *testing.T) {
	svc := testService(t)
	_, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), nil)
	require.NoError(t, err)

	insights, err := svc.Insights(context.Background(), "shop_h_5432", "show the order items from march", nil)
	require.NoError(t, err)

	found := false
	for _, in := range insights {
		if in.Kind == "table" && in.Text == "table order_items is mentioned in the question" {
			found = true
		}
	}
	assert.True(t, found, "underscored names match their spaced form")
}

func TestInsightsConceptMappingAndJoinPath(t *testing.T) {
	svc := testService(t)
	o := testOntology()
	_, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), o)
	require.NoError(t, err)

	insights, err := svc.Insights(context.Background(), "shop_h_5432", "orders per customer", o)
	require.NoError(t, err)

	var kinds []string
	for _, in := range insights {
		kinds = append(kinds, in.Kind)
	}
	assert.Contains(t, kinds, "table", "orders mentioned directly")
	assert.Contains(t, kinds, "concept_mapping", "customer resolves through the ontology")
	assert.Contains(t, kinds, "join_path", "orders and users connect via FK")
}

func TestFormatInsights(t *testing.T) {
	assert.Equal(t, "", FormatInsights(nil))

	out := FormatInsights([]Insight{{Kind: "table", Text: "table orders is mentioned in the question"}})
	assert.Contains(t, out, "Graph context:")
	assert.Contains(t, out, "- table orders")
}

func TestBuildSubgraphSchemaAndIndexNodes(t *testing.T) {
	tables := []schema.TableInfo{
		{
			FullName: "public.users", TableName: "users",
			Columns: []schema.ColumnInfo{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "email", DataType: "text"},
			},
			Indexes: []schema.IndexInfo{{Name: "users_email_key", Columns: []string{"email"}, Unique: true}},
		},
		{
			FullName: "public.orders", TableName: "orders",
			Columns: []schema.ColumnInfo{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "user_id", DataType: "integer"},
			},
			ForeignKeys: []schema.ForeignKey{{Column: "user_id", RefTable: "users", RefColumn: "id", ConstraintName: "orders_user_id_fkey"}},
		},
	}
	snap := schema.Normalize("shop", schema.ConnectionInfo{Host: "h", Port: 5432, Database: "shop"}, tables, nil)

	nodes, edges := buildSubgraph("pg_h_5432", snap, nil)

	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	sn, ok := byID[SchemaNodeID("pg_h_5432", "public")]
	require.True(t, ok, "qualified tables produce a schema node")
	assert.Equal(t, LabelSchema, sn.Label)

	in, ok := byID[IndexNodeID("pg_h_5432", "users", "users_email_key")]
	require.True(t, ok, "table indexes produce index nodes")
	assert.Equal(t, LabelIndex, in.Label)
	assert.Equal(t, true, in.Props["unique"])

	typed := make(map[string]int)
	for _, e := range edges {
		typed[e.Type]++
	}
	assert.Equal(t, 1, typed[EdgeHasSchema], "one shared schema node off the database")
	assert.Equal(t, 2, typed[EdgeContains], "schema contains both tables")
	assert.Equal(t, 1, typed[EdgeHasIndex])
	assert.Equal(t, 1, typed[EdgeReferences])
	assert.Equal(t, 1, typed[EdgeRelatedTo])

	for _, e := range edges {
		if e.Type == EdgeReferences {
			assert.Equal(t, ColumnNodeID("pg_h_5432", "orders", "user_id"), e.FromID)
			assert.Equal(t, ColumnNodeID("pg_h_5432", "users", "id"), e.ToID)
			assert.Equal(t, "orders_user_id_fkey", e.Props["constraint_name"])
		}
		if e.Type == EdgeRelatedTo {
			assert.Equal(t, TableNodeID("pg_h_5432", "orders"), e.FromID)
			assert.Equal(t, TableNodeID("pg_h_5432", "users"), e.ToID)
			assert.Equal(t, "user_id", e.Props["from_column"])
			assert.Equal(t, "id", e.Props["to_column"])
		}
	}
}

func TestInsightsPropertyMatch(t *testing.T) {
	svc := testService(t)
	o := testOntology()
	_, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), o)
	require.NoError(t, err)

	// "customer" never names a table, but it is a word of the compound
	// property name "customerid".
	insights, err := svc.Insights(context.Background(), "shop_h_5432", "list every customer we have", o)
	require.NoError(t, err)

	var suggestion, concept *Insight
	for i := range insights {
		switch insights[i].Kind {
		case "column_suggestion":
			suggestion = &insights[i]
		case "concept":
			concept = &insights[i]
		}
	}
	require.NotNil(t, suggestion, "property hit yields a column suggestion")
	assert.Contains(t, suggestion.Text, "id")
	assert.Contains(t, suggestion.Text, "users")
	require.NotNil(t, concept, "property hit ranks its concept")
	assert.Contains(t, concept.Text, "Customer")
	assert.InDelta(t, 0.9, concept.Confidence, 0.001, "concept confidence follows its best property")
}

func TestInsightsRelatedTables(t *testing.T) {
	svc := testService(t)
	_, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), nil)
	require.NoError(t, err)

	insights, err := svc.Insights(context.Background(), "shop_h_5432", "how many orders were placed", nil)
	require.NoError(t, err)

	var related []string
	for _, in := range insights {
		if in.Kind == "related_table" {
			related = append(related, in.Text)
		}
	}
	require.Len(t, related, 2, "orders joins to users and order_items")
	assert.Contains(t, related[0]+related[1], "users")
	assert.Contains(t, related[0]+related[1], "order_items")
}

// flakyBackend fails on demand so degradation paths can be driven.
type flakyBackend struct {
	*MemoryBackend
	failWrites bool
	failReads  bool
}

func (f *flakyBackend) ReplaceSubgraph(ctx context.Context, connectionID string, nodes []Node, edges []Edge) error {
	if f.failWrites {
		return errors.New("backend down")
	}
	return f.MemoryBackend.ReplaceSubgraph(ctx, connectionID, nodes, edges)
}

func (f *flakyBackend) Nodes(ctx context.Context, connectionID, label string) ([]Node, error) {
	if f.failReads {
		return nil, errors.New("backend down")
	}
	return f.MemoryBackend.Nodes(ctx, connectionID, label)
}

func TestSyncDegradesToMirrorOnBackendFailure(t *testing.T) {
	fb := &flakyBackend{MemoryBackend: NewMemoryBackend(), failWrites: true, failReads: true}
	cfg := config.GraphConfig{Enabled: true, Backend: "neo4j", MaxJoinDepth: 2}
	svc := NewServiceWithBackend(cfg, fb, zap.NewNop())

	report, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), nil)
	require.NoError(t, err, "a failing backend must not fail the sync")
	assert.Greater(t, report.Nodes, 0)

	insights, err := svc.Insights(context.Background(), "shop_h_5432", "how many orders were placed", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, insights, "mirror serves what the backend lost")
}

func TestInsightsFallBackMidFlight(t *testing.T) {
	fb := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	cfg := config.GraphConfig{Enabled: true, Backend: "neo4j", MaxJoinDepth: 2}
	svc := NewServiceWithBackend(cfg, fb, zap.NewNop())

	_, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), nil)
	require.NoError(t, err)

	// Backend was healthy during sync, then drops.
	fb.failReads = true

	insights, err := svc.Insights(context.Background(), "shop_h_5432", "how many orders were placed", nil)
	require.NoError(t, err, "reads retry on the in-memory mirror")
	assert.NotEmpty(t, insights)
}

func TestInvalidate(t *testing.T) {
	svc := testService(t)
	_, err := svc.Sync(context.Background(), "shop_h_5432", chainSnapshot(), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(context.Background(), "shop_h_5432"))

	insights, err := svc.Insights(context.Background(), "shop_h_5432", "orders", nil)
	require.NoError(t, err)
	assert.Empty(t, insights)
}
