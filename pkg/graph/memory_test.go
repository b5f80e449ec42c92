package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlsage-io/sqlsage-engine/pkg/schema"
)

func chainSnapshot() *schema.Snapshot {
	// users <- orders <- order_items, plus an island table
	tables := []schema.TableInfo{
		{
			FullName: "users", TableName: "users",
			Columns: []schema.ColumnInfo{{Name: "id", DataType: "integer", IsPrimaryKey: true}},
		},
		{
			FullName: "orders", TableName: "orders",
			Columns: []schema.ColumnInfo{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "user_id", DataType: "integer"},
			},
			ForeignKeys: []schema.ForeignKey{{Column: "user_id", RefTable: "users", RefColumn: "id", ConstraintName: "orders_user_id_fkey"}},
		},
		{
			FullName: "order_items", TableName: "order_items",
			Columns: []schema.ColumnInfo{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "order_id", DataType: "integer"},
			},
			ForeignKeys: []schema.ForeignKey{{Column: "order_id", RefTable: "orders", RefColumn: "id", ConstraintName: "order_items_order_id_fkey"}},
		},
		{
			FullName: "audit_log", TableName: "audit_log",
			Columns: []schema.ColumnInfo{{Name: "id", DataType: "integer", IsPrimaryKey: true}},
		},
	}
	return schema.Normalize("shop", schema.ConnectionInfo{Host: "h", Port: 5432, Database: "shop"}, tables, nil)
}

func syncedBackend(t *testing.T) *MemoryBackend {
	t.Helper()
	b := NewMemoryBackend()
	nodes, edges := buildSubgraph("shop_h_5432", chainSnapshot(), nil)
	require.NoError(t, b.ReplaceSubgraph(context.Background(), "shop_h_5432", nodes, edges))
	return b
}

func TestReplaceSubgraphIdempotent(t *testing.T) {
	b := NewMemoryBackend()
	nodes, edges := buildSubgraph("shop_h_5432", chainSnapshot(), nil)

	require.NoError(t, b.ReplaceSubgraph(context.Background(), "shop_h_5432", nodes, edges))
	first, err := b.Nodes(context.Background(), "shop_h_5432", "")
	require.NoError(t, err)

	require.NoError(t, b.ReplaceSubgraph(context.Background(), "shop_h_5432", nodes, edges))
	second, err := b.Nodes(context.Background(), "shop_h_5432", "")
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second), "sync twice yields identical node counts")
}

func TestSubgraphIsolationPerConnection(t *testing.T) {
	b := syncedBackend(t)
	nodes, edges := buildSubgraph("other_h_5432", chainSnapshot(), nil)
	require.NoError(t, b.ReplaceSubgraph(context.Background(), "other_h_5432", nodes, edges))

	require.NoError(t, b.DeleteSubgraph(context.Background(), "other_h_5432"))

	remaining, err := b.Nodes(context.Background(), "shop_h_5432", LabelTable)
	require.NoError(t, err)
	assert.Len(t, remaining, 4, "deleting one connection leaves the other intact")
}

func TestShortestJoinPathDirect(t *testing.T) {
	b := syncedBackend(t)

	path, err := b.ShortestJoinPath(context.Background(), "shop_h_5432", "orders", "users", 2)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, []string{"orders", "users"}, path.Tables)
	require.Len(t, path.Hops, 1)
	assert.Equal(t, "user_id", path.Hops[0].FromColumn)
	assert.Equal(t, "id", path.Hops[0].ToColumn)
	assert.Equal(t, "orders_user_id_fkey", path.Hops[0].Constraint)
}

func TestShortestJoinPathTwoHops(t *testing.T) {
	b := syncedBackend(t)

	path, err := b.ShortestJoinPath(context.Background(), "shop_h_5432", "order_items", "users", 2)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, []string{"order_items", "orders", "users"}, path.Tables)
	assert.Len(t, path.Hops, 2)
}

func TestShortestJoinPathDepthBound(t *testing.T) {
	b := syncedBackend(t)

	path, err := b.ShortestJoinPath(context.Background(), "shop_h_5432", "order_items", "users", 1)
	require.NoError(t, err)
	assert.Nil(t, path, "two-hop path must not be found at depth 1")
}

func TestShortestJoinPathNoPath(t *testing.T) {
	b := syncedBackend(t)

	path, err := b.ShortestJoinPath(context.Background(), "shop_h_5432", "users", "audit_log", 5)
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestShortestJoinPathUnknownTable(t *testing.T) {
	b := syncedBackend(t)

	path, err := b.ShortestJoinPath(context.Background(), "shop_h_5432", "users", "missing", 2)
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestNeighbors(t *testing.T) {
	b := syncedBackend(t)

	edges, err := b.Neighbors(context.Background(), TableNodeID("shop_h_5432", "orders"), EdgeRelatedTo)
	require.NoError(t, err)
	// One outgoing (orders -> users) plus one incoming (order_items -> orders).
	assert.Len(t, edges, 2)
}

func TestColumnReferenceEdges(t *testing.T) {
	b := syncedBackend(t)

	edges, err := b.Neighbors(context.Background(), ColumnNodeID("shop_h_5432", "orders", "user_id"), EdgeReferences)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, ColumnNodeID("shop_h_5432", "users", "id"), edges[0].ToID)
	assert.Equal(t, "orders_user_id_fkey", edges[0].Props["constraint_name"])
}
