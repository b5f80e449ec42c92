// Package graph maintains a knowledge graph of schema structure and
// ontology semantics per connection, and answers join-path and
// question-relevance queries over it.
package graph

// Node labels. Closed set.
const (
	LabelDatabase = "Database"
	LabelSchema   = "Schema"
	LabelTable    = "Table"
	LabelColumn   = "Column"
	LabelIndex    = "Index"
	LabelConcept  = "Concept"
	LabelProperty = "Property"
)

// Edge types. Closed set.
const (
	EdgeHasSchema    = "HAS_SCHEMA"
	EdgeContains     = "CONTAINS"
	EdgeHasColumn    = "HAS_COLUMN"
	EdgeReferences   = "REFERENCES"
	EdgeRelatedTo    = "RELATED_TO"
	EdgeHasIndex     = "HAS_INDEX"
	EdgeHasProperty  = "HAS_PROPERTY"
	EdgeMapsToColumn = "MAPS_TO_COLUMN"
)

// Node is one graph vertex. ID is unique within a connection's subgraph;
// nodes from different connections never collide because the connection_id
// prefixes every ID.
type Node struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	Name         string         `json:"name"`
	ConnectionID string         `json:"connection_id"`
	Props        map[string]any `json:"props,omitempty"`
}

// Edge is one directed relationship between two nodes.
type Edge struct {
	FromID string         `json:"from_id"`
	ToID   string         `json:"to_id"`
	Type   string         `json:"type"`
	Props  map[string]any `json:"props,omitempty"`
}

// JoinPath is a chain of table-to-table hops answering "how do I join A to B".
type JoinPath struct {
	Tables []string  `json:"tables"`
	Hops   []JoinHop `json:"hops"`
}

// JoinHop is one foreign-key traversal in a join path.
type JoinHop struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
	Constraint string `json:"constraint,omitempty"`
}

// Insight is one piece of graph-derived context for a question: a relevant
// table, suggested columns, a neighboring table, a join path, or a matched
// concept.
type Insight struct {
	Kind       string  `json:"kind"` // "table", "column_suggestion", "related_table", "join_path", "concept_mapping", "concept"
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SyncReport summarizes one graph synchronization.
type SyncReport struct {
	ConnectionID string `json:"connection_id"`
	Nodes        int    `json:"nodes"`
	Edges        int    `json:"edges"`
}

// Node ID constructors. Deterministic so sync is idempotent.

func DatabaseNodeID(connectionID string) string {
	return connectionID + ":db"
}

func SchemaNodeID(connectionID, schemaName string) string {
	return connectionID + ":schema:" + schemaName
}

func TableNodeID(connectionID, table string) string {
	return connectionID + ":table:" + table
}

func IndexNodeID(connectionID, table, index string) string {
	return connectionID + ":index:" + table + "." + index
}

func ColumnNodeID(connectionID, table, column string) string {
	return connectionID + ":column:" + table + "." + column
}

func ConceptNodeID(connectionID, concept string) string {
	return connectionID + ":concept:" + concept
}

func PropertyNodeID(connectionID, concept, property string) string {
	return connectionID + ":property:" + concept + "." + property
}
