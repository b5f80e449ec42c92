package graph

import "context"

// Backend stores and queries the knowledge graph. Implementations must be
// safe for concurrent use.
type Backend interface {
	// ReplaceSubgraph atomically replaces every node and edge belonging to
	// the connection with the given set. Sync is idempotent: running it
	// twice with the same input yields the same graph.
	ReplaceSubgraph(ctx context.Context, connectionID string, nodes []Node, edges []Edge) error

	// Nodes returns the connection's nodes with the given label; an empty
	// label matches all.
	Nodes(ctx context.Context, connectionID, label string) ([]Node, error)

	// Neighbors returns edges of the given type touching the node. An empty
	// edgeType matches all types.
	Neighbors(ctx context.Context, nodeID, edgeType string) ([]Edge, error)

	// ShortestJoinPath finds the shortest REFERENCES chain between two
	// tables, up to maxDepth hops. Returns nil when no path exists within
	// the depth bound.
	ShortestJoinPath(ctx context.Context, connectionID, fromTable, toTable string, maxDepth int) (*JoinPath, error)

	// DeleteSubgraph removes every node and edge belonging to the connection.
	DeleteSubgraph(ctx context.Context, connectionID string) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
