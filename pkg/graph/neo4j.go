package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jBackend stores the graph in an external Neo4j instance. Every query
// is parameterized; node and relationship identity follows the same
// deterministic IDs as the in-memory backend so sync stays idempotent.
type Neo4jBackend struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jBackend connects to Neo4j and verifies connectivity.
func NewNeo4jBackend(ctx context.Context, uri, username, password string) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jBackend{driver: driver}, nil
}

var _ Backend = (*Neo4jBackend)(nil)

func (b *Neo4jBackend) ReplaceSubgraph(ctx context.Context, connectionID string, nodes []Node, edges []Edge) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			"MATCH (n {connection_id: $connection_id}) DETACH DELETE n",
			map[string]any{"connection_id": connectionID}); err != nil {
			return nil, fmt.Errorf("clear subgraph: %w", err)
		}

		for _, n := range nodes {
			props := map[string]any{
				"id":            n.ID,
				"name":          n.Name,
				"connection_id": connectionID,
			}
			for k, v := range n.Props {
				props[k] = v
			}
			if _, err := tx.Run(ctx,
				fmt.Sprintf("CREATE (n:%s) SET n = $props", n.Label),
				map[string]any{"props": props}); err != nil {
				return nil, fmt.Errorf("create node %s: %w", n.ID, err)
			}
		}

		for _, e := range edges {
			params := map[string]any{
				"from_id": e.FromID,
				"to_id":   e.ToID,
				"props":   e.Props,
			}
			if e.Props == nil {
				params["props"] = map[string]any{}
			}
			if _, err := tx.Run(ctx,
				fmt.Sprintf("MATCH (a {id: $from_id}), (b {id: $to_id}) CREATE (a)-[r:%s]->(b) SET r = $props", e.Type),
				params); err != nil {
				return nil, fmt.Errorf("create edge %s->%s: %w", e.FromID, e.ToID, err)
			}
		}
		return nil, nil
	})
	return err
}

func (b *Neo4jBackend) Nodes(ctx context.Context, connectionID, label string) ([]Node, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	match := "MATCH (n {connection_id: $connection_id})"
	if label != "" {
		match = fmt.Sprintf("MATCH (n:%s {connection_id: $connection_id})", label)
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, match+" RETURN n.id AS id, labels(n)[0] AS label, n.name AS name",
			map[string]any{"connection_id": connectionID})
		if err != nil {
			return nil, err
		}

		var nodes []Node
		for res.Next(ctx) {
			rec := res.Record()
			n := Node{ConnectionID: connectionID}
			if v, ok := rec.Get("id"); ok {
				n.ID, _ = v.(string)
			}
			if v, ok := rec.Get("label"); ok {
				n.Label, _ = v.(string)
			}
			if v, ok := rec.Get("name"); ok {
				n.Name, _ = v.(string)
			}
			nodes = append(nodes, n)
		}
		return nodes, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]Node), nil
}

func (b *Neo4jBackend) Neighbors(ctx context.Context, nodeID, edgeType string) ([]Edge, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	rel := "r"
	if edgeType != "" {
		rel = "r:" + edgeType
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			fmt.Sprintf("MATCH (a {id: $node_id})-[%s]-(b) RETURN a.id AS from_id, b.id AS to_id, type(r) AS type, properties(r) AS props", rel),
			map[string]any{"node_id": nodeID})
		if err != nil {
			return nil, err
		}

		var edges []Edge
		for res.Next(ctx) {
			rec := res.Record()
			e := Edge{}
			if v, ok := rec.Get("from_id"); ok {
				e.FromID, _ = v.(string)
			}
			if v, ok := rec.Get("to_id"); ok {
				e.ToID, _ = v.(string)
			}
			if v, ok := rec.Get("type"); ok {
				e.Type, _ = v.(string)
			}
			if v, ok := rec.Get("props"); ok {
				e.Props, _ = v.(map[string]any)
			}
			edges = append(edges, e)
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]Edge), nil
}

func (b *Neo4jBackend) ShortestJoinPath(ctx context.Context, connectionID, fromTable, toTable string, maxDepth int) (*JoinPath, error) {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	cypher := fmt.Sprintf(
		"MATCH p = shortestPath((a:Table {connection_id: $connection_id, name: $from_table})-[:%s*..%d]-(b:Table {connection_id: $connection_id, name: $to_table})) "+
			"RETURN [n IN nodes(p) | n.name] AS tables, [r IN relationships(p) | properties(r)] AS rel_props",
		EdgeRelatedTo, maxDepth)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{
			"connection_id": connectionID,
			"from_table":    fromTable,
			"to_table":      toTable,
		})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, res.Err()
		}
		rec := res.Record()

		path := &JoinPath{}
		if v, ok := rec.Get("tables"); ok {
			if list, ok := v.([]any); ok {
				for _, t := range list {
					if s, ok := t.(string); ok {
						path.Tables = append(path.Tables, s)
					}
				}
			}
		}
		if v, ok := rec.Get("rel_props"); ok {
			if list, ok := v.([]any); ok {
				for i, p := range list {
					props, _ := p.(map[string]any)
					hop := JoinHop{}
					if i < len(path.Tables)-1 {
						hop.FromTable = path.Tables[i]
						hop.ToTable = path.Tables[i+1]
					}
					if props != nil {
						hop.FromColumn, _ = props["from_column"].(string)
						hop.ToColumn, _ = props["to_column"].(string)
						hop.Constraint, _ = props["constraint_name"].(string)
					}
					path.Hops = append(path.Hops, hop)
				}
			}
		}
		return path, nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*JoinPath), nil
}

func (b *Neo4jBackend) DeleteSubgraph(ctx context.Context, connectionID string) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx,
			"MATCH (n {connection_id: $connection_id}) DETACH DELETE n",
			map[string]any{"connection_id": connectionID})
	})
	return err
}

func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}
