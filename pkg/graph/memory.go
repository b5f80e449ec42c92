package graph

import (
	"context"
	"strings"
	"sync"
)

// MemoryBackend is the in-process graph store. It is the default backend
// and the fallback when an external backend is unreachable.
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]Node   // by node ID
	out   map[string][]Edge // outgoing edges by from-node ID
	in    map[string][]Edge // incoming edges by to-node ID

	// byConn indexes node IDs per connection for subgraph replacement.
	byConn map[string]map[string]bool
}

// NewMemoryBackend creates an empty in-memory graph.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes:  make(map[string]Node),
		out:    make(map[string][]Edge),
		in:     make(map[string][]Edge),
		byConn: make(map[string]map[string]bool),
	}
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) ReplaceSubgraph(_ context.Context, connectionID string, nodes []Node, edges []Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(connectionID)

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		n.ConnectionID = connectionID
		m.nodes[n.ID] = n
		ids[n.ID] = true
	}
	for _, e := range edges {
		// Edges must connect nodes of this subgraph.
		if !ids[e.FromID] || !ids[e.ToID] {
			continue
		}
		m.out[e.FromID] = append(m.out[e.FromID], e)
		m.in[e.ToID] = append(m.in[e.ToID], e)
	}
	m.byConn[connectionID] = ids
	return nil
}

func (m *MemoryBackend) deleteLocked(connectionID string) {
	for id := range m.byConn[connectionID] {
		delete(m.nodes, id)
		delete(m.out, id)
		delete(m.in, id)
	}
	delete(m.byConn, connectionID)
}

func (m *MemoryBackend) Nodes(_ context.Context, connectionID, label string) ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Node
	for id := range m.byConn[connectionID] {
		n := m.nodes[id]
		if label == "" || n.Label == label {
			result = append(result, n)
		}
	}
	return result, nil
}

func (m *MemoryBackend) Neighbors(_ context.Context, nodeID, edgeType string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Edge
	for _, e := range m.out[nodeID] {
		if edgeType == "" || e.Type == edgeType {
			result = append(result, e)
		}
	}
	for _, e := range m.in[nodeID] {
		if edgeType == "" || e.Type == edgeType {
			result = append(result, e)
		}
	}
	return result, nil
}

// ShortestJoinPath runs a breadth-first search over RELATED_TO edges in
// both directions. Joins are symmetric even though the edge records the
// foreign key's direction.
func (m *MemoryBackend) ShortestJoinPath(_ context.Context, connectionID, fromTable, toTable string, maxDepth int) (*JoinPath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := TableNodeID(connectionID, strings.ToLower(fromTable))
	goal := TableNodeID(connectionID, strings.ToLower(toTable))
	if _, ok := m.nodes[start]; !ok {
		return nil, nil
	}
	if _, ok := m.nodes[goal]; !ok {
		return nil, nil
	}
	if start == goal {
		return &JoinPath{Tables: []string{m.nodes[start].Name}}, nil
	}

	prev := map[string]pathStep{start: {}}
	frontier := []string{start}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, e := range append(append([]Edge{}, m.out[cur]...), m.in[cur]...) {
				if e.Type != EdgeRelatedTo {
					continue
				}
				other := e.ToID
				if other == cur {
					other = e.FromID
				}
				if _, seen := prev[other]; seen {
					continue
				}
				prev[other] = pathStep{nodeID: cur, hop: edgeToHop(m.nodes[e.FromID], m.nodes[e.ToID], e)}
				if other == goal {
					return m.rebuildPath(prev, start, goal), nil
				}
				next = append(next, other)
			}
		}
		frontier = next
	}
	return nil, nil
}

type pathStep struct {
	nodeID string
	hop    JoinHop
}

func edgeToHop(from, to Node, e Edge) JoinHop {
	hop := JoinHop{FromTable: from.Name, ToTable: to.Name}
	if e.Props != nil {
		if v, ok := e.Props["from_column"].(string); ok {
			hop.FromColumn = v
		}
		if v, ok := e.Props["to_column"].(string); ok {
			hop.ToColumn = v
		}
		if v, ok := e.Props["constraint_name"].(string); ok {
			hop.Constraint = v
		}
	}
	return hop
}

// rebuildPath walks the predecessor map backwards from goal to start.
func (m *MemoryBackend) rebuildPath(prev map[string]pathStep, start, goal string) *JoinPath {
	var hops []JoinHop
	var tables []string

	for cur := goal; ; {
		tables = append([]string{m.nodes[cur].Name}, tables...)
		if cur == start {
			break
		}
		s := prev[cur]
		hops = append([]JoinHop{s.hop}, hops...)
		cur = s.nodeID
	}
	return &JoinPath{Tables: tables, Hops: hops}
}

func (m *MemoryBackend) Close(context.Context) error { return nil }

func (m *MemoryBackend) DeleteSubgraph(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(connectionID)
	return nil
}
