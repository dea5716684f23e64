package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
)

type edgeKey struct {
	from, to string
}

// MemoryStore is an in-process graph store with the same contract as Writer:
// nodes are unique per (kind, id), edges per (kind, from, to), properties are
// replaced on upsert and edges require both endpoints. It backs dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	nodes   map[models.NodeKind]map[string]map[string]any
	edges   map[models.EdgeKind]map[edgeKey]map[string]any
	applied map[string]int // declaration name -> times applied

	// FailUpsert, when set, is consulted before each upsert call; a non-nil
	// error fails the call without applying anything
	FailUpsert func(kind string) error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[models.NodeKind]map[string]map[string]any),
		edges:   make(map[models.EdgeKind]map[edgeKey]map[string]any),
		applied: make(map[string]int),
	}
}

// EnsureSchema records the declarations; re-applying is a no-op
func (m *MemoryStore) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.SchemaSetupFailed(err, "schema setup interrupted")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, decl := range SchemaDeclarations() {
		m.applied[decl.Name]++
	}
	return nil
}

// AppliedDeclarations returns the declaration names applied at least once, sorted
func (m *MemoryStore) AppliedDeclarations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.applied))
	for name := range m.applied {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wipe deletes all nodes and edges
func (m *MemoryStore) Wipe(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for _, byID := range m.nodes {
		deleted += int64(len(byID))
	}
	m.nodes = make(map[models.NodeKind]map[string]map[string]any)
	m.edges = make(map[models.EdgeKind]map[edgeKey]map[string]any)
	return deleted, nil
}

// Counts returns node counts per label and edge counts per type
func (m *MemoryStore) Counts(ctx context.Context) (models.GraphCounts, error) {
	counts := models.NewGraphCounts()
	if err := ctx.Err(); err != nil {
		return counts, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for kind, byID := range m.nodes {
		counts.Nodes[kind] = int64(len(byID))
	}
	for kind, byKey := range m.edges {
		counts.Edges[kind] = int64(len(byKey))
	}
	return counts, nil
}

// UpsertNodes merges nodes by (kind, id), replacing their properties
func (m *MemoryStore) UpsertNodes(ctx context.Context, kind models.NodeKind, nodes []models.GraphNode) (int, error) {
	if err := m.precheck(ctx, string(kind)); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.nodes[kind]
	if !ok {
		byID = make(map[string]map[string]any)
		m.nodes[kind] = byID
	}
	for _, n := range nodes {
		byID[n.ID] = nodeRow(n)["props"].(map[string]any)
	}
	return len(nodes), nil
}

// UpsertEdges merges edges by (kind, from, to); fails with MissingEndpoint
// before applying anything if any endpoint is absent
func (m *MemoryStore) UpsertEdges(ctx context.Context, kind models.EdgeKind, edges []models.GraphEdge) (int, error) {
	if err := m.precheck(ctx, string(kind)); err != nil {
		return 0, err
	}
	from, to, ok := models.EdgeEndpoints(kind)
	if !ok {
		return 0, errors.InternalErrorf("unknown edge type %s", kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var missing []map[string]any
	for _, e := range edges {
		_, hasFrom := m.nodes[from][e.From]
		_, hasTo := m.nodes[to][e.To]
		if !hasFrom || !hasTo {
			missing = append(missing, map[string]any{
				"from":         e.From,
				"to":           e.To,
				"missing_from": !hasFrom,
				"missing_to":   !hasTo,
			})
			if len(missing) == missingEndpointSample {
				break
			}
		}
	}
	if len(missing) > 0 {
		return 0, missingEndpointError(kind, missing)
	}

	byKey, ok := m.edges[kind]
	if !ok {
		byKey = make(map[edgeKey]map[string]any)
		m.edges[kind] = byKey
	}
	for _, e := range edges {
		byKey[edgeKey{e.From, e.To}] = edgeRow(e)["props"].(map[string]any)
	}
	return len(edges), nil
}

func (m *MemoryStore) precheck(ctx context.Context, kind string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailUpsert != nil {
		if err := m.FailUpsert(kind); err != nil {
			return fmt.Errorf("upsert %s: %w", kind, err)
		}
	}
	return nil
}

// Node returns a copy of a node's properties
func (m *MemoryStore) Node(kind models.NodeKind, id string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	props, ok := m.nodes[kind][id]
	return copyProps(props), ok
}

// Edge returns a copy of an edge's properties
func (m *MemoryStore) Edge(kind models.EdgeKind, from, to string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	props, ok := m.edges[kind][edgeKey{from, to}]
	return copyProps(props), ok
}

func copyProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
