package graph

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
)

func seedStore(t *testing.T, m *MemoryStore) {
	t.Helper()
	ctx := context.Background()

	_, err := m.UpsertNodes(ctx, models.NodeOrder, []models.GraphNode{{Kind: models.NodeOrder, ID: "O1"}})
	require.NoError(t, err)
	_, err = m.UpsertNodes(ctx, models.NodeProduct, []models.GraphNode{
		{Kind: models.NodeProduct, ID: "P1", Properties: map[string]any{"name": "Phone", "price": 499.5}},
	})
	require.NoError(t, err)
}

func TestMemoryStoreUpsertReplacesProperties(t *testing.T) {
	m := NewMemoryStore()
	seedStore(t, m)
	ctx := context.Background()

	_, err := m.UpsertNodes(ctx, models.NodeProduct, []models.GraphNode{
		{Kind: models.NodeProduct, ID: "P1", Properties: map[string]any{"name": "Phone X"}},
	})
	require.NoError(t, err)

	props, ok := m.Node(models.NodeProduct, "P1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": "P1", "name": "Phone X"}, props)

	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Nodes[models.NodeProduct])
}

func TestMemoryStoreEdgeUpsertIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	seedStore(t, m)
	ctx := context.Background()

	for _, qty := range []int64{2, 5} {
		_, err := m.UpsertEdges(ctx, models.EdgeContains, []models.GraphEdge{
			{Kind: models.EdgeContains, From: "O1", To: "P1", Properties: map[string]any{"quantity": qty}},
		})
		require.NoError(t, err)
	}

	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Edges[models.EdgeContains])

	props, ok := m.Edge(models.EdgeContains, "O1", "P1")
	require.True(t, ok)
	assert.Equal(t, int64(5), props["quantity"])
}

func TestMemoryStoreMissingEndpointAppliesNothing(t *testing.T) {
	m := NewMemoryStore()
	seedStore(t, m)

	_, err := m.UpsertEdges(context.Background(), models.EdgeContains, []models.GraphEdge{
		{Kind: models.EdgeContains, From: "O1", To: "P1"},
		{Kind: models.EdgeContains, From: "O1", To: "P404"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingEndpoint)

	_, ok := m.Edge(models.EdgeContains, "O1", "P1")
	assert.False(t, ok)
}

func TestMemoryStoreWipe(t *testing.T) {
	m := NewMemoryStore()
	seedStore(t, m)
	ctx := context.Background()
	_, err := m.UpsertEdges(ctx, models.EdgeContains, []models.GraphEdge{{Kind: models.EdgeContains, From: "O1", To: "P1"}})
	require.NoError(t, err)

	deleted, err := m.Wipe(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.TotalNodes())
	assert.Zero(t, counts.TotalEdges())
}

func TestMemoryStoreSchemaIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.EnsureSchema(ctx))
	require.NoError(t, m.EnsureSchema(ctx))

	assert.Len(t, m.AppliedDeclarations(), len(SchemaDeclarations()))
	assert.Contains(t, m.AppliedDeclarations(), "order_id_unique")
}

func TestMemoryStoreFailUpsert(t *testing.T) {
	m := NewMemoryStore()
	boom := stderrors.New("boom")
	m.FailUpsert = func(kind string) error {
		if kind == string(models.NodeCustomer) {
			return boom
		}
		return nil
	}

	_, err := m.UpsertNodes(context.Background(), models.NodeCustomer, []models.GraphNode{{Kind: models.NodeCustomer, ID: "U1"}})
	assert.ErrorIs(t, err, boom)

	_, err = m.UpsertNodes(context.Background(), models.NodeCategory, []models.GraphNode{{Kind: models.NodeCategory, ID: "C1"}})
	assert.NoError(t, err)
}
