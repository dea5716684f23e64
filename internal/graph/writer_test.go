package graph

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
	"github.com/rohankatakam/shopgraph/internal/retry"
)

// fakeExecutor records every statement and answers through respond
type fakeExecutor struct {
	mu      sync.Mutex
	writes  []TransactionConfig
	stmts   []Statement
	respond func(call int, stmt Statement) ([]map[string]any, error)
	calls   int
}

type fakeTx struct{ f *fakeExecutor }

func (t fakeTx) Run(ctx context.Context, stmt Statement) ([]map[string]any, error) {
	t.f.mu.Lock()
	t.f.calls++
	call := t.f.calls
	t.f.stmts = append(t.f.stmts, stmt)
	respond := t.f.respond
	t.f.mu.Unlock()

	if respond == nil {
		return nil, nil
	}
	return respond(call, stmt)
}

func (f *fakeExecutor) Write(ctx context.Context, cfg TransactionConfig, work func(ctx context.Context, tx Tx) error) error {
	f.mu.Lock()
	f.writes = append(f.writes, cfg)
	f.mu.Unlock()
	return work(ctx, fakeTx{f})
}

func (f *fakeExecutor) Read(ctx context.Context, cfg TransactionConfig, stmt Statement) ([]map[string]any, error) {
	return fakeTx{f}.Run(ctx, stmt)
}

type countingObserver struct {
	mu        sync.Mutex
	committed int
	retried   int
}

func (o *countingObserver) BatchCommitted(op, kind string, rows int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.committed++
}

func (o *countingObserver) BatchRetried(op, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retried++
}

func newTestWriter(exec Executor, batchSize int, obs BatchObserver) *Writer {
	logger, _ := test.NewNullLogger()
	return NewWriter(exec, WriterOptions{
		Batches:  NewBatchConfig(batchSize, nil),
		Retry:    retry.Policy{MaxAttempts: 3, BaseInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		Workers:  2,
		Observer: obs,
		Logger:   logger,
	})
}

func products(ids ...string) []models.GraphNode {
	nodes := make([]models.GraphNode, len(ids))
	for i, id := range ids {
		nodes[i] = models.GraphNode{Kind: models.NodeProduct, ID: id, Properties: map[string]any{"name": "p" + id}}
	}
	return nodes
}

func TestUpsertNodesSplitsIntoBatches(t *testing.T) {
	exec := &fakeExecutor{}
	obs := &countingObserver{}
	w := newTestWriter(exec, 2, obs)

	n, err := w.UpsertNodes(context.Background(), models.NodeProduct, products("1", "2", "3", "4", "5"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.Len(t, exec.writes, 3)
	assert.Equal(t, 3, obs.committed)

	total := 0
	for _, stmt := range exec.stmts {
		assert.Contains(t, stmt.Cypher, "MERGE (n:Product {id: row.id})")
		rows := stmt.Params["rows"].([]map[string]any)
		total += len(rows)
		for _, row := range rows {
			props := row["props"].(map[string]any)
			assert.Equal(t, row["id"], props["id"])
		}
	}
	assert.Equal(t, 5, total)

	for _, cfg := range exec.writes {
		assert.Equal(t, OpNodeUpsert, cfg.Operation)
		assert.Equal(t, "Product", cfg.Metadata["kind"])
	}
}

func TestUpsertNodesEmpty(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWriter(exec, 10, nil)

	n, err := w.UpsertNodes(context.Background(), models.NodeCategory, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, exec.writes)
}

func TestUpsertNodesRejectsInvalidLabel(t *testing.T) {
	w := newTestWriter(&fakeExecutor{}, 10, nil)

	_, err := w.UpsertNodes(context.Background(), models.NodeKind("Bad Label"), products("1"))
	require.Error(t, err)
	assert.Equal(t, errors.KindInternal, errors.KindOf(err))
}

func TestUpsertEdgesProbesThenMerges(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWriter(exec, 10, nil)

	edges := []models.GraphEdge{
		{Kind: models.EdgeContains, From: "O1", To: "P1", Properties: map[string]any{"quantity": int64(2)}},
	}
	_, err := w.UpsertEdges(context.Background(), models.EdgeContains, edges)
	require.NoError(t, err)

	require.Len(t, exec.stmts, 2)
	assert.Contains(t, exec.stmts[0].Cypher, "OPTIONAL MATCH (a:Order {id: row.from})")
	assert.Contains(t, exec.stmts[1].Cypher, "MERGE (a)-[r:CONTAINS]->(b)")
	assert.Contains(t, exec.stmts[1].Cypher, "SET r = row.props")
}

func TestUpsertEdgesMissingEndpointIsNotRetried(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(call int, stmt Statement) ([]map[string]any, error) {
			if strings.Contains(stmt.Cypher, "OPTIONAL MATCH") {
				return []map[string]any{{"from": "O1", "to": "P9", "missing_from": false, "missing_to": true}}, nil
			}
			return nil, nil
		},
	}
	obs := &countingObserver{}
	w := newTestWriter(exec, 10, obs)

	edges := []models.GraphEdge{{Kind: models.EdgeContains, From: "O1", To: "P9"}}
	_, err := w.UpsertEdges(context.Background(), models.EdgeContains, edges)

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingEndpoint)
	assert.Len(t, exec.writes, 1)
	assert.Zero(t, obs.retried)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"Product:P9"}, e.Context["missing"])
}

func TestWriteBatchRetriedThenSucceeds(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(call int, stmt Statement) ([]map[string]any, error) {
			if call <= 2 {
				return nil, stderrors.New("LockClient[1] can't wait on resource")
			}
			return nil, nil
		},
	}
	obs := &countingObserver{}
	w := newTestWriter(exec, 10, obs)

	_, err := w.UpsertNodes(context.Background(), models.NodeCategory, []models.GraphNode{{Kind: models.NodeCategory, ID: "C1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, obs.retried)
	assert.Equal(t, 1, obs.committed)
	assert.Len(t, exec.writes, 3)
}

func TestWriteBatchExhaustsRetries(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(call int, stmt Statement) ([]map[string]any, error) {
			return nil, stderrors.New("connection reset")
		},
	}
	w := newTestWriter(exec, 10, nil)

	_, err := w.UpsertNodes(context.Background(), models.NodeCategory, []models.GraphNode{{Kind: models.NodeCategory, ID: "C1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrWriteBatchFailed)
	assert.Len(t, exec.writes, 3)

	e, _ := errors.As(err)
	assert.Equal(t, 3, e.Context["attempts"])
}

func TestWipeLoopsUntilBatchIsShort(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(call int, stmt Statement) ([]map[string]any, error) {
			deleted := int64(4)
			if call == 3 {
				deleted = 1
			}
			return []map[string]any{{"deleted": deleted}}, nil
		},
	}
	logger, _ := test.NewNullLogger()
	w := NewWriter(exec, WriterOptions{WipeBatchSize: 4, Logger: logger})

	deleted, err := w.Wipe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), deleted)
	assert.Len(t, exec.writes, 3)
	assert.Equal(t, int64(4), exec.stmts[0].Params["limit"])
}

func TestCountsParsesRows(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(call int, stmt Statement) ([]map[string]any, error) {
			if strings.Contains(stmt.Cypher, "labels(n)") {
				return []map[string]any{{"label": "Product", "count": int64(3)}, {"label": "Order", "count": int64(2)}}, nil
			}
			return []map[string]any{{"type": "CONTAINS", "count": int64(4)}}, nil
		},
	}
	w := newTestWriter(exec, 10, nil)

	counts, err := w.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Nodes[models.NodeProduct])
	assert.Equal(t, int64(0), counts.Nodes[models.NodeCustomer])
	assert.Equal(t, int64(4), counts.Edges[models.EdgeContains])
	assert.Equal(t, int64(5), counts.TotalNodes())
}

func TestEnsureSchemaAppliesEveryDeclaration(t *testing.T) {
	exec := &fakeExecutor{}
	w := newTestWriter(exec, 10, nil)

	require.NoError(t, w.EnsureSchema(context.Background()))

	decls := SchemaDeclarations()
	require.Len(t, exec.writes, len(decls))
	for i, decl := range decls {
		assert.Equal(t, decl.Cypher, exec.stmts[i].Cypher)
		assert.Contains(t, decl.Cypher, "IF NOT EXISTS")
		assert.Equal(t, decl.Name, exec.writes[i].Metadata["declaration"])
	}
}

func TestEnsureSchemaFailureNamesDeclaration(t *testing.T) {
	exec := &fakeExecutor{
		respond: func(call int, stmt Statement) ([]map[string]any, error) {
			if call == 2 {
				return nil, stderrors.New("Neo.ClientError.Schema.EquivalentSchemaRuleAlreadyExists")
			}
			return nil, nil
		},
	}
	w := newTestWriter(exec, 10, nil)

	err := w.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchemaSetupFailed)

	e, _ := errors.As(err)
	assert.Equal(t, "product_id_unique", e.Context["declaration"])
	assert.Len(t, exec.writes, 2)
}

func TestBatchConfigSizeFor(t *testing.T) {
	bc := NewBatchConfig(500, map[string]int{"contains": 1000, "IN_CATEGORY": 100})

	assert.Equal(t, 1000, bc.SizeFor("CONTAINS"))
	assert.Equal(t, 100, bc.SizeFor("in_category"))
	assert.Equal(t, 500, bc.SizeFor("Product"))
	assert.Equal(t, DefaultBatchSize, BatchConfig{}.SizeFor("Order"))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		rows, size int
		want       []int
	}{
		{0, 3, []int{}},
		{3, 3, []int{3}},
		{7, 3, []int{3, 3, 1}},
		{2, 0, []int{2}},
	}

	for _, tt := range tests {
		rows := make([]int, tt.rows)
		got := []int{}
		for _, b := range split(rows, tt.size) {
			got = append(got, len(b))
		}
		assert.Equal(t, tt.want, got, "rows=%d size=%d", tt.rows, tt.size)
	}
}

func TestTransactionConfig(t *testing.T) {
	cfg := GetConfigForOperation(OpEdgeUpsert)
	assert.Equal(t, 3*time.Minute, cfg.Timeout)
	assert.Equal(t, OpEdgeUpsert, cfg.Metadata["operation"])
	assert.Len(t, cfg.AsNeo4jConfig(), 2)

	withKind := cfg.WithCustomMetadata("kind", "CONTAINS")
	assert.Equal(t, "CONTAINS", withKind.Metadata["kind"])
	_, leaked := cfg.Metadata["kind"]
	assert.False(t, leaked)

	unknown := GetConfigForOperation("reindex")
	assert.Equal(t, 60*time.Second, unknown.Timeout)
	assert.Equal(t, "unknown", unknown.Metadata["type"])
}

func TestBuildersRejectUnknownEdgeType(t *testing.T) {
	_, err := BuildEdgeUpsert(models.EdgeKind("LIKES"), nil)
	assert.Error(t, err)

	_, err = BuildEdgeProbe(models.EdgeKind("CONTAINS) DELETE n //"), nil)
	assert.Error(t, err)
}

// slowExecutor tracks how many transactions are open at once
type slowExecutor struct {
	fakeExecutor
	hold     time.Duration
	inFlight int
	peak     int
}

func (s *slowExecutor) Write(ctx context.Context, cfg TransactionConfig, work func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(s.hold)
	err := s.fakeExecutor.Write(ctx, cfg, work)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return err
}

func newConcurrentWriter(exec Executor, batchSize int) *Writer {
	logger, _ := test.NewNullLogger()
	return NewWriter(exec, WriterOptions{
		Batches: NewBatchConfig(batchSize, nil),
		Retry:   retry.Policy{MaxAttempts: 3, BaseInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		Workers: 4,
		Logger:  logger,
	})
}

func TestUpsertEdgesCommitsBatchesSerially(t *testing.T) {
	exec := &slowExecutor{hold: 10 * time.Millisecond}
	w := newConcurrentWriter(exec, 1)

	// every order contains the same product
	edges := make([]models.GraphEdge, 6)
	for i := range edges {
		edges[i] = models.GraphEdge{Kind: models.EdgeContains, From: "O" + string(rune('1'+i)), To: "P1",
			Properties: map[string]any{"quantity": int64(1)}}
	}

	n, err := w.UpsertEdges(context.Background(), models.EdgeContains, edges)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Len(t, exec.writes, 6)
	assert.Equal(t, 1, exec.peak)
}

func TestUpsertNodesUsesWorkers(t *testing.T) {
	exec := &slowExecutor{hold: 20 * time.Millisecond}
	w := newConcurrentWriter(exec, 1)

	_, err := w.UpsertNodes(context.Background(), models.NodeProduct, products("1", "2", "3", "4", "5", "6", "7", "8"))
	require.NoError(t, err)
	assert.Len(t, exec.writes, 8)
	assert.Greater(t, exec.peak, 1)
	assert.LessOrEqual(t, exec.peak, 4)
}

func TestWritesPerSecondThrottlesCommits(t *testing.T) {
	exec := &fakeExecutor{}
	logger, _ := test.NewNullLogger()
	w := NewWriter(exec, WriterOptions{
		Batches:         NewBatchConfig(1, nil),
		Workers:         2,
		WritesPerSecond: 20,
		Logger:          logger,
	})

	start := time.Now()
	_, err := w.UpsertNodes(context.Background(), models.NodeProduct, products("1", "2", "3", "4"))
	require.NoError(t, err)

	// burst of one: the first commit is free, each further one waits 1/20s
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
	assert.Len(t, exec.writes, 4)
}

func TestThrottleWaitCancelledIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &fakeExecutor{
		respond: func(call int, stmt Statement) ([]map[string]any, error) {
			cancel()
			return nil, nil
		},
	}
	obs := &countingObserver{}
	logger, _ := test.NewNullLogger()
	w := NewWriter(exec, WriterOptions{
		Batches:         NewBatchConfig(1, nil),
		Retry:           retry.Policy{MaxAttempts: 3, BaseInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		Workers:         1,
		WritesPerSecond: 1,
		Observer:        obs,
		Logger:          logger,
	})

	_, err := w.UpsertNodes(ctx, models.NodeProduct, products("1", "2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errors.ErrWriteBatchFailed)
	assert.Len(t, exec.writes, 1)
	assert.Zero(t, obs.retried)
}
