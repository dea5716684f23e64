package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
	"github.com/rohankatakam/shopgraph/internal/retry"
)

// missingEndpointSample caps how many offending rows a MissingEndpoint error names
const missingEndpointSample = 10

// DefaultWipeBatchSize bounds the nodes deleted per wipe transaction
const DefaultWipeBatchSize = 10000

// BatchObserver receives per-batch outcomes
type BatchObserver interface {
	BatchCommitted(op, kind string, rows int, elapsed time.Duration)
	BatchRetried(op, kind string)
}

type nopObserver struct{}

func (nopObserver) BatchCommitted(string, string, int, time.Duration) {}
func (nopObserver) BatchRetried(string, string)                       {}

// WriterOptions configures a Writer
type WriterOptions struct {
	Batches         BatchConfig
	Retry           retry.Policy
	Workers         int     // concurrent batches per call
	WritesPerSecond float64 // batch commits per second; 0 = unlimited
	WipeBatchSize   int
	Observer        BatchObserver
	Logger          logrus.FieldLogger
}

// Writer performs idempotent, batched upserts against an Executor
type Writer struct {
	exec      Executor
	schema    *Bootstrapper
	batches   BatchConfig
	policy    retry.Policy
	workers   int
	limiter   *rate.Limiter
	wipeBatch int
	observer  BatchObserver
	timeouts  *TimeoutMonitor
	logger    logrus.FieldLogger
}

// NewWriter creates a writer over exec
func NewWriter(exec Executor, opts WriterOptions) *Writer {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.WritesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.WritesPerSecond), 1)
	}

	wipeBatch := opts.WipeBatchSize
	if wipeBatch <= 0 {
		wipeBatch = DefaultWipeBatchSize
	}

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	if opts.Batches.Default == 0 && len(opts.Batches.Overrides) == 0 {
		opts.Batches = DefaultBatchConfig()
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.DefaultPolicy()
	}

	return &Writer{
		exec:      exec,
		schema:    NewBootstrapper(exec, logger),
		batches:   opts.Batches,
		policy:    opts.Retry,
		workers:   workers,
		limiter:   limiter,
		wipeBatch: wipeBatch,
		observer:  observer,
		timeouts:  NewTimeoutMonitor(logger),
		logger:    logger.WithField("component", "graph_writer"),
	}
}

// EnsureSchema applies the uniqueness constraints and indexes
func (w *Writer) EnsureSchema(ctx context.Context) error {
	return w.schema.EnsureSchema(ctx)
}

// Wipe deletes every node and relationship in bounded batches and returns the
// number of nodes deleted
func (w *Writer) Wipe(ctx context.Context) (int64, error) {
	var total int64
	stmt := BuildWipeBatch(w.wipeBatch)

	for round := 0; ; round++ {
		var deleted int64
		err := w.commit(ctx, OpWipe, "all", round, 0, func(ctx context.Context, tx Tx) error {
			rows, err := tx.Run(ctx, stmt)
			if err != nil {
				return err
			}
			deleted = 0
			if len(rows) > 0 {
				deleted = toInt64(rows[0]["deleted"])
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted < int64(w.wipeBatch) {
			break
		}
	}

	w.logger.WithField("deleted", total).Info("graph wiped")
	return total, nil
}

// Counts returns node counts per label and edge counts per type
func (w *Writer) Counts(ctx context.Context) (models.GraphCounts, error) {
	counts := models.NewGraphCounts()
	cfg := GetConfigForOperation(OpCount)

	nodes, err := w.exec.Read(ctx, cfg, BuildNodeCounts())
	if err != nil {
		return counts, fmt.Errorf("failed to count nodes: %w", err)
	}
	for _, row := range nodes {
		label, _ := row["label"].(string)
		counts.Nodes[models.NodeKind(label)] = toInt64(row["count"])
	}

	edges, err := w.exec.Read(ctx, cfg, BuildEdgeCounts())
	if err != nil {
		return counts, fmt.Errorf("failed to count relationships: %w", err)
	}
	for _, row := range edges {
		typ, _ := row["type"].(string)
		counts.Edges[models.EdgeKind(typ)] = toInt64(row["count"])
	}

	return counts, nil
}

// UpsertNode merges a single node
func (w *Writer) UpsertNode(ctx context.Context, node models.GraphNode) error {
	_, err := w.UpsertNodes(ctx, node.Kind, []models.GraphNode{node})
	return err
}

// UpsertNodes merges nodes of one kind by id, replacing their properties
// Node ids must be unique within the call.
func (w *Writer) UpsertNodes(ctx context.Context, kind models.NodeKind, nodes []models.GraphNode) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		rows[i] = nodeRow(n)
	}

	err := w.dispatch(ctx, OpNodeUpsert, string(kind), rows, w.workers, func(batch []map[string]any) (func(context.Context, Tx) error, error) {
		stmt, err := BuildNodeUpsert(kind, batch)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, tx Tx) error {
			_, err := tx.Run(ctx, stmt)
			return err
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// UpsertEdge merges a single edge
func (w *Writer) UpsertEdge(ctx context.Context, edge models.GraphEdge) error {
	_, err := w.UpsertEdges(ctx, edge.Kind, []models.GraphEdge{edge})
	return err
}

// UpsertEdges merges edges of one kind by (from, to), replacing their properties
// A batch referencing a missing endpoint fails with MissingEndpoint and is not retried.
// Edge batches commit one at a time: MERGE locks both endpoints and batches of
// one kind share endpoint nodes.
func (w *Writer) UpsertEdges(ctx context.Context, kind models.EdgeKind, edges []models.GraphEdge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = edgeRow(e)
	}

	err := w.dispatch(ctx, OpEdgeUpsert, string(kind), rows, 1, func(batch []map[string]any) (func(context.Context, Tx) error, error) {
		probe, err := BuildEdgeProbe(kind, batch)
		if err != nil {
			return nil, err
		}
		upsert, err := BuildEdgeUpsert(kind, batch)
		if err != nil {
			return nil, err
		}

		return func(ctx context.Context, tx Tx) error {
			missing, err := tx.Run(ctx, probe)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return missingEndpointError(kind, missing)
			}
			_, err = tx.Run(ctx, upsert)
			return err
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return len(edges), nil
}

// dispatch splits rows into batches and commits them on an errgroup of at most workers
func (w *Writer) dispatch(ctx context.Context, op, kind string, rows []map[string]any, workers int,
	build func(batch []map[string]any) (func(context.Context, Tx) error, error)) error {

	start := time.Now()
	batches := split(rows, w.batches.SizeFor(kind))

	works := make([]func(context.Context, Tx) error, len(batches))
	for i, batch := range batches {
		work, err := build(batch)
		if err != nil {
			return errors.InternalErrorf("failed to build %s statement for %s: %v", op, kind, err)
		}
		works[i] = work
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, batch := range batches {
		g.Go(func() error {
			return w.commit(gctx, op, kind, i, len(batch), works[i])
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"op":       op,
		"kind":     kind,
		"rows":     len(rows),
		"batches":  len(batches),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("batches committed")
	return nil
}

// commit runs one batch as a managed transaction, retried whole on failure
func (w *Writer) commit(ctx context.Context, op, kind string, batch, size int, work func(context.Context, Tx) error) error {
	cfg := GetConfigForOperation(op).
		WithCustomMetadata("kind", kind).
		WithCustomMetadata("batch", batch)

	attempts := 0
	start := time.Now()
	err := retry.Do(ctx, w.policy, func(ctx context.Context) error {
		attempts++
		if err := w.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		err := w.exec.Write(ctx, cfg, work)
		if err != nil && errors.KindOf(err) == errors.KindMissingEndpoint {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, attempt int, wait time.Duration) {
		w.observer.BatchRetried(op, kind)
		w.logger.WithFields(logrus.Fields{
			"op":      op,
			"kind":    kind,
			"batch":   batch,
			"attempt": attempt,
			"wait":    wait,
		}).WithError(err).Warn("graph write batch failed, retrying")
	})

	switch {
	case err == nil:
		elapsed := time.Since(start)
		w.observer.BatchCommitted(op, kind, size, elapsed)
		w.timeouts.Observe(op, kind, batch, elapsed, cfg.Timeout)
		return nil
	case errors.KindOf(err) == errors.KindMissingEndpoint:
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%s batch %d of %s interrupted: %w", op, batch, kind, ctx.Err())
	default:
		return errors.WriteBatchFailed(err, "%s batch %d of %s failed after %d attempts", op, batch, kind, attempts).
			WithContext("kind", kind).
			WithContext("batch", batch).
			WithContext("attempts", attempts)
	}
}

func missingEndpointError(kind models.EdgeKind, rows []map[string]any) error {
	from, to, _ := models.EdgeEndpoints(kind)

	missing := make([]string, 0, len(rows))
	for _, row := range rows {
		if b, _ := row["missing_from"].(bool); b {
			missing = append(missing, fmt.Sprintf("%s:%v", from, row["from"]))
		}
		if b, _ := row["missing_to"].(bool); b {
			missing = append(missing, fmt.Sprintf("%s:%v", to, row["to"]))
		}
	}

	first := rows[0]
	return errors.MissingEndpoint("%s edge from %v to %v references a missing endpoint", kind, first["from"], first["to"]).
		WithContext("edge", string(kind)).
		WithContext("from", first["from"]).
		WithContext("to", first["to"]).
		WithContext("missing", missing)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
