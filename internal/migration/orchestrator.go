// Package migration sequences one full rebuild of the graph from the relational source.
package migration

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
)

// Source is the relational side of a run
type Source interface {
	Categories(ctx context.Context) ([]models.Category, error)
	Products(ctx context.Context) ([]models.Product, error)
	Customers(ctx context.Context) ([]models.Customer, error)
	Orders(ctx context.Context) ([]models.Order, error)
	OrderItems(ctx context.Context) ([]models.OrderItem, error)
	Events(ctx context.Context) ([]models.Event, error)
}

// GraphStore is the graph side of a run
type GraphStore interface {
	EnsureSchema(ctx context.Context) error
	Wipe(ctx context.Context) (int64, error)
	Counts(ctx context.Context) (models.GraphCounts, error)
	UpsertNodes(ctx context.Context, kind models.NodeKind, nodes []models.GraphNode) (int, error)
	UpsertEdges(ctx context.Context, kind models.EdgeKind, edges []models.GraphEdge) (int, error)
}

// ReadinessGate blocks until backing stores answer
type ReadinessGate interface {
	AwaitReady(ctx context.Context) error
}

// Options tune one orchestrator
type Options struct {
	RunID    string
	Timeout  time.Duration
	DryRun   bool
	Observer Observer
	Logger   logrus.FieldLogger
}

// Orchestrator drives a single run through its phases. It is not reusable.
type Orchestrator struct {
	gate     ReadinessGate
	source   Source
	store    GraphStore
	opts     Options
	observer Observer
	logger   logrus.FieldLogger
	used     atomic.Bool

	report  *Report
	current Phase // last working phase entered
}

// NewOrchestrator creates an orchestrator. A nil gate counts as always ready.
func NewOrchestrator(gate ReadinessGate, source Source, store GraphStore, opts Options) *Orchestrator {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Orchestrator{
		gate:     gate,
		source:   source,
		store:    store,
		opts:     opts,
		observer: observer,
		logger:   logger.WithFields(logrus.Fields{"component": "orchestrator", "run_id": opts.RunID}),
	}
}

// RunID identifies the run this orchestrator drives
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// Run executes every phase in order and returns the terminal report
func (o *Orchestrator) Run(ctx context.Context) *Report {
	if !o.used.CompareAndSwap(false, true) {
		return FailedReport(o.opts.RunID, PhaseIdle,
			errors.InternalErrorf("orchestrator for run %s already used", o.opts.RunID), time.Now())
	}

	o.report = &Report{
		RunID:     o.opts.RunID,
		Status:    StatusRunning,
		DryRun:    o.opts.DryRun,
		StartedAt: time.Now(),
		Phases:    []PhaseResult{},
	}
	o.current = PhaseIdle

	runCtx := ctx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	o.logger.WithField("dry_run", o.opts.DryRun).Info("migration run started")

	steps := []struct {
		phase Phase
		fn    func(context.Context, *PhaseResult) error
	}{
		{PhaseAwaitingReadiness, o.awaitReadiness},
		{PhaseBootstrappingSchema, o.bootstrapSchema},
		{PhaseWiping, o.wipe},
		{PhaseLoadingCategories, o.loadCategories},
		{PhaseLoadingProducts, o.loadProducts},
		{PhaseLoadingCustomers, o.loadCustomers},
		{PhaseLoadingOrders, o.loadOrders},
		{PhaseLoadingOrderItems, o.loadOrderItems},
		{PhaseLoadingEvents, o.loadEvents},
	}

	for _, step := range steps {
		if err := o.runPhase(runCtx, step.phase, step.fn); err != nil {
			// a deadline hit between phases belongs to the phase that was running
			return o.finishFailed(ctx, runCtx, o.current, err)
		}
	}

	if counts, err := o.store.Counts(runCtx); err != nil {
		o.logger.WithError(err).Warn("final graph counts unavailable")
	} else {
		o.report.Graph = &counts
	}

	o.report.Status = StatusCompleted
	o.report.FinishedAt = time.Now()
	o.transition(PhaseCompleted)

	o.logger.WithFields(logrus.Fields{
		"nodes":    o.report.NodesWritten(),
		"edges":    o.report.EdgesWritten(),
		"duration": o.report.Duration().Round(time.Millisecond),
	}).Info("migration run completed")

	o.observer.RunFinished(o.report)
	return o.report
}

func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, fn func(context.Context, *PhaseResult) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.current = phase
	o.transition(phase)

	result := PhaseResult{Phase: phase}
	start := time.Now()
	err := fn(ctx, &result)
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		return err
	}

	o.report.Phases = append(o.report.Phases, result)
	o.logger.WithFields(logrus.Fields{
		"phase":    phase,
		"rows":     result.RowsRead,
		"nodes":    result.NodesWritten,
		"edges":    result.EdgesWritten,
		"duration": time.Duration(result.DurationMS) * time.Millisecond,
	}).Info("phase finished")
	return nil
}

func (o *Orchestrator) transition(phase Phase) {
	o.logger.WithField("phase", phase).Debug("phase transition")
	o.observer.PhaseChanged(o.opts.RunID, phase)
}

func (o *Orchestrator) finishFailed(parent, runCtx context.Context, phase Phase, err error) *Report {
	err = classify(parent, runCtx, phase, err, o.opts.Timeout)

	o.report.fail(phase, err, time.Now())
	o.transition(PhaseFailed)

	entry := o.logger.WithFields(logrus.Fields{
		"phase":      phase,
		"error_kind": o.report.ErrorKind,
	})
	if e, ok := errors.As(err); ok {
		for k, v := range e.Context {
			entry = entry.WithField(k, v)
		}
	}
	if phase.Mutating() {
		entry = entry.WithField("graph_state", "partial")
	}
	entry.WithError(err).Error("migration run failed")

	o.observer.RunFinished(o.report)
	return o.report
}

// classify gives every failure a kind. The run deadline wins over whatever
// error the interrupted phase produced.
func classify(parent, runCtx context.Context, phase Phase, err error, timeout time.Duration) error {
	if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return errors.Timeout(err, "run exceeded %s during %s", timeout, phase)
	}
	if _, ok := errors.As(err); ok {
		return err
	}

	switch phase {
	case PhaseAwaitingReadiness:
		return errors.DependencyUnavailable(err, "backing stores not ready")
	case PhaseBootstrappingSchema:
		return errors.SchemaSetupFailed(err, "schema bootstrap failed")
	default:
		return errors.Wrap(err, errors.KindInternal, errors.SeverityCritical, string(phase)+" aborted")
	}
}

func (o *Orchestrator) awaitReadiness(ctx context.Context, _ *PhaseResult) error {
	if o.gate == nil {
		return nil
	}
	return o.gate.AwaitReady(ctx)
}

func (o *Orchestrator) bootstrapSchema(ctx context.Context, _ *PhaseResult) error {
	return o.store.EnsureSchema(ctx)
}

func (o *Orchestrator) wipe(ctx context.Context, _ *PhaseResult) error {
	deleted, err := o.store.Wipe(ctx)
	if err != nil {
		return err
	}
	o.report.Deleted = deleted

	counts, err := o.store.Counts(ctx)
	if err != nil {
		return err
	}
	if counts.TotalNodes() != 0 || counts.TotalEdges() != 0 {
		return errors.New(errors.KindWriteBatchFailed, errors.SeverityCritical, "graph not empty after wipe").
			WithContext("nodes", counts.TotalNodes()).
			WithContext("edges", counts.TotalEdges())
	}
	return nil
}

func (o *Orchestrator) loadCategories(ctx context.Context, res *PhaseResult) error {
	rows, err := o.source.Categories(ctx)
	if err != nil {
		return err
	}
	res.RowsRead = len(rows)
	res.NodesWritten, err = o.store.UpsertNodes(ctx, models.NodeCategory, CategoryNodes(rows))
	return err
}

func (o *Orchestrator) loadProducts(ctx context.Context, res *PhaseResult) error {
	rows, err := o.source.Products(ctx)
	if err != nil {
		return err
	}
	res.RowsRead = len(rows)
	if res.NodesWritten, err = o.store.UpsertNodes(ctx, models.NodeProduct, ProductNodes(rows)); err != nil {
		return err
	}
	res.EdgesWritten, err = o.store.UpsertEdges(ctx, models.EdgeInCategory, InCategoryEdges(rows))
	return err
}

func (o *Orchestrator) loadCustomers(ctx context.Context, res *PhaseResult) error {
	rows, err := o.source.Customers(ctx)
	if err != nil {
		return err
	}
	res.RowsRead = len(rows)
	res.NodesWritten, err = o.store.UpsertNodes(ctx, models.NodeCustomer, CustomerNodes(rows))
	return err
}

func (o *Orchestrator) loadOrders(ctx context.Context, res *PhaseResult) error {
	rows, err := o.source.Orders(ctx)
	if err != nil {
		return err
	}
	res.RowsRead = len(rows)
	if res.NodesWritten, err = o.store.UpsertNodes(ctx, models.NodeOrder, OrderNodes(rows)); err != nil {
		return err
	}
	res.EdgesWritten, err = o.store.UpsertEdges(ctx, models.EdgePlaced, PlacedEdges(rows))
	return err
}

func (o *Orchestrator) loadOrderItems(ctx context.Context, res *PhaseResult) error {
	rows, err := o.source.OrderItems(ctx)
	if err != nil {
		return err
	}
	res.RowsRead = len(rows)
	res.EdgesWritten, err = o.store.UpsertEdges(ctx, models.EdgeContains, ContainsEdges(rows))
	return err
}

func (o *Orchestrator) loadEvents(ctx context.Context, res *PhaseResult) error {
	rows, err := o.source.Events(ctx)
	if err != nil {
		return err
	}
	res.RowsRead = len(rows)
	res.EdgesWritten, err = o.store.UpsertEdges(ctx, models.EdgeInteracted, InteractedEdges(rows))
	return err
}
