// Package metrics exposes Prometheus metrics for migration runs and graph writes.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rohankatakam/shopgraph/internal/migration"
)

const namespace = "shopgraph"

// Registry owns the collectors. It observes runs (migration.Observer) and
// graph batches (graph.BatchObserver).
type Registry struct {
	reg *prometheus.Registry

	mu     sync.Mutex
	active map[string]struct{}

	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runsInFlight  prometheus.Gauge
	currentPhase  *prometheus.GaugeVec
	failuresTotal *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
	rowsRead      *prometheus.CounterVec
	nodesWritten  *prometheus.CounterVec
	edgesWritten  *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	batchesTotal  *prometheus.CounterVec
	batchRows     *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchRetries  *prometheus.CounterVec
}

// NewRegistry creates a registry with Go runtime and process collectors attached
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		reg:    reg,
		active: make(map[string]struct{}),

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "runs_total",
				Help:      "Total number of migration runs by terminal status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "run_duration_seconds",
				Help:      "Duration of migration runs in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
		),
		runsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "runs_in_flight",
				Help:      "Number of migration runs currently executing",
			},
		),
		currentPhase: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "phase",
				Help:      "Current phase of the latest run (1 for the active phase)",
			},
			[]string{"phase"},
		),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "failures_total",
				Help:      "Total number of failed runs by phase and error kind",
			},
			[]string{"phase", "kind"},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last completed run",
			},
		),
		rowsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "rows_read_total",
				Help:      "Total number of relational rows read by phase",
			},
			[]string{"phase"},
		),
		nodesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "nodes_written_total",
				Help:      "Total number of nodes upserted by phase",
			},
			[]string{"phase"},
		),
		edgesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "edges_written_total",
				Help:      "Total number of edges upserted by phase",
			},
			[]string{"phase"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "migration",
				Name:      "phase_duration_seconds",
				Help:      "Duration of completed phases in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"phase"},
		),
		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "batches_total",
				Help:      "Total number of committed write batches",
			},
			[]string{"op", "kind"},
		),
		batchRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "batch_rows_total",
				Help:      "Total number of rows in committed write batches",
			},
			[]string{"op", "kind"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "batch_duration_seconds",
				Help:      "Duration of write batches including retries",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		batchRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "batch_retries_total",
				Help:      "Total number of retried write batches",
			},
			[]string{"op", "kind"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// PhaseChanged implements migration.Observer
func (r *Registry) PhaseChanged(runID string, phase migration.Phase) {
	if !phase.Terminal() {
		r.mu.Lock()
		if _, ok := r.active[runID]; !ok {
			r.active[runID] = struct{}{}
			r.runsInFlight.Inc()
		}
		r.mu.Unlock()
	}
	r.currentPhase.Reset()
	r.currentPhase.WithLabelValues(string(phase)).Set(1)
}

// RunFinished implements migration.Observer
func (r *Registry) RunFinished(report *migration.Report) {
	if report == nil {
		return
	}
	r.mu.Lock()
	if _, ok := r.active[report.RunID]; ok {
		delete(r.active, report.RunID)
		r.runsInFlight.Dec()
	}
	r.mu.Unlock()

	r.runsTotal.WithLabelValues(string(report.Status)).Inc()
	r.runDuration.Observe(report.Duration().Seconds())

	for _, p := range report.Phases {
		label := string(p.Phase)
		r.rowsRead.WithLabelValues(label).Add(float64(p.RowsRead))
		r.nodesWritten.WithLabelValues(label).Add(float64(p.NodesWritten))
		r.edgesWritten.WithLabelValues(label).Add(float64(p.EdgesWritten))
		r.phaseDuration.WithLabelValues(label).Observe((time.Duration(p.DurationMS) * time.Millisecond).Seconds())
	}

	if report.Succeeded() {
		r.lastSuccess.Set(float64(report.FinishedAt.Unix()))
		return
	}
	r.failuresTotal.WithLabelValues(string(report.FailedPhase), report.ErrorKind).Inc()
}

// BatchCommitted implements graph.BatchObserver
func (r *Registry) BatchCommitted(op, kind string, rows int, elapsed time.Duration) {
	r.batchesTotal.WithLabelValues(op, kind).Inc()
	r.batchRows.WithLabelValues(op, kind).Add(float64(rows))
	r.batchDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// BatchRetried implements graph.BatchObserver
func (r *Registry) BatchRetried(op, kind string) {
	r.batchRetries.WithLabelValues(op, kind).Inc()
}
