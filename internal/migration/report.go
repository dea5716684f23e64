package migration

import (
	"time"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/models"
)

// PhaseResult holds the counts of one phase
type PhaseResult struct {
	Phase        Phase `json:"phase" yaml:"phase"`
	RowsRead     int   `json:"rows_read" yaml:"rows_read"`
	NodesWritten int   `json:"nodes_written" yaml:"nodes_written"`
	EdgesWritten int   `json:"edges_written" yaml:"edges_written"`
	DurationMS   int64 `json:"duration_ms" yaml:"duration_ms"`
}

// Report is the terminal record of one run
type Report struct {
	RunID       string              `json:"run_id" yaml:"run_id"`
	Status      Status              `json:"status" yaml:"status"`
	FailedPhase Phase               `json:"failed_phase,omitempty" yaml:"failed_phase,omitempty"`
	ErrorKind   string              `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error       string              `json:"error,omitempty" yaml:"error,omitempty"`
	DryRun      bool                `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	StartedAt   time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time           `json:"finished_at" yaml:"finished_at"`
	Deleted     int64               `json:"deleted" yaml:"deleted"`
	Phases      []PhaseResult       `json:"phases" yaml:"phases"`
	Graph       *models.GraphCounts `json:"graph,omitempty" yaml:"graph,omitempty"`
}

// Succeeded reports whether the run completed
func (r *Report) Succeeded() bool {
	return r.Status == StatusCompleted
}

// Duration is the wall time of the run
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// NodesWritten sums node upserts across phases
func (r *Report) NodesWritten() int {
	total := 0
	for _, p := range r.Phases {
		total += p.NodesWritten
	}
	return total
}

// EdgesWritten sums edge upserts across phases
func (r *Report) EdgesWritten() int {
	total := 0
	for _, p := range r.Phases {
		total += p.EdgesWritten
	}
	return total
}

// FailedReport builds a report for a run that failed before its orchestrator started
func FailedReport(runID string, phase Phase, err error, now time.Time) *Report {
	r := &Report{RunID: runID, StartedAt: now, Phases: []PhaseResult{}}
	r.fail(phase, err, now)
	return r
}

func (r *Report) fail(phase Phase, err error, now time.Time) {
	r.Status = StatusFailed
	r.FailedPhase = phase
	r.ErrorKind = errors.KindOf(err).String()
	r.Error = err.Error()
	r.FinishedAt = now
}
