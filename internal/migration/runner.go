package migration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/errors"
)

// Resources are the connections scoped to one run
type Resources struct {
	Gate   ReadinessGate
	Source Source
	Store  GraphStore
	// Close releases every handle; called on every exit path
	Close func() error
}

// Opener creates the resources of a run
type Opener func(ctx context.Context) (*Resources, error)

// RunLock guards runs across processes. TryLock fails with RunInProgress
// when another process holds the lock.
type RunLock interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, err error)
}

// HistoryRecorder persists terminal reports
type HistoryRecorder interface {
	Record(ctx context.Context, report *Report) error
}

// RunnerOptions configure a Runner
type RunnerOptions struct {
	Timeout  time.Duration
	DryRun   bool
	Lock     RunLock
	History  HistoryRecorder
	Observer Observer
	Logger   logrus.FieldLogger
}

// RunStatus is a point-in-time view of the runner
type RunStatus struct {
	Running   bool       `json:"running"`
	RunID     string     `json:"run_id,omitempty"`
	Phase     Phase      `json:"phase"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Last      *Report    `json:"last,omitempty"`
}

// Runner admits at most one run at a time and owns its resources
type Runner struct {
	open    Opener
	opts    RunnerOptions
	logger  logrus.FieldLogger
	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.RWMutex
	status RunStatus
}

// NewRunner creates a runner
func NewRunner(open Opener, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		open:   open,
		opts:   opts,
		logger: logger.WithField("component", "runner"),
		status: RunStatus{Phase: PhaseIdle},
	}
}

// Run executes one migration and blocks until it finishes. The error is
// non-nil only when the run was rejected; failures are in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	adm, err := r.admit(ctx)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, adm), nil
}

// Start admits a run and executes it in the background
func (r *Runner) Start(ctx context.Context) (string, error) {
	adm, err := r.admit(ctx)
	if err != nil {
		return "", err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(context.WithoutCancel(ctx), adm)
	}()
	return adm.runID, nil
}

// Wait blocks until background runs finish
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status returns a snapshot of the current or last run
func (r *Runner) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

type admission struct {
	runID  string
	unlock func(context.Context) error
	// lockErr fails the admitted run without opening resources
	lockErr error
}

// admit claims the local flag and the optional cross-process lock
func (r *Runner) admit(ctx context.Context) (*admission, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, errors.RunInProgress("migration run %s already in progress", r.Status().RunID)
	}

	adm := &admission{
		runID:  uuid.NewString(),
		unlock: func(context.Context) error { return nil },
	}
	if r.opts.Lock != nil {
		unlock, err := r.opts.Lock.TryLock(ctx)
		switch {
		case err != nil && errors.KindOf(err) == errors.KindRunInProgress:
			r.running.Store(false)
			return nil, err
		case err != nil:
			adm.lockErr = errors.DependencyUnavailable(err, "run lock unavailable")
		default:
			adm.unlock = unlock
		}
	}

	r.begin(adm.runID)
	return adm, nil
}

func (r *Runner) execute(ctx context.Context, adm *admission) *Report {
	var report *Report
	switch {
	case adm.lockErr != nil:
		report = r.failEarly(adm.runID, adm.lockErr)
	default:
		res, err := r.open(ctx)
		if err != nil {
			report = r.failEarly(adm.runID, errors.DependencyUnavailable(err, "failed to open run resources"))
			break
		}

		orch := NewOrchestrator(res.Gate, res.Source, res.Store, Options{
			RunID:    adm.runID,
			Timeout:  r.opts.Timeout,
			DryRun:   r.opts.DryRun,
			Observer: MultiObserver{statusTracker{r}, r.opts.Observer},
			Logger:   r.logger,
		})
		report = orch.Run(ctx)

		if res.Close != nil {
			if cerr := res.Close(); cerr != nil {
				r.logger.WithError(cerr).Warn("failed to close run resources")
			}
		}
	}

	r.finish(ctx, report, adm.unlock)
	return report
}

// failEarly reports a run that never reached its orchestrator
func (r *Runner) failEarly(runID string, err error) *Report {
	report := FailedReport(runID, PhaseAwaitingReadiness, err, time.Now())
	report.DryRun = r.opts.DryRun
	r.logger.WithError(err).WithField("run_id", runID).Error("migration run failed before start")
	if r.opts.Observer != nil {
		r.opts.Observer.PhaseChanged(runID, PhaseFailed)
		r.opts.Observer.RunFinished(report)
	}
	return report
}

func (r *Runner) begin(runID string) {
	now := time.Now()
	r.mu.Lock()
	r.status.Running = true
	r.status.RunID = runID
	r.status.Phase = PhaseIdle
	r.status.StartedAt = &now
	r.mu.Unlock()
}

func (r *Runner) finish(ctx context.Context, report *Report, unlock func(context.Context) error) {
	if r.opts.History != nil {
		if err := r.opts.History.Record(context.WithoutCancel(ctx), report); err != nil {
			r.logger.WithError(err).WithField("run_id", report.RunID).Warn("failed to record run history")
		}
	}

	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		r.logger.WithError(err).Warn("failed to release run lock")
	}

	r.mu.Lock()
	r.status.Running = false
	r.status.Last = report
	if report.Status == StatusCompleted {
		r.status.Phase = PhaseCompleted
	} else {
		r.status.Phase = PhaseFailed
	}
	r.mu.Unlock()

	r.running.Store(false)
}

// statusTracker mirrors phase transitions into the runner status
type statusTracker struct{ r *Runner }

func (t statusTracker) PhaseChanged(runID string, phase Phase) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if t.r.status.RunID == runID {
		t.r.status.Phase = phase
	}
}

func (statusTracker) RunFinished(*Report) {}
