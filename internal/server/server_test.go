package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/history"
	"github.com/rohankatakam/shopgraph/internal/migration"
	"github.com/rohankatakam/shopgraph/internal/validation"
)

type stubRunner struct {
	report *migration.Report
	err    error
	runID  string
	status migration.RunStatus
}

func (s *stubRunner) Run(context.Context) (*migration.Report, error) { return s.report, s.err }
func (s *stubRunner) Start(context.Context) (string, error)          { return s.runID, s.err }
func (s *stubRunner) Status() migration.RunStatus                    { return s.status }

type stubHistory map[string]*migration.Report

func (h stubHistory) List(_ context.Context, limit int) ([]*migration.Report, error) {
	out := []*migration.Report{}
	for _, r := range h {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (h stubHistory) Get(_ context.Context, id string) (*migration.Report, error) {
	if r, ok := h[id]; ok {
		return r, nil
	}
	return nil, history.ErrNotFound
}

type stubHealth map[string]error

func (h stubHealth) Check(context.Context) map[string]error { return h }

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	return New(deps, logger)
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	s.Handler().ServeHTTP(rec, req)

	body := map[string]any{}
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRunSync(t *testing.T) {
	report := &migration.Report{RunID: "r1", Status: migration.StatusCompleted}
	s := newTestServer(t, Deps{Runner: &stubRunner{report: report}})

	rec, body := do(t, s, http.MethodPost, "/etl/run")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "r1", body["report"].(map[string]any)["run_id"])
}

// cancelOnRun drops the client connection while the run is executing
type cancelOnRun struct {
	stubRunner
	cancel context.CancelFunc
	runErr error
}

func (r *cancelOnRun) Run(ctx context.Context) (*migration.Report, error) {
	r.cancel()
	select {
	case <-ctx.Done():
		r.runErr = ctx.Err()
		return &migration.Report{RunID: "r1", Status: migration.StatusFailed, Error: ctx.Err().Error()}, nil
	case <-time.After(20 * time.Millisecond):
	}
	return &migration.Report{RunID: "r1", Status: migration.StatusCompleted}, nil
}

func TestRunSyncSurvivesClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancelOnRun{cancel: cancel}
	s := newTestServer(t, Deps{Runner: runner})

	rec := httptest.NewRecorder()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/etl/run", nil)
	require.NoError(t, err)
	s.Handler().ServeHTTP(rec, req)

	assert.Error(t, ctx.Err())
	assert.NoError(t, runner.runErr)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"Completed"`)
}

func TestRunFailedReturns500WithReport(t *testing.T) {
	report := &migration.Report{
		RunID:       "r2",
		Status:      migration.StatusFailed,
		FailedPhase: migration.PhaseLoadingOrderItems,
		ErrorKind:   "MissingEndpoint",
		Error:       "CONTAINS edge from O1 to P9 references a missing endpoint",
	}
	s := newTestServer(t, Deps{Runner: &stubRunner{report: report}})

	rec, body := do(t, s, http.MethodPost, "/etl/run")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	got := body["report"].(map[string]any)
	assert.Equal(t, "LoadingOrderItems", got["failed_phase"])
	assert.Equal(t, "MissingEndpoint", got["error_kind"])
}

func TestRunInProgressReturns409(t *testing.T) {
	s := newTestServer(t, Deps{Runner: &stubRunner{err: errors.RunInProgress("migration run r1 already in progress")}})

	rec, _ := do(t, s, http.MethodPost, "/etl/run")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/etl/run?async=true")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunAsyncReturns202(t *testing.T) {
	s := newTestServer(t, Deps{Runner: &stubRunner{runID: "r3"}})

	rec, body := do(t, s, http.MethodPost, "/etl/run?async=true")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "r3", body["run_id"])
}

func TestStatusMarksTransientGraph(t *testing.T) {
	runner := &stubRunner{status: migration.RunStatus{Running: true, RunID: "r4", Phase: migration.PhaseWiping}}
	s := newTestServer(t, Deps{Runner: runner})

	_, body := do(t, s, http.MethodGet, "/etl/status")
	assert.Equal(t, false, body["graph_final"])
	assert.Equal(t, "Wiping", body["status"].(map[string]any)["phase"])

	runner.status = migration.RunStatus{
		Phase: migration.PhaseCompleted,
		Last:  &migration.Report{RunID: "r4", Status: migration.StatusCompleted},
	}
	_, body = do(t, s, http.MethodGet, "/etl/status")
	assert.Equal(t, true, body["graph_final"])
}

func TestRunsEndpoints(t *testing.T) {
	h := stubHistory{"r5": {RunID: "r5", Status: migration.StatusCompleted}}
	s := newTestServer(t, Deps{Runner: &stubRunner{}, History: h})

	rec, body := do(t, s, http.MethodGet, "/etl/runs?limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 1)

	rec, _ = do(t, s, http.MethodGet, "/etl/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, s, http.MethodGet, "/etl/runs/r5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r5", body["report"].(map[string]any)["run_id"])

	rec, _ = do(t, s, http.MethodGet, "/etl/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateEndpoint(t *testing.T) {
	summary := &validation.Summary{Passed: true, Results: []validation.ValidationResult{
		{EntityType: "Product", SourceCount: 1, GraphCount: 1, VariancePercent: 100, PassedThreshold: true},
	}}
	s := newTestServer(t, Deps{
		Runner:   &stubRunner{},
		Validate: func(context.Context) (*validation.Summary, error) { return summary, nil },
	})

	rec, body := do(t, s, http.MethodGet, "/etl/validate")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])

	s = newTestServer(t, Deps{
		Runner:   &stubRunner{},
		Validate: func(context.Context) (*validation.Summary, error) { return nil, stderrors.New("neo4j down") },
	})
	rec, _ = do(t, s, http.MethodGet, "/etl/validate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Deps{Runner: &stubRunner{}, Health: stubHealth{"postgres": nil, "neo4j": nil}})
	rec, body := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["checks"].(map[string]any)["neo4j"])

	s = newTestServer(t, Deps{Runner: &stubRunner{}, Health: stubHealth{"postgres": nil, "neo4j": stderrors.New("refused")}})
	rec, body = do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "refused", body["checks"].(map[string]any)["neo4j"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("shopgraph_migration_runs_total 1\n"))
	})
	s := newTestServer(t, Deps{Runner: &stubRunner{}, Metrics: metrics})

	rec, _ := do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shopgraph_migration_runs_total")

	s = newTestServer(t, Deps{Runner: &stubRunner{}})
	rec, _ = do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
