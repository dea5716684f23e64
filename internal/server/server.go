// Package server exposes migration runs over HTTP.
package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/history"
	"github.com/rohankatakam/shopgraph/internal/migration"
	"github.com/rohankatakam/shopgraph/internal/validation"
)

const defaultRunsLimit = 20

// RunController triggers and reports runs
type RunController interface {
	Run(ctx context.Context) (*migration.Report, error)
	Start(ctx context.Context) (string, error)
	Status() migration.RunStatus
}

// HistoryReader lists recorded runs
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]*migration.Report, error)
	Get(ctx context.Context, runID string) (*migration.Report, error)
}

// HealthChecker probes dependencies once
type HealthChecker interface {
	Check(ctx context.Context) map[string]error
}

// ValidateFunc compares source and graph counts
type ValidateFunc func(ctx context.Context) (*validation.Summary, error)

// Deps are the collaborators of the HTTP surface. Nil History, Health,
// Validate or Metrics disable their endpoints with 503.
type Deps struct {
	Runner        RunController
	History       HistoryReader
	Health        HealthChecker
	Validate      ValidateFunc
	Metrics       http.Handler
	HealthTimeout time.Duration
}

// Server is the gin-backed HTTP trigger
type Server struct {
	deps   Deps
	logger logrus.FieldLogger
	engine *gin.Engine
}

// New builds the router
func New(deps Deps, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if deps.HealthTimeout <= 0 {
		deps.HealthTimeout = 5 * time.Second
	}

	s := &Server{deps: deps, logger: logger.WithField("component", "server")}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.register(engine)
	s.engine = engine
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) register(r *gin.Engine) {
	etl := r.Group("/etl")
	etl.POST("/run", s.run)
	etl.GET("/status", s.status)
	etl.GET("/runs", s.listRuns)
	etl.GET("/runs/:id", s.getRun)
	etl.GET("/validate", s.validate)

	r.GET("/health", s.health)
	r.GET("/metrics", s.metrics)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("request handled")
	}
}

func (s *Server) run(c *gin.Context) {
	async, _ := strconv.ParseBool(c.Query("async"))

	if async {
		runID, err := s.deps.Runner.Start(c.Request.Context())
		if err != nil {
			s.reject(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "run_id": runID, "status": migration.StatusRunning})
		return
	}

	// a dropped client must not abort a run that has already wiped the graph;
	// migration.run_timeout still bounds it
	report, err := s.deps.Runner.Run(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		s.reject(c, err)
		return
	}
	if !report.Succeeded() {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": report.Error, "report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "report": report})
}

func (s *Server) reject(c *gin.Context, err error) {
	if errors.KindOf(err) == errors.KindRunInProgress {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
}

func (s *Server) status(c *gin.Context) {
	st := s.deps.Runner.Status()
	// only a completed run leaves a final graph
	final := !st.Running && st.Last != nil && st.Last.Succeeded()
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": st, "graph_final": final})
}

func (s *Server) listRuns(c *gin.Context) {
	if s.deps.History == nil {
		unavailable(c, "history")
		return
	}

	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := s.deps.History.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	if s.deps.History == nil {
		unavailable(c, "history")
		return
	}

	report, err := s.deps.History.Get(c.Request.Context(), c.Param("id"))
	if stderrors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "report": report})
}

func (s *Server) validate(c *gin.Context) {
	if s.deps.Validate == nil {
		unavailable(c, "validation")
		return
	}

	summary, err := s.deps.Validate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": summary.Passed, "validation": summary})
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"ok": true, "status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.HealthTimeout)
	defer cancel()

	results := s.deps.Health.Check(ctx)

	healthy := true
	checks := make(gin.H, len(results))
	for name, err := range results {
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "status": "unhealthy", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": "healthy", "checks": checks})
}

func (s *Server) metrics(c *gin.Context) {
	if s.deps.Metrics == nil {
		unavailable(c, "metrics")
		return
	}
	s.deps.Metrics.ServeHTTP(c.Writer, c.Request)
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": what + " not configured"})
}
