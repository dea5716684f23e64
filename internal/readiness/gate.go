// Package readiness blocks until every backing store answers a liveness probe.
package readiness

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/shopgraph/internal/errors"
	"github.com/rohankatakam/shopgraph/internal/retry"
)

// Probe reports whether a dependency is reachable
type Probe func(ctx context.Context) error

// Target is a named dependency with its probe
type Target struct {
	Name  string
	Probe Probe
}

// Gate waits for a fixed set of targets
type Gate struct {
	targets []Target
	policy  retry.Policy
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewGate creates a gate; timeout bounds the whole wait, policy each target's retries
func NewGate(targets []Target, policy retry.Policy, timeout time.Duration, logger logrus.FieldLogger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{
		targets: targets,
		policy:  policy,
		timeout: timeout,
		logger:  logger.WithField("component", "readiness"),
	}
}

// AwaitReady probes every target in parallel until each succeeds, exhausts its
// attempts, or the gate times out. It fails with DependencyUnavailable naming
// every unreachable target.
func (g *Gate) AwaitReady(ctx context.Context) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
	)

	var eg errgroup.Group
	for _, target := range g.targets {
		eg.Go(func() error {
			err := retry.Do(ctx, g.policy, target.Probe, func(err error, attempt int, wait time.Duration) {
				g.logger.WithFields(logrus.Fields{
					"target":  target.Name,
					"attempt": attempt,
					"wait":    wait.Round(time.Millisecond),
				}).WithError(err).Info("waiting for dependency")
			})
			if err != nil {
				mu.Lock()
				failed[target.Name] = err
				mu.Unlock()
				return nil
			}
			g.logger.WithField("target", target.Name).Debug("dependency ready")
			return nil
		})
	}
	_ = eg.Wait()

	if len(failed) == 0 {
		g.logger.WithFields(logrus.Fields{
			"targets":  len(g.targets),
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("all dependencies ready")
		return nil
	}

	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	first := failed[names[0]]
	e := errors.DependencyUnavailable(first, "dependencies unavailable: %s", strings.Join(names, ", ")).
		WithContext("targets", names)
	for _, name := range names {
		e.WithContext(name, failed[name].Error())
	}
	return e
}

// Check probes every target once, in parallel, and returns per-target errors
// (nil for healthy targets). Used by health endpoints.
func (g *Gate) Check(ctx context.Context) map[string]error {
	results := make(map[string]error, len(g.targets))
	var mu sync.Mutex

	var eg errgroup.Group
	for _, target := range g.targets {
		eg.Go(func() error {
			err := target.Probe(ctx)
			mu.Lock()
			results[target.Name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
