package validation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/shopgraph/internal/models"
)

// DefaultThreshold requires the graph to mirror the source exactly
const DefaultThreshold = 100.0

// Counter reports per-kind counts of either side
type Counter interface {
	Counts(ctx context.Context) (models.GraphCounts, error)
}

// ValidationResult contains the results of a consistency check
type ValidationResult struct {
	EntityType      string  `json:"entity_type" yaml:"entity_type"`
	SourceCount     int64   `json:"source_count" yaml:"source_count"`
	GraphCount      int64   `json:"graph_count" yaml:"graph_count"`
	VariancePercent float64 `json:"variance_percent" yaml:"variance_percent"`
	PassedThreshold bool    `json:"passed" yaml:"passed"`
}

// Summary is the outcome of one validation pass
type Summary struct {
	Results []ValidationResult `json:"results" yaml:"results"`
	Passed  bool               `json:"passed" yaml:"passed"`
}

// ConsistencyValidator compares expected counts derived from the relational
// source with the counts present in the graph
type ConsistencyValidator struct {
	source    Counter
	graph     Counter
	threshold float64
	logger    logrus.FieldLogger
}

// NewConsistencyValidator creates a new consistency validator. A threshold of
// zero means DefaultThreshold.
func NewConsistencyValidator(source, graph Counter, threshold float64, logger logrus.FieldLogger) *ConsistencyValidator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConsistencyValidator{
		source:    source,
		graph:     graph,
		threshold: threshold,
		logger:    logger.WithField("component", "validation"),
	}
}

// Validate counts both sides concurrently and compares every node and edge kind
func (v *ConsistencyValidator) Validate(ctx context.Context) (*Summary, error) {
	var expected, actual models.GraphCounts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := v.source.Counts(gctx)
		if err != nil {
			return fmt.Errorf("source count failed: %w", err)
		}
		expected = c
		return nil
	})
	g.Go(func() error {
		c, err := v.graph.Counts(gctx)
		if err != nil {
			return fmt.Errorf("graph count failed: %w", err)
		}
		actual = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{Passed: true}
	for _, kind := range models.NodeKinds {
		summary.add(v.compare(string(kind), expected.Nodes[kind], actual.Nodes[kind]))
	}
	for _, kind := range models.EdgeKinds {
		summary.add(v.compare(string(kind), expected.Edges[kind], actual.Edges[kind]))
	}
	return summary, nil
}

func (s *Summary) add(r ValidationResult) {
	s.Results = append(s.Results, r)
	if !r.PassedThreshold {
		s.Passed = false
	}
}

// compare scores graph/source as a percentage. Extra graph entities fail
// too, since a full rebuild never leaves more than the source holds.
func (v *ConsistencyValidator) compare(entity string, sourceCount, graphCount int64) ValidationResult {
	variance := 100.0
	if sourceCount > 0 {
		variance = float64(graphCount) / float64(sourceCount) * 100.0
	} else if graphCount > 0 {
		variance = 0
	}

	return ValidationResult{
		EntityType:      entity,
		SourceCount:     sourceCount,
		GraphCount:      graphCount,
		VariancePercent: variance,
		PassedThreshold: variance >= v.threshold && graphCount <= sourceCount,
	}
}

// LogResults logs validation results in a formatted way
func LogResults(logger logrus.FieldLogger, summary *Summary) {
	for _, r := range summary.Results {
		entry := logger.WithFields(logrus.Fields{
			"entity":   r.EntityType,
			"source":   r.SourceCount,
			"graph":    r.GraphCount,
			"variance": fmt.Sprintf("%.1f%%", r.VariancePercent),
		})
		if r.PassedThreshold {
			entry.Info("entity consistent")
		} else {
			entry.Warn("entity out of sync")
		}
	}

	if summary.Passed {
		logger.Info("graph matches source")
	} else {
		logger.Warn("graph differs from source, re-run the migration")
	}
}
