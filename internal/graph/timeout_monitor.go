package graph

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeoutWarningRatio warns once a batch uses 80% of its transaction timeout
const DefaultTimeoutWarningRatio = 0.8

// TimeoutMonitor flags batches that commit close to their transaction timeout.
// A batch that keeps creeping toward the limit will eventually be killed by
// the server and retried whole; the warning says which batch size to lower.
type TimeoutMonitor struct {
	logger       logrus.FieldLogger
	warningRatio float64
}

// NewTimeoutMonitor creates a monitor with the default warning ratio
func NewTimeoutMonitor(logger logrus.FieldLogger) *TimeoutMonitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TimeoutMonitor{
		logger:       logger.WithField("component", "timeout_monitor"),
		warningRatio: DefaultTimeoutWarningRatio,
	}
}

// Observe checks one committed batch; it reports whether a warning was logged
func (tm *TimeoutMonitor) Observe(op, kind string, batch int, elapsed, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}

	threshold := time.Duration(float64(timeout) * tm.warningRatio)
	if elapsed < threshold {
		return false
	}

	tm.logger.WithFields(logrus.Fields{
		"op":           op,
		"kind":         kind,
		"batch":        batch,
		"duration":     elapsed.Round(time.Millisecond),
		"timeout":      timeout,
		"percent_used": elapsed.Seconds() / timeout.Seconds() * 100,
	}).Warn("graph write batch approaching transaction timeout; consider a smaller batch size")
	return true
}
