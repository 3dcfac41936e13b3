package optimizer

import (
	"time"

	"github.com/hupe1980/optgo/solver"
)

// MetricsCollector receives solve and covariance telemetry. Implement this
// interface to integrate with monitoring systems; the default is
// NoopMetricsCollector.
type MetricsCollector interface {
	// RecordIteration is called once per damped step attempt, after the
	// solve that produced it completes.
	RecordIteration(iter solver.IterationStats)

	// RecordSolve is called after each Optimize call with the terminal
	// stats and wall-clock duration.
	RecordSolve(stats *solver.Stats, duration time.Duration)

	// RecordCovariance is called after each covariance extraction.
	// numKeys is the number of requested keys, err is nil on success.
	RecordCovariance(numKeys int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIteration(solver.IterationStats)      {}
func (NoopMetricsCollector) RecordSolve(*solver.Stats, time.Duration)   {}
func (NoopMetricsCollector) RecordCovariance(int, time.Duration, error) {}
