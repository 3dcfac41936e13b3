package optgo

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/optgo/optimizer"
	"github.com/hupe1980/optgo/solver"
)

// MetricsCollector is the telemetry interface consumed by the optimizer.
// Implement it to integrate with monitoring systems like Prometheus; pass an
// implementation via optimizer.WithMetrics.
type MetricsCollector = optimizer.MetricsCollector

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector = optimizer.NoopMetricsCollector

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SolveCount           atomic.Int64
	ConvergedCount       atomic.Int64
	SolveTotalNanos      atomic.Int64
	IterationCount       atomic.Int64
	AcceptedSteps        atomic.Int64
	RejectedSteps        atomic.Int64
	CovarianceCount      atomic.Int64
	CovarianceErrors     atomic.Int64
	CovarianceTotalNanos atomic.Int64
}

// RecordIteration implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIteration(iter solver.IterationStats) {
	b.IterationCount.Add(1)
	if iter.Accepted {
		b.AcceptedSteps.Add(1)
	} else {
		b.RejectedSteps.Add(1)
	}
}

// RecordSolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSolve(stats *solver.Stats, duration time.Duration) {
	b.SolveCount.Add(1)
	b.SolveTotalNanos.Add(duration.Nanoseconds())
	if stats.Converged() {
		b.ConvergedCount.Add(1)
	}
}

// RecordCovariance implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCovariance(numKeys int, duration time.Duration, err error) {
	b.CovarianceCount.Add(1)
	b.CovarianceTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CovarianceErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SolveCount:       b.SolveCount.Load(),
		ConvergedCount:   b.ConvergedCount.Load(),
		SolveAvgNanos:    b.getAvgSolveNanos(),
		IterationCount:   b.IterationCount.Load(),
		AcceptedSteps:    b.AcceptedSteps.Load(),
		RejectedSteps:    b.RejectedSteps.Load(),
		CovarianceCount:  b.CovarianceCount.Load(),
		CovarianceErrors: b.CovarianceErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSolveNanos() int64 {
	count := b.SolveCount.Load()
	if count == 0 {
		return 0
	}
	return b.SolveTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SolveCount       int64
	ConvergedCount   int64
	SolveAvgNanos    int64
	IterationCount   int64
	AcceptedSteps    int64
	RejectedSteps    int64
	CovarianceCount  int64
	CovarianceErrors int64
}
