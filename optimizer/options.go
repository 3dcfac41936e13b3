package optimizer

import (
	"log/slog"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/linearizer"
)

// Option configures an Optimizer at construction time.
type Option func(*Optimizer)

// WithKeys fixes the ordered list of optimized keys. Without it the
// optimizer uses the sorted union of all factor keys; any factor key outside
// the given list is treated as a read-only constant during the solve.
func WithKeys(keys []key.Key) Option {
	return func(o *Optimizer) {
		o.keys = keys
	}
}

// WithEpsilon overrides the numerical floor used for retraction, tolerance
// comparisons and covariance damping. Defaults to the params Epsilon.
func WithEpsilon(epsilon float64) Option {
	return func(o *Optimizer) {
		o.epsilon = epsilon
	}
}

// WithLogger sets the structured logger. Defaults to a discard handler.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithName tags the optimizer instance in log and stats output.
func WithName(name string) Option {
	return func(o *Optimizer) {
		o.name = name
	}
}

// WithParallelism bounds the number of goroutines used for per-factor
// evaluation inside the linearizer. Values below 2 keep evaluation on the
// calling goroutine; results are identical for any setting.
func WithParallelism(n int) Option {
	return func(o *Optimizer) {
		o.parallelism = n
	}
}

// WithMetrics sets the telemetry sink. Defaults to NoopMetricsCollector.
func WithMetrics(collector MetricsCollector) Option {
	return func(o *Optimizer) {
		if collector != nil {
			o.metrics = collector
		}
	}
}

// OptimizeOptions carries per-call settings for Optimize.
type OptimizeOptions struct {
	// NumIterations overrides the params iteration budget for this call.
	NumIterations int

	// BestLinearization, when non-nil, is rebuilt around the final values
	// before Optimize returns.
	BestLinearization *linearizer.Linearization
}

// OptimizeOption mutates the per-call settings.
type OptimizeOption func(*OptimizeOptions)

// WithNumIterations overrides the iteration budget for one Optimize call.
func WithNumIterations(n int) OptimizeOption {
	return func(c *OptimizeOptions) {
		c.NumIterations = n
	}
}

// WithBestLinearization requests the full linearization at the final values.
// The target borrows from the optimizer's factor storage and stays valid only
// while the optimizer is unchanged.
func WithBestLinearization(lin *linearizer.Linearization) OptimizeOption {
	return func(c *OptimizeOptions) {
		c.BestLinearization = lin
	}
}
