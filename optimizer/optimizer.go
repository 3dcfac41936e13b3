// Package optimizer orchestrates the nonlinear least-squares solve: it owns
// the factor list, builds the tangent-space index and the linearizer lazily on
// first use, drives the Levenberg-Marquardt solver to convergence and exposes
// covariance extraction over the result.
//
// An Optimizer is built once per problem structure and reused across many
// Optimize calls with different initial guesses; the index and the sparsity
// pattern are amortized across calls. Instances are not safe for concurrent
// use; construct one per goroutine for parallel solves.
package optimizer

import (
	"log/slog"
	"slices"
	"time"

	"github.com/hupe1980/optgo/factor"
	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/linearizer"
	"github.com/hupe1980/optgo/solver"
	"github.com/hupe1980/optgo/values"
)

// Optimizer refines a Values store to a local minimum of the summed squared
// residuals of its factors. The factor slice passed to New is copied; the
// optimizer owns its copy for its lifetime, and any Linearization it hands
// out borrows from that storage.
type Optimizer struct {
	params      solver.Params
	factors     []*factor.Factor
	keys        []key.Key
	epsilon     float64
	name        string
	logger      *slog.Logger
	metrics     MetricsCollector
	parallelism int

	index *values.Index
	lz    *linearizer.Linearizer
	lm    *solver.Solver
	cov   covarianceScratch
}

// New creates an optimizer over the given factors. Without WithKeys the
// optimized keys default to the sorted union of all factor keys.
func New(params solver.Params, factors []*factor.Factor, opts ...Option) *Optimizer {
	o := &Optimizer{
		params:  params,
		factors: slices.Clone(factors),
		epsilon: params.Epsilon,
		name:    "optimizer",
		logger:  slog.New(slog.DiscardHandler),
		metrics: NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Keys returns the ordered optimized keys. Before the first solve this is
// the configured or derived key list; afterwards it reflects the compiled
// index.
func (o *Optimizer) Keys() []key.Key {
	if o.index != nil {
		return o.index.Keys()
	}
	if o.keys != nil {
		return slices.Clone(o.keys)
	}
	return keysToOptimize(o.factors)
}

// Stats returns the statistics of the most recent Optimize call.
func (o *Optimizer) Stats() *solver.Stats {
	if o.lm == nil {
		return &solver.Stats{}
	}
	return o.lm.Stats()
}

// Params returns the current solver configuration.
func (o *Optimizer) Params() solver.Params { return o.params }

// UpdateParams swaps the solver configuration. The compiled index and the
// cached sparsity pattern survive the swap; the construction-time epsilon is
// kept as well, so changing params.Epsilon here only affects solver
// tolerances, not retraction.
func (o *Optimizer) UpdateParams(params solver.Params) {
	o.params = params
	if o.lm != nil {
		o.lm.UpdateParams(params)
	}
}

// Optimize mutates v in place to the best values found. It returns whether a
// convergence criterion was met; budget exhaustion and numerical failure are
// reported through the stats, not as errors. Only structural problems (bad
// keys, bad dimensions) produce a non-nil error.
//
// The store is never left in a worse state than it was passed in: values are
// only overwritten by accepted (error-reducing) steps.
func (o *Optimizer) Optimize(v *values.Values, opts ...OptimizeOption) (bool, error) {
	cfg := OptimizeOptions{NumIterations: o.params.Iterations}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := o.ensureInitialized(v); err != nil {
		return false, err
	}

	start := time.Now()
	o.lm.Reset()

	done := false
	for i := 0; i < cfg.NumIterations && !done; i++ {
		var err error
		done, err = o.lm.Iterate(v, o.lz.Relinearize)
		if err != nil {
			return false, err
		}
	}
	if !done {
		o.lm.ExhaustBudget()
	}

	stats := o.lm.Stats()
	for _, iter := range stats.Iterations {
		o.metrics.RecordIteration(iter)
	}
	o.metrics.RecordSolve(stats, time.Since(start))

	if cfg.BestLinearization != nil {
		if err := o.lz.Relinearize(v, cfg.BestLinearization, true); err != nil {
			return false, err
		}
	}

	o.logger.Debug("optimize finished",
		"name", o.name,
		"status", stats.Status.String(),
		"reason", stats.Reason.String(),
		"best_error", stats.BestError,
		"iterations", stats.TotalIterations(),
	)

	return stats.Converged(), nil
}

// Linearize builds a one-shot full linearization at the given values without
// iterating, for diagnostics. The result borrows from the optimizer's factor
// storage.
func (o *Optimizer) Linearize(v *values.Values) (*linearizer.Linearization, error) {
	if err := o.ensureInitialized(v); err != nil {
		return nil, err
	}
	lin := &linearizer.Linearization{}
	if err := o.lz.Relinearize(v, lin, true); err != nil {
		return nil, err
	}
	return lin, nil
}

// ensureInitialized compiles the index and wires the linearizer and solver on
// the first call; later calls only re-validate the index against the store.
func (o *Optimizer) ensureInitialized(v *values.Values) error {
	if o.index != nil {
		return o.index.Validate(v)
	}

	keys := o.keys
	if keys == nil {
		keys = keysToOptimize(o.factors)
	}
	index, err := v.CreateIndex(keys)
	if err != nil {
		return err
	}
	o.index = index

	var lzOpts []linearizer.Option
	if o.parallelism > 1 {
		lzOpts = append(lzOpts, linearizer.WithParallelism(o.parallelism))
	}
	if o.params.CheckDerivatives {
		lzOpts = append(lzOpts, linearizer.WithDerivativeCheck())
	}
	o.lz = linearizer.New(o.factors, index, o.epsilon, lzOpts...)
	o.lm = solver.New(o.params, index, o.epsilon, o.name, o.logger)

	o.logger.Debug("optimizer initialized",
		"name", o.name,
		"factors", len(o.factors),
		"keys", index.Len(),
		"tangent_dim", index.TangentDim(),
	)

	return nil
}

// keysToOptimize computes the default optimized key set: the sorted union of
// every factor's declared keys.
func keysToOptimize(factors []*factor.Factor) []key.Key {
	var all []key.Key
	for _, f := range factors {
		all = append(all, f.Keys()...)
	}
	return key.Unique(all)
}
