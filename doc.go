// Package optgo provides an embeddable nonlinear least-squares optimization
// engine for Go.
//
// A problem is expressed as a factor graph: scalar-vector residual functions
// ("factors"), each depending on a small ordered subset of named variables
// held in a values.Values store. Optimization refines the store in place via
// damped Gauss-Newton (Levenberg-Marquardt) iterations over a block-sparse
// linear system that is rebuilt each iteration.
//
// # Quick Start
//
// One scalar variable pulled toward 5:
//
//	x := key.New('x', 0)
//	f := factor.NewJacobian([]key.Key{x}, func(args factor.Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
//		residual := []float64{args[0][0] - 5}
//		if !includeJacobians {
//			return residual, nil, nil
//		}
//		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{1})}, nil
//	})
//
//	v := values.New()
//	v.SetScalar(x, 0)
//
//	stats, err := optgo.Optimize(solver.DefaultParams(), []*factor.Factor{f}, v)
//
// For repeated solves over the same problem structure construct an
// optimizer.Optimizer once and call Optimize per initial guess; the compiled
// key index and the cached sparsity pattern are amortized across calls.
//
// # Packages
//
//   - key: variable identifiers with a total order.
//   - manifold: the capability a stored variable type provides (storage and
//     tangent dimensions, retraction, local coordinates), with built-in
//     Euclidean vectors and a 2D rotation.
//   - values: the variable store and the compiled tangent-space index.
//   - factor: residual terms, in Jacobian or precomputed quadratic form.
//   - linearizer: block-sparse linearization with pattern caching.
//   - solver: the Levenberg-Marquardt iteration and its statistics.
//   - optimizer: orchestration, options and covariance extraction.
//
// # Concurrency
//
// All operations are synchronous and single-threaded; an Optimizer instance
// must not be shared across goroutines. Per-factor evaluation can be spread
// over a bounded worker pool with optimizer.WithParallelism; results are
// bit-for-bit identical for any worker count.
package optgo
