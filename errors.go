package optgo

import (
	"github.com/hupe1980/optgo/factor"
	"github.com/hupe1980/optgo/optimizer"
	"github.com/hupe1980/optgo/values"
)

// The error taxonomy lives in the concept packages; the facade re-exports it
// so callers can match against a single import.
var (
	// ErrKeyNotFound is returned when a store or index lookup misses.
	ErrKeyNotFound = values.ErrKeyNotFound

	// ErrSingularSystem is returned when covariance extraction cannot
	// factorize the damped Hessian.
	ErrSingularSystem = optimizer.ErrSingularSystem

	// ErrNotLinearized is returned when covariance extraction is handed an
	// uninitialized linearization.
	ErrNotLinearized = optimizer.ErrNotLinearized
)

type (
	// ErrTypeMismatch indicates an attempt to retype a key, or an index
	// that disagrees with the store about a key's manifold.
	ErrTypeMismatch = values.ErrTypeMismatch

	// ErrStorageMismatch indicates a storage slice whose length disagrees
	// with its manifold's storage dimension.
	ErrStorageMismatch = values.ErrDimensionMismatch

	// ErrDimensionMismatch indicates an evaluator output whose shape
	// disagrees with its factor's declared keys or residual size.
	ErrDimensionMismatch = factor.ErrDimensionMismatch

	// ErrJacobianMismatch reports an analytic Jacobian entry that
	// disagrees with its numerical estimate under the derivative check.
	ErrJacobianMismatch = factor.ErrJacobianMismatch

	// ErrInvalidKeySubset indicates a covariance request violating the
	// ordered-prefix precondition.
	ErrInvalidKeySubset = optimizer.ErrInvalidKeySubset
)
