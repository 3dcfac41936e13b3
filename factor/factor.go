// Package factor provides the residual terms of a nonlinear least-squares
// problem: opaque units pairing an ordered key list with an evaluator that
// produces a residual vector and, on request, its derivatives in the tangent
// space of each key.
package factor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/values"
)

// ErrDimensionMismatch indicates an evaluator output whose shape disagrees
// with the factor's declared keys or its previously observed residual size.
type ErrDimensionMismatch struct {
	Context  string
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: expected %d, got %d", e.Context, e.Expected, e.Actual)
}

// Args carries the current storage vectors of a factor's declared keys, in
// declaration order. Evaluators must treat the slices as read-only.
type Args [][]float64

// JacobianFunc evaluates a factor. When includeJacobians is true the returned
// jacobians must hold one block per declared key, with rows equal to the
// residual dimension and columns equal to that key's tangent dimension. When
// includeJacobians is false, jacobians may be nil.
//
// The residual dimension must be identical across calls.
type JacobianFunc func(args Args, includeJacobians bool) (residual []float64, jacobians []*mat.Dense, err error)

// HessianFunc evaluates a factor that supplies its quadratic form directly:
// alongside the residual, a combined Jacobian over the concatenated tangent
// space of its keys, the Gauss-Newton Hessian block JᵗJ and the right-hand
// side Jᵗr (for example a prior with a closed-form quadratic form). When
// includeJacobians is false only the residual is required.
type HessianFunc func(args Args, includeJacobians bool) (*Quadratic, error)

// Quadratic is the output of a HessianFunc. Jacobian, Hessian and Rhs are nil
// for residual-only evaluations.
type Quadratic struct {
	Residual []float64
	Jacobian *mat.Dense    // residual dim × total tangent dim of the factor's keys
	Hessian  *mat.SymDense // total tangent dim squared
	Rhs      []float64     // total tangent dim
}

// Evaluation is the uniform linearization output consumed by the Linearizer,
// regardless of evaluator form. Jacobians holds one column block per key; for
// Hessian-form factors Hessian and Rhs carry the precomputed quadratic form
// and the Linearizer scatters them instead of forming outer products.
type Evaluation struct {
	Residual  []float64
	Jacobians []*mat.Dense
	Hessian   *mat.SymDense
	Rhs       []float64
}

// Factor is an immutable residual term. A factor with zero keys is a constant
// cost contributor: it adds to the total error but produces no derivatives.
//
// Factors are evaluated against a Values store; the store must supply every
// declared key. Evaluation is not safe for concurrent use of a single Factor
// against mutation of the same store, but distinct factors may be evaluated
// concurrently.
type Factor struct {
	keys   []key.Key
	jacFn  JacobianFunc
	hessFn HessianFunc

	// Residual dimension is fixed by the first evaluation and enforced after.
	resDim int
}

// NewJacobian creates a factor from a plain residual/Jacobian evaluator.
func NewJacobian(keys []key.Key, fn JacobianFunc) *Factor {
	return &Factor{keys: keys, jacFn: fn, resDim: -1}
}

// NewHessian creates a factor that supplies its quadratic form directly.
func NewHessian(keys []key.Key, fn HessianFunc) *Factor {
	return &Factor{keys: keys, hessFn: fn, resDim: -1}
}

// Keys returns the declared keys in evaluation order. The slice is owned by
// the factor.
func (f *Factor) Keys() []key.Key { return f.keys }

// ResidualDim returns the residual dimension, or -1 before the first
// evaluation.
func (f *Factor) ResidualDim() int { return f.resDim }

// gatherArgs looks up the storage of every declared key.
func (f *Factor) gatherArgs(v *values.Values) (Args, error) {
	args := make(Args, len(f.keys))
	for i, k := range f.keys {
		data, err := v.At(k)
		if err != nil {
			return nil, err
		}
		args[i] = data
	}
	return args, nil
}

// tangentDims returns the tangent dimension of each declared key per the
// store's manifold bindings.
func (f *Factor) tangentDims(v *values.Values) ([]int, error) {
	dims := make([]int, len(f.keys))
	for i, k := range f.keys {
		m, err := v.Manifold(k)
		if err != nil {
			return nil, err
		}
		dims[i] = m.TangentDim()
	}
	return dims, nil
}

// Linearize evaluates the factor at the current store values. With
// includeJacobians false only the residual is computed, which is cheaper and
// used for candidate-error evaluation in the solver's accept/reject loop.
func (f *Factor) Linearize(v *values.Values, includeJacobians bool) (*Evaluation, error) {
	args, err := f.gatherArgs(v)
	if err != nil {
		return nil, err
	}

	if f.hessFn != nil {
		return f.linearizeHessian(v, args, includeJacobians)
	}

	residual, jacobians, err := f.jacFn(args, includeJacobians)
	if err != nil {
		return nil, err
	}
	if err := f.checkResidualDim(len(residual)); err != nil {
		return nil, err
	}

	ev := &Evaluation{Residual: residual}
	if !includeJacobians {
		return ev, nil
	}

	if len(jacobians) != len(f.keys) {
		return nil, &ErrDimensionMismatch{Context: "jacobian block count", Expected: len(f.keys), Actual: len(jacobians)}
	}
	dims, err := f.tangentDims(v)
	if err != nil {
		return nil, err
	}
	for i, jac := range jacobians {
		r, c := jac.Dims()
		if r != len(residual) {
			return nil, &ErrDimensionMismatch{
				Context:  fmt.Sprintf("jacobian rows for key %s", f.keys[i]),
				Expected: len(residual), Actual: r,
			}
		}
		if c != dims[i] {
			return nil, &ErrDimensionMismatch{
				Context:  fmt.Sprintf("jacobian cols for key %s", f.keys[i]),
				Expected: dims[i], Actual: c,
			}
		}
	}
	ev.Jacobians = jacobians

	return ev, nil
}

func (f *Factor) linearizeHessian(v *values.Values, args Args, includeJacobians bool) (*Evaluation, error) {
	quad, err := f.hessFn(args, includeJacobians)
	if err != nil {
		return nil, err
	}
	if err := f.checkResidualDim(len(quad.Residual)); err != nil {
		return nil, err
	}

	ev := &Evaluation{Residual: quad.Residual}
	if !includeJacobians {
		return ev, nil
	}

	dims, err := f.tangentDims(v)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, d := range dims {
		total += d
	}

	r, c := quad.Jacobian.Dims()
	if r != len(quad.Residual) || c != total {
		return nil, &ErrDimensionMismatch{Context: "combined jacobian", Expected: total, Actual: c}
	}
	if n := quad.Hessian.SymmetricDim(); n != total {
		return nil, &ErrDimensionMismatch{Context: "hessian block", Expected: total, Actual: n}
	}
	if len(quad.Rhs) != total {
		return nil, &ErrDimensionMismatch{Context: "rhs block", Expected: total, Actual: len(quad.Rhs)}
	}

	// Split the combined Jacobian into per-key column views.
	ev.Jacobians = make([]*mat.Dense, len(f.keys))
	offset := 0
	for i, d := range dims {
		ev.Jacobians[i] = quad.Jacobian.Slice(0, r, offset, offset+d).(*mat.Dense)
		offset += d
	}
	ev.Hessian = quad.Hessian
	ev.Rhs = quad.Rhs

	return ev, nil
}

func (f *Factor) checkResidualDim(n int) error {
	if f.resDim < 0 {
		f.resDim = n
		return nil
	}
	if f.resDim != n {
		return &ErrDimensionMismatch{Context: "residual", Expected: f.resDim, Actual: n}
	}
	return nil
}
