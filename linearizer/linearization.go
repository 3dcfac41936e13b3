// Package linearizer builds the sparse linearization of a factor list around
// the current store values: stacked residual, block Jacobian, Gauss-Newton
// Hessian JᵗJ and right-hand side Jᵗr. The block scatter pattern is computed
// once per (factor set, key set) and reused across calls, which is what makes
// repeated relinearization inside the solver loop cheap.
package linearizer

import (
	"gonum.org/v1/gonum/mat"
)

// JacobianBlock is one dense block of the sparse Jacobian: the derivative of
// one factor's residual with respect to one optimized key's tangent space,
// positioned at (Row, Col) in (residual, tangent) coordinates.
type JacobianBlock struct {
	Row   int
	Col   int
	Block *mat.Dense
}

// Linearization is the snapshot of the objective at one point: the stacked
// residual vector, the Jacobian in block-triplet form, the Gauss-Newton
// Hessian, the right-hand side and the scalar total error ½‖r‖².
//
// A Linearization is rebuilt in place each solver iteration; buffers are
// reused while the sparsity pattern is unchanged. Jacobian blocks reference
// evaluator output owned by the factors: a Linearization is only valid while
// the factor storage it was built from is unchanged.
type Linearization struct {
	Residual *mat.VecDense
	Jacobian []JacobianBlock
	Hessian  *mat.SymDense
	Rhs      *mat.VecDense
	Error    float64

	initialized bool
}

// Initialized reports whether the linearization holds a full (residual and
// derivative) snapshot.
func (l *Linearization) Initialized() bool { return l.initialized }

// Reset drops the snapshot without releasing buffers.
func (l *Linearization) Reset() {
	l.initialized = false
	l.Jacobian = l.Jacobian[:0]
	l.Error = 0
}

// ensure sizes the buffers for the given dimensions, reusing allocations when
// the shape is unchanged, and zeroes the accumulators.
func (l *Linearization) ensure(residualDim, tangentDim int, includeDerivatives bool) {
	switch {
	case residualDim == 0:
		l.Residual = &mat.VecDense{}
	case l.Residual == nil || l.Residual.Len() != residualDim:
		l.Residual = mat.NewVecDense(residualDim, nil)
	default:
		l.Residual.Zero()
	}

	if !includeDerivatives {
		return
	}

	switch {
	case tangentDim == 0:
		l.Hessian = &mat.SymDense{}
		l.Rhs = &mat.VecDense{}
	case l.Hessian == nil || l.Hessian.SymmetricDim() != tangentDim:
		l.Hessian = mat.NewSymDense(tangentDim, nil)
		l.Rhs = mat.NewVecDense(tangentDim, nil)
	default:
		l.Hessian.Zero()
		l.Rhs.Zero()
	}
	l.Jacobian = l.Jacobian[:0]
}

// halfSquaredNorm computes ½‖r‖².
func halfSquaredNorm(r *mat.VecDense) float64 {
	if r == nil || r.Len() == 0 {
		return 0
	}
	n := mat.Norm(r, 2)
	return 0.5 * n * n
}
