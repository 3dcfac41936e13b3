package factor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/values"
)

// ErrJacobianMismatch reports a disagreement between an analytic Jacobian
// entry and its retraction-based numerical estimate.
type ErrJacobianMismatch struct {
	Key       key.Key
	Row, Col  int
	Analytic  float64
	Numerical float64
}

func (e *ErrJacobianMismatch) Error() string {
	return fmt.Sprintf("jacobian mismatch for key %s at (%d,%d): analytic %g, numerical %g",
		e.Key, e.Row, e.Col, e.Analytic, e.Numerical)
}

// numericalStep is the central-difference step in tangent coordinates.
const numericalStep = 1e-6

// NumericalJacobians estimates the factor's per-key Jacobian blocks by
// central differences on the tangent space: each key is perturbed along every
// tangent basis direction via its manifold's retraction and the residual is
// re-evaluated. Used by the derivative cross-check; too slow for the solve
// path.
func NumericalJacobians(f *Factor, v *values.Values, epsilon float64) ([]*mat.Dense, error) {
	base, err := f.Linearize(v, false)
	if err != nil {
		return nil, err
	}
	resDim := len(base.Residual)

	out := make([]*mat.Dense, len(f.keys))
	for i, k := range f.keys {
		m, err := v.Manifold(k)
		if err != nil {
			return nil, err
		}
		block := mat.NewDense(resDim, m.TangentDim(), nil)

		storage, err := v.At(k)
		if err != nil {
			return nil, err
		}
		perturbed := make([]float64, len(storage))
		delta := make([]float64, m.TangentDim())

		for j := 0; j < m.TangentDim(); j++ {
			delta[j] = numericalStep
			m.Retract(storage, delta, perturbed, epsilon)
			plus, err := f.evalResidualWith(v, k, perturbed)
			if err != nil {
				return nil, err
			}

			delta[j] = -numericalStep
			m.Retract(storage, delta, perturbed, epsilon)
			minus, err := f.evalResidualWith(v, k, perturbed)
			if err != nil {
				return nil, err
			}
			delta[j] = 0

			for r := 0; r < resDim; r++ {
				block.Set(r, j, (plus[r]-minus[r])/(2*numericalStep))
			}
		}
		out[i] = block
	}

	return out, nil
}

// evalResidualWith evaluates the residual with one key's storage substituted.
// The store itself is left untouched.
func (f *Factor) evalResidualWith(v *values.Values, k key.Key, storage []float64) ([]float64, error) {
	args, err := f.gatherArgs(v)
	if err != nil {
		return nil, err
	}
	for i, fk := range f.keys {
		if fk == k {
			args[i] = storage
		}
	}
	residual, _, err := f.eval(args)
	if err != nil {
		return nil, err
	}
	return residual, nil
}

// eval runs the underlying evaluator residual-only.
func (f *Factor) eval(args Args) ([]float64, []*mat.Dense, error) {
	if f.hessFn != nil {
		quad, err := f.hessFn(args, false)
		if err != nil {
			return nil, nil, err
		}
		return quad.Residual, nil, nil
	}
	residual, _, err := f.jacFn(args, false)
	return residual, nil, err
}

// CheckJacobians compares the analytic Jacobian blocks against their
// numerical estimates, entry by entry, and returns an ErrJacobianMismatch for
// the first entry whose absolute difference exceeds tol.
func CheckJacobians(f *Factor, v *values.Values, epsilon, tol float64) error {
	ev, err := f.Linearize(v, true)
	if err != nil {
		return err
	}
	numerical, err := NumericalJacobians(f, v, epsilon)
	if err != nil {
		return err
	}

	for i, k := range f.keys {
		analytic := ev.Jacobians[i]
		rows, cols := analytic.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				a, n := analytic.At(r, c), numerical[i].At(r, c)
				if diff := a - n; diff > tol || diff < -tol {
					return &ErrJacobianMismatch{Key: k, Row: r, Col: c, Analytic: a, Numerical: n}
				}
			}
		}
	}

	return nil
}
