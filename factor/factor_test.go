package factor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/manifold"
	"github.com/hupe1980/optgo/values"
)

const epsilon = 1e-9

// priorFactor pins a scalar key to target: residual = x - target.
func priorFactor(k key.Key, target float64) *Factor {
	return NewJacobian([]key.Key{k}, func(args Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		residual := []float64{args[0][0] - target}
		if !includeJacobians {
			return residual, nil, nil
		}
		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{1})}, nil
	})
}

func TestJacobianFactor(t *testing.T) {
	v := values.New()
	k := key.New('x', 0)
	require.NoError(t, v.SetScalar(k, 2))

	f := priorFactor(k, 5)
	assert.Equal(t, []key.Key{k}, f.Keys())
	assert.Equal(t, -1, f.ResidualDim())

	ev, err := f.Linearize(v, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{-3}, ev.Residual)
	require.Len(t, ev.Jacobians, 1)
	assert.Equal(t, 1.0, ev.Jacobians[0].At(0, 0))
	assert.Equal(t, 1, f.ResidualDim())

	// Residual-only evaluation skips the jacobian.
	ev, err = f.Linearize(v, false)
	require.NoError(t, err)
	assert.Nil(t, ev.Jacobians)
}

func TestZeroKeyFactor(t *testing.T) {
	f := NewJacobian(nil, func(args Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		return []float64{7}, []*mat.Dense{}, nil
	})

	ev, err := f.Linearize(values.New(), true)
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, ev.Residual)
	assert.Empty(t, ev.Jacobians)
}

func TestLinearizeMissingKey(t *testing.T) {
	f := priorFactor(key.New('x', 0), 0)
	_, err := f.Linearize(values.New(), true)
	assert.ErrorIs(t, err, values.ErrKeyNotFound)
}

func TestResidualDimFixedAcrossCalls(t *testing.T) {
	v := values.New()
	k := key.New('x', 0)
	require.NoError(t, v.SetScalar(k, 0))

	dim := 1
	f := NewJacobian([]key.Key{k}, func(args Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		return make([]float64, dim), nil, nil
	})

	_, err := f.Linearize(v, false)
	require.NoError(t, err)

	dim = 2
	_, err = f.Linearize(v, false)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 1, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func TestJacobianShapeValidation(t *testing.T) {
	v := values.New()
	k := key.New('x', 0)
	require.NoError(t, v.SetVector(k, []float64{0, 0}))

	// Wrong column count: scalar block for a 2-dim key.
	f := NewJacobian([]key.Key{k}, func(args Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		return []float64{0}, []*mat.Dense{mat.NewDense(1, 1, []float64{1})}, nil
	})

	_, err := f.Linearize(v, true)
	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
}

func TestHessianFactor(t *testing.T) {
	v := values.New()
	k := key.New('x', 0)
	require.NoError(t, v.SetScalar(k, 1))

	// Prior x - 3 with closed-form quadratic form: J = [1], H = [1], rhs = Jᵗr.
	f := NewHessian([]key.Key{k}, func(args Args, includeJacobians bool) (*Quadratic, error) {
		r := args[0][0] - 3
		quad := &Quadratic{Residual: []float64{r}}
		if includeJacobians {
			quad.Jacobian = mat.NewDense(1, 1, []float64{1})
			quad.Hessian = mat.NewSymDense(1, []float64{1})
			quad.Rhs = []float64{r}
		}
		return quad, nil
	})

	ev, err := f.Linearize(v, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2}, ev.Residual)
	require.Len(t, ev.Jacobians, 1)
	assert.Equal(t, 1.0, ev.Jacobians[0].At(0, 0))
	require.NotNil(t, ev.Hessian)
	assert.Equal(t, 1.0, ev.Hessian.At(0, 0))
	assert.Equal(t, []float64{-2}, ev.Rhs)

	ev, err = f.Linearize(v, false)
	require.NoError(t, err)
	assert.Nil(t, ev.Hessian)
}

func TestHessianFactorSplitsCombinedJacobian(t *testing.T) {
	v := values.New()
	ka, kb := key.New('a', 0), key.New('b', 0)
	require.NoError(t, v.SetScalar(ka, 1))
	require.NoError(t, v.SetVector(kb, []float64{2, 3}))

	f := NewHessian([]key.Key{ka, kb}, func(args Args, includeJacobians bool) (*Quadratic, error) {
		quad := &Quadratic{Residual: []float64{0}}
		if includeJacobians {
			quad.Jacobian = mat.NewDense(1, 3, []float64{10, 20, 30})
			quad.Hessian = mat.NewSymDense(3, nil)
			quad.Rhs = []float64{0, 0, 0}
		}
		return quad, nil
	})

	ev, err := f.Linearize(v, true)
	require.NoError(t, err)
	require.Len(t, ev.Jacobians, 2)
	assert.Equal(t, 10.0, ev.Jacobians[0].At(0, 0))
	assert.Equal(t, 20.0, ev.Jacobians[1].At(0, 0))
	assert.Equal(t, 30.0, ev.Jacobians[1].At(0, 1))
}

func TestCheckJacobians(t *testing.T) {
	v := values.New()
	k := key.New('x', 0)
	require.NoError(t, v.SetScalar(k, 1.5))

	// residual = x^2 - 2, analytic d/dx = 2x.
	good := NewJacobian([]key.Key{k}, func(args Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		x := args[0][0]
		residual := []float64{x*x - 2}
		if !includeJacobians {
			return residual, nil, nil
		}
		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{2 * x})}, nil
	})
	assert.NoError(t, CheckJacobians(good, v, epsilon, 1e-6))

	// Deliberately wrong derivative.
	bad := NewJacobian([]key.Key{k}, func(args Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		x := args[0][0]
		residual := []float64{x*x - 2}
		if !includeJacobians {
			return residual, nil, nil
		}
		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{x})}, nil
	})
	var jm *ErrJacobianMismatch
	require.ErrorAs(t, CheckJacobians(bad, v, epsilon, 1e-6), &jm)
	assert.Equal(t, k, jm.Key)
}

func TestCheckJacobiansOnManifold(t *testing.T) {
	v := values.New()
	k := key.New('r', 0)
	require.NoError(t, v.Set(k, manifold.Rot2(), manifold.Rot2FromAngle(0.7)))

	// residual = angle(R) - target; tangent derivative is 1.
	f := NewJacobian([]key.Key{k}, func(args Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		residual := []float64{manifold.Rot2Angle(args[0]) - 0.2}
		if !includeJacobians {
			return residual, nil, nil
		}
		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{1})}, nil
	})

	assert.NoError(t, CheckJacobians(f, v, epsilon, 1e-6))
}
