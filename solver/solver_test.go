package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/optgo/factor"
	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/linearizer"
	"github.com/hupe1980/optgo/values"
)

const epsilon = 1e-9

var kx = key.New('x', 0)

func scalarPrior(k key.Key, target float64) *factor.Factor {
	return factor.NewJacobian([]key.Key{k}, func(args factor.Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		residual := []float64{args[0][0] - target}
		if !includeJacobians {
			return residual, nil, nil
		}
		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{1})}, nil
	})
}

func setup(t *testing.T, factors []*factor.Factor, x float64) (*values.Values, *values.Index, LinearizeFunc) {
	t.Helper()

	v := values.New()
	require.NoError(t, v.SetScalar(kx, x))
	idx, err := v.CreateIndex([]key.Key{kx})
	require.NoError(t, err)

	l := linearizer.New(factors, idx, epsilon)
	return v, idx, func(vv *values.Values, lin *linearizer.Linearization, includeDerivatives bool) error {
		return l.Relinearize(vv, lin, includeDerivatives)
	}
}

func runToTermination(t *testing.T, s *Solver, v *values.Values, linearize LinearizeFunc, budget int) {
	t.Helper()
	for i := 0; i < budget; i++ {
		done, err := s.Iterate(v, linearize)
		require.NoError(t, err)
		if done {
			return
		}
	}
	s.ExhaustBudget()
}

func TestLinearProblemConverges(t *testing.T) {
	v, idx, linearize := setup(t, []*factor.Factor{scalarPrior(kx, 5)}, 0)
	s := New(DefaultParams(), idx, epsilon, "test", nil)
	assert.Equal(t, StatusIdle, s.Status())

	runToTermination(t, s, v, linearize, 50)

	assert.Equal(t, StatusConverged, s.Status())
	x, err := v.AtScalar(kx)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, x, 1e-5)
	assert.True(t, s.Stats().Converged())
}

func TestAcceptedErrorsMonotonic(t *testing.T) {
	// Nonlinear: residual = x² - 4, from a poor start.
	f := factor.NewJacobian([]key.Key{kx}, func(args factor.Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		x := args[0][0]
		residual := []float64{x*x - 4}
		if !includeJacobians {
			return residual, nil, nil
		}
		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{2 * x})}, nil
	})

	v, idx, linearize := setup(t, []*factor.Factor{f}, 10)
	s := New(DefaultParams(), idx, epsilon, "test", nil)
	runToTermination(t, s, v, linearize, 50)

	require.Equal(t, StatusConverged, s.Status())
	x, err := v.AtScalar(kx)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, x, 1e-4)

	prev := -1.0
	for _, it := range s.Stats().Iterations {
		if !it.Accepted {
			continue
		}
		if prev >= 0 {
			assert.LessOrEqual(t, it.ErrorAfter, prev)
		}
		prev = it.ErrorAfter
	}
}

func TestRejectedStepsShrinkTrustRegion(t *testing.T) {
	// residual = atan(x) from x=3: the undamped Gauss-Newton step
	// -atan(x)·(1+x²) wildly overshoots, so early steps are rejected and
	// lambda must grow before progress is made.
	f := factor.NewJacobian([]key.Key{kx}, func(args factor.Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		x := args[0][0]
		residual := []float64{math.Atan(x)}
		if !includeJacobians {
			return residual, nil, nil
		}
		return residual, []*mat.Dense{mat.NewDense(1, 1, []float64{1 / (1 + x*x)})}, nil
	})

	params := DefaultParams()
	params.InitialLambda = params.LambdaMin // force an aggressive first step

	v, idx, linearize := setup(t, []*factor.Factor{f}, 3)
	s := New(params, idx, epsilon, "test", nil)
	runToTermination(t, s, v, linearize, 100)

	var sawRejection bool
	for i, it := range s.Stats().Iterations {
		if it.Accepted {
			continue
		}
		sawRejection = true
		// Lambda rises after each rejection.
		if i+1 < len(s.Stats().Iterations) {
			next := s.Stats().Iterations[i+1]
			assert.Greater(t, next.Lambda, it.Lambda)
		}
	}
	assert.True(t, sawRejection)

	// Despite rejections the solve still drives x toward the root at 0.
	x, err := v.AtScalar(kx)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x, 1e-3)
}

func TestZeroFactorsConvergeImmediately(t *testing.T) {
	v, idx, linearize := setup(t, nil, 1.5)
	s := New(DefaultParams(), idx, epsilon, "test", nil)

	done, err := s.Iterate(v, linearize)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StatusConverged, s.Status())
	assert.Equal(t, ReasonAbsoluteError, s.Stats().Reason)

	// Store untouched.
	x, err := v.AtScalar(kx)
	require.NoError(t, err)
	assert.Equal(t, 1.5, x)
}

func TestConstantProblemConverges(t *testing.T) {
	// A zero-key factor only: residual exists but nothing is optimized.
	constant := factor.NewJacobian(nil, func(args factor.Args, includeJacobians bool) ([]float64, []*mat.Dense, error) {
		return []float64{2}, nil, nil
	})

	v := values.New()
	idx, err := v.CreateIndex(nil)
	require.NoError(t, err)

	l := linearizer.New([]*factor.Factor{constant}, idx, epsilon)
	linearize := func(vv *values.Values, lin *linearizer.Linearization, includeDerivatives bool) error {
		return l.Relinearize(vv, lin, includeDerivatives)
	}

	s := New(DefaultParams(), idx, epsilon, "test", nil)
	done, err := s.Iterate(v, linearize)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StatusConverged, s.Status())
	assert.Equal(t, ReasonStepSize, s.Stats().Reason)
}

func TestSingularSystemFails(t *testing.T) {
	// Residual independent of x: zero Jacobian, zero Hessian. With lambda
	// already at its ceiling the damped system cannot become invertible...
	// except diagonal damping floors it via epsilon. Force failure instead
	// with a NaN-producing evaluator? No: use a Hessian-form factor that
	// reports a non-PSD quadratic form.
	f := factor.NewHessian([]key.Key{kx}, func(args factor.Args, includeJacobians bool) (*factor.Quadratic, error) {
		quad := &factor.Quadratic{Residual: []float64{1}}
		if includeJacobians {
			quad.Jacobian = mat.NewDense(1, 1, []float64{0})
			quad.Hessian = mat.NewSymDense(1, []float64{-1e30}) // not PSD
			quad.Rhs = []float64{1}
		}
		return quad, nil
	})

	params := DefaultParams()
	params.LambdaMax = 1 // keep damping from ever fixing the diagonal

	v, idx, linearize := setup(t, []*factor.Factor{f}, 1)
	s := New(params, idx, epsilon, "test", nil)
	runToTermination(t, s, v, linearize, 10)

	assert.Equal(t, StatusFailed, s.Status())
	assert.Equal(t, ReasonSingularSystem, s.Stats().Reason)
	assert.False(t, s.Stats().Converged())
}

func TestUpdateParamsKeepsState(t *testing.T) {
	v, idx, linearize := setup(t, []*factor.Factor{scalarPrior(kx, 5)}, 0)
	s := New(DefaultParams(), idx, epsilon, "test", nil)

	_, err := s.Iterate(v, linearize)
	require.NoError(t, err)

	p := s.Params()
	p.EarlyExitMinReduction = 0.5
	s.UpdateParams(p)
	assert.Equal(t, 0.5, s.Params().EarlyExitMinReduction)
	assert.Equal(t, StatusIterating, s.Status())
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "Idle", StatusIdle.String())
	assert.Equal(t, "Iterating", StatusIterating.String())
	assert.Equal(t, "Converged", StatusConverged.String())
	assert.Equal(t, "MaxIterationsReached", StatusMaxIterations.String())
	assert.Equal(t, "Failed", StatusFailed.String())
	assert.Equal(t, "Unknown", Status(99).String())

	assert.Equal(t, "RelativeReduction", ReasonRelativeReduction.String())
	assert.Equal(t, "IterationBudget", ReasonIterationBudget.String())
	assert.Equal(t, "SingularSystem", ReasonSingularSystem.String())
}
