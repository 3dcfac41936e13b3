package solver

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/optgo/linearizer"
	"github.com/hupe1980/optgo/values"
)

// maxDampingEscalations bounds how often a single iteration may escalate
// lambda in response to a failed Cholesky factorization before the solve is
// declared Failed.
const maxDampingEscalations = 32

// LinearizeFunc rebuilds lin around the given values. With includeDerivatives
// false only the residual and error are required.
type LinearizeFunc func(v *values.Values, lin *linearizer.Linearization, includeDerivatives bool) error

// Solver runs damped Gauss-Newton iterations against a LinearizeFunc. It owns
// all iteration scratch (damped Hessian, Cholesky factorization, step and
// candidate-values buffers) so repeated solves do not reallocate.
//
// Not safe for concurrent use.
type Solver struct {
	params  Params
	index   *values.Index
	epsilon float64
	logger  *slog.Logger
	name    string

	status Status
	lambda float64
	stats  Stats

	lin      linearizer.Linearization // full linearization at current values
	haveLin  bool                     // lin is valid (kept across rejected steps)
	candLin  linearizer.Linearization // residual-only, for candidate scoring
	candVals *values.Values

	hDamped *mat.SymDense
	chol    mat.Cholesky
	step    *mat.VecDense
}

// New creates a solver for the given index layout. The logger may be nil.
func New(params Params, index *values.Index, epsilon float64, name string, logger *slog.Logger) *Solver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Solver{
		params:  params,
		index:   index,
		epsilon: epsilon,
		logger:  logger,
		name:    name,
	}
	s.Reset()
	return s
}

// Reset returns the solver to Idle with the initial damping, keeping scratch
// buffers for reuse across solves.
func (s *Solver) Reset() {
	s.status = StatusIdle
	s.lambda = s.params.InitialLambda
	s.haveLin = false
	s.stats.reset()
}

// UpdateParams swaps the configuration without touching cached state, so a
// running problem keeps its index and sparsity pattern.
func (s *Solver) UpdateParams(params Params) {
	s.params = params
}

// Params returns the current configuration.
func (s *Solver) Params() Params { return s.params }

// Status returns the current state.
func (s *Solver) Status() Status { return s.status }

// Stats returns the accumulated solve statistics.
func (s *Solver) Stats() *Stats { return &s.stats }

// Linearization returns the solver's full linearization at the most recent
// linearization point. After an accepted step it lags the current values
// until the next Iterate call relinearizes.
func (s *Solver) Linearization() *linearizer.Linearization { return &s.lin }

// Iterate performs one damped step attempt, mutating v in place on accepted
// steps. It returns true when a terminal state was reached. Errors are
// structural (bad keys, bad dimensions) and fatal to the solve; numerical
// failure is reported through the Failed status instead.
func (s *Solver) Iterate(v *values.Values, linearize LinearizeFunc) (bool, error) {
	if s.status == StatusIdle {
		s.status = StatusIterating
	}

	if !s.haveLin {
		if err := linearize(v, &s.lin, true); err != nil {
			return true, err
		}
		s.haveLin = true
	}
	errBefore := s.lin.Error

	if s.stats.Status == StatusIdle {
		s.stats.Status = StatusIterating
		s.stats.BestError = errBefore
	}

	// Already at the floor: nothing to gain from a step. Covers the empty
	// factor set, whose error is identically zero.
	if errBefore < s.errorFloor() {
		return s.terminate(StatusConverged, ReasonAbsoluteError, errBefore), nil
	}
	if s.index.TangentDim() == 0 {
		// Residual exists but no optimized keys; the problem is constant.
		return s.terminate(StatusConverged, ReasonStepSize, errBefore), nil
	}

	if !s.solveDampedStep() {
		return s.terminate(StatusFailed, ReasonSingularSystem, errBefore), nil
	}
	stepNorm := mat.Norm(s.step, 2)

	if s.candVals == nil {
		s.candVals = v.Copy()
	} else {
		v.CopyInto(s.candVals)
	}
	if err := s.candVals.Retract(s.index, s.step.RawVector().Data, s.epsilon); err != nil {
		return true, err
	}

	if err := linearize(s.candVals, &s.candLin, false); err != nil {
		return true, err
	}
	errAfter := s.candLin.Error

	relReduction := (errBefore - errAfter) / (errBefore + s.epsilon)
	accepted := errAfter < errBefore && !math.IsNaN(errAfter)

	iter := IterationStats{
		Iteration:         len(s.stats.Iterations),
		ErrorBefore:       errBefore,
		ErrorAfter:        errAfter,
		RelativeReduction: relReduction,
		Lambda:            s.lambda,
		StepNorm:          stepNorm,
		Accepted:          accepted,
	}
	s.stats.Iterations = append(s.stats.Iterations, iter)

	if s.params.DebugStats {
		s.logger.Debug("LM iteration",
			"name", s.name,
			"iteration", iter.Iteration,
			"error_before", errBefore,
			"error_after", errAfter,
			"lambda", s.lambda,
			"step_norm", stepNorm,
			"accepted", accepted,
		)
	}

	if !accepted {
		// Trust region shrinks; the linearization at the current values is
		// still valid, so the next attempt reuses it.
		s.lambda = math.Min(s.lambda*s.params.LambdaUpFactor, s.params.LambdaMax)
		return false, nil
	}

	s.candVals.CopyInto(v)
	s.haveLin = false
	s.lambda = math.Max(s.lambda*s.params.LambdaDownFactor, s.params.LambdaMin)
	s.stats.BestError = errAfter

	switch {
	case errAfter < s.errorFloor():
		return s.terminate(StatusConverged, ReasonAbsoluteError, errAfter), nil
	case relReduction < s.params.EarlyExitMinReduction:
		return s.terminate(StatusConverged, ReasonRelativeReduction, errAfter), nil
	case stepNorm < s.epsilon:
		return s.terminate(StatusConverged, ReasonStepSize, errAfter), nil
	}

	return false, nil
}

// errorFloor is the absolute convergence floor on the total error ½‖r‖²,
// placed where the residual norm itself drops below epsilon.
func (s *Solver) errorFloor() float64 {
	return 0.5 * s.epsilon * s.epsilon
}

// ExhaustBudget marks the solve as having run out of iterations.
func (s *Solver) ExhaustBudget() {
	if s.status == StatusIterating || s.status == StatusIdle {
		s.terminate(StatusMaxIterations, ReasonIterationBudget, s.stats.BestError)
	}
}

func (s *Solver) terminate(status Status, reason Reason, bestError float64) bool {
	s.status = status
	s.stats.Status = status
	s.stats.Reason = reason
	s.stats.BestError = bestError

	if s.params.DebugStats {
		s.logger.Debug("LM terminated",
			"name", s.name,
			"status", status.String(),
			"reason", reason.String(),
			"best_error", bestError,
			"iterations", len(s.stats.Iterations),
		)
	}

	return true
}

// solveDampedStep factorizes (H + λ·max(diag(H), ε)) and solves for the
// descent step -H⁻¹·Jᵗr, escalating lambda on factorization failure. Returns
// false when the system stayed singular through the bounded escalations.
func (s *Solver) solveDampedStep() bool {
	n := s.index.TangentDim()
	if s.hDamped == nil || s.hDamped.SymmetricDim() != n {
		s.hDamped = mat.NewSymDense(n, nil)
		s.step = mat.NewVecDense(n, nil)
	}

	for attempt := 0; attempt < maxDampingEscalations; attempt++ {
		s.hDamped.CopySym(s.lin.Hessian)
		for i := 0; i < n; i++ {
			d := s.lin.Hessian.At(i, i)
			// Diagonal scaling keeps weakly constrained directions damped;
			// the epsilon floor keeps fully unconstrained ones invertible.
			s.hDamped.SetSym(i, i, d+s.lambda*math.Max(d, s.epsilon))
		}

		if s.chol.Factorize(s.hDamped) {
			if err := s.chol.SolveVecTo(s.step, s.lin.Rhs); err == nil {
				s.step.ScaleVec(-1, s.step)
				return true
			}
		}

		if s.lambda >= s.params.LambdaMax {
			return false
		}
		s.lambda = math.Min(s.lambda*s.params.LambdaUpFactor, s.params.LambdaMax)
	}

	return false
}

