// Package solver implements the damped Gauss-Newton (Levenberg-Marquardt)
// iteration over a Linearization: solve (H + λ·diag(H))·δ = Jᵗr, retract the
// step, accept or reject on error reduction, adapt the damping.
package solver

// Params is the solver configuration. Zero values are not meaningful; start
// from DefaultParams and override fields.
type Params struct {
	// Iterations is the iteration budget per Optimize call.
	Iterations int

	// EarlyExitMinReduction declares convergence when an accepted step's
	// relative error reduction (E₀−E₁)/E₀ falls below it.
	EarlyExitMinReduction float64

	// InitialLambda is the damping value at the start of a solve.
	InitialLambda float64

	// LambdaUpFactor scales lambda up on rejected steps and failed
	// factorizations; LambdaDownFactor scales it down on accepted steps.
	LambdaUpFactor   float64
	LambdaDownFactor float64

	// LambdaMin and LambdaMax clamp lambda to avoid under/overflow across
	// many iterations.
	LambdaMin float64
	LambdaMax float64

	// Epsilon is the numerical floor used for tolerance comparisons,
	// division guards and retraction.
	Epsilon float64

	// DebugStats enables per-iteration debug logging and the recording of
	// per-iteration linearization errors beyond the summary stats.
	DebugStats bool

	// CheckDerivatives cross-checks every analytic Jacobian against a
	// retraction-based numerical estimate on each linearization. Expensive;
	// debugging only.
	CheckDerivatives bool
}

// DefaultParams returns the standard Levenberg-Marquardt configuration.
func DefaultParams() Params {
	return Params{
		Iterations:            50,
		EarlyExitMinReduction: 1e-6,
		InitialLambda:         1.0,
		LambdaUpFactor:        4.0,
		LambdaDownFactor:      1.0 / 4.0,
		LambdaMin:             1e-8,
		LambdaMax:             1e6,
		Epsilon:               1e-9,
	}
}
