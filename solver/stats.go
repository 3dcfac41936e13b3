package solver

// Status is the solver state: Idle before the first iteration, Iterating
// while inside the budget, then exactly one of the terminal states.
type Status int

const (
	StatusIdle Status = iota
	StatusIterating
	StatusConverged
	StatusMaxIterations
	StatusFailed
)

// String returns a string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusIterating:
		return "Iterating"
	case StatusConverged:
		return "Converged"
	case StatusMaxIterations:
		return "MaxIterationsReached"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Reason explains why a terminal status was reached.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonRelativeReduction: an accepted step reduced the error by less
	// than EarlyExitMinReduction.
	ReasonRelativeReduction
	// ReasonAbsoluteError: the error fell below the epsilon floor.
	ReasonAbsoluteError
	// ReasonStepSize: the tangent step norm was negligible.
	ReasonStepSize
	// ReasonIterationBudget: the iteration budget was exhausted.
	ReasonIterationBudget
	// ReasonSingularSystem: the damped normal equations stayed singular
	// through the bounded damping escalations.
	ReasonSingularSystem
)

// String returns a string representation of the Reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonRelativeReduction:
		return "RelativeReduction"
	case ReasonAbsoluteError:
		return "AbsoluteError"
	case ReasonStepSize:
		return "StepSize"
	case ReasonIterationBudget:
		return "IterationBudget"
	case ReasonSingularSystem:
		return "SingularSystem"
	default:
		return "Unknown"
	}
}

// IterationStats records one damped step attempt.
type IterationStats struct {
	Iteration         int
	ErrorBefore       float64
	ErrorAfter        float64
	RelativeReduction float64
	Lambda            float64
	StepNorm          float64
	Accepted          bool
}

// Stats summarizes a solve: the per-iteration records plus the terminal
// outcome. Queryable after any Optimize call.
type Stats struct {
	Iterations []IterationStats
	Status     Status
	Reason     Reason
	BestError  float64
}

// Converged reports whether the solve reached a convergence criterion (as
// opposed to exhausting its budget or failing).
func (s *Stats) Converged() bool { return s.Status == StatusConverged }

// TotalIterations returns the number of step attempts performed.
func (s *Stats) TotalIterations() int { return len(s.Iterations) }

func (s *Stats) reset() {
	s.Iterations = s.Iterations[:0]
	s.Status = StatusIdle
	s.Reason = ReasonNone
	s.BestError = 0
}
