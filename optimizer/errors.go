package optimizer

import (
	"errors"
	"fmt"

	"github.com/hupe1980/optgo/key"
)

var (
	// ErrSingularSystem is returned when the damped Hessian cannot be
	// factorized during covariance extraction.
	ErrSingularSystem = errors.New("damped hessian is not positive definite")

	// ErrNotLinearized is returned when a covariance routine is handed a
	// linearization that was never fully built.
	ErrNotLinearized = errors.New("linearization is not initialized")
)

// ErrInvalidKeySubset indicates a covariance request whose key list violates
// the ordered-prefix precondition, or an output map pre-populated with keys
// outside the optimized set.
type ErrInvalidKeySubset struct {
	Key    key.Key
	Reason string
}

func (e *ErrInvalidKeySubset) Error() string {
	if !e.Key.Valid() {
		return fmt.Sprintf("invalid key subset: %s", e.Reason)
	}
	return fmt.Sprintf("invalid key subset: key %s %s", e.Key, e.Reason)
}
