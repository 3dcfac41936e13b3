// Package manifold defines the capability a stored variable type must provide
// so the optimizer can linearize and step in its tangent space.
//
// A manifold value is held in the store as a flat storage vector, which may be
// larger than its minimal local parameterization (for example a 2D rotation
// stored as a unit complex number has storage dimension 2 but tangent
// dimension 1). The optimizer only ever steps in tangent coordinates, via
// Retract, and measures differences via LocalCoordinates.
package manifold

// Manifold describes one variable type. Implementations must be stateless and
// safe for concurrent use; all mutation happens through the passed slices.
//
// Required laws, for any values v, w of the type and small epsilon:
//
//	Retract(v, 0, eps) == v
//	LocalCoordinates(v, v, eps) ≈ 0
//	Retract(v, LocalCoordinates(v, w, eps), eps) ≈ w
type Manifold interface {
	// Name identifies the type. Two manifolds with the same name are
	// interchangeable; the store uses the name for retype detection.
	Name() string

	// StorageDim is the length of the flat storage vector.
	StorageDim() int

	// TangentDim is the dimension of the local parameterization.
	// Always TangentDim() <= StorageDim().
	TangentDim() int

	// Retract applies a tangent perturbation to storage, writing the result
	// into out. storage and out have length StorageDim, delta has length
	// TangentDim. out may alias storage.
	Retract(storage, delta, out []float64, epsilon float64)

	// LocalCoordinates computes the tangent perturbation from a to b,
	// writing it into out (length TangentDim).
	LocalCoordinates(a, b, out []float64, epsilon float64)
}
