package manifold

import "fmt"

// VectorN is the flat Euclidean manifold R^n: storage and tangent coincide,
// retraction is addition.
type VectorN struct {
	n int
}

// Vector returns the R^n manifold for the given dimension.
// It panics if n is not positive; the dimension is a compile-time property of
// the caller's problem, not runtime input.
func Vector(n int) VectorN {
	if n <= 0 {
		panic(fmt.Sprintf("manifold: vector dimension must be positive, got %d", n))
	}
	return VectorN{n: n}
}

// Scalar returns the one-dimensional Euclidean manifold.
func Scalar() VectorN { return Vector(1) }

// Name implements Manifold.
func (v VectorN) Name() string { return fmt.Sprintf("Vector%d", v.n) }

// StorageDim implements Manifold.
func (v VectorN) StorageDim() int { return v.n }

// TangentDim implements Manifold.
func (v VectorN) TangentDim() int { return v.n }

// Retract implements Manifold: out = storage + delta.
func (v VectorN) Retract(storage, delta, out []float64, _ float64) {
	for i := 0; i < v.n; i++ {
		out[i] = storage[i] + delta[i]
	}
}

// LocalCoordinates implements Manifold: out = b - a.
func (v VectorN) LocalCoordinates(a, b, out []float64, _ float64) {
	for i := 0; i < v.n; i++ {
		out[i] = b[i] - a[i]
	}
}
