package manifold

import "math"

// Rot2Type is a planar rotation stored as a unit complex number (cos θ, sin θ).
// Storage dimension 2, tangent dimension 1 (the angle perturbation). It is the
// smallest manifold where storage and tangent differ and serves both as a
// usable type and as the reference implementation for external Lie-group types.
type Rot2Type struct{}

// Rot2 returns the planar rotation manifold.
func Rot2() Rot2Type { return Rot2Type{} }

// Rot2FromAngle builds the storage vector for the rotation by theta radians.
func Rot2FromAngle(theta float64) []float64 {
	return []float64{math.Cos(theta), math.Sin(theta)}
}

// Rot2Angle recovers the angle in (-pi, pi] from a storage vector.
func Rot2Angle(storage []float64) float64 {
	return math.Atan2(storage[1], storage[0])
}

// Name implements Manifold.
func (Rot2Type) Name() string { return "Rot2" }

// StorageDim implements Manifold.
func (Rot2Type) StorageDim() int { return 2 }

// TangentDim implements Manifold.
func (Rot2Type) TangentDim() int { return 1 }

// Retract implements Manifold: compose with the rotation by delta[0], then
// renormalize to stay on the unit circle under repeated stepping.
func (Rot2Type) Retract(storage, delta, out []float64, epsilon float64) {
	c, s := math.Cos(delta[0]), math.Sin(delta[0])
	re := storage[0]*c - storage[1]*s
	im := storage[0]*s + storage[1]*c

	norm := math.Hypot(re, im)
	if norm < epsilon {
		// Degenerate storage; fall back to the perturbation alone.
		out[0], out[1] = c, s
		return
	}
	out[0], out[1] = re/norm, im/norm
}

// LocalCoordinates implements Manifold: the relative angle from a to b.
func (Rot2Type) LocalCoordinates(a, b, out []float64, _ float64) {
	// angle(a^{-1} * b)
	re := a[0]*b[0] + a[1]*b[1]
	im := a[0]*b[1] - a[1]*b[0]
	out[0] = math.Atan2(im, re)
}
