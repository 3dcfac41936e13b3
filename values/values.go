// Package values provides the keyed heterogeneous store of optimization
// variables and the compiled tangent-space index over it.
package values

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/manifold"
)

var (
	// ErrKeyNotFound is returned when a key is absent from the store.
	ErrKeyNotFound = errors.New("key not found")
)

// ErrTypeMismatch indicates an attempt to change the manifold type of a key
// after it was first set, or a disagreement between a key's stored type and
// the type expected by an index.
type ErrTypeMismatch struct {
	Key      key.Key
	Expected string // manifold name already bound to the key
	Actual   string
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch for key %s: expected %s, got %s", e.Key, e.Expected, e.Actual)
}

// ErrDimensionMismatch indicates a storage slice whose length disagrees with
// the manifold's declared storage dimension.
type ErrDimensionMismatch struct {
	Key      key.Key
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch for key %s: expected %d, got %d", e.Key, e.Expected, e.Actual)
}

type entry struct {
	manifold manifold.Manifold
	data     []float64
}

// Values is the variable store: a mapping from Key to a manifold-typed storage
// vector, plus an opaque side map for non-optimized auxiliary payloads.
//
// A key's manifold type is fixed by the first Set; retyping fails with
// ErrTypeMismatch. Values is not safe for concurrent mutation.
type Values struct {
	entries map[key.Key]entry
	aux     map[key.Key]any
}

// New creates an empty store.
func New() *Values {
	return &Values{
		entries: make(map[key.Key]entry),
	}
}

// Set stores (or overwrites) the value for k. The storage slice is copied.
// Fails with ErrTypeMismatch if k was previously set with a different
// manifold type, and with ErrDimensionMismatch if the storage length does not
// match the manifold's storage dimension.
func (v *Values) Set(k key.Key, m manifold.Manifold, storage []float64) error {
	if !k.Valid() {
		return fmt.Errorf("%w: invalid key", ErrKeyNotFound)
	}
	if len(storage) != m.StorageDim() {
		return &ErrDimensionMismatch{Key: k, Expected: m.StorageDim(), Actual: len(storage)}
	}
	if prev, ok := v.entries[k]; ok {
		if prev.manifold.Name() != m.Name() {
			return &ErrTypeMismatch{Key: k, Expected: prev.manifold.Name(), Actual: m.Name()}
		}
		copy(prev.data, storage)
		return nil
	}
	v.entries[k] = entry{manifold: m, data: slices.Clone(storage)}
	return nil
}

// SetScalar stores a one-dimensional Euclidean value for k.
func (v *Values) SetScalar(k key.Key, x float64) error {
	return v.Set(k, manifold.Scalar(), []float64{x})
}

// SetVector stores an R^n value for k.
func (v *Values) SetVector(k key.Key, x []float64) error {
	return v.Set(k, manifold.Vector(len(x)), x)
}

// At returns the storage vector for k. The returned slice aliases the store;
// callers must not resize it. Fails with ErrKeyNotFound for absent keys.
func (v *Values) At(k key.Key) ([]float64, error) {
	e, ok := v.entries[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, k)
	}
	return e.data, nil
}

// AtScalar returns the scalar value for k.
func (v *Values) AtScalar(k key.Key) (float64, error) {
	data, err := v.At(k)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, &ErrDimensionMismatch{Key: k, Expected: 1, Actual: len(data)}
	}
	return data[0], nil
}

// Manifold returns the manifold type bound to k.
func (v *Values) Manifold(k key.Key) (manifold.Manifold, error) {
	e, ok := v.entries[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, k)
	}
	return e.manifold, nil
}

// Has reports whether k is present in the store.
func (v *Values) Has(k key.Key) bool {
	_, ok := v.entries[k]
	return ok
}

// Remove deletes k from the store. Removing an absent key is a no-op.
func (v *Values) Remove(k key.Key) {
	delete(v.entries, k)
}

// Len returns the number of manifold entries in the store.
func (v *Values) Len() int { return len(v.entries) }

// Keys returns all keys in their total order.
func (v *Values) Keys() []key.Key {
	keys := make([]key.Key, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	key.Sort(keys)
	return keys
}

// SetAux attaches an opaque, non-optimized payload to k. Auxiliary data is
// ignored by indexing, retraction and copying semantics apart from the shallow
// copy performed by Copy.
func (v *Values) SetAux(k key.Key, payload any) {
	if v.aux == nil {
		v.aux = make(map[key.Key]any)
	}
	v.aux[k] = payload
}

// Aux returns the auxiliary payload for k, if any.
func (v *Values) Aux(k key.Key) (any, bool) {
	payload, ok := v.aux[k]
	return payload, ok
}

// Copy returns a deep copy of all manifold entries and a shallow copy of the
// auxiliary map.
func (v *Values) Copy() *Values {
	out := New()
	for k, e := range v.entries {
		out.entries[k] = entry{manifold: e.manifold, data: slices.Clone(e.data)}
	}
	if v.aux != nil {
		out.aux = make(map[key.Key]any, len(v.aux))
		for k, p := range v.aux {
			out.aux[k] = p
		}
	}
	return out
}

// CopyInto overwrites dst's manifold entries with deep copies of v's,
// reusing dst's storage where entry shapes match. Auxiliary data in dst is
// left untouched. Used on the optimizer hot path to avoid reallocation.
func (v *Values) CopyInto(dst *Values) {
	for k := range dst.entries {
		if _, ok := v.entries[k]; !ok {
			delete(dst.entries, k)
		}
	}
	for k, e := range v.entries {
		if prev, ok := dst.entries[k]; ok && len(prev.data) == len(e.data) {
			copy(prev.data, e.data)
			dst.entries[k] = entry{manifold: e.manifold, data: prev.data}
			continue
		}
		dst.entries[k] = entry{manifold: e.manifold, data: slices.Clone(e.data)}
	}
}

// Retract applies the tangent-space perturbation delta (laid out by idx) to
// the indexed entries in place. The delta length must equal idx.TangentDim().
func (v *Values) Retract(idx *Index, delta []float64, epsilon float64) error {
	if len(delta) != idx.TangentDim() {
		return &ErrDimensionMismatch{Expected: idx.TangentDim(), Actual: len(delta)}
	}
	for _, ie := range idx.Entries() {
		e, ok := v.entries[ie.Key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, ie.Key)
		}
		e.manifold.Retract(e.data, delta[ie.Offset:ie.Offset+ie.TangentDim], e.data, epsilon)
	}
	return nil
}

// LocalCoordinates computes the tangent-space perturbation from v to other
// over the indexed entries, writing it into out (length idx.TangentDim()).
func (v *Values) LocalCoordinates(other *Values, idx *Index, out []float64, epsilon float64) error {
	if len(out) != idx.TangentDim() {
		return &ErrDimensionMismatch{Expected: idx.TangentDim(), Actual: len(out)}
	}
	for _, ie := range idx.Entries() {
		a, ok := v.entries[ie.Key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, ie.Key)
		}
		b, ok := other.entries[ie.Key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, ie.Key)
		}
		a.manifold.LocalCoordinates(a.data, b.data, out[ie.Offset:ie.Offset+ie.TangentDim], epsilon)
	}
	return nil
}
