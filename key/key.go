// Package key provides unique identifiers for variable slots in a Values store.
package key

import (
	"fmt"
	"slices"
)

// InvalidSub marks the sub-index of a key that has none.
const InvalidSub = int64(-1)

// Key identifies a single variable slot. A key is a category letter plus an
// integer index, with an optional sub-index for nested numbering (for example
// per-landmark observations). The zero value is invalid.
//
// Keys are comparable, totally ordered (letter, then index, then sub-index)
// and safe to use as map keys.
type Key struct {
	letter byte
	idx    int64
	sub    int64
}

// New creates a key from a category letter and an index.
func New(letter byte, idx int64) Key {
	return Key{letter: letter, idx: idx, sub: InvalidSub}
}

// NewSub creates a key with a sub-index.
func NewSub(letter byte, idx, sub int64) Key {
	return Key{letter: letter, idx: idx, sub: sub}
}

// Letter returns the category letter of the key.
func (k Key) Letter() byte { return k.letter }

// Idx returns the integer index of the key.
func (k Key) Idx() int64 { return k.idx }

// Sub returns the sub-index, or InvalidSub if the key has none.
func (k Key) Sub() int64 { return k.sub }

// HasSub reports whether the key carries a sub-index.
func (k Key) HasSub() bool { return k.sub != InvalidSub }

// Valid reports whether the key was constructed via New or NewSub.
// The zero Key is not valid.
func (k Key) Valid() bool { return k.letter != 0 }

// Compare returns -1, 0 or +1 ordering keys by letter, then index, then
// sub-index. Keys without a sub-index sort before keys with one.
func (k Key) Compare(other Key) int {
	if k.letter != other.letter {
		if k.letter < other.letter {
			return -1
		}
		return 1
	}
	if k.idx != other.idx {
		if k.idx < other.idx {
			return -1
		}
		return 1
	}
	if k.sub != other.sub {
		if k.sub < other.sub {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether k orders before other.
func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

// String formats the key as "x_3" or "x_3_1" for keys with a sub-index.
func (k Key) String() string {
	if !k.Valid() {
		return "<invalid>"
	}
	if k.HasSub() {
		return fmt.Sprintf("%c_%d_%d", k.letter, k.idx, k.sub)
	}
	return fmt.Sprintf("%c_%d", k.letter, k.idx)
}

// Sort orders keys in place by their total order.
func Sort(keys []Key) {
	slices.SortFunc(keys, Key.Compare)
}

// Unique returns a new sorted slice with duplicates removed.
func Unique(keys []Key) []Key {
	out := slices.Clone(keys)
	Sort(out)
	return slices.CompactFunc(out, func(a, b Key) bool { return a == b })
}
