package values

import (
	"fmt"

	"github.com/hupe1980/optgo/key"
)

// IndexEntry locates one optimized key inside the flattened tangent vector.
type IndexEntry struct {
	Key        key.Key
	Offset     int // start of the key's block in tangent coordinates
	TangentDim int
	StorageDim int
}

// Index is the compiled layout of an ordered key list: for each key, its
// offset and size in the flattened tangent-space vector. An index is built
// against a specific store configuration and becomes stale if any indexed
// key's type changes or a key is removed; it should be rebuilt in that case.
type Index struct {
	entries    []IndexEntry
	byKey      map[key.Key]int
	tangentDim int
}

// CreateIndex compiles the layout for the given ordered keys. Fails with
// ErrKeyNotFound if a key is absent from the store. Duplicate keys fail with
// an ErrTypeMismatch-independent error since the layout would be ambiguous.
func (v *Values) CreateIndex(keys []key.Key) (*Index, error) {
	idx := &Index{
		entries: make([]IndexEntry, 0, len(keys)),
		byKey:   make(map[key.Key]int, len(keys)),
	}

	offset := 0
	for _, k := range keys {
		if _, ok := idx.byKey[k]; ok {
			return nil, fmt.Errorf("duplicate key in index: %s", k)
		}
		e, ok := v.entries[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, k)
		}
		idx.byKey[k] = len(idx.entries)
		idx.entries = append(idx.entries, IndexEntry{
			Key:        k,
			Offset:     offset,
			TangentDim: e.manifold.TangentDim(),
			StorageDim: e.manifold.StorageDim(),
		})
		offset += e.manifold.TangentDim()
	}
	idx.tangentDim = offset

	return idx, nil
}

// Entries returns the ordered index entries. The slice is owned by the index.
func (i *Index) Entries() []IndexEntry { return i.entries }

// Entry returns the entry for k.
func (i *Index) Entry(k key.Key) (IndexEntry, bool) {
	pos, ok := i.byKey[k]
	if !ok {
		return IndexEntry{}, false
	}
	return i.entries[pos], true
}

// Keys returns the ordered keys covered by the index.
func (i *Index) Keys() []key.Key {
	keys := make([]key.Key, len(i.entries))
	for n, e := range i.entries {
		keys[n] = e.Key
	}
	return keys
}

// TangentDim returns the total tangent dimension, the sum of per-key sizes.
func (i *Index) TangentDim() int { return i.tangentDim }

// Len returns the number of indexed keys.
func (i *Index) Len() int { return len(i.entries) }

// Validate checks that the index still matches the store: every indexed key
// is present with the recorded dimensions. Fails with ErrKeyNotFound or
// ErrTypeMismatch.
func (i *Index) Validate(v *Values) error {
	for _, ie := range i.entries {
		e, ok := v.entries[ie.Key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, ie.Key)
		}
		if e.manifold.TangentDim() != ie.TangentDim || e.manifold.StorageDim() != ie.StorageDim {
			return &ErrTypeMismatch{
				Key:      ie.Key,
				Expected: fmt.Sprintf("storage %d / tangent %d", ie.StorageDim, ie.TangentDim),
				Actual:   fmt.Sprintf("storage %d / tangent %d", e.manifold.StorageDim(), e.manifold.TangentDim()),
			}
		}
	}
	return nil
}
