package values

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/manifold"
)

func TestCreateIndexLayout(t *testing.T) {
	v := New()
	kx := key.New('x', 0)
	kr := key.New('r', 0)
	ky := key.New('y', 0)
	require.NoError(t, v.SetVector(kx, []float64{1, 2, 3}))
	require.NoError(t, v.Set(kr, manifold.Rot2(), manifold.Rot2FromAngle(0)))
	require.NoError(t, v.SetScalar(ky, 4))

	idx, err := v.CreateIndex([]key.Key{kx, kr, ky})
	require.NoError(t, err)

	assert.Equal(t, 5, idx.TangentDim())
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, []key.Key{kx, kr, ky}, idx.Keys())

	entries := idx.Entries()
	assert.Equal(t, IndexEntry{Key: kx, Offset: 0, TangentDim: 3, StorageDim: 3}, entries[0])
	assert.Equal(t, IndexEntry{Key: kr, Offset: 3, TangentDim: 1, StorageDim: 2}, entries[1])
	assert.Equal(t, IndexEntry{Key: ky, Offset: 4, TangentDim: 1, StorageDim: 1}, entries[2])

	e, ok := idx.Entry(kr)
	require.True(t, ok)
	assert.Equal(t, 3, e.Offset)

	_, ok = idx.Entry(key.New('z', 0))
	assert.False(t, ok)
}

func TestCreateIndexUnknownKey(t *testing.T) {
	v := New()
	require.NoError(t, v.SetScalar(key.New('x', 0), 1))

	_, err := v.CreateIndex([]key.Key{key.New('x', 0), key.New('x', 1)})
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestCreateIndexDuplicateKey(t *testing.T) {
	v := New()
	k := key.New('x', 0)
	require.NoError(t, v.SetScalar(k, 1))

	_, err := v.CreateIndex([]key.Key{k, k})
	assert.Error(t, err)
}

func TestIndexValidate(t *testing.T) {
	v := New()
	k := key.New('x', 0)
	require.NoError(t, v.SetScalar(k, 1))

	idx, err := v.CreateIndex([]key.Key{k})
	require.NoError(t, err)
	require.NoError(t, idx.Validate(v))

	// Key removed: index is stale.
	v.Remove(k)
	assert.True(t, errors.Is(idx.Validate(v), ErrKeyNotFound))

	// Key re-added with a different shape: type mismatch.
	require.NoError(t, v.Set(k, manifold.Rot2(), manifold.Rot2FromAngle(0)))
	var tm *ErrTypeMismatch
	assert.ErrorAs(t, idx.Validate(v), &tm)
}
