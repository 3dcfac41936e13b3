package optimizer

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/linearizer"
	"github.com/hupe1980/optgo/values"
)

// covarianceScratch holds the buffers reused across covariance extractions so
// repeated calls on the same problem shape do not reallocate. Owned
// exclusively by the optimizer; never shared.
type covarianceScratch struct {
	damped   *mat.SymDense // H + ε·I
	inverse  *mat.SymDense
	et       *mat.Dense // Eᵗ, marginal rows × subset cols
	x        *mat.Dense // C⁻¹·Eᵗ
	product  *mat.Dense // E·C⁻¹·Eᵗ
	marginal *mat.SymDense
	schur    *mat.SymDense // S = B − E·C⁻¹·Eᵗ
	schurInv *mat.SymDense
}

// dampedCopy refreshes sc.damped as h with ε added to the diagonal, the form
// whose inverse all covariance extraction goes through. Damping keeps the
// inverse defined for weakly constrained directions at the cost of a slight
// underestimate of their variance.
func (sc *covarianceScratch) dampedCopy(h *mat.SymDense, n int, epsilon float64) {
	if sc.damped == nil || sc.damped.SymmetricDim() != n {
		sc.damped = mat.NewSymDense(n, nil)
	}
	sc.damped.CopySym(h)
	for i := 0; i < n; i++ {
		sc.damped.SetSym(i, i, h.At(i, i)+epsilon)
	}
}

// ComputeAllCovariances computes, for every optimized key, the corresponding
// diagonal block of the inverse damped Hessian of lin. Buffers already in out
// are reused when their shape matches; its key set is replaced by exactly the
// optimized keys. Fails with ErrInvalidKeySubset if out pre-contains keys
// outside the optimized set, without mutating out.
func (o *Optimizer) ComputeAllCovariances(lin *linearizer.Linearization, out map[key.Key]*mat.SymDense) error {
	if o.index == nil || lin == nil || !lin.Initialized() {
		return ErrNotLinearized
	}
	for k := range out {
		if _, ok := o.index.Entry(k); !ok {
			return &ErrInvalidKeySubset{Key: k, Reason: "pre-populates the output map but is not optimized"}
		}
	}

	start := time.Now()
	err := o.computeAllCovariances(lin, out)
	o.metrics.RecordCovariance(o.index.Len(), time.Since(start), err)
	return err
}

func (o *Optimizer) computeAllCovariances(lin *linearizer.Linearization, out map[key.Key]*mat.SymDense) error {
	n := o.index.TangentDim()
	if n == 0 {
		return nil
	}

	sc := &o.cov
	sc.dampedCopy(lin.Hessian, n, o.epsilon)

	var chol mat.Cholesky
	if !chol.Factorize(sc.damped) {
		return fmt.Errorf("%w: full covariance factorization", ErrSingularSystem)
	}
	if sc.inverse == nil || sc.inverse.SymmetricDim() != n {
		sc.inverse = mat.NewSymDense(n, nil)
	}
	if err := chol.InverseTo(sc.inverse); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}

	extractDiagonalBlocks(sc.inverse, o.index.Entries(), out)
	return nil
}

// ComputeCovariances computes covariance blocks for a subset of the optimized
// keys via the Schur complement. The subset must be a prefix, in order, of the
// full optimized key list, so the damped Hessian partitions as [[B,E],[Eᵗ,C]]
// with the subset in B; the result is the diagonal blocks of S⁻¹ for
// S = B − E·C⁻¹·Eᵗ, which equals the corresponding block of the full inverse.
//
// The marginalized block C is expected to be block-diagonal per key, which
// makes its inversion cheap. When factors couple two marginalized keys that
// assumption breaks; the extraction then degrades to a dense solve of C and
// logs a warning rather than producing a wrong result.
//
// Fails with ErrInvalidKeySubset, without mutating out, if keys is empty, out
// of order, or not a prefix of the optimized key list.
func (o *Optimizer) ComputeCovariances(lin *linearizer.Linearization, keys []key.Key, out map[key.Key]*mat.SymDense) error {
	if o.index == nil || lin == nil || !lin.Initialized() {
		return ErrNotLinearized
	}
	entries := o.index.Entries()
	if len(keys) == 0 {
		return &ErrInvalidKeySubset{Reason: "empty key subset"}
	}
	if len(keys) > len(entries) {
		return &ErrInvalidKeySubset{Key: keys[len(entries)], Reason: "is beyond the optimized key list"}
	}
	for i, k := range keys {
		if entries[i].Key != k {
			return &ErrInvalidKeySubset{Key: k, Reason: fmt.Sprintf("is not a prefix of the optimized key list at position %d", i)}
		}
	}

	start := time.Now()
	err := o.computeCovariances(lin, keys, out)
	o.metrics.RecordCovariance(len(keys), time.Since(start), err)
	return err
}

func (o *Optimizer) computeCovariances(lin *linearizer.Linearization, keys []key.Key, out map[key.Key]*mat.SymDense) error {
	entries := o.index.Entries()
	subset := entries[:len(keys)]
	rest := entries[len(keys):]

	last := subset[len(subset)-1]
	nb := last.Offset + last.TangentDim
	n := o.index.TangentDim()
	nr := n - nb

	// The output map keeps exactly the requested keys; stale entries from a
	// previous extraction are dropped, surviving ones keep their buffers.
	requested := make(map[key.Key]struct{}, len(keys))
	for _, k := range keys {
		requested[k] = struct{}{}
	}
	for k := range out {
		if _, ok := requested[k]; !ok {
			delete(out, k)
		}
	}

	if nb == 0 {
		return nil
	}

	sc := &o.cov
	var chol mat.Cholesky

	if nr == 0 {
		// Nothing to marginalize; the subset covers every optimized key.
		sc.dampedCopy(lin.Hessian, n, o.epsilon)
		if !chol.Factorize(sc.damped) {
			return fmt.Errorf("%w: covariance factorization", ErrSingularSystem)
		}
		if sc.inverse == nil || sc.inverse.SymmetricDim() != n {
			sc.inverse = mat.NewSymDense(n, nil)
		}
		if err := chol.InverseTo(sc.inverse); err != nil {
			return fmt.Errorf("%w: %v", ErrSingularSystem, err)
		}
		extractDiagonalBlocks(sc.inverse, subset, out)
		return nil
	}

	if sc.et == nil {
		sc.et = &mat.Dense{}
		sc.x = &mat.Dense{}
		sc.product = &mat.Dense{}
	}
	sc.et.Reset()
	sc.et.ReuseAs(nr, nb)
	sc.x.Reset()
	sc.x.ReuseAs(nr, nb)
	sc.product.Reset()
	sc.product.ReuseAs(nb, nb)
	for i := 0; i < nr; i++ {
		for j := 0; j < nb; j++ {
			sc.et.Set(i, j, lin.Hessian.At(nb+i, j))
		}
	}

	// X = C⁻¹·Eᵗ, blockwise over the marginalized keys when C is
	// block-diagonal, dense otherwise.
	if marginalBlockDiagonal(lin.Hessian, rest) {
		for _, e := range rest {
			d := e.TangentDim
			if d == 0 {
				continue
			}
			block := mat.NewSymDense(d, nil)
			for i := 0; i < d; i++ {
				for j := i; j < d; j++ {
					v := lin.Hessian.At(e.Offset+i, e.Offset+j)
					if i == j {
						v += o.epsilon
					}
					block.SetSym(i, j, v)
				}
			}
			if !chol.Factorize(block) {
				return fmt.Errorf("%w: marginal block for key %s", ErrSingularSystem, e.Key)
			}
			off := e.Offset - nb
			strip := sc.x.Slice(off, off+d, 0, nb).(*mat.Dense)
			if err := chol.SolveTo(strip, sc.et.Slice(off, off+d, 0, nb)); err != nil {
				return fmt.Errorf("%w: marginal solve for key %s: %v", ErrSingularSystem, e.Key, err)
			}
		}
	} else {
		o.logger.Warn("marginalized hessian block is not block-diagonal; covariance extraction degrades to a dense solve",
			"name", o.name,
			"marginal_dim", nr,
		)
		if sc.marginal == nil || sc.marginal.SymmetricDim() != nr {
			sc.marginal = mat.NewSymDense(nr, nil)
		}
		for i := 0; i < nr; i++ {
			for j := i; j < nr; j++ {
				v := lin.Hessian.At(nb+i, nb+j)
				if i == j {
					v += o.epsilon
				}
				sc.marginal.SetSym(i, j, v)
			}
		}
		if !chol.Factorize(sc.marginal) {
			return fmt.Errorf("%w: dense marginal factorization", ErrSingularSystem)
		}
		if err := chol.SolveTo(sc.x, sc.et); err != nil {
			return fmt.Errorf("%w: dense marginal solve: %v", ErrSingularSystem, err)
		}
	}

	// S = B − E·X, symmetrized against roundoff in the product.
	sc.product.Mul(sc.et.T(), sc.x)
	if sc.schur == nil || sc.schur.SymmetricDim() != nb {
		sc.schur = mat.NewSymDense(nb, nil)
		sc.schurInv = mat.NewSymDense(nb, nil)
	}
	for i := 0; i < nb; i++ {
		for j := i; j < nb; j++ {
			b := lin.Hessian.At(i, j)
			if i == j {
				b += o.epsilon
			}
			p := 0.5 * (sc.product.At(i, j) + sc.product.At(j, i))
			sc.schur.SetSym(i, j, b-p)
		}
	}

	if !chol.Factorize(sc.schur) {
		return fmt.Errorf("%w: schur complement factorization", ErrSingularSystem)
	}
	if err := chol.InverseTo(sc.schurInv); err != nil {
		return fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}

	extractDiagonalBlocks(sc.schurInv, subset, out)
	return nil
}

// extractDiagonalBlocks copies the per-key diagonal blocks of src into out,
// reusing buffers whose shape matches. Entry offsets index directly into src.
func extractDiagonalBlocks(src *mat.SymDense, entries []values.IndexEntry, out map[key.Key]*mat.SymDense) {
	for _, e := range entries {
		if e.TangentDim == 0 {
			out[e.Key] = &mat.SymDense{}
			continue
		}
		block := out[e.Key]
		if block == nil || block.SymmetricDim() != e.TangentDim {
			block = mat.NewSymDense(e.TangentDim, nil)
			out[e.Key] = block
		}
		for i := 0; i < e.TangentDim; i++ {
			for j := i; j < e.TangentDim; j++ {
				block.SetSym(i, j, src.At(e.Offset+i, e.Offset+j))
			}
		}
	}
}

// marginalBlockDiagonal reports whether the marginalized part of the Hessian
// couples two distinct keys, which decides between the blockwise and the
// dense inversion path.
func marginalBlockDiagonal(h *mat.SymDense, rest []values.IndexEntry) bool {
	for a := 0; a < len(rest); a++ {
		for b := a + 1; b < len(rest); b++ {
			ea, eb := rest[a], rest[b]
			for i := 0; i < ea.TangentDim; i++ {
				for j := 0; j < eb.TangentDim; j++ {
					if h.At(ea.Offset+i, eb.Offset+j) != 0 {
						return false
					}
				}
			}
		}
	}
	return true
}
