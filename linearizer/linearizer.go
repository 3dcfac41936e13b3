package linearizer

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/optgo/factor"
	"github.com/hupe1980/optgo/values"
)

// derivativeCheckTol is the per-entry tolerance of the numerical-vs-analytic
// Jacobian cross-check enabled by WithDerivativeCheck.
const derivativeCheckTol = 1e-5

// Option configures a Linearizer.
type Option func(*Linearizer)

// WithParallelism bounds the number of goroutines used for per-factor
// evaluation. Values below 2 keep evaluation on the calling goroutine.
// Accumulation order is fixed by factor index either way, so results are
// bit-for-bit identical for any setting.
func WithParallelism(n int) Option {
	return func(l *Linearizer) {
		l.parallelism = n
	}
}

// WithDerivativeCheck enables a retraction-based numerical cross-check of
// every analytic Jacobian on each full linearization. Debug aid; expensive.
func WithDerivativeCheck() Option {
	return func(l *Linearizer) {
		l.checkDerivatives = true
	}
}

// keySlot describes one declared key of a factor inside the scatter pattern.
type keySlot struct {
	indexed bool // key is optimized (present in the index)
	col     int  // global tangent column offset, if indexed
	dim     int  // tangent dimension
	local   int  // offset inside the factor's concatenated tangent space
}

// pairSlot is one nonzero Hessian block contributed by a factor: the pair of
// its key slots (a ordered before b by global column) plus the scratch buffer
// for the JᵃᵗJᵇ product.
type pairSlot struct {
	a, b    int
	scratch *mat.Dense
}

// factorSlot caches where one factor's outputs land.
type factorSlot struct {
	row   int // residual row offset
	dim   int // residual dimension
	keys  []keySlot
	pairs []pairSlot
	rhs   []float64 // scratch for Jᵗr segments, len = max key dim
}

// Linearizer turns (factors, values, index) into a Linearization. The block
// scatter pattern is determined on the first full call and reused until Reset;
// it must be invalidated (by building a fresh Linearizer) whenever the
// optimized key set or any key's type changes.
//
// A Linearizer is not safe for concurrent use.
type Linearizer struct {
	factors          []*factor.Factor
	index            *values.Index
	epsilon          float64
	parallelism      int
	checkDerivatives bool

	slots       []factorSlot
	residualDim int
	hasPattern  bool
	evals       []*factor.Evaluation
}

// New creates a Linearizer over the given factor list and compiled index.
// The factor slice is not copied; callers (normally the Optimizer) own it and
// must keep it unchanged for the life of the Linearizer.
func New(factors []*factor.Factor, index *values.Index, epsilon float64, opts ...Option) *Linearizer {
	l := &Linearizer{
		factors: factors,
		index:   index,
		epsilon: epsilon,
		evals:   make([]*factor.Evaluation, len(factors)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reset drops the cached scatter pattern.
func (l *Linearizer) Reset() {
	l.slots = nil
	l.hasPattern = false
	l.residualDim = 0
}

// Relinearize rebuilds lin in place around the given values. With
// includeDerivatives false only the residual and error are refreshed, leaving
// derivative buffers untouched; this is the cheap path used to score
// candidate steps.
func (l *Linearizer) Relinearize(v *values.Values, lin *Linearization, includeDerivatives bool) error {
	if err := l.evaluate(v, includeDerivatives); err != nil {
		return err
	}

	if includeDerivatives {
		if l.checkDerivatives {
			for _, f := range l.factors {
				if err := factor.CheckJacobians(f, v, l.epsilon, derivativeCheckTol); err != nil {
					return err
				}
			}
		}
		if !l.hasPattern {
			if err := l.buildPattern(v); err != nil {
				return err
			}
		}
	}

	residualDim := l.residualDim
	if !l.hasPattern {
		residualDim = 0
		for _, ev := range l.evals {
			residualDim += len(ev.Residual)
		}
	}

	lin.ensure(residualDim, l.index.TangentDim(), includeDerivatives)

	row := 0
	for i := range l.factors {
		ev := l.evals[i]
		for r, val := range ev.Residual {
			lin.Residual.SetVec(row+r, val)
		}
		if includeDerivatives {
			l.scatterDerivatives(lin, &l.slots[i], ev, row)
		}
		row += len(ev.Residual)
	}

	lin.Error = halfSquaredNorm(lin.Residual)
	if includeDerivatives {
		lin.initialized = true
	}

	return nil
}

// evaluate runs every factor evaluator, in parallel when configured. Results
// land in l.evals at the factor's own position, so downstream accumulation
// order is independent of completion order.
func (l *Linearizer) evaluate(v *values.Values, includeDerivatives bool) error {
	if l.parallelism > 1 && len(l.factors) > 1 {
		g := new(errgroup.Group)
		g.SetLimit(l.parallelism)
		for i, f := range l.factors {
			g.Go(func() error {
				ev, err := f.Linearize(v, includeDerivatives)
				if err != nil {
					return err
				}
				l.evals[i] = ev
				return nil
			})
		}
		return g.Wait()
	}

	for i, f := range l.factors {
		ev, err := f.Linearize(v, includeDerivatives)
		if err != nil {
			return err
		}
		l.evals[i] = ev
	}
	return nil
}

// buildPattern computes the scatter layout from the first full evaluation:
// residual offsets, per-key column offsets, and the set of nonzero Hessian
// block pairs with their scratch buffers.
func (l *Linearizer) buildPattern(v *values.Values) error {
	l.slots = make([]factorSlot, len(l.factors))

	row := 0
	for i, f := range l.factors {
		ev := l.evals[i]
		slot := factorSlot{row: row, dim: len(ev.Residual)}
		row += len(ev.Residual)

		local := 0
		maxDim := 0
		for _, k := range f.Keys() {
			m, err := v.Manifold(k)
			if err != nil {
				return err
			}
			ks := keySlot{dim: m.TangentDim(), local: local}
			local += ks.dim
			if entry, ok := l.index.Entry(k); ok {
				ks.indexed = true
				ks.col = entry.Offset
				if entry.TangentDim != ks.dim {
					return fmt.Errorf("stale index for key %s: %w", k,
						&factor.ErrDimensionMismatch{Context: "tangent dim", Expected: entry.TangentDim, Actual: ks.dim})
				}
				if ks.dim > maxDim {
					maxDim = ks.dim
				}
			}
			slot.keys = append(slot.keys, ks)
		}

		// Every pair of indexed keys touched by this factor contributes one
		// nonzero Hessian block; normalize pair order by global column so the
		// accumulation only ever writes the upper triangle.
		for a := range slot.keys {
			if !slot.keys[a].indexed {
				continue
			}
			for b := a; b < len(slot.keys); b++ {
				if !slot.keys[b].indexed {
					continue
				}
				pa, pb := a, b
				if slot.keys[pa].col > slot.keys[pb].col {
					pa, pb = pb, pa
				}
				slot.pairs = append(slot.pairs, pairSlot{
					a:       pa,
					b:       pb,
					scratch: mat.NewDense(slot.keys[pa].dim, slot.keys[pb].dim, nil),
				})
			}
		}
		slot.rhs = make([]float64, maxDim)

		l.slots[i] = slot
	}

	l.residualDim = row
	l.hasPattern = true

	return nil
}

// scatterDerivatives accumulates one factor's evaluation into the shared
// Jacobian block list, Hessian and rhs.
func (l *Linearizer) scatterDerivatives(lin *Linearization, slot *factorSlot, ev *factor.Evaluation, row int) {
	for ki, ks := range slot.keys {
		if !ks.indexed || ks.dim == 0 {
			continue
		}
		lin.Jacobian = append(lin.Jacobian, JacobianBlock{Row: row, Col: ks.col, Block: ev.Jacobians[ki]})
	}

	if ev.Hessian != nil {
		l.scatterQuadratic(lin, slot, ev)
		return
	}

	residual := mat.NewVecDense(len(ev.Residual), ev.Residual)

	// rhs += Jᵏᵗ r per indexed key.
	for ki, ks := range slot.keys {
		if !ks.indexed || ks.dim == 0 {
			continue
		}
		seg := mat.NewVecDense(ks.dim, slot.rhs[:ks.dim])
		seg.MulVec(ev.Jacobians[ki].T(), residual)
		for i := 0; i < ks.dim; i++ {
			lin.Rhs.SetVec(ks.col+i, lin.Rhs.AtVec(ks.col+i)+seg.AtVec(i))
		}
	}

	// Hessian block accumulation: JᵃᵗJᵇ for every indexed key pair. This is
	// the dominant cost of a full linearization.
	for _, p := range slot.pairs {
		ka, kb := slot.keys[p.a], slot.keys[p.b]
		p.scratch.Mul(ev.Jacobians[p.a].T(), ev.Jacobians[p.b])
		addBlockSym(lin.Hessian, ka.col, kb.col, ka.dim, kb.dim, p.a == p.b, p.scratch.At)
	}
}

// scatterQuadratic adds a Hessian-form factor's precomputed JᵗJ and Jᵗr
// sub-blocks for its indexed keys.
func (l *Linearizer) scatterQuadratic(lin *Linearization, slot *factorSlot, ev *factor.Evaluation) {
	for _, ks := range slot.keys {
		if !ks.indexed {
			continue
		}
		for i := 0; i < ks.dim; i++ {
			lin.Rhs.SetVec(ks.col+i, lin.Rhs.AtVec(ks.col+i)+ev.Rhs[ks.local+i])
		}
	}

	for _, p := range slot.pairs {
		ka, kb := slot.keys[p.a], slot.keys[p.b]
		localA, localB := ka.local, kb.local
		addBlockSym(lin.Hessian, ka.col, kb.col, ka.dim, kb.dim, p.a == p.b, func(i, j int) float64 {
			return ev.Hessian.At(localA+i, localB+j)
		})
	}
}

// addBlockSym accumulates a rows×cols block into the symmetric Hessian at
// global offsets (rowOff, colOff), with rowOff <= colOff. For diagonal blocks
// only the upper triangle is written.
func addBlockSym(h *mat.SymDense, rowOff, colOff, rows, cols int, diagonal bool, at func(i, j int) float64) {
	for i := 0; i < rows; i++ {
		jStart := 0
		if diagonal {
			jStart = i
		}
		for j := jStart; j < cols; j++ {
			r, c := rowOff+i, colOff+j
			h.SetSym(r, c, h.At(r, c)+at(i, j))
		}
	}
}
