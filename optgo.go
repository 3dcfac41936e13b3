package optgo

import (
	"github.com/hupe1980/optgo/factor"
	"github.com/hupe1980/optgo/optimizer"
	"github.com/hupe1980/optgo/solver"
	"github.com/hupe1980/optgo/values"
)

// Optimize performs a one-shot solve: it builds an optimizer over the given
// factors, refines v in place and returns the terminal statistics. Callers
// that solve the same problem structure repeatedly should construct an
// optimizer.Optimizer once instead, to amortize index and sparsity-pattern
// construction.
func Optimize(params solver.Params, factors []*factor.Factor, v *values.Values, opts ...optimizer.Option) (*solver.Stats, error) {
	o := optimizer.New(params, factors, opts...)
	if _, err := o.Optimize(v); err != nil {
		return nil, err
	}
	return o.Stats(), nil
}
