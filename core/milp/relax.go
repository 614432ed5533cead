package milp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/kilianp07/millplan/core/logger"
)

// primalSolve runs the sparse simplex. It can be overridden in tests to
// simulate solver failures.
var primalSolve = (*simplex).solve

// denseRowLimit bounds the systems handed to the dense fallback.
const denseRowLimit = 400

// relaxer solves the LP relaxations of one Problem over changing variable
// boxes, reusing the simplex workspace between calls.
type relaxer struct {
	p   *Problem
	mod *lpModel
	lp  *simplex
	tol float64
	log logger.Logger
}

func newRelaxer(p *Problem, mod *lpModel, stop func() bool, tol float64, log logger.Logger) *relaxer {
	return &relaxer{p: p, mod: mod, lp: newSimplex(mod, stop), tol: tol, log: log}
}

// relax solves the relaxation over [lo, up], starting from warm when it is
// set. It returns the structural values, their objective and the final basis.
// errLPInfeasible, errLPUnbounded and errLPStopped report the corresponding
// outcomes; any other error is a numeric failure.
//
// A warm start that stalls is retried cold. Small systems that still fail
// are handed to the dense solver, whose result carries no basis.
func (r *relaxer) relax(lo, up []float64, warm *basis) ([]float64, float64, *basis, error) {
	err := r.sparse(lo, up, warm)
	if errors.Is(err, errLPStalled) && warm != nil {
		r.log.Debugf("warm start stalled, retrying cold: %v", err)
		err = r.sparse(lo, up, nil)
	}
	if err == nil {
		x := r.lp.values()
		return x, r.p.Evaluate(x), r.lp.snapshot(), nil
	}
	if !errors.Is(err, errLPStalled) || r.mod.m > denseRowLimit {
		return nil, 0, nil, err
	}

	r.log.Debugf("sparse relaxation failed on %d rows, retrying dense: %v", r.mod.m, err)
	x, obj, derr := denseRelax(r.p, lo, up, r.tol)
	switch {
	case errors.Is(derr, lp.ErrInfeasible):
		return nil, 0, nil, errLPInfeasible
	case errors.Is(derr, lp.ErrUnbounded):
		return nil, 0, nil, errLPUnbounded
	case derr != nil:
		return nil, 0, nil, fmt.Errorf("%w; dense: %v", err, derr)
	}
	return x, obj, nil, nil
}

func (r *relaxer) sparse(lo, up []float64, warm *basis) error {
	r.lp.setBounds(lo, up)
	r.lp.load(warm)
	return primalSolve(r.lp)
}
