package milp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/oleiade/lane/v2"

	"github.com/kilianp07/millplan/core/logger"
)

const (
	defaultIntTol = 1e-6
	// depthBias favours deeper nodes among equal bounds so incumbents are
	// found sooner.
	depthBias = 1e-6
)

// BranchAndBound is a branch-and-bound MILP engine over sparse simplex
// relaxations. It dives depth first until the first incumbent, then explores
// in best-bound order. Children start from their parent's basis.
type BranchAndBound struct {
	// TimeLimit bounds the wall-clock time of one solve. Zero means no limit
	// beyond the context deadline.
	TimeLimit time.Duration
	// MaxNodes bounds the number of evaluated relaxations. Zero means no limit.
	MaxNodes int
	// Tol is the integrality tolerance.
	Tol float64
	// Gap is the absolute objective gap under which a node is pruned.
	Gap float64
	Log logger.Logger
}

// NewBranchAndBound returns an engine with default tolerances.
func NewBranchAndBound(timeLimit time.Duration, log logger.Logger) *BranchAndBound {
	return &BranchAndBound{TimeLimit: timeLimit, Tol: defaultIntTol, Gap: 1e-6, Log: logger.OrNop(log)}
}

// maxWarmNodes bounds the open nodes that keep a basis snapshot. Nodes
// queued beyond it restart their relaxations from the slack basis.
const maxWarmNodes = 1024

// fix is one branching decision. A node's box is the root box narrowed by its
// chain of fixes.
type fix struct {
	j      int
	lo, up float64
	prev   *fix
}

// node is an open subproblem with its fractional branching variable.
type node struct {
	fixes  *fix
	branch int
	value  float64
	bound  float64
	depth  int
	basis  *basis
}

// box writes the bounds of the node with the given fixes into lo and up.
func box(f *fix, rootLo, rootUp, lo, up []float64, chain []*fix) []*fix {
	copy(lo, rootLo)
	copy(up, rootUp)
	chain = chain[:0]
	for ; f != nil; f = f.prev {
		chain = append(chain, f)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		lo[chain[i].j], up[chain[i].j] = chain[i].lo, chain[i].up
	}
	return chain
}

// Solve maximizes p. A solve cut short by the time limit, the context
// deadline or the node limit returns StatusTimeLimit with the best incumbent,
// if any. The deadline is also polled inside relaxations. Cancellation for
// any other reason is returned as ctx.Err().
//
// Relaxations that fail numerically are pruned and counted. When any were
// pruned the tree is incomplete: the solve ends with StatusTimeLimit if it
// holds an incumbent and with StatusError and ErrNumerical otherwise.
//
//gocyclo:ignore
func (b *BranchAndBound) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	log := logger.OrNop(b.Log)
	tol := b.Tol
	if tol <= 0 {
		tol = defaultIntTol
	}
	if b.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.TimeLimit)
		defer cancel()
	}
	start := time.Now()
	sol := &Solution{Status: StatusInfeasible, Objective: math.Inf(-1), Bound: math.Inf(-1)}
	// fallback is a feasible point kept for time limits hit before the
	// search finds an incumbent.
	var fallback []float64
	finish := func(s Status) (*Solution, error) {
		if s == StatusTimeLimit && sol.Values == nil && fallback != nil {
			sol.Values = fallback
			sol.Objective = p.Evaluate(fallback)
		}
		sol.Status = s
		sol.Elapsed = time.Since(start)
		if sol.Values == nil {
			sol.Objective = 0
		}
		return sol, nil
	}
	fail := func(err error) (*Solution, error) {
		sol.Status = StatusError
		sol.Elapsed = time.Since(start)
		sol.Values, sol.Objective = nil, 0
		return sol, err
	}
	stopped := func() (bool, error) {
		err := ctx.Err()
		if err == nil {
			return false, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true, nil
		}
		return true, err
	}

	if stop, err := stopped(); stop {
		if err != nil {
			return nil, err
		}
		return finish(StatusTimeLimit)
	}

	mod := newLPModel(p, tol)
	sol.Nodes = 1
	if mod.infeasible {
		return finish(StatusInfeasible)
	}
	rx := newRelaxer(p, mod, func() bool { return ctx.Err() != nil }, tol, log)
	n := len(p.Vars)
	lo := append([]float64(nil), mod.lo[:n]...)
	up := append([]float64(nil), mod.up[:n]...)
	x, obj, bas, err := rx.relax(lo, up, nil)
	switch {
	case errors.Is(err, errLPInfeasible):
		return finish(StatusInfeasible)
	case errors.Is(err, errLPUnbounded):
		return finish(StatusUnbounded)
	case errors.Is(err, errLPStopped):
		if _, cerr := stopped(); cerr != nil {
			return nil, cerr
		}
		log.Warnf("solve stopped in the root relaxation (%d rows, %d columns)", mod.m, mod.n)
		return finish(StatusTimeLimit)
	case errors.Is(err, ErrNumerical):
		return fail(fmt.Errorf("root relaxation: %w", err))
	case err != nil:
		return fail(fmt.Errorf("%w: root relaxation: %v", ErrNumerical, err))
	}
	sol.Bound = obj

	root := &node{bound: obj, basis: bas, branch: b.branchVar(p, x, tol)}
	if root.branch < 0 {
		b.accept(sol, p, x)
		return finish(StatusOptimal)
	}
	root.value = x[root.branch]
	fallback = b.roundDown(p, x, tol)

	var dive []*node
	open := lane.NewMaxPriorityQueue[*node, float64]()
	enqueue := func(nd *node) {
		if open.Size() >= maxWarmNodes {
			nd.basis = nil
		}
		open.Push(nd, nd.bound+depthBias*float64(nd.depth))
	}
	push := func(nd *node) {
		if sol.Values == nil {
			dive = append(dive, nd)
			return
		}
		enqueue(nd)
	}
	push(root)
	numeric := 0
	clo := make([]float64, n)
	cup := make([]float64, n)
	var chain []*fix
	for {
		if stop, err := stopped(); stop {
			if err != nil {
				return nil, err
			}
			log.Warnf("solve stopped after %d nodes, incumbent %v", sol.Nodes, sol.Values != nil)
			return finish(StatusTimeLimit)
		}
		if b.MaxNodes > 0 && sol.Nodes >= b.MaxNodes {
			log.Warnf("node limit %d reached", b.MaxNodes)
			return finish(StatusTimeLimit)
		}
		var cur *node
		if k := len(dive); k > 0 {
			cur, dive = dive[k-1], dive[:k-1]
		} else {
			nd, _, ok := open.Pop()
			if !ok {
				break
			}
			if sol.Values != nil && nd.bound <= sol.Objective+b.Gap {
				// Best-bound order: nothing left can improve the incumbent.
				break
			}
			cur = nd
			sol.Bound = cur.bound
		}

		j := cur.branch
		chain = box(cur.fixes, lo, up, clo, cup, chain)
		down := &fix{j: j, lo: clo[j], up: math.Floor(cur.value), prev: cur.fixes}
		upper := &fix{j: j, lo: math.Ceil(cur.value), up: cup[j], prev: cur.fixes}
		hadIncumbent := sol.Values != nil
		var kids []*node
		for _, f := range []*fix{down, upper} {
			sol.Nodes++
			depth := cur.depth + 1
			chain = box(f, lo, up, clo, cup, chain)
			cx, cobj, cb, err := rx.relax(clo, cup, cur.basis)
			switch {
			case errors.Is(err, errLPInfeasible):
				continue
			case errors.Is(err, errLPStopped):
				// The next stop check ends the search.
				continue
			case err != nil:
				numeric++
				log.Warnf("pruning node at depth %d: %v", depth, err)
				continue
			}
			if sol.Values != nil && cobj <= sol.Objective+b.Gap {
				continue
			}
			bj := b.branchVar(p, cx, tol)
			if bj < 0 {
				b.accept(sol, p, cx)
				log.Debugf("incumbent %.4f at node %d", cobj, sol.Nodes)
				continue
			}
			kids = append(kids, &node{fixes: f, branch: bj, value: cx[bj], bound: cobj, depth: depth, basis: cb})
		}
		if !hadIncumbent && sol.Values != nil {
			for _, nd := range dive {
				enqueue(nd)
			}
			dive = nil
		}
		// The child on the side the relaxation leans to is pushed last so
		// the dive takes it first.
		if len(kids) == 2 && cur.value-math.Floor(cur.value) < 0.5 {
			kids[0], kids[1] = kids[1], kids[0]
		}
		for _, ch := range kids {
			push(ch)
		}
	}
	if numeric > 0 {
		if sol.Values != nil {
			log.Warnf("%d relaxations failed numerically, optimality not proven", numeric)
			return finish(StatusTimeLimit)
		}
		return fail(fmt.Errorf("%w: %d relaxations failed", ErrNumerical, numeric))
	}
	if sol.Values == nil {
		return finish(StatusInfeasible)
	}
	sol.Bound = sol.Objective
	return finish(StatusOptimal)
}

// branchVar returns the most fractional integer variable, or -1 when x is
// integral.
func (b *BranchAndBound) branchVar(p *Problem, x []float64, tol float64) int {
	best, bestFrac := -1, tol
	for i, v := range p.Vars {
		if !v.Integer {
			continue
		}
		f := math.Abs(x[i] - math.Round(x[i]))
		if f > bestFrac {
			best, bestFrac = i, f
		}
	}
	return best
}

func (b *BranchAndBound) accept(sol *Solution, p *Problem, x []float64) {
	vals := append([]float64(nil), x...)
	for i, v := range p.Vars {
		if v.Integer {
			vals[i] = math.Round(vals[i])
		}
	}
	sol.Values = vals
	sol.Objective = p.Evaluate(vals)
}

// roundDown floors the integer variables of x and returns the point when it
// is feasible.
func (b *BranchAndBound) roundDown(p *Problem, x []float64, tol float64) []float64 {
	vals := append([]float64(nil), x...)
	for i, v := range p.Vars {
		if v.Integer {
			vals[i] = math.Floor(vals[i] + tol)
		}
	}
	if p.Check(vals, 1e-6) != nil {
		return nil
	}
	return vals
}
