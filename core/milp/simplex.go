package milp

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	// feasTol is the primal feasibility tolerance on variable bounds.
	feasTol = 1e-7
	// optTol is the reduced cost an entering variable must beat.
	optTol = 1e-7
	// pivotTol is the smallest transformed entry accepted as a pivot.
	pivotTol = 1e-7
	// singularTol is the smallest pivot accepted while refactoring.
	singularTol = 1e-9
	// degenerateTol is the step length counted as no progress.
	degenerateTol = 1e-12

	refactorEvery  = 100
	blandAfter     = 50
	stopCheckEvery = 16
)

var (
	errLPInfeasible = errors.New("lp: infeasible")
	errLPUnbounded  = errors.New("lp: unbounded")
	errLPStopped    = errors.New("lp: stopped")
	errLPStalled    = errors.New("lp: no progress")
)

// Position of a variable relative to the basis.
const (
	atLower int8 = iota
	atUpper
	isFree
	isBasic
)

// basis is a snapshot of a simplex basis. Nodes share their parent's
// snapshot, so it is never modified once taken.
type basis struct {
	head  []int32
	state []int8
}

// simplex is a bounded-variable revised primal simplex over an lpModel. The
// basis inverse is kept in product form and rebuilt every refactorEvery
// pivots. Infeasible starts are repaired by a composite phase one that
// minimizes the sum of bound violations of the basic variables.
type simplex struct {
	mod *lpModel

	lo, up []float64
	x      []float64
	head   []int
	state  []int8

	etas      etaFile
	factorLen int

	cB, y, alpha, w []float64
	rowFree         []bool
	newHead         []int
	structs         []int

	// stop is polled during long loops. A true result aborts with
	// errLPStopped.
	stop    func() bool
	maxIter int
	iters   int

	bland      bool
	degenerate int
}

func newSimplex(mod *lpModel, stop func() bool) *simplex {
	n, m := mod.n, mod.m
	return &simplex{
		mod:     mod,
		lo:      append([]float64(nil), mod.lo...),
		up:      append([]float64(nil), mod.up...),
		x:       make([]float64, n+m),
		head:    make([]int, m),
		state:   make([]int8, n+m),
		cB:      make([]float64, m),
		y:       make([]float64, m),
		alpha:   make([]float64, m),
		w:       make([]float64, m),
		rowFree: make([]bool, m),
		newHead: make([]int, m),
		stop:    stop,
		maxIter: 50*(n+m) + 1000,
	}
}

// setBounds installs the structural box of a node.
func (s *simplex) setBounds(lo, up []float64) {
	copy(s.lo[:s.mod.n], lo)
	copy(s.up[:s.mod.n], up)
}

// load installs warm, or the slack basis when warm is nil. Nonbasic
// positions are revalidated against the current bounds.
func (s *simplex) load(warm *basis) {
	n := s.mod.n
	if warm == nil {
		for j := range s.state {
			s.state[j] = s.nonbasicState(j, atLower)
		}
		for r := range s.head {
			s.head[r] = n + r
			s.state[n+r] = isBasic
		}
		return
	}
	for r, v := range warm.head {
		s.head[r] = int(v)
	}
	for j, st := range warm.state {
		if st == isBasic {
			s.state[j] = isBasic
			continue
		}
		s.state[j] = s.nonbasicState(j, st)
	}
}

func (s *simplex) snapshot() *basis {
	b := &basis{head: make([]int32, len(s.head)), state: append([]int8(nil), s.state...)}
	for r, v := range s.head {
		b.head[r] = int32(v)
	}
	return b
}

// values returns the structural part of the current point clamped to its
// bounds.
func (s *simplex) values() []float64 {
	out := make([]float64, s.mod.n)
	for j := range out {
		out[j] = math.Max(s.lo[j], math.Min(s.up[j], s.x[j]))
	}
	return out
}

// nonbasicState returns want when the matching bound is finite, otherwise
// the closest valid position.
func (s *simplex) nonbasicState(j int, want int8) int8 {
	loInf, upInf := math.IsInf(s.lo[j], -1), math.IsInf(s.up[j], 1)
	switch {
	case want == atUpper && !upInf:
		return atUpper
	case !loInf:
		return atLower
	case !upInf:
		return atUpper
	default:
		return isFree
	}
}

func (s *simplex) value(j int) float64 {
	switch s.state[j] {
	case atLower:
		return s.lo[j]
	case atUpper:
		return s.up[j]
	default:
		return 0
	}
}

// solve runs the simplex from the loaded basis. It returns nil at an optimum
// confirmed on fresh factors, errLPInfeasible, errLPUnbounded, errLPStopped,
// ErrTooLarge or errLPStalled.
func (s *simplex) solve() error {
	s.iters, s.bland, s.degenerate = 0, false, 0
	if err := s.refactor(); err != nil {
		return err
	}
	for {
		if s.iters%stopCheckEvery == 0 && s.stop != nil && s.stop() {
			return errLPStopped
		}
		if s.iters >= s.maxIter {
			return fmt.Errorf("%w after %d iterations", errLPStalled, s.iters)
		}
		if s.etas.size()-s.factorLen >= refactorEvery {
			if err := s.refactor(); err != nil {
				return err
			}
		}
		phase1 := s.basicCosts()
		copy(s.y, s.cB)
		s.etas.btran(s.y)
		q, d := s.price(phase1)
		if q < 0 {
			if s.etas.size() > s.factorLen {
				if err := s.refactor(); err != nil {
					return err
				}
				continue
			}
			if phase1 {
				return errLPInfeasible
			}
			return nil
		}
		s.iters++
		if err := s.step(q, d, phase1); err != nil {
			return err
		}
	}
}

// basicCosts loads the basic cost vector and reports whether phase one is
// active.
func (s *simplex) basicCosts() bool {
	infeasible := false
	for r, v := range s.head {
		switch xv := s.x[v]; {
		case xv < s.lo[v]-feasTol:
			s.cB[r] = -1
			infeasible = true
		case xv > s.up[v]+feasTol:
			s.cB[r] = 1
			infeasible = true
		default:
			s.cB[r] = 0
		}
	}
	if !infeasible {
		for r, v := range s.head {
			s.cB[r] = s.mod.cost[v]
		}
	}
	return infeasible
}

// price returns the entering variable and its reduced cost, or -1. It uses
// the largest reduced cost, or the lowest index once Bland's rule is on.
func (s *simplex) price(phase1 bool) (int, float64) {
	best, bestD, bestScore := -1, 0.0, 0.0
	for j, st := range s.state {
		if st == isBasic || s.up[j] <= s.lo[j] {
			continue
		}
		c := 0.0
		if !phase1 {
			c = s.mod.cost[j]
		}
		d := c - s.mod.dot(j, s.y)
		switch st {
		case atLower:
			if d >= -optTol {
				continue
			}
		case atUpper:
			if d <= optTol {
				continue
			}
		default:
			if math.Abs(d) <= optTol {
				continue
			}
		}
		if s.bland {
			return j, d
		}
		if a := math.Abs(d); a > bestScore {
			best, bestD, bestScore = j, d, a
		}
	}
	return best, bestD
}

// step moves entering variable q against the sign of its reduced cost d
// until a basic variable reaches a bound or q reaches its opposite bound.
func (s *simplex) step(q int, d float64, phase1 bool) error {
	dir := 1.0
	if d > 0 {
		dir = -1
	}
	clear(s.alpha)
	s.mod.scatter(q, 1, s.alpha)
	s.etas.ftran(s.alpha)

	leave, t := s.ratio(dir, phase1)
	flip := math.Inf(1)
	if !math.IsInf(s.lo[q], -1) && !math.IsInf(s.up[q], 1) {
		flip = s.up[q] - s.lo[q]
	}
	if leave < 0 && math.IsInf(flip, 1) {
		if phase1 {
			return fmt.Errorf("%w: unbounded phase one ray", errLPStalled)
		}
		return errLPUnbounded
	}
	if leave < 0 || flip <= t {
		s.move(q, dir*flip)
		if dir > 0 {
			s.state[q] = atUpper
		} else {
			s.state[q] = atLower
		}
		s.x[q] = s.value(q)
		s.progress(flip)
		return nil
	}

	v := s.head[leave]
	hit := atLower
	if dir*s.alpha[leave] > 0 {
		if phase1 && s.x[v] > s.up[v]+feasTol {
			hit = atUpper
		}
	} else {
		hit = atUpper
		if phase1 && s.x[v] < s.lo[v]-feasTol {
			hit = atLower
		}
	}
	s.move(q, dir*t)
	if err := s.etas.push(leave, s.alpha); err != nil {
		return err
	}
	s.state[v] = hit
	s.x[v] = s.value(v)
	s.head[leave] = q
	s.state[q] = isBasic
	s.progress(t)
	return nil
}

// move shifts q by delta and the basic variables along alpha.
func (s *simplex) move(q int, delta float64) {
	if delta == 0 {
		return
	}
	for r, a := range s.alpha {
		if a != 0 {
			s.x[s.head[r]] -= delta * a
		}
	}
	s.x[q] += delta
}

func (s *simplex) progress(t float64) {
	if t > degenerateTol {
		s.degenerate, s.bland = 0, false
		return
	}
	s.degenerate++
	if s.degenerate >= blandAfter {
		s.bland = true
	}
}

// ratio picks the leaving row for a step of dir along -alpha. Outside Bland
// mode it runs Harris' two-pass test: the step bound is computed against
// bounds widened by feasTol, then the largest pivot within that bound wins.
func (s *simplex) ratio(dir float64, phase1 bool) (int, float64) {
	if s.bland {
		leave, best := -1, math.Inf(1)
		for r, al := range s.alpha {
			a := dir * al
			if math.Abs(a) < pivotTol {
				continue
			}
			lim := s.limit(s.head[r], a, phase1, 0)
			switch {
			case math.IsInf(lim, 1):
			case leave < 0 || lim < best-degenerateTol:
				leave, best = r, lim
			case lim <= best+degenerateTol && s.head[r] < s.head[leave]:
				leave = r
			}
		}
		return leave, math.Max(best, 0)
	}

	tMax := math.Inf(1)
	for r, al := range s.alpha {
		a := dir * al
		if math.Abs(a) < pivotTol {
			continue
		}
		if lim := s.limit(s.head[r], a, phase1, feasTol); lim < tMax {
			tMax = lim
		}
	}
	if math.IsInf(tMax, 1) {
		return -1, tMax
	}
	leave, bestA, t := -1, 0.0, 0.0
	for r, al := range s.alpha {
		a := dir * al
		if math.Abs(a) < pivotTol {
			continue
		}
		if lim := s.limit(s.head[r], a, phase1, 0); lim <= tMax && math.Abs(a) > bestA {
			leave, bestA, t = r, math.Abs(a), lim
		}
	}
	return leave, math.Max(t, 0)
}

// limit returns the step after which basic v, changing by -a per unit step,
// reaches the bound it is heading for, widened by relax. In phase one an
// infeasible variable stops at the bound it violates.
func (s *simplex) limit(v int, a float64, phase1 bool, relax float64) float64 {
	xv, lo, up := s.x[v], s.lo[v], s.up[v]
	if a > 0 {
		if phase1 && xv > up+feasTol {
			return (xv - up + relax) / a
		}
		if xv < lo-feasTol || math.IsInf(lo, -1) {
			return math.Inf(1)
		}
		return (xv - lo + relax) / a
	}
	if phase1 && xv < lo-feasTol {
		return (lo - xv + relax) / -a
	}
	if xv > up+feasTol || math.IsInf(up, 1) {
		return math.Inf(1)
	}
	return (up - xv + relax) / -a
}

// refactor rebuilds the product form of the current basis from the identity.
// Basic logicals keep their own rows; basic structurals are inserted sparsest
// first on the free row with the largest pivot. A structural without an
// acceptable pivot leaves the basis at its nearest bound and the logical of
// the remaining row takes its place.
func (s *simplex) refactor() error {
	n := s.mod.n
	s.etas.reset()
	for r := range s.rowFree {
		s.rowFree[r] = true
		s.newHead[r] = -1
	}
	s.structs = s.structs[:0]
	for _, v := range s.head {
		if v >= n {
			s.rowFree[v-n] = false
			s.newHead[v-n] = v
			continue
		}
		s.structs = append(s.structs, v)
	}
	sort.Slice(s.structs, func(a, b int) bool {
		na, nb := s.mod.nnz(s.structs[a]), s.mod.nnz(s.structs[b])
		if na != nb {
			return na < nb
		}
		return s.structs[a] < s.structs[b]
	})

	for k, v := range s.structs {
		if k%64 == 63 && s.stop != nil && s.stop() {
			return errLPStopped
		}
		clear(s.w)
		s.mod.scatter(v, 1, s.w)
		s.etas.ftran(s.w)
		best, bestAbs := -1, singularTol
		for r, free := range s.rowFree {
			if free && math.Abs(s.w[r]) > bestAbs {
				best, bestAbs = r, math.Abs(s.w[r])
			}
		}
		if best < 0 {
			want := atLower
			if s.up[v]-s.x[v] < s.x[v]-s.lo[v] {
				want = atUpper
			}
			s.state[v] = s.nonbasicState(v, want)
			continue
		}
		if err := s.etas.push(best, s.w); err != nil {
			return err
		}
		s.newHead[best] = v
		s.rowFree[best] = false
	}

	for r, v := range s.newHead {
		if v < 0 {
			v = n + r
		}
		s.head[r] = v
		s.state[v] = isBasic
	}
	s.factorLen = s.etas.size()
	s.basics()
	return nil
}

// basics places every nonbasic variable on its bound and solves for the
// basic ones.
func (s *simplex) basics() {
	copy(s.w, s.mod.rhs)
	for j, st := range s.state {
		if st == isBasic {
			continue
		}
		s.x[j] = s.value(j)
		if s.x[j] != 0 {
			s.mod.scatter(j, -s.x[j], s.w)
		}
	}
	s.etas.ftran(s.w)
	for r, v := range s.head {
		s.x[v] = s.w[r]
	}
}
