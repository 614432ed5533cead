package milp

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpSolve points to the function used to solve a standard-form LP. It can be
// overridden in tests to simulate solver failures.
var lpSolve = lp.Simplex

const (
	simplexTol     = 1e-9
	presolvePasses = 50
)

// sparse row Σ coef·x' ≤ rhs over shifted free columns.
type stdRow struct {
	cols  []int
	coefs []float64
	rhs   float64
}

// denseRelax solves the LP relaxation of p with gonum's dense simplex. It
// returns the full value vector and its objective. lp.ErrInfeasible and
// lp.ErrUnbounded report the corresponding outcomes; any other error is a
// numeric failure. Every iteration costs a dense factorization of the basis,
// so it only backs up the sparse solver on small systems.
//
// Variables whose bounds coincide are substituted out, single-variable rows
// are folded into bounds, and the remaining system is put into standard form
// [G I]·[x' s] = h with one slack per row so the slack basis can seed the
// simplex whenever h is non-negative.
//
//gocyclo:ignore
func denseRelax(p *Problem, lower, upper []float64, tol float64) ([]float64, float64, error) {
	n := len(p.Vars)
	lo := append([]float64(nil), lower...)
	up := append([]float64(nil), upper...)

	converged, err := presolve(p, lo, up, tol)
	if err != nil {
		return nil, 0, err
	}

	obj := make([]float64, n)
	for _, t := range p.Objective {
		obj[t.Var] += t.Coef
	}

	col := make([]int, n)
	free := 0
	for j := range col {
		if up[j]-lo[j] > tol {
			col[j] = free
			free++
		} else {
			col[j] = -1
			up[j] = lo[j]
		}
	}

	var rows []stdRow
	for _, c := range p.Constraints {
		var r stdRow
		shift := 0.0
		for _, t := range c.Terms {
			shift += t.Coef * lo[t.Var]
			if k := col[t.Var]; k >= 0 {
				r.cols = append(r.cols, k)
				r.coefs = append(r.coefs, t.Coef)
			}
		}
		rhs := c.RHS - shift
		if len(r.cols) == 0 {
			if violated(c.Sense, 0, rhs, tol) {
				return nil, 0, lp.ErrInfeasible
			}
			continue
		}
		if len(r.cols) == 1 && converged {
			continue
		}
		if c.Sense == LessEq || c.Sense == Equal {
			rows = append(rows, stdRow{cols: r.cols, coefs: r.coefs, rhs: rhs})
		}
		if c.Sense == GreaterEq || c.Sense == Equal {
			neg := make([]float64, len(r.coefs))
			for i, v := range r.coefs {
				neg[i] = -v
			}
			rows = append(rows, stdRow{cols: r.cols, coefs: neg, rhs: -rhs})
		}
	}

	// Rows with only positive coefficients already cap each of their columns.
	implied := make([]float64, free)
	for i := range implied {
		implied[i] = math.Inf(1)
	}
	used := make([]bool, free)
	for _, r := range rows {
		allPos := true
		for i, k := range r.cols {
			used[k] = true
			if r.coefs[i] <= 0 {
				allPos = false
			}
		}
		if allPos && r.rhs >= 0 {
			for i, k := range r.cols {
				implied[k] = math.Min(implied[k], r.rhs/r.coefs[i])
			}
		}
	}
	for j := 0; j < n; j++ {
		k := col[j]
		if k < 0 || math.IsInf(up[j], 1) {
			continue
		}
		width := up[j] - lo[j]
		if implied[k] <= width+tol {
			continue
		}
		used[k] = true
		rows = append(rows, stdRow{cols: []int{k}, coefs: []float64{1}, rhs: width})
	}

	values := append([]float64(nil), lo...)
	// Columns in no row sit at their lower bound unless the objective pulls
	// them toward an infinite upper bound.
	remap := make([]int, free)
	m := 0
	for j := 0; j < n; j++ {
		k := col[j]
		if k < 0 {
			continue
		}
		if !used[k] {
			if obj[j] > tol {
				return nil, 0, lp.ErrUnbounded
			}
			remap[k] = -1
			continue
		}
		remap[k] = m
		m++
	}
	if m == 0 {
		return values, p.Evaluate(values), nil
	}

	nr := len(rows)
	a := mat.NewDense(nr, m+nr, nil)
	b := make([]float64, nr)
	c := make([]float64, m+nr)
	nonNeg := true
	for i, r := range rows {
		for idx, k := range r.cols {
			if s := remap[k]; s >= 0 {
				a.Set(i, s, a.At(i, s)+r.coefs[idx])
			}
		}
		a.Set(i, m+i, 1)
		b[i] = r.rhs
		if r.rhs < 0 {
			nonNeg = false
		}
	}
	for j := 0; j < n; j++ {
		if k := col[j]; k >= 0 && remap[k] >= 0 {
			c[remap[k]] = -obj[j]
		}
	}

	var basis []int
	if nonNeg {
		basis = make([]int, nr)
		for i := range basis {
			basis[i] = m + i
		}
	}
	_, x, err := lpSolve(c, a, b, simplexTol, basis)
	if err != nil {
		return nil, 0, err
	}
	for j := 0; j < n; j++ {
		k := col[j]
		if k < 0 || remap[k] < 0 {
			continue
		}
		v := lo[j] + x[remap[k]]
		values[j] = math.Max(lo[j], math.Min(up[j], v))
	}
	return values, p.Evaluate(values), nil
}

// presolve folds single-variable rows into the bounds until nothing changes.
// It reports whether a fixed point was reached.
func presolve(p *Problem, lo, up []float64, tol float64) (bool, error) {
	for pass := 0; pass < presolvePasses; pass++ {
		changed := false
		for _, c := range p.Constraints {
			single := -1
			coef := 0.0
			rhs := c.RHS
			multi := false
			for _, t := range c.Terms {
				if up[t.Var]-lo[t.Var] <= tol {
					rhs -= t.Coef * lo[t.Var]
					continue
				}
				if single >= 0 && VarID(single) != t.Var {
					multi = true
					break
				}
				single = int(t.Var)
				coef += t.Coef
			}
			if multi {
				continue
			}
			if single < 0 || math.Abs(coef) <= tol {
				if violated(c.Sense, 0, rhs, tol) {
					return false, lp.ErrInfeasible
				}
				continue
			}
			bound := rhs / coef
			tightenUp := c.Sense == Equal || (c.Sense == LessEq) == (coef > 0)
			tightenLo := c.Sense == Equal || (c.Sense == GreaterEq) == (coef > 0)
			if tightenUp && bound < up[single]-tol {
				up[single] = bound
				changed = true
			}
			if tightenLo && bound > lo[single]+tol {
				lo[single] = bound
				changed = true
			}
			if p.Vars[single].Integer {
				up[single] = math.Floor(up[single] + tol)
				lo[single] = math.Ceil(lo[single] - tol)
			}
			if lo[single] > up[single]+tol {
				return false, lp.ErrInfeasible
			}
			if up[single] < lo[single] {
				up[single] = lo[single]
			}
		}
		if !changed {
			return true, nil
		}
	}
	return false, nil
}

func violated(s Sense, lhs, rhs, tol float64) bool {
	switch s {
	case LessEq:
		return lhs > rhs+tol
	case GreaterEq:
		return lhs < rhs-tol
	default:
		return math.Abs(lhs-rhs) > tol
	}
}
