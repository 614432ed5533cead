package milp

import (
	"math"
	"sort"
)

// lpModel is the column-major relaxation of a Problem:
//
//	A·x + s = b,  lo ≤ x ≤ up,  slo ≤ s ≤ sup
//
// with one logical variable s per kept row. Variables are indexed
// structurals first, logicals after. Rows holding a single variable are
// folded into that variable's bounds and do not appear in A.
type lpModel struct {
	n, m int

	colStart []int
	rowIdx   []int
	val      []float64

	rhs []float64
	// lo and up bound all n+m variables. The structural part is the root
	// box after folding.
	lo, up []float64
	// cost is minimized, the negation of the Problem objective.
	cost []float64
	// infeasible is set when folding proved the root empty.
	infeasible bool
}

type colEntry struct {
	row  int
	coef float64
}

func newLPModel(p *Problem, tol float64) *lpModel {
	n := len(p.Vars)
	mod := &lpModel{n: n}
	lo := make([]float64, n)
	up := make([]float64, n)
	for i, v := range p.Vars {
		lo[i], up[i] = v.Lower, v.Upper
	}

	cols := make([][]colEntry, n)
	var slo, sup []float64
	seen := make(map[VarID]int)
	var terms []Term
	for _, c := range p.Constraints {
		terms = mergeTerms(c.Terms, terms[:0], seen)
		switch len(terms) {
		case 0:
			if violated(c.Sense, 0, c.RHS, tol) {
				mod.infeasible = true
			}
			continue
		case 1:
			if !foldBound(p.Vars[terms[0].Var].Integer, terms[0].Coef, c.Sense, c.RHS, &lo[terms[0].Var], &up[terms[0].Var], tol) {
				mod.infeasible = true
			}
			continue
		}
		row := len(mod.rhs)
		for _, t := range terms {
			cols[t.Var] = append(cols[t.Var], colEntry{row: row, coef: t.Coef})
		}
		mod.rhs = append(mod.rhs, c.RHS)
		switch c.Sense {
		case LessEq:
			slo, sup = append(slo, 0), append(sup, math.Inf(1))
		case GreaterEq:
			slo, sup = append(slo, math.Inf(-1)), append(sup, 0)
		default:
			slo, sup = append(slo, 0), append(sup, 0)
		}
	}
	mod.m = len(mod.rhs)

	mod.colStart = make([]int, n+1)
	for j, col := range cols {
		sort.Slice(col, func(a, b int) bool { return col[a].row < col[b].row })
		for _, e := range col {
			mod.rowIdx = append(mod.rowIdx, e.row)
			mod.val = append(mod.val, e.coef)
		}
		mod.colStart[j+1] = len(mod.rowIdx)
	}

	mod.lo = append(lo, slo...)
	mod.up = append(up, sup...)
	mod.cost = make([]float64, n+mod.m)
	for _, t := range p.Objective {
		mod.cost[t.Var] -= t.Coef
	}
	return mod
}

// mergeTerms sums repeated variables and drops zero coefficients, keeping
// first-appearance order.
func mergeTerms(in, out []Term, seen map[VarID]int) []Term {
	clear(seen)
	for _, t := range in {
		if k, ok := seen[t.Var]; ok {
			out[k].Coef += t.Coef
			continue
		}
		seen[t.Var] = len(out)
		out = append(out, t)
	}
	kept := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	return kept
}

// foldBound applies coef·x (sense) rhs to the bounds of x. It reports false
// when the bounds become inconsistent.
func foldBound(integer bool, coef float64, sense Sense, rhs float64, lo, up *float64, tol float64) bool {
	bound := rhs / coef
	tightenUp := sense == Equal || (sense == LessEq) == (coef > 0)
	tightenLo := sense == Equal || (sense == GreaterEq) == (coef > 0)
	if tightenUp && bound < *up {
		*up = bound
	}
	if tightenLo && bound > *lo {
		*lo = bound
	}
	if integer {
		*up = math.Floor(*up + tol)
		*lo = math.Ceil(*lo - tol)
	}
	if *lo > *up+tol {
		return false
	}
	if *up < *lo {
		*up = *lo
	}
	return true
}

// column returns the row indices and coefficients of structural j.
func (m *lpModel) column(j int) ([]int, []float64) {
	a, b := m.colStart[j], m.colStart[j+1]
	return m.rowIdx[a:b], m.val[a:b]
}

// dot returns the inner product of column j, structural or logical, with y.
func (m *lpModel) dot(j int, y []float64) float64 {
	if j >= m.n {
		return y[j-m.n]
	}
	rows, vals := m.column(j)
	s := 0.0
	for k, r := range rows {
		s += vals[k] * y[r]
	}
	return s
}

// scatter adds scale times column j to w.
func (m *lpModel) scatter(j int, scale float64, w []float64) {
	if j >= m.n {
		w[j-m.n] += scale
		return
	}
	rows, vals := m.column(j)
	for k, r := range rows {
		w[r] += scale * vals[k]
	}
}

func (m *lpModel) nnz(j int) int {
	if j >= m.n {
		return 1
	}
	return m.colStart[j+1] - m.colStart[j]
}
