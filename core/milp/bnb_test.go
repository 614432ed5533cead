package milp

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

func knapsack() (*Problem, []VarID) {
	p := NewProblem()
	a, b, c := p.AddBinary("a"), p.AddBinary("b"), p.AddBinary("c")
	p.AddConstraint("w1", LessEq, 5, T(a, 2), T(b, 3), T(c, 1))
	p.AddConstraint("w2", LessEq, 11, T(a, 4), T(b, 1), T(c, 2))
	p.AddConstraint("w3", LessEq, 8, T(a, 3), T(b, 4), T(c, 2))
	p.AddObjective(T(a, 5), T(b, 4), T(c, 3))
	return p, []VarID{a, b, c}
}

func TestBranchAndBound_Knapsack(t *testing.T) {
	p, vars := knapsack()
	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusOptimal {
		t.Fatalf("expected optimal, got %s", sol.Status)
	}
	if math.Abs(sol.Objective-9) > 1e-6 {
		t.Fatalf("expected objective 9, got %v", sol.Objective)
	}
	want := []float64{1, 1, 0}
	for i, v := range vars {
		if sol.Value(v) != want[i] {
			t.Fatalf("var %d: expected %v got %v", i, want[i], sol.Value(v))
		}
	}
	if err := p.Check(sol.Values, 1e-6); err != nil {
		t.Fatalf("solution violates problem: %v", err)
	}
}

func TestBranchAndBound_FractionalRoot(t *testing.T) {
	p, _, _ := halfProblem()

	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusOptimal || math.Abs(sol.Objective-1) > 1e-6 {
		t.Fatalf("expected optimal objective 1, got %s %v", sol.Status, sol.Objective)
	}
	if sol.Nodes < 2 {
		t.Fatalf("expected branching, got %d nodes", sol.Nodes)
	}
}

func TestBranchAndBound_Infeasible(t *testing.T) {
	p := NewProblem()
	x, y := p.AddBinary("x"), p.AddBinary("y")
	p.AddConstraint("demand", GreaterEq, 3, T(x, 1), T(y, 1))
	p.AddObjective(T(x, 1))

	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusInfeasible || sol.HasValues() {
		t.Fatalf("expected infeasible without values, got %s", sol.Status)
	}
}

func TestBranchAndBound_PresolveInfeasible(t *testing.T) {
	p := NewProblem()
	x := p.AddBinary("x")
	p.AddConstraint("fix", Equal, 0, T(x, 1))
	p.AddConstraint("need", GreaterEq, 1, T(x, 1))

	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusInfeasible {
		t.Fatalf("expected infeasible, got %s", sol.Status)
	}
}

func TestBranchAndBound_FixedVariables(t *testing.T) {
	p := NewProblem()
	x, y := p.AddBinary("x"), p.AddBinary("y")
	p.AddConstraint("repair", Equal, 0, T(x, 1))
	p.AddConstraint("one", LessEq, 2, T(x, 1), T(y, 1))
	p.AddObjective(T(x, 10), T(y, 1))

	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusOptimal || sol.Value(x) != 0 || sol.Value(y) != 1 {
		t.Fatalf("unexpected solution %s %v", sol.Status, sol.Values)
	}
}

func TestBranchAndBound_Unbounded(t *testing.T) {
	p := NewProblem()
	x := p.AddVar(Variable{Name: "x", Upper: math.Inf(1)})
	y := p.AddVar(Variable{Name: "y", Upper: math.Inf(1)})
	p.AddConstraint("diff", LessEq, 1, T(x, 1), T(y, -1))
	p.AddObjective(T(x, 1))

	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusUnbounded {
		t.Fatalf("expected unbounded, got %s", sol.Status)
	}
}

// failRelaxations makes the sparse solver stall whenever fail reports true
// for the node box, and the dense fallback fail always.
func failRelaxations(t *testing.T, fail func(lo, up []float64) bool) {
	t.Helper()
	origSparse, origDense := primalSolve, lpSolve
	primalSolve = func(s *simplex) error {
		if fail(s.lo[:s.mod.n], s.up[:s.mod.n]) {
			return errLPStalled
		}
		return origSparse(s)
	}
	lpSolve = func([]float64, mat.Matrix, []float64, float64, []int) (float64, []float64, error) {
		return math.NaN(), nil, errors.New("boom")
	}
	t.Cleanup(func() { primalSolve, lpSolve = origSparse, origDense })
}

func TestBranchAndBound_RootNumericalFailure(t *testing.T) {
	failRelaxations(t, func(lo, up []float64) bool { return true })

	p, _ := knapsack()
	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if !errors.Is(err, ErrNumerical) {
		t.Fatalf("expected ErrNumerical, got %v", err)
	}
	if sol == nil || sol.Status != StatusError {
		t.Fatalf("expected error status, got %+v", sol)
	}
}

func TestBranchAndBound_DenseFallback(t *testing.T) {
	orig := primalSolve
	primalSolve = func(*simplex) error { return errLPStalled }
	defer func() { primalSolve = orig }()

	p, vars := knapsack()
	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusOptimal || math.Abs(sol.Objective-9) > 1e-6 {
		t.Fatalf("expected optimal objective 9, got %s %v", sol.Status, sol.Objective)
	}
	if sol.Value(vars[0]) != 1 || sol.Value(vars[1]) != 1 {
		t.Fatalf("unexpected values %v", sol.Values)
	}
}

// halfProblem has the fractional root x=1, y=0.5 (or its mirror) and the
// integral optimum 1.
func halfProblem() (*Problem, VarID, VarID) {
	p := NewProblem()
	x, y := p.AddBinary("x"), p.AddBinary("y")
	p.AddConstraint("half", LessEq, 3, T(x, 2), T(y, 2))
	p.AddObjective(T(x, 1), T(y, 1))
	return p, x, y
}

func TestBranchAndBound_FailedNodeWithIncumbent(t *testing.T) {
	p, x, y := halfProblem()
	// The child that raises the branched variable fails; its sibling is
	// integral.
	failRelaxations(t, func(lo, up []float64) bool { return lo[x] > 0.5 || lo[y] > 0.5 })

	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusTimeLimit {
		t.Fatalf("an incomplete tree must not be reported optimal, got %s", sol.Status)
	}
	if !sol.HasValues() || math.Abs(sol.Objective-1) > 1e-6 {
		t.Fatalf("expected the incumbent to survive, got %v %v", sol.Values, sol.Objective)
	}
	if err := p.Check(sol.Values, 1e-6); err != nil {
		t.Fatalf("incumbent violates problem: %v", err)
	}
}

func TestBranchAndBound_FailedNodesWithoutIncumbent(t *testing.T) {
	p, x, y := halfProblem()
	failRelaxations(t, func(lo, up []float64) bool {
		return lo[x] > 0.5 || lo[y] > 0.5 || up[x] < 0.5 || up[y] < 0.5
	})

	sol, err := NewBranchAndBound(time.Second, nil).Solve(context.Background(), p)
	if !errors.Is(err, ErrNumerical) {
		t.Fatalf("expected ErrNumerical, got %v", err)
	}
	if sol == nil || sol.Status != StatusError || sol.HasValues() {
		t.Fatalf("expected error status without values, got %+v", sol)
	}
}

func TestBranchAndBound_DeadlineIsTimeLimit(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	p, _ := knapsack()
	sol, err := NewBranchAndBound(0, nil).Solve(ctx, p)
	if err != nil {
		t.Fatalf("deadline must not be an error: %v", err)
	}
	if sol.Status != StatusTimeLimit || sol.HasValues() {
		t.Fatalf("expected time limit without incumbent, got %s", sol.Status)
	}
}

func TestBranchAndBound_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := knapsack()
	if _, err := NewBranchAndBound(time.Second, nil).Solve(ctx, p); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBranchAndBound_NodeLimit(t *testing.T) {
	p, _, _ := halfProblem()

	e := NewBranchAndBound(time.Second, nil)
	e.MaxNodes = 1
	sol, err := e.Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if sol.Status != StatusTimeLimit {
		t.Fatalf("expected node limit to stop the search, got %s", sol.Status)
	}
	// The rounded-down root is feasible and stands in for an incumbent.
	if !sol.HasValues() || p.Check(sol.Values, 1e-6) != nil {
		t.Fatalf("expected a feasible fallback point, got %v", sol.Values)
	}
}

func TestProblemCheck(t *testing.T) {
	p, _ := knapsack()
	if err := p.Check([]float64{1, 1, 1}, 1e-9); err == nil {
		t.Fatalf("expected w1 violation")
	}
	if err := p.Check([]float64{0.5, 0, 0}, 1e-9); err == nil {
		t.Fatalf("expected integrality violation")
	}
	if err := p.Check([]float64{1, 0, 1}, 1e-9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusOptimal:    "optimal",
		StatusInfeasible: "infeasible",
		StatusTimeLimit:  "time_limit",
		StatusUnbounded:  "unbounded",
		StatusError:      "error",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d: expected %s got %s", s, want, s.String())
		}
	}
}

func TestBox_LaterFixesNarrowEarlier(t *testing.T) {
	rootLo, rootUp := []float64{0, 0}, []float64{10, 5}
	first := &fix{j: 0, lo: 0, up: 6}
	second := &fix{j: 0, lo: 3, up: 6, prev: first}
	leaf := &fix{j: 1, lo: 2, up: 5, prev: second}
	lo, up := make([]float64, 2), make([]float64, 2)
	box(leaf, rootLo, rootUp, lo, up, nil)
	if lo[0] != 3 || up[0] != 6 || lo[1] != 2 || up[1] != 5 {
		t.Fatalf("unexpected box lo=%v up=%v", lo, up)
	}
	box(nil, rootLo, rootUp, lo, up, nil)
	if lo[0] != 0 || up[0] != 10 {
		t.Fatalf("root box not restored: lo=%v up=%v", lo, up)
	}
}
