package milp

import (
	"fmt"
	"math"
)

// VarID indexes a variable of a Problem.
type VarID int

// Term is a coefficient applied to a variable.
type Term struct {
	Var  VarID
	Coef float64
}

// T is shorthand for building a Term.
func T(v VarID, coef float64) Term { return Term{Var: v, Coef: coef} }

// Sense is the direction of a linear constraint.
type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	case Equal:
		return "="
	default:
		return "?"
	}
}

// Variable is a bounded decision variable. Lower must be finite; Upper may be
// +Inf.
type Variable struct {
	Name    string
	Lower   float64
	Upper   float64
	Integer bool
}

// Constraint is a named linear row: Σ Terms (Sense) RHS.
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Problem is a mixed-integer linear program to maximize.
type Problem struct {
	Vars        []Variable
	Constraints []Constraint
	Objective   []Term
}

// NewProblem returns an empty problem.
func NewProblem() *Problem { return &Problem{} }

// AddVar appends a variable and returns its id.
func (p *Problem) AddVar(v Variable) VarID {
	p.Vars = append(p.Vars, v)
	return VarID(len(p.Vars) - 1)
}

// AddBinary appends a 0/1 integer variable.
func (p *Problem) AddBinary(name string) VarID {
	return p.AddVar(Variable{Name: name, Lower: 0, Upper: 1, Integer: true})
}

// AddConstraint appends a named row. Terms with a zero coefficient are kept
// out of the row.
func (p *Problem) AddConstraint(name string, sense Sense, rhs float64, terms ...Term) {
	row := make([]Term, 0, len(terms))
	for _, t := range terms {
		if t.Coef != 0 {
			row = append(row, t)
		}
	}
	p.Constraints = append(p.Constraints, Constraint{Name: name, Terms: row, Sense: sense, RHS: rhs})
}

// AddObjective adds terms to the maximized objective.
func (p *Problem) AddObjective(terms ...Term) {
	p.Objective = append(p.Objective, terms...)
}

// NumVars returns the number of variables.
func (p *Problem) NumVars() int { return len(p.Vars) }

// NumConstraints returns the number of rows.
func (p *Problem) NumConstraints() int { return len(p.Constraints) }

// Evaluate computes the objective value of an assignment.
func (p *Problem) Evaluate(values []float64) float64 {
	var sum float64
	for _, t := range p.Objective {
		sum += t.Coef * values[t.Var]
	}
	return sum
}

// Check returns an error naming the first bound or row violated by values.
func (p *Problem) Check(values []float64, tol float64) error {
	if len(values) != len(p.Vars) {
		return fmt.Errorf("expected %d values, got %d", len(p.Vars), len(values))
	}
	for i, v := range p.Vars {
		x := values[i]
		if x < v.Lower-tol || x > v.Upper+tol {
			return fmt.Errorf("variable %s=%v outside [%v, %v]", v.Name, x, v.Lower, v.Upper)
		}
		if v.Integer && math.Abs(x-math.Round(x)) > tol {
			return fmt.Errorf("variable %s=%v is not integral", v.Name, x)
		}
	}
	for _, c := range p.Constraints {
		var lhs float64
		for _, t := range c.Terms {
			lhs += t.Coef * values[t.Var]
		}
		ok := true
		switch c.Sense {
		case LessEq:
			ok = lhs <= c.RHS+tol
		case GreaterEq:
			ok = lhs >= c.RHS-tol
		case Equal:
			ok = math.Abs(lhs-c.RHS) <= tol
		}
		if !ok {
			return fmt.Errorf("constraint %s violated: %v %s %v", c.Name, lhs, c.Sense, c.RHS)
		}
	}
	return nil
}
