package milp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the terminal state of a solve.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusTimeLimit
	StatusUnbounded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusTimeLimit:
		return "time_limit"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "error"
	}
}

var (
	// ErrNumerical is returned when relaxations fail for numeric reasons and
	// no incumbent survives.
	ErrNumerical = errors.New("milp: numerical failure")
	// ErrTooLarge is returned when the basis factors of a relaxation outgrow
	// their memory cap.
	ErrTooLarge = fmt.Errorf("%w: basis factors too large", ErrNumerical)
)

// Solution is the outcome of a solve. Values is set when Status is
// StatusOptimal, or StatusTimeLimit with an incumbent.
type Solution struct {
	Status    Status
	Objective float64
	Values    []float64
	// Bound is the best remaining relaxation bound when the solve stopped early.
	Bound   float64
	Nodes   int
	Elapsed time.Duration
}

// HasValues reports whether the solution carries a variable assignment.
func (s *Solution) HasValues() bool { return s != nil && s.Values != nil }

// Value returns the value of v, or 0 when the solution has no assignment.
func (s *Solution) Value(v VarID) float64 {
	if !s.HasValues() || int(v) < 0 || int(v) >= len(s.Values) {
		return 0
	}
	return s.Values[v]
}

// Engine solves mixed-integer linear programs. Solve blocks until the engine
// reaches a terminal status or ctx is done.
type Engine interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}
