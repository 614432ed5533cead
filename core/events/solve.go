package events

import "time"

// SolveEvent is published after every planner solve.
type SolveEvent struct {
	RunID       string
	Horizon     int
	Status      string
	Objective   float64
	Nodes       int
	Variables   int
	Constraints int
	TargetsMet  bool
	Elapsed     time.Duration
	Err         error
}
