package planning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/millplan/core/events"
	"github.com/kilianp07/millplan/core/logger"
	"github.com/kilianp07/millplan/core/milp"
	"github.com/kilianp07/millplan/core/model"
	"github.com/kilianp07/millplan/core/monitoring"
	"github.com/kilianp07/millplan/internal/eventbus"
)

// Result is the outcome of planning one horizon.
type Result struct {
	RunID       string
	Horizon     int
	Status      milp.Status
	Objective   float64
	Nodes       int
	Variables   int
	Constraints int
	Elapsed     time.Duration
	StartedAt   time.Time
	// Schedule is nil when the engine returned no assignment.
	Schedule *Schedule
}

// Feasible reports whether the plan is optimal and meets every target.
func (r *Result) Feasible() bool {
	return r != nil && r.Status == milp.StatusOptimal && r.Schedule != nil && r.Schedule.TargetsMet
}

// TargetsMet reports whether a decoded schedule meets every target.
func (r *Result) TargetsMet() bool {
	return r != nil && r.Schedule != nil && r.Schedule.TargetsMet
}

// Planner builds, solves and decodes the model of one horizon.
type Planner struct {
	plant  *model.Plant
	engine milp.Engine
	opts   Options
	bus    eventbus.EventBus
	log    logger.Logger
}

// NewPlanner validates plant and returns a planner. bus and log may be nil.
func NewPlanner(plant *model.Plant, engine milp.Engine, opts Options, bus eventbus.EventBus, log logger.Logger) (*Planner, error) {
	if plant == nil {
		return nil, fmt.Errorf("%w: nil plant", model.ErrInvalidPlant)
	}
	if engine == nil {
		return nil, errors.New("planner requires an engine")
	}
	if err := plant.Validate(); err != nil {
		return nil, err
	}
	return &Planner{plant: plant, engine: engine, opts: opts, bus: bus, log: logger.OrNop(log)}, nil
}

// Plant returns the plant the planner works on.
func (p *Planner) Plant() *model.Plant { return p.plant }

// Plan solves the model of the given horizon. Infeasibility, time limits and
// shortfalls are reported through the result; only build failures, engine
// failures and cancellation are errors.
func (p *Planner) Plan(ctx context.Context, horizon int) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Horizon: horizon, StartedAt: time.Now(), Status: milp.StatusError}
	m, err := Build(p.plant, horizon, p.opts)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	res.Variables, res.Constraints = m.Problem.NumVars(), m.Problem.NumConstraints()
	p.log.Debugw("model built", map[string]any{
		"run_id":      res.RunID,
		"horizon":     horizon,
		"variables":   res.Variables,
		"constraints": res.Constraints,
	})

	sol, err := p.engine.Solve(ctx, m.Problem)
	res.Elapsed = time.Since(res.StartedAt)
	if sol != nil {
		res.Status, res.Objective, res.Nodes = sol.Status, sol.Objective, sol.Nodes
	}
	if err != nil {
		p.publish(res, err)
		return res, fmt.Errorf("solve horizon %d: %w", horizon, err)
	}
	p.log.Infof("horizon %d solved: status=%s objective=%.2f nodes=%d elapsed=%s",
		horizon, res.Status, res.Objective, res.Nodes, res.Elapsed)

	if sol.HasValues() && (sol.Status == milp.StatusOptimal || sol.Status == milp.StatusTimeLimit) {
		sched, err := Decode(m, sol)
		if err != nil {
			p.publish(res, err)
			return res, fmt.Errorf("decode horizon %d: %w", horizon, err)
		}
		res.Schedule = sched
		p.report(res.RunID, sched.Diagnostics)
		if !sched.TargetsMet {
			p.log.Warnf("horizon %d: targets not met, shortfall %v", horizon, sched.Shortfall)
		}
	}
	p.publish(res, nil)
	return res, nil
}

func (p *Planner) report(runID string, diags []Diagnostic) {
	for _, d := range diags {
		p.log.Warnf("decode diagnostic: %v", d)
		monitoring.CaptureException(d, map[string]string{"run_id": runID, "resource": d.Resource})
		if p.bus != nil {
			p.bus.Publish(events.DiagnosticEvent{RunID: runID, Resource: d.Resource, Step: d.Step, Message: d.Message})
		}
	}
}

func (p *Planner) publish(res *Result, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.SolveEvent{
		RunID:       res.RunID,
		Horizon:     res.Horizon,
		Status:      res.Status.String(),
		Objective:   res.Objective,
		Nodes:       res.Nodes,
		Variables:   res.Variables,
		Constraints: res.Constraints,
		TargetsMet:  res.TargetsMet(),
		Elapsed:     res.Elapsed,
		Err:         err,
	})
}
