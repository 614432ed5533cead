package planning

import (
	"errors"
	"fmt"

	"github.com/kilianp07/millplan/core/milp"
	"github.com/kilianp07/millplan/core/model"
)

// ErrInvalidHorizon is returned when a model is requested for fewer than one step.
var ErrInvalidHorizon = errors.New("horizon must be at least one step")

// Options are the objective weights and optional hard rows of a model.
type Options struct {
	// PenaltyChangeover weighs every changeover hour in the objective.
	PenaltyChangeover float64 `json:"penalty_changeover"`
	// PenaltyResource weighs every used resource in the objective.
	PenaltyResource float64 `json:"penalty_resource"`
	// EnforceTargets requires the final stage to reach every campaign target.
	EnforceTargets bool `json:"enforce_targets"`
}

// AssignKey identifies an assignment variable.
type AssignKey struct {
	Resource string
	Campaign string
	Step     int
}

// EventKey identifies a changeover event: the resource leaves From after Step.
type EventKey struct {
	Resource string
	From     string
	To       string
	Step     int
}

// SlotKey identifies a (resource, step) pair.
type SlotKey struct {
	Resource string
	Step     int
}

// Model is a built optimization problem and the index of its variables.
type Model struct {
	Plant   *model.Plant
	Horizon int
	Options Options
	Problem *milp.Problem

	Assign   map[AssignKey]milp.VarID
	Events   map[EventKey]milp.VarID
	Blackout map[SlotKey]milp.VarID
	Usage    map[string]milp.VarID
}

// X returns the assignment variable of (r, k, t) if it exists.
func (m *Model) X(r, k string, t int) (milp.VarID, bool) {
	v, ok := m.Assign[AssignKey{Resource: r, Campaign: k, Step: t}]
	return v, ok
}

// Build validates plant and turns it into a model over steps 1..horizon.
func Build(plant *model.Plant, horizon int, opts Options) (*Model, error) {
	if plant == nil {
		return nil, fmt.Errorf("%w: nil plant", model.ErrInvalidPlant)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizon)
	}
	if err := plant.Validate(); err != nil {
		return nil, err
	}
	b := &builder{
		m: &Model{
			Plant:    plant,
			Horizon:  horizon,
			Options:  opts,
			Problem:  milp.NewProblem(),
			Assign:   make(map[AssignKey]milp.VarID),
			Events:   make(map[EventKey]milp.VarID),
			Blackout: make(map[SlotKey]milp.VarID),
			Usage:    make(map[string]milp.VarID),
		},
	}
	b.variables()
	for _, r := range plant.ResourceIDs() {
		b.slotRows(r)
		b.changeoverRows(r)
		b.idleRows(r)
		b.usageRows(r)
	}
	b.sequentialRows()
	b.capRows()
	b.balanceRows()
	if opts.EnforceTargets {
		b.targetRows()
	}
	b.objective()
	return b.m, nil
}

type builder struct {
	m *Model
}

func (b *builder) p() *milp.Problem { return b.m.Problem }

func (b *builder) variables() {
	pl, T := b.m.Plant, b.m.Horizon
	for _, r := range pl.ResourceIDs() {
		runnable := pl.Runnable(r)
		for t := 1; t <= T; t++ {
			for _, k := range runnable {
				b.m.Assign[AssignKey{r, k, t}] = b.p().AddBinary(fmt.Sprintf("x[%s,%s,%d]", r, k, t))
			}
			b.m.Blackout[SlotKey{r, t}] = b.p().AddBinary(fmt.Sprintf("b[%s,%d]", r, t))
		}
		for _, k1 := range runnable {
			for _, k2 := range runnable {
				if k1 == k2 {
					continue
				}
				n := pl.BlackoutSteps(r, k1, k2)
				for t := 1; t+n+1 <= T; t++ {
					b.m.Events[EventKey{r, k1, k2, t}] = b.p().AddBinary(fmt.Sprintf("y[%s,%s,%s,%d]", r, k1, k2, t))
				}
			}
		}
		b.m.Usage[r] = b.p().AddBinary(fmt.Sprintf("u[%s]", r))
	}
}

// jobs returns the assignment terms of r at t with coefficient c.
func (b *builder) jobs(r string, t int, c float64) []milp.Term {
	var out []milp.Term
	for _, k := range b.m.Plant.Runnable(r) {
		if v, ok := b.m.X(r, k, t); ok {
			out = append(out, milp.T(v, c))
		}
	}
	return out
}

// slotRows writes one-job-per-slot merged with no-job-during-blackout, and the
// repair blackout.
func (b *builder) slotRows(r string) {
	pl := b.m.Plant
	for t := 1; t <= b.m.Horizon; t++ {
		bl := b.m.Blackout[SlotKey{r, t}]
		row := append(b.jobs(r, t, 1), milp.T(bl, 1))
		b.p().AddConstraint(fmt.Sprintf("onejob[%s,%d]", r, t), milp.LessEq, 1, row...)
		if !pl.IsRepair(r, t) {
			continue
		}
		for _, k := range pl.Runnable(r) {
			v, _ := b.m.X(r, k, t)
			b.p().AddConstraint(fmt.Sprintf("repair[%s,%s,%d]", r, k, t), milp.Equal, 0, milp.T(v, 1))
		}
		b.p().AddConstraint(fmt.Sprintf("repair_blackout[%s,%d]", r, t), milp.Equal, 0, milp.T(bl, 1))
	}
}

// changeoverRows links events to assignments and blackout flags.
func (b *builder) changeoverRows(r string) {
	pl, T := b.m.Plant, b.m.Horizon
	runnable := pl.Runnable(r)
	cover := make([][]milp.Term, T+1)
	for _, k1 := range runnable {
		for _, k2 := range runnable {
			if k1 == k2 {
				continue
			}
			n := pl.BlackoutSteps(r, k1, k2)
			for t := 1; t <= T; t++ {
				from, _ := b.m.X(r, k1, t)
				for g := 1; g <= n && t+g <= T; g++ {
					to, _ := b.m.X(r, k2, t+g)
					b.p().AddConstraint(fmt.Sprintf("gap[%s,%s,%s,%d,%d]", r, k1, k2, t, g), milp.LessEq, 1,
						milp.T(from, 1), milp.T(to, 1))
				}
				y, ok := b.m.Events[EventKey{r, k1, k2, t}]
				if !ok {
					continue
				}
				to, _ := b.m.X(r, k2, t+n+1)
				name := fmt.Sprintf("%s,%s,%s,%d", r, k1, k2, t)
				b.p().AddConstraint("reconf["+name+"]", milp.GreaterEq, -1,
					milp.T(y, 1), milp.T(from, -1), milp.T(to, -1))
				b.p().AddConstraint("reconf_from["+name+"]", milp.LessEq, 0, milp.T(y, 1), milp.T(from, -1))
				b.p().AddConstraint("reconf_to["+name+"]", milp.LessEq, 0, milp.T(y, 1), milp.T(to, -1))
				for j := 1; j <= n; j++ {
					bl := b.m.Blackout[SlotKey{r, t + j}]
					b.p().AddConstraint(fmt.Sprintf("blackout[%s,%d]", name, j), milp.GreaterEq, 0,
						milp.T(bl, 1), milp.T(y, -1))
					cover[t+j] = append(cover[t+j], milp.T(y, -1))
				}
			}
		}
	}
	// A blackout step is either covered by an event or borders a job on both
	// sides.
	for t := 1; t <= T; t++ {
		bl := b.m.Blackout[SlotKey{r, t}]
		for _, side := range []int{t - 1, t + 1} {
			row := append([]milp.Term{milp.T(bl, 1)}, cover[t]...)
			if side >= 1 && side <= T {
				row = append(row, b.jobs(r, side, -1)...)
			}
			b.p().AddConstraint(fmt.Sprintf("blackout_src[%s,%d,%d]", r, t, side), milp.LessEq, 0, row...)
		}
	}
}

// idleRows forbids an unexplained idle step between two working steps.
func (b *builder) idleRows(r string) {
	pl := b.m.Plant
	for t := 2; t < b.m.Horizon; t++ {
		if pl.IsRepair(r, t-1) || pl.IsRepair(r, t) || pl.IsRepair(r, t+1) {
			continue
		}
		row := append(b.jobs(r, t-1, 1), b.jobs(r, t+1, 1)...)
		row = append(row, b.jobs(r, t, -1)...)
		row = append(row, milp.T(b.m.Blackout[SlotKey{r, t}], -1))
		b.p().AddConstraint(fmt.Sprintf("idle[%s,%d]", r, t), milp.LessEq, 1, row...)
	}
}

// usageRows sandwiches the usage indicator between the normalized total and
// the total of assignments.
func (b *builder) usageRows(r string) {
	u := b.m.Usage[r]
	var total []milp.Term
	for t := 1; t <= b.m.Horizon; t++ {
		total = append(total, b.jobs(r, t, 1)...)
	}
	if len(total) == 0 {
		b.p().AddConstraint(fmt.Sprintf("use_upper[%s]", r), milp.LessEq, 0, milp.T(u, 1))
		return
	}
	upper := append([]milp.Term{milp.T(u, 1)}, negate(total)...)
	b.p().AddConstraint(fmt.Sprintf("use_upper[%s]", r), milp.LessEq, 0, upper...)
	lower := append([]milp.Term{milp.T(u, float64(b.m.Horizon))}, negate(total)...)
	b.p().AddConstraint(fmt.Sprintf("use_lower[%s]", r), milp.GreaterEq, 0, lower...)
}

// sequentialRows keeps non-parallel resources of a stage from running the same
// campaign at the same step.
func (b *builder) sequentialRows() {
	pl := b.m.Plant
	for s := 1; s <= pl.NumStages(); s++ {
		for _, c := range pl.Campaigns {
			for t := 1; t <= b.m.Horizon; t++ {
				var row []milp.Term
				for _, r := range pl.StageResources(s) {
					if pl.Resources[r].Parallel {
						continue
					}
					if v, ok := b.m.X(r, c.Code, t); ok {
						row = append(row, milp.T(v, 1))
					}
				}
				if len(row) > 1 {
					b.p().AddConstraint(fmt.Sprintf("sequential[%d,%s,%d]", s, c.Code, t), milp.LessEq, 1, row...)
				}
			}
		}
	}
}

// stageOutput returns rate·x terms of campaign k on stage s for steps in
// [1, upTo], with coefficient sign applied.
func (b *builder) stageOutput(s int, k string, upTo int, sign float64) []milp.Term {
	pl := b.m.Plant
	var out []milp.Term
	for _, r := range pl.StageResources(s) {
		rate, ok := pl.Rate(r, k)
		if !ok {
			continue
		}
		for t := 1; t <= upTo && t <= b.m.Horizon; t++ {
			if v, ok := b.m.X(r, k, t); ok {
				out = append(out, milp.T(v, sign*rate))
			}
		}
	}
	return out
}

// capRows bounds cumulative stage-1 output of every campaign by its target.
func (b *builder) capRows() {
	for _, c := range b.m.Plant.Campaigns {
		row := b.stageOutput(1, c.Code, b.m.Horizon, 1)
		if len(row) > 0 {
			b.p().AddConstraint("cap["+c.Code+"]", milp.LessEq, c.Target, row...)
		}
	}
}

// balanceRows keeps every downstream stage behind the cooled output of its
// upstream stage.
func (b *builder) balanceRows() {
	pl := b.m.Plant
	for s := 2; s <= pl.NumStages(); s++ {
		for _, c := range pl.Campaigns {
			for t := 1; t <= b.m.Horizon; t++ {
				used := b.stageOutput(s, c.Code, t, 1)
				if len(used) == 0 {
					continue
				}
				avail := b.stageOutput(s-1, c.Code, t-c.CoolingSteps, -1)
				b.p().AddConstraint(fmt.Sprintf("balance[%d,%s,%d]", s, c.Code, t), milp.LessEq, 0,
					append(used, avail...)...)
			}
		}
	}
}

// targetRows requires the final stage to reach every campaign target.
func (b *builder) targetRows() {
	final := b.m.Plant.NumStages()
	for _, c := range b.m.Plant.Campaigns {
		if c.Target <= 0 {
			continue
		}
		b.p().AddConstraint("target["+c.Code+"]", milp.GreaterEq, c.Target,
			b.stageOutput(final, c.Code, b.m.Horizon, 1)...)
	}
}

func (b *builder) objective() {
	pl := b.m.Plant
	for key, v := range b.m.Assign {
		rate, _ := pl.Rate(key.Resource, key.Campaign)
		b.p().AddObjective(milp.T(v, rate))
	}
	if pen := b.m.Options.PenaltyChangeover; pen != 0 {
		for key, v := range b.m.Events {
			h := pl.ChangeoverDuration(key.Resource, key.From, key.To)
			b.p().AddObjective(milp.T(v, -pen*h))
		}
	}
	if pen := b.m.Options.PenaltyResource; pen != 0 {
		for _, v := range b.m.Usage {
			b.p().AddObjective(milp.T(v, -pen))
		}
	}
}

func negate(terms []milp.Term) []milp.Term {
	out := make([]milp.Term, len(terms))
	for i, t := range terms {
		out[i] = milp.T(t.Var, -t.Coef)
	}
	return out
}

// FinalStageOutput returns the cumulative final-stage output per campaign of
// an assignment.
func (m *Model) FinalStageOutput(values []float64) map[string]float64 {
	out := make(map[string]float64)
	final := m.Plant.NumStages()
	for _, r := range m.Plant.StageResources(final) {
		for _, k := range m.Plant.Runnable(r) {
			rate, _ := m.Plant.Rate(r, k)
			for t := 1; t <= m.Horizon; t++ {
				if v, ok := m.X(r, k, t); ok && values[v] > 0.5 {
					out[k] += rate
				}
			}
		}
	}
	return out
}
