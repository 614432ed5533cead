package planning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kilianp07/millplan/core/milp"
)

const (
	LabelRepair     = "REPAIR"
	LabelChangeover = "CHANGEOVER"
)

// ErrNoSolution is returned when decoding is requested without variable values.
var ErrNoSolution = errors.New("solution carries no variable values")

// Kind classifies a decoded slot.
type Kind int

const (
	KindIdle Kind = iota
	KindCampaign
	KindChangeover
	KindRepair
)

// Slot is the decoded state of one resource at one step.
type Slot struct {
	Kind     Kind
	Campaign string
	// From and To are set on changeover slots replayed from an event.
	From string
	To   string
	Tons float64
}

// Label renders the slot as a campaign code, REPAIR, CHANGEOVER (optionally
// qualified with its pair) or the empty idle label.
func (s Slot) Label() string {
	switch s.Kind {
	case KindCampaign:
		return s.Campaign
	case KindRepair:
		return LabelRepair
	case KindChangeover:
		if s.From != "" {
			return fmt.Sprintf("%s %s->%s", LabelChangeover, s.From, s.To)
		}
		return LabelChangeover
	default:
		return ""
	}
}

// IsCampaignLabel reports whether l names a campaign rather than idle, repair
// or changeover.
func IsCampaignLabel(l string) bool {
	return l != "" && l != LabelRepair && !strings.HasPrefix(l, LabelChangeover)
}

// ResourceSchedule is the decoded timeline of one resource.
type ResourceSchedule struct {
	Resource string
	Stage    int
	// Slots holds step t at index t-1.
	Slots []Slot
	// ChangeoverHours is the label-scan figure.
	ChangeoverHours float64
	// BlackoutChangeoverHours sums the durations of the active events.
	BlackoutChangeoverHours float64
	Used                    bool
	// Load counts the campaign steps.
	Load int
}

// Labels returns the per-step labels of the resource.
func (r *ResourceSchedule) Labels() []string {
	out := make([]string, len(r.Slots))
	for i, s := range r.Slots {
		out[i] = s.Label()
	}
	return out
}

// Diagnostic reports a decoded value pattern the model should have excluded.
type Diagnostic struct {
	Resource string
	Step     int
	Message  string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s step %d: %s", d.Resource, d.Step, d.Message)
}

// Schedule is a decoded plan.
type Schedule struct {
	Horizon   int
	Status    milp.Status
	Objective float64
	// Resources are listed in stage order.
	Resources []*ResourceSchedule
	// Produced holds cumulative output per stage and campaign.
	Produced    map[int]map[string]float64
	TargetsMet  bool
	Shortfall   map[string]float64
	Diagnostics []Diagnostic
	Metrics     Metrics
}

// Resource returns the schedule of resource id.
func (s *Schedule) Resource(id string) *ResourceSchedule {
	for _, r := range s.Resources {
		if r.Resource == id {
			return r
		}
	}
	return nil
}

// Stage returns the schedules of the 1-based stage st.
func (s *Schedule) Stage(st int) []*ResourceSchedule {
	var out []*ResourceSchedule
	for _, r := range s.Resources {
		if r.Stage == st {
			out = append(out, r)
		}
	}
	return out
}

func truthy(v float64) bool { return v > 0.5 }

// Decode turns the values of sol into a labelled schedule. Value patterns the
// model excludes are collected as diagnostics.
func Decode(m *Model, sol *milp.Solution) (*Schedule, error) {
	if !sol.HasValues() {
		return nil, ErrNoSolution
	}
	if len(sol.Values) != m.Problem.NumVars() {
		return nil, fmt.Errorf("solution has %d values for %d variables", len(sol.Values), m.Problem.NumVars())
	}
	pl := m.Plant
	s := &Schedule{
		Horizon:   m.Horizon,
		Status:    sol.Status,
		Objective: sol.Objective,
		Produced:  make(map[int]map[string]float64),
	}
	for st := 1; st <= pl.NumStages(); st++ {
		s.Produced[st] = make(map[string]float64)
		for _, r := range pl.StageResources(st) {
			rs := &ResourceSchedule{Resource: r, Stage: st, Slots: make([]Slot, m.Horizon)}
			s.Diagnostics = append(s.Diagnostics, decodeSlots(m, sol, rs)...)
			s.Diagnostics = append(s.Diagnostics, replayEvents(m, sol, rs)...)
			used := truthy(sol.Value(m.Usage[r]))
			for _, slot := range rs.Slots {
				if slot.Kind == KindCampaign {
					rs.Load++
					s.Produced[st][slot.Campaign] += slot.Tons
				}
			}
			rs.Used = used
			if used != (rs.Load > 0) {
				s.Diagnostics = append(s.Diagnostics, Diagnostic{Resource: r, Message: fmt.Sprintf("usage indicator %v with %d campaign steps", used, rs.Load)})
			}
			rs.ChangeoverHours = ReconfigurationHours(rs.Labels(), func(from, to string) float64 {
				return pl.ChangeoverDuration(r, from, to)
			})
			s.Resources = append(s.Resources, rs)
		}
	}

	final := s.Produced[pl.NumStages()]
	s.TargetsMet = true
	s.Shortfall = make(map[string]float64)
	for _, c := range pl.Campaigns {
		if final[c.Code] < c.Target-1e-6 {
			s.TargetsMet = false
			s.Shortfall[c.Code] = c.Target - final[c.Code]
		}
	}
	s.Metrics = ComputeMetrics(s)
	return s, nil
}

func decodeSlots(m *Model, sol *milp.Solution, rs *ResourceSchedule) []Diagnostic {
	var diags []Diagnostic
	pl, r := m.Plant, rs.Resource
	for t := 1; t <= m.Horizon; t++ {
		var running []string
		for _, k := range pl.Runnable(r) {
			if v, ok := m.X(r, k, t); ok && truthy(sol.Value(v)) {
				running = append(running, k)
			}
		}
		blackout := truthy(sol.Value(m.Blackout[SlotKey{r, t}]))
		slot := &rs.Slots[t-1]
		switch {
		case pl.IsRepair(r, t):
			slot.Kind = KindRepair
			if len(running) > 0 || blackout {
				diags = append(diags, Diagnostic{Resource: r, Step: t, Message: "activity during repair"})
			}
		case blackout:
			slot.Kind = KindChangeover
			if len(running) > 0 {
				diags = append(diags, Diagnostic{Resource: r, Step: t, Message: fmt.Sprintf("campaign %s during changeover", strings.Join(running, ","))})
			}
		case len(running) > 0:
			if len(running) > 1 {
				diags = append(diags, Diagnostic{Resource: r, Step: t, Message: fmt.Sprintf("several campaigns assigned: %s", strings.Join(running, ","))})
			}
			rate, _ := pl.Rate(r, running[0])
			*slot = Slot{Kind: KindCampaign, Campaign: running[0], Tons: rate}
		}
	}
	return diags
}

// replayEvents overwrites the span of every active changeover event with a
// pair-qualified changeover slot.
func replayEvents(m *Model, sol *milp.Solution, rs *ResourceSchedule) []Diagnostic {
	var diags []Diagnostic
	pl, r := m.Plant, rs.Resource
	runnable := pl.Runnable(r)
	for t := 1; t <= m.Horizon; t++ {
		for _, k1 := range runnable {
			for _, k2 := range runnable {
				y, ok := m.Events[EventKey{r, k1, k2, t}]
				if !ok || !truthy(sol.Value(y)) {
					continue
				}
				rs.BlackoutChangeoverHours += pl.ChangeoverDuration(r, k1, k2)
				n := pl.BlackoutSteps(r, k1, k2)
				for j := 1; j <= n && t+j <= m.Horizon; j++ {
					slot := &rs.Slots[t+j-1]
					switch slot.Kind {
					case KindChangeover:
					case KindRepair:
						diags = append(diags, Diagnostic{Resource: r, Step: t + j, Message: fmt.Sprintf("changeover %s->%s overlaps a repair", k1, k2)})
						continue
					default:
						diags = append(diags, Diagnostic{Resource: r, Step: t + j, Message: fmt.Sprintf("changeover %s->%s without blackout flag", k1, k2)})
					}
					*slot = Slot{Kind: KindChangeover, From: k1, To: k2}
				}
			}
		}
	}
	return diags
}

// ReconfigurationHours scans a label sequence and adds hours(current, next)
// whenever the next campaign label, skipping idle, repair and changeover
// steps, differs from the current one. A trailing campaign adds nothing.
//
// Only switches are charged. A per-step tally that bills every campaign step
// followed by any later campaign step would count K1 K1 K1 K2 three times and
// K1 _ K1 once; here they cost one changeover and nothing.
func ReconfigurationHours(labels []string, hours func(from, to string) float64) float64 {
	var total float64
	for i, l := range labels {
		if !IsCampaignLabel(l) {
			continue
		}
		for j := i + 1; j < len(labels); j++ {
			next := labels[j]
			if !IsCampaignLabel(next) {
				continue
			}
			if next != l {
				total += hours(l, next)
			}
			break
		}
	}
	return total
}
