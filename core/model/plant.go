package model

import (
	"errors"
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrInvalidPlant is wrapped by every validation failure of a Plant.
var ErrInvalidPlant = errors.New("invalid plant data")

// Resource is a furnace or mill belonging to exactly one stage.
type Resource struct {
	ID    string
	Stage int // 1-based stage position
	// Parallel allows the same campaign to run on several resources of the
	// stage at the same step.
	Parallel bool
	// Repairs holds the 1-based steps during which the resource is blacked out.
	Repairs mapset.Set[int]
	// ChangeoverHours is the resource-level changeover constant used when the
	// schedule is reported at hour granularity.
	ChangeoverHours int
}

// Campaign is a production recipe run on a resource for a contiguous span.
type Campaign struct {
	Code string
	// Target is the cumulative stage-1 volume cap in tons. It is also the
	// final-stage volume a plan must reach to meet demand.
	Target float64
	// CoolingSteps is the delay between leaving a stage and becoming
	// available to the next one.
	CoolingSteps int
}

// RateKey identifies a (resource, campaign) production rate.
type RateKey struct {
	Resource string
	Campaign string
}

// Plant is the static input data of a planning run. It is built once,
// validated, and shared read-only by the builder, decoder and search.
type Plant struct {
	// Stages lists resource ids per stage, stage 1 first.
	Stages    [][]string
	Resources map[string]Resource
	// Campaigns is the canonical campaign order used for tie-breaks.
	Campaigns []Campaign
	// Rates are tons per step. A missing key means the resource cannot run
	// the campaign.
	Rates       map[RateKey]float64
	Changeovers ChangeoverTable
	// StepHours is the length of one time step in hours.
	StepHours   int
	HoursPerDay int
	// Horizon is the default planning horizon in steps.
	Horizon int
}

// Rate returns the production rate of resource r for campaign k.
func (p *Plant) Rate(r, k string) (float64, bool) {
	v, ok := p.Rates[RateKey{Resource: r, Campaign: k}]
	return v, ok
}

// Campaign returns the campaign with the given code.
func (p *Plant) Campaign(code string) (Campaign, bool) {
	for _, c := range p.Campaigns {
		if c.Code == code {
			return c, true
		}
	}
	return Campaign{}, false
}

// CampaignCodes returns the campaign codes in canonical order.
func (p *Plant) CampaignCodes() []string {
	out := make([]string, len(p.Campaigns))
	for i, c := range p.Campaigns {
		out[i] = c.Code
	}
	return out
}

// NumStages returns the number of pipeline stages.
func (p *Plant) NumStages() int { return len(p.Stages) }

// StageResources returns the resources of the 1-based stage s.
func (p *Plant) StageResources(s int) []string {
	if s < 1 || s > len(p.Stages) {
		return nil
	}
	return p.Stages[s-1]
}

// ResourceIDs returns every resource id in stage order.
func (p *Plant) ResourceIDs() []string {
	var out []string
	for _, st := range p.Stages {
		out = append(out, st...)
	}
	return out
}

// IsRepair reports whether step t is a planned repair of resource r.
func (p *Plant) IsRepair(r string, t int) bool {
	res, ok := p.Resources[r]
	if !ok || res.Repairs == nil {
		return false
	}
	return res.Repairs.Contains(t)
}

// Runnable returns the campaigns resource r has a rate for, in canonical order.
func (p *Plant) Runnable(r string) []string {
	var out []string
	for _, c := range p.Campaigns {
		if _, ok := p.Rate(r, c.Code); ok {
			out = append(out, c.Code)
		}
	}
	return out
}

// ChangeoverDuration returns the changeover hours of r between from and to.
// Switching to the same campaign costs nothing.
func (p *Plant) ChangeoverDuration(r, from, to string) float64 {
	if from == to {
		return 0
	}
	h, _ := p.Changeovers.Get(r, from, to)
	return h
}

// BlackoutSteps converts a changeover into whole blacked-out steps using
// ceiling division by the step length.
func (p *Plant) BlackoutSteps(r, from, to string) int {
	h := p.ChangeoverDuration(r, from, to)
	if h <= 0 || p.StepHours <= 0 {
		return 0
	}
	return int(math.Ceil(h / float64(p.StepHours)))
}

// Validate checks the plant for structural completeness.
//
//gocyclo:ignore
func (p *Plant) Validate() error {
	if p.StepHours <= 0 {
		return fmt.Errorf("%w: step_hours must be positive", ErrInvalidPlant)
	}
	if p.HoursPerDay <= 0 {
		return fmt.Errorf("%w: hours_per_day must be positive", ErrInvalidPlant)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: at least one stage is required", ErrInvalidPlant)
	}
	if len(p.Campaigns) == 0 {
		return fmt.Errorf("%w: at least one campaign is required", ErrInvalidPlant)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	for i, st := range p.Stages {
		if len(st) == 0 {
			return fmt.Errorf("%w: stage %d has no resources", ErrInvalidPlant, i+1)
		}
		for _, id := range st {
			if !seen.Add(id) {
				return fmt.Errorf("%w: resource %s listed in more than one stage", ErrInvalidPlant, id)
			}
			res, ok := p.Resources[id]
			if !ok {
				return fmt.Errorf("%w: stage %d references unknown resource %s", ErrInvalidPlant, i+1, id)
			}
			if res.Stage != i+1 {
				return fmt.Errorf("%w: resource %s declares stage %d but is listed in stage %d", ErrInvalidPlant, id, res.Stage, i+1)
			}
			if res.ChangeoverHours < 0 {
				return fmt.Errorf("%w: resource %s has negative changeover hours", ErrInvalidPlant, id)
			}
			if res.Repairs != nil {
				for _, t := range res.Repairs.ToSlice() {
					if t < 1 {
						return fmt.Errorf("%w: resource %s has repair at step %d", ErrInvalidPlant, id, t)
					}
				}
			}
		}
	}
	for id := range p.Resources {
		if !seen.Contains(id) {
			return fmt.Errorf("%w: resource %s is not part of any stage", ErrInvalidPlant, id)
		}
	}

	codes := mapset.NewThreadUnsafeSet[string]()
	for _, c := range p.Campaigns {
		if c.Code == "" {
			return fmt.Errorf("%w: campaign code is empty", ErrInvalidPlant)
		}
		if !codes.Add(c.Code) {
			return fmt.Errorf("%w: duplicate campaign %s", ErrInvalidPlant, c.Code)
		}
		if c.Target < 0 || math.IsNaN(c.Target) || math.IsInf(c.Target, 0) {
			return fmt.Errorf("%w: campaign %s has invalid target %v", ErrInvalidPlant, c.Code, c.Target)
		}
		if c.CoolingSteps < 0 {
			return fmt.Errorf("%w: campaign %s has negative cooling delay", ErrInvalidPlant, c.Code)
		}
	}

	for key, rate := range p.Rates {
		if !seen.Contains(key.Resource) {
			return fmt.Errorf("%w: rate references unknown resource %s", ErrInvalidPlant, key.Resource)
		}
		if !codes.Contains(key.Campaign) {
			return fmt.Errorf("%w: rate references unknown campaign %s", ErrInvalidPlant, key.Campaign)
		}
		if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return fmt.Errorf("%w: rate for (%s, %s) must be a positive number, got %v", ErrInvalidPlant, key.Resource, key.Campaign, rate)
		}
	}

	return p.Changeovers.validate(p, seen, codes)
}
