package config

import (
	"fmt"
	"math"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/millplan/core/model"
)

// PlantSpec is the document form of the plant data.
type PlantSpec struct {
	StepHours   int `json:"step_hours" yaml:"step_hours"`
	HoursPerDay int `json:"hours_per_day" yaml:"hours_per_day"`
	Horizon     int `json:"horizon" yaml:"horizon"`
	// Stages lists resource ids per stage, stage 1 first.
	Stages    [][]string     `json:"stages" yaml:"stages"`
	Campaigns []CampaignSpec `json:"campaigns" yaml:"campaigns"`
	Resources []ResourceSpec `json:"resources" yaml:"resources"`
	// Rates maps resource id to campaign code to tons per step.
	Rates map[string]map[string]float64 `json:"rates" yaml:"rates"`
}

// CampaignSpec describes one campaign.
type CampaignSpec struct {
	Code         string  `json:"code" yaml:"code"`
	Target       float64 `json:"target" yaml:"target"`
	CoolingSteps *int    `json:"cooling_steps" yaml:"cooling_steps"`
}

// ResourceSpec describes a resource. Resources listed in a stage but absent
// here get the zero settings.
type ResourceSpec struct {
	ID         string         `json:"id" yaml:"id"`
	Parallel   bool           `json:"parallel" yaml:"parallel"`
	Repairs    []int          `json:"repairs" yaml:"repairs"`
	Changeover ChangeoverSpec `json:"changeover" yaml:"changeover"`
}

// ChangeoverSpec sets the changeover durations of a resource. Hours applies
// to every ordered pair of runnable campaigns; Pairs override single pairs.
type ChangeoverSpec struct {
	Hours float64    `json:"hours" yaml:"hours"`
	Pairs []PairSpec `json:"pairs" yaml:"pairs"`
}

// PairSpec is the duration of one ordered changeover.
type PairSpec struct {
	From  string  `json:"from" yaml:"from"`
	To    string  `json:"to" yaml:"to"`
	Hours float64 `json:"hours" yaml:"hours"`
}

// SetDefaults applies the reference plant defaults.
func (s *PlantSpec) SetDefaults() {
	if s.StepHours == 0 {
		s.StepHours = 24
	}
	if s.HoursPerDay == 0 {
		s.HoursPerDay = 24
	}
	if s.Horizon == 0 {
		s.Horizon = 15
	}
	for i := range s.Campaigns {
		if s.Campaigns[i].CoolingSteps == nil {
			v := 1
			s.Campaigns[i].CoolingSteps = &v
		}
	}
}

// Build converts the document into a validated model.Plant.
func (s PlantSpec) Build() (*model.Plant, error) {
	s.SetDefaults()
	p := &model.Plant{
		Resources:   make(map[string]model.Resource),
		Rates:       make(map[model.RateKey]float64),
		Changeovers: make(model.ChangeoverTable),
		StepHours:   s.StepHours,
		HoursPerDay: s.HoursPerDay,
		Horizon:     s.Horizon,
	}
	for _, c := range s.Campaigns {
		p.Campaigns = append(p.Campaigns, model.Campaign{Code: c.Code, Target: c.Target, CoolingSteps: *c.CoolingSteps})
	}

	specs := make(map[string]ResourceSpec, len(s.Resources))
	for _, r := range s.Resources {
		if _, dup := specs[r.ID]; dup {
			return nil, fmt.Errorf("%w: resource %s declared twice", model.ErrInvalidPlant, r.ID)
		}
		specs[r.ID] = r
	}
	for i, st := range s.Stages {
		p.Stages = append(p.Stages, append([]string(nil), st...))
		for _, id := range st {
			rs := specs[id]
			p.Resources[id] = model.Resource{
				ID:       id,
				Stage:    i + 1,
				Parallel: rs.Parallel,
				Repairs:  mapset.NewThreadUnsafeSet(rs.Repairs...),
			}
		}
	}
	for id := range specs {
		if _, ok := p.Resources[id]; !ok {
			return nil, fmt.Errorf("%w: resource %s is not part of any stage", model.ErrInvalidPlant, id)
		}
	}

	for r, byCampaign := range s.Rates {
		for k, rate := range byCampaign {
			p.Rates[model.RateKey{Resource: r, Campaign: k}] = rate
		}
	}

	for id, res := range p.Resources {
		co := specs[id].Changeover
		runnable := p.Runnable(id)
		for _, from := range runnable {
			for _, to := range runnable {
				if from != to {
					p.Changeovers.Set(id, from, to, co.Hours)
				}
			}
		}
		longest := co.Hours
		for _, pair := range co.Pairs {
			p.Changeovers.Set(id, pair.From, pair.To, pair.Hours)
			longest = math.Max(longest, pair.Hours)
		}
		if co.Hours > 0 {
			res.ChangeoverHours = int(math.Ceil(co.Hours))
		} else {
			res.ChangeoverHours = int(math.Ceil(longest))
		}
		p.Resources[id] = res
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPlant reads a plant document (YAML or JSON) and builds the plant.
func LoadPlant(path string) (*model.Plant, error) {
	k, err := newKoanf(path)
	if err != nil {
		return nil, err
	}
	var spec PlantSpec
	if err := k.UnmarshalWithConf("", &spec, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode plant %s: %w", path, err)
	}
	p, err := spec.Build()
	if err != nil {
		return nil, fmt.Errorf("plant %s: %w", path, err)
	}
	return p, nil
}
