// Package scenarios runs plan regression scenarios described in YAML files.
package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/millplan/config"
	"github.com/kilianp07/millplan/core/planning"
)

// OptionsDef mirrors planning.Options.
type OptionsDef struct {
	PenaltyChangeover float64 `yaml:"penalty_changeover"`
	PenaltyResource   float64 `yaml:"penalty_resource"`
	EnforceTargets    bool    `yaml:"enforce_targets"`
}

// ToModel converts the definition into model options.
func (o OptionsDef) ToModel() planning.Options {
	return planning.Options{
		PenaltyChangeover: o.PenaltyChangeover,
		PenaltyResource:   o.PenaltyResource,
		EnforceTargets:    o.EnforceTargets,
	}
}

// Expected holds the checked outcome. Nil and empty fields are not checked.
type Expected struct {
	Status        string              `yaml:"status"`
	TargetsMet    *bool               `yaml:"targets_met,omitempty"`
	Objective     *float64            `yaml:"objective,omitempty"`
	ResourcesUsed *int                `yaml:"resources_used,omitempty"`
	Shortfall     map[string]float64  `yaml:"shortfall,omitempty"`
	Labels        map[string][]string `yaml:"labels,omitempty"`
	// Recommended is the smallest feasible horizon. Zero skips the search.
	Recommended int `yaml:"recommended,omitempty"`
}

// Scenario is one plant, horizon and expected outcome.
type Scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Plant       config.PlantSpec `yaml:"plant"`
	Horizon     int              `yaml:"horizon"`
	Options     OptionsDef       `yaml:"options"`
	Expected    Expected         `yaml:"expected"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s has no name", path)
	}
	return &sc, nil
}
