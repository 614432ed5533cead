package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/millplan/core/planning"
)

// SolverConfig holds the objective weights and engine limits of one solve.
// Penalties are pointers so that an explicit zero is kept by SetDefaults.
type SolverConfig struct {
	PenaltyChangeover *float64 `json:"penalty_changeover"`
	PenaltyResource   *float64 `json:"penalty_resource"`
	EnforceTargets    bool     `json:"enforce_targets"`
	TimeLimitSeconds  float64  `json:"time_limit_seconds"`
	// MaxNodes bounds the branch-and-bound tree. Zero means no limit.
	MaxNodes int     `json:"max_nodes"`
	Gap      float64 `json:"gap"`
}

// SetDefaults applies the weights of the reference plant.
func (c *SolverConfig) SetDefaults() {
	if c.PenaltyChangeover == nil {
		v := 5.0
		c.PenaltyChangeover = &v
	}
	if c.PenaltyResource == nil {
		v := 2.0
		c.PenaltyResource = &v
	}
	if c.TimeLimitSeconds <= 0 {
		c.TimeLimitSeconds = 5
	}
	if c.Gap <= 0 {
		c.Gap = 1e-6
	}
}

// Validate checks the weights and limits.
func (c SolverConfig) Validate() error {
	if deref(c.PenaltyChangeover) < 0 || deref(c.PenaltyResource) < 0 {
		return fmt.Errorf("solver penalties must not be negative")
	}
	if c.MaxNodes < 0 {
		return fmt.Errorf("solver max_nodes must not be negative")
	}
	return nil
}

// TimeLimit returns the per-solve wall clock limit.
func (c SolverConfig) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds * float64(time.Second))
}

// Options returns the model options.
func (c SolverConfig) Options() planning.Options {
	return planning.Options{
		PenaltyChangeover: deref(c.PenaltyChangeover),
		PenaltyResource:   deref(c.PenaltyResource),
		EnforceTargets:    c.EnforceTargets,
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// SearchConfig bounds the horizon feasibility search.
type SearchConfig struct {
	MinHorizon int `json:"min_horizon"`
	MaxHorizon int `json:"max_horizon"`
	// ProbeTimeLimitSeconds replaces the solver time limit during the search.
	ProbeTimeLimitSeconds float64 `json:"probe_time_limit_seconds"`
}

// SetDefaults applies sane defaults.
func (c *SearchConfig) SetDefaults() {
	if c.MinHorizon <= 0 {
		c.MinHorizon = 1
	}
	if c.MaxHorizon <= 0 {
		c.MaxHorizon = 365
	}
	if c.ProbeTimeLimitSeconds <= 0 {
		c.ProbeTimeLimitSeconds = 30
	}
}

// Validate checks the horizon bounds.
func (c SearchConfig) Validate() error {
	if c.MinHorizon > c.MaxHorizon {
		return fmt.Errorf("search min_horizon %d exceeds max_horizon %d", c.MinHorizon, c.MaxHorizon)
	}
	return nil
}

// ProbeTimeLimit returns the per-probe wall clock limit.
func (c SearchConfig) ProbeTimeLimit() time.Duration {
	return time.Duration(c.ProbeTimeLimitSeconds * float64(time.Second))
}

// ExportConfig selects where and how plans are written.
type ExportConfig struct {
	Dir string `json:"dir"`
	// Formats lists any of "json", "csv", "blocks" and "html".
	Formats []string `json:"formats"`
}

// SetDefaults applies sane defaults.
func (c *ExportConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "output"
	}
	if len(c.Formats) == 0 {
		c.Formats = []string{"json", "csv", "blocks"}
	}
}

// Validate checks the formats.
func (c ExportConfig) Validate() error {
	for _, f := range c.Formats {
		switch f {
		case "json", "csv", "blocks", "html":
		default:
			return fmt.Errorf("unknown export format %s", f)
		}
	}
	return nil
}

// Has reports whether format f is enabled.
func (c ExportConfig) Has(f string) bool {
	for _, x := range c.Formats {
		if x == f {
			return true
		}
	}
	return false
}
