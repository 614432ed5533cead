package planning

import "gonum.org/v1/gonum/stat"

// Metrics summarises a decoded schedule.
type Metrics struct {
	// ChangeoverHours is the label-scan total over all resources.
	ChangeoverHours float64 `json:"changeover_hours"`
	// BlackoutChangeoverHours is the event-based total that drives the objective.
	BlackoutChangeoverHours float64 `json:"blackout_changeover_hours"`
	Stage1Production        float64 `json:"stage1_production"`
	FinalProduction         float64 `json:"final_production"`
	ResourcesUsed           int     `json:"resources_used"`
	// LoadEvenness is the sample standard deviation of campaign steps per
	// resource across all stages.
	LoadEvenness float64 `json:"load_evenness"`
}

// ComputeMetrics derives the scalar metrics of s.
func ComputeMetrics(s *Schedule) Metrics {
	var m Metrics
	loads := make([]float64, 0, len(s.Resources))
	final := 0
	for _, r := range s.Resources {
		if r.Stage > final {
			final = r.Stage
		}
	}
	for _, r := range s.Resources {
		m.ChangeoverHours += r.ChangeoverHours
		m.BlackoutChangeoverHours += r.BlackoutChangeoverHours
		if r.Used {
			m.ResourcesUsed++
		}
		loads = append(loads, float64(r.Load))
	}
	for _, v := range s.Produced[1] {
		m.Stage1Production += v
	}
	for _, v := range s.Produced[final] {
		m.FinalProduction += v
	}
	if len(loads) >= 2 {
		m.LoadEvenness = stat.StdDev(loads, nil)
	}
	return m
}
