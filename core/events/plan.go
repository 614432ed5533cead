package events

// PlanEvent is published once a plan is selected for reporting.
type PlanEvent struct {
	RunID                   string
	Horizon                 int
	Status                  string
	Objective               float64
	ChangeoverHours         float64
	BlackoutChangeoverHours float64
	Stage1Production        float64
	FinalProduction         float64
	ResourcesUsed           int
	LoadEvenness            float64
	TargetsMet              bool
	Produced                map[string]float64
}
