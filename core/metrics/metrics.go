package metrics

import "time"

// SolveRecord describes one model built and solved for a horizon.
type SolveRecord struct {
	RunID       string
	Horizon     int
	Status      string
	Objective   float64
	Nodes       int
	Variables   int
	Constraints int
	TargetsMet  bool
	Elapsed     time.Duration
	Error       string
	Time        time.Time
}

// MetricsSink records planner activity for observability purposes.
type MetricsSink interface {
	RecordSolve(rec SolveRecord) error
}

// PlanRecord carries the KPIs of a decoded plan.
type PlanRecord struct {
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
	// Produced holds the final-stage output per campaign.
	Produced map[string]float64
	Time     time.Time
}

// PlanRecorder records plan KPIs.
type PlanRecorder interface {
	RecordPlan(rec PlanRecord) error
}

// ProbeRecord is one horizon evaluated by the feasibility search.
type ProbeRecord struct {
	Horizon  int
	Phase    string
	Feasible bool
	Cached   bool
	Time     time.Time
}

// ProbeRecorder records horizon search probes.
type ProbeRecorder interface {
	RecordProbe(rec ProbeRecord) error
}

// DiagnosticRecord is a decoding inconsistency.
type DiagnosticRecord struct {
	RunID    string
	Resource string
	Step     int
	Message  string
	Time     time.Time
}

// DiagnosticRecorder records decoding inconsistencies.
type DiagnosticRecorder interface {
	RecordDiagnostic(rec DiagnosticRecord) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordSolve(SolveRecord) error           { return nil }
func (NopSink) RecordPlan(PlanRecord) error             { return nil }
func (NopSink) RecordProbe(ProbeRecord) error           { return nil }
func (NopSink) RecordDiagnostic(DiagnosticRecord) error { return nil }
