package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/millplan/core/metrics"
)

func TestPromSink_RecordSolve(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	rec := coremetrics.SolveRecord{Horizon: 6, Status: "optimal", TargetsMet: true, Variables: 40, Constraints: 55, Elapsed: 150 * time.Millisecond}
	if err := sink.RecordSolve(rec); err != nil {
		t.Fatalf("record error: %v", err)
	}

	expected := `
# HELP planner_solves_total Total number of solved planning models
# TYPE planner_solves_total counter
planner_solves_total{status="optimal",targets_met="true"} 1
`
	if err := testutil.CollectAndCompare(sink.solves, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if c := testutil.CollectAndCount(sink.duration); c == 0 {
		t.Errorf("duration not recorded")
	}
	if v := testutil.ToFloat64(sink.modelSize.WithLabelValues("constraints")); v != 55 {
		t.Errorf("constraints gauge = %v", v)
	}
}

func TestPromSink_ProbesAndPlan(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	_ = sink.RecordProbe(coremetrics.ProbeRecord{Horizon: 4, Phase: "doubling"})
	_ = sink.RecordProbe(coremetrics.ProbeRecord{Horizon: 8, Phase: "doubling", Feasible: true})
	_ = sink.RecordDiagnostic(coremetrics.DiagnosticRecord{Resource: "F1"})
	_ = sink.RecordPlan(coremetrics.PlanRecord{Horizon: 8, ChangeoverHours: 24, Produced: map[string]float64{"K1": 100}})

	if c := testutil.CollectAndCount(sink.probes); c != 2 {
		t.Errorf("expected 2 probe series, got %d", c)
	}
	if v := testutil.ToFloat64(sink.diagnostics.WithLabelValues("F1")); v != 1 {
		t.Errorf("diagnostics = %v", v)
	}
	if v := testutil.ToFloat64(sink.plan.WithLabelValues("changeover_hours")); v != 24 {
		t.Errorf("changeover gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.produced.WithLabelValues("K1")); v != 100 {
		t.Errorf("produced gauge = %v", v)
	}

	_ = sink.RecordPlan(coremetrics.PlanRecord{Produced: map[string]float64{"K2": 5}})
	if c := testutil.CollectAndCount(sink.produced); c != 1 {
		t.Errorf("stale campaign series kept: %d", c)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	second, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	_ = first.RecordSolve(coremetrics.SolveRecord{Status: "infeasible"})
	_ = second.RecordSolve(coremetrics.SolveRecord{Status: "infeasible"})
	if v := testutil.ToFloat64(first.solves.WithLabelValues("infeasible", "false")); v != 2 {
		t.Errorf("collectors not shared: %v", v)
	}
}
