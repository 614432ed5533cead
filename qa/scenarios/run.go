package scenarios

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/millplan/core/metrics"
	"github.com/kilianp07/millplan/core/milp"
	"github.com/kilianp07/millplan/core/planning"
	"github.com/kilianp07/millplan/infra/logger"
	"github.com/kilianp07/millplan/infra/metrics"
	"github.com/kilianp07/millplan/internal/eventbus"
)

const tol = 1e-6

// RunScenario plans the scenario horizon, optionally runs the horizon search
// and checks the expectations.
//
//nolint:gocyclo
func RunScenario(t *testing.T, sc *Scenario) {
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	bus := eventbus.NewWithBuffer(256)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := metrics.StartEventCollector(ctx, bus, sink)

	plant, err := sc.Plant.Build()
	if err != nil {
		t.Fatalf("plant: %v", err)
	}
	horizon := sc.Horizon
	if horizon == 0 {
		horizon = plant.Horizon
	}
	engine := milp.NewBranchAndBound(30*time.Second, logger.NopLogger{})
	planner, err := planning.NewPlanner(plant, engine, sc.Options.ToModel(), bus, logger.NopLogger{})
	if err != nil {
		t.Fatalf("planner: %v", err)
	}

	res, err := planner.Plan(ctx, horizon)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	exp := sc.Expected
	if exp.Status != "" && res.Status.String() != exp.Status {
		t.Errorf("status: expected %s, got %s", exp.Status, res.Status)
	}
	if exp.Objective != nil && math.Abs(res.Objective-*exp.Objective) > tol {
		t.Errorf("objective: expected %v, got %v", *exp.Objective, res.Objective)
	}
	if s := res.Schedule; s != nil {
		if exp.TargetsMet != nil && s.TargetsMet != *exp.TargetsMet {
			t.Errorf("targets met: expected %v, got %v", *exp.TargetsMet, s.TargetsMet)
		}
		if exp.ResourcesUsed != nil && s.Metrics.ResourcesUsed != *exp.ResourcesUsed {
			t.Errorf("resources used: expected %d, got %d", *exp.ResourcesUsed, s.Metrics.ResourcesUsed)
		}
		for k, want := range exp.Shortfall {
			if got := s.Shortfall[k]; math.Abs(got-want) > tol {
				t.Errorf("shortfall %s: expected %v, got %v", k, want, got)
			}
		}
		for id, want := range exp.Labels {
			rs := s.Resource(id)
			if rs == nil {
				t.Errorf("labels: unknown resource %s", id)
				continue
			}
			if got := rs.Labels(); !equalLabels(got, want) {
				t.Errorf("labels %s: expected %q, got %q", id, want, got)
			}
		}
		if len(s.Diagnostics) > 0 {
			t.Errorf("unexpected diagnostics: %v", s.Diagnostics)
		}
	} else if exp.TargetsMet != nil && *exp.TargetsMet {
		t.Errorf("expected a schedule meeting targets, got status %s", res.Status)
	}

	if exp.Recommended > 0 {
		search := &planning.Search{Plant: plant, Planner: planner, MinHorizon: 1, MaxHorizon: 4 * exp.Recommended, Bus: bus}
		h, err := search.Find(ctx)
		if err != nil {
			t.Errorf("search: %v", err)
		} else if h != exp.Recommended {
			t.Errorf("recommended horizon: expected %d, got %d", exp.Recommended, h)
		}
	}

	bus.Close()
	<-done
	if n, err := testutil.GatherAndCount(reg, "planner_solves_total"); err != nil || n == 0 {
		t.Errorf("no solve metrics recorded: %v", err)
	}
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
