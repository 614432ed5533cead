package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/millplan/core/events"
	coremetrics "github.com/kilianp07/millplan/core/metrics"
	"github.com/kilianp07/millplan/internal/eventbus"
)

type memorySink struct {
	mu     sync.Mutex
	solves []coremetrics.SolveRecord
	probes []coremetrics.ProbeRecord
	plans  []coremetrics.PlanRecord
	diags  []coremetrics.DiagnosticRecord
}

func (m *memorySink) RecordSolve(r coremetrics.SolveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solves = append(m.solves, r)
	return nil
}

func (m *memorySink) RecordProbe(r coremetrics.ProbeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, r)
	return nil
}

func (m *memorySink) RecordPlan(r coremetrics.PlanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans = append(m.plans, r)
	return nil
}

func (m *memorySink) RecordDiagnostic(r coremetrics.DiagnosticRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diags = append(m.diags, r)
	return nil
}

func TestEventCollector(t *testing.T) {
	bus := eventbus.New()
	sink := &memorySink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := StartEventCollector(ctx, bus, sink)

	bus.Publish(events.SolveEvent{RunID: "r1", Horizon: 4, Status: "infeasible", Err: errors.New("boom")})
	bus.Publish(events.ProbeEvent{Horizon: 4, Phase: "lower_bound"})
	bus.Publish(events.DiagnosticEvent{RunID: "r1", Resource: "F1", Step: 1, Message: "x"})
	bus.Publish(events.PlanEvent{RunID: "r1", Horizon: 4, Produced: map[string]float64{"K1": 3}})
	bus.Publish("ignored")

	deadline := time.After(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.solves) + len(sink.probes) + len(sink.diags) + len(sink.plans)
		sink.mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("collected %d records, want 4", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if sink.solves[0].Error != "boom" || sink.solves[0].Horizon != 4 {
		t.Errorf("solve record: %+v", sink.solves[0])
	}
	if sink.plans[0].Produced["K1"] != 3 {
		t.Errorf("plan record: %+v", sink.plans[0])
	}
}

func TestEventCollector_NilBus(t *testing.T) {
	select {
	case <-StartEventCollector(context.Background(), nil, coremetrics.NopSink{}):
	case <-time.After(time.Second):
		t.Fatal("collector should finish immediately")
	}
}
