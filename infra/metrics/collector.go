package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/millplan/core/events"
	coremetrics "github.com/kilianp07/millplan/core/metrics"
	"github.com/kilianp07/millplan/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled or the bus is closed. The returned
// channel is closed once the collector has drained.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				record(sink, ev)
			}
		}
	}()
	return done
}

func record(sink coremetrics.MetricsSink, ev any) {
	now := time.Now()
	switch e := ev.(type) {
	case events.SolveEvent:
		errStr := ""
		if e.Err != nil {
			errStr = e.Err.Error()
		}
		_ = sink.RecordSolve(coremetrics.SolveRecord{
			RunID:       e.RunID,
			Horizon:     e.Horizon,
			Status:      e.Status,
			Objective:   e.Objective,
			Nodes:       e.Nodes,
			Variables:   e.Variables,
			Constraints: e.Constraints,
			TargetsMet:  e.TargetsMet,
			Elapsed:     e.Elapsed,
			Error:       errStr,
			Time:        now,
		})
	case events.ProbeEvent:
		if r, ok := sink.(coremetrics.ProbeRecorder); ok {
			_ = r.RecordProbe(coremetrics.ProbeRecord{Horizon: e.Horizon, Phase: e.Phase, Feasible: e.Feasible, Cached: e.Cached, Time: now})
		}
	case events.DiagnosticEvent:
		if r, ok := sink.(coremetrics.DiagnosticRecorder); ok {
			_ = r.RecordDiagnostic(coremetrics.DiagnosticRecord{RunID: e.RunID, Resource: e.Resource, Step: e.Step, Message: e.Message, Time: now})
		}
	case events.PlanEvent:
		if r, ok := sink.(coremetrics.PlanRecorder); ok {
			_ = r.RecordPlan(coremetrics.PlanRecord{
				RunID:                   e.RunID,
				Horizon:                 e.Horizon,
				Status:                  e.Status,
				Objective:               e.Objective,
				ChangeoverHours:         e.ChangeoverHours,
				BlackoutChangeoverHours: e.BlackoutChangeoverHours,
				Stage1Production:        e.Stage1Production,
				FinalProduction:         e.FinalProduction,
				ResourcesUsed:           e.ResourcesUsed,
				LoadEvenness:            e.LoadEvenness,
				TargetsMet:              e.TargetsMet,
				Produced:                e.Produced,
				Time:                    now,
			})
		}
	}
}
