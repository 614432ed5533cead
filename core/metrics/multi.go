package metrics

import "errors"

// MultiSink fans records out to several sinks. Optional recorders are only
// forwarded to the sinks implementing them.
type MultiSink struct {
	sinks []MetricsSink
}

// NewMultiSink returns a sink forwarding to every non-nil sink.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Sinks returns the wrapped sinks.
func (m *MultiSink) Sinks() []MetricsSink { return m.sinks }

func (m *MultiSink) RecordSolve(rec SolveRecord) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordSolve(rec))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPlan(rec PlanRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if r, ok := s.(PlanRecorder); ok {
			errs = append(errs, r.RecordPlan(rec))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordProbe(rec ProbeRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if r, ok := s.(ProbeRecorder); ok {
			errs = append(errs, r.RecordProbe(rec))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordDiagnostic(rec DiagnosticRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if r, ok := s.(DiagnosticRecorder); ok {
			errs = append(errs, r.RecordDiagnostic(rec))
		}
	}
	return errors.Join(errs...)
}
