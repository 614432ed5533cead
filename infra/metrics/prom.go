package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/millplan/core/metrics"
)

// PromSink records planner activity in Prometheus metrics.
type PromSink struct {
	solves      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	modelSize   *prometheus.GaugeVec
	probes      *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	plan        *prometheus.GaugeVec
	produced    *prometheus.GaugeVec
}

// NewPromSink registers planner metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusAddr.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	s, err := NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_solves_total",
			Help: "Total number of solved planning models",
		}, []string{"status", "targets_met"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planner_solve_duration_seconds",
			Help:    "Wall time spent building and solving one horizon",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 9),
		}, []string{"status"}),
		modelSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planner_model_size",
			Help: "Variables and constraints of the last solved model",
		}, []string{"kind"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_horizon_probes_total",
			Help: "Horizons evaluated by the feasibility search",
		}, []string{"phase", "feasible", "cached"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_decode_diagnostics_total",
			Help: "Inconsistencies found while decoding solutions",
		}, []string{"resource"}),
		plan: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planner_plan_kpi",
			Help: "KPIs of the last reported plan",
		}, []string{"kpi"}),
		produced: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planner_plan_produced_tons",
			Help: "Final-stage output per campaign of the last reported plan",
		}, []string{"campaign"}),
	}
	var err error
	if s.solves, err = register(reg, s.solves); err != nil {
		return nil, err
	}
	if s.duration, err = register(reg, s.duration); err != nil {
		return nil, err
	}
	if s.modelSize, err = register(reg, s.modelSize); err != nil {
		return nil, err
	}
	if s.probes, err = register(reg, s.probes); err != nil {
		return nil, err
	}
	if s.diagnostics, err = register(reg, s.diagnostics); err != nil {
		return nil, err
	}
	if s.plan, err = register(reg, s.plan); err != nil {
		return nil, err
	}
	if s.produced, err = register(reg, s.produced); err != nil {
		return nil, err
	}
	return s, nil
}

// register reuses an already registered collector of the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSolve counts the solve and observes its duration.
func (s *PromSink) RecordSolve(rec coremetrics.SolveRecord) error {
	s.solves.WithLabelValues(rec.Status, strconv.FormatBool(rec.TargetsMet)).Inc()
	s.duration.WithLabelValues(rec.Status).Observe(rec.Elapsed.Seconds())
	s.modelSize.WithLabelValues("variables").Set(float64(rec.Variables))
	s.modelSize.WithLabelValues("constraints").Set(float64(rec.Constraints))
	return nil
}

// RecordProbe counts a horizon search probe.
func (s *PromSink) RecordProbe(rec coremetrics.ProbeRecord) error {
	s.probes.WithLabelValues(rec.Phase, strconv.FormatBool(rec.Feasible), strconv.FormatBool(rec.Cached)).Inc()
	return nil
}

// RecordDiagnostic counts a decoding inconsistency.
func (s *PromSink) RecordDiagnostic(rec coremetrics.DiagnosticRecord) error {
	s.diagnostics.WithLabelValues(rec.Resource).Inc()
	return nil
}

// RecordPlan exposes the KPIs of the reported plan.
func (s *PromSink) RecordPlan(rec coremetrics.PlanRecord) error {
	kpis := map[string]float64{
		"horizon_steps":             float64(rec.Horizon),
		"objective":                 rec.Objective,
		"changeover_hours":          rec.ChangeoverHours,
		"blackout_changeover_hours": rec.BlackoutChangeoverHours,
		"stage1_production_tons":    rec.Stage1Production,
		"final_production_tons":     rec.FinalProduction,
		"resources_used":            float64(rec.ResourcesUsed),
		"load_evenness":             rec.LoadEvenness,
	}
	for k, v := range kpis {
		s.plan.WithLabelValues(k).Set(v)
	}
	s.produced.Reset()
	for code, tons := range rec.Produced {
		s.produced.WithLabelValues(code).Set(tons)
	}
	return nil
}
