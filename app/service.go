package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilianp07/millplan/config"
	"github.com/kilianp07/millplan/core/events"
	coremetrics "github.com/kilianp07/millplan/core/metrics"
	"github.com/kilianp07/millplan/core/milp"
	"github.com/kilianp07/millplan/core/model"
	"github.com/kilianp07/millplan/core/monitoring"
	"github.com/kilianp07/millplan/core/planning"
	"github.com/kilianp07/millplan/core/runlog"
	"github.com/kilianp07/millplan/core/timeline"
	"github.com/kilianp07/millplan/infra/logger"
	"github.com/kilianp07/millplan/infra/metrics"
	inframon "github.com/kilianp07/millplan/infra/monitoring"
	"github.com/kilianp07/millplan/infra/mqtt"
	"github.com/kilianp07/millplan/internal/eventbus"
	"github.com/kilianp07/millplan/pkg/export"
)

const busBuffer = 256

// Service wires the planner to its sinks, run log and publisher.
type Service struct {
	cfg       *config.Config
	plant     *model.Plant
	planner   *planning.Planner
	sink      coremetrics.MetricsSink
	store     runlog.Store
	publisher *mqtt.PlanPublisher
	bus       *eventbus.Bus
	collector <-chan struct{}
	cancel    context.CancelFunc
	log       logger.Logger
}

// New creates a Service from the configuration and plant. The Prometheus
// endpoint, when configured, is served until Close.
func New(cfg *config.Config, plant *model.Plant) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	logg := logger.New("service")

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	store, err := runlog.Open(cfg.RunLog)
	if err != nil {
		return nil, fmt.Errorf("run log: %w", err)
	}
	var pub *mqtt.PlanPublisher
	if cfg.MQTT.Enabled() {
		pub, err = mqtt.NewPlanPublisher(cfg.MQTT)
		if err != nil {
			closeStore(store, logg)
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
	}

	bus := eventbus.NewWithBuffer(busBuffer)
	engine := newEngine(cfg.Solver, cfg.Solver.TimeLimit())
	planner, err := planning.NewPlanner(plant, engine, cfg.Solver.Options(), bus, logger.New("planner"))
	if err != nil {
		bus.Close()
		closeStore(store, logg)
		if pub != nil {
			pub.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		cfg:       cfg,
		plant:     plant,
		planner:   planner,
		sink:      sink,
		store:     store,
		publisher: pub,
		bus:       bus,
		collector: metrics.StartEventCollector(ctx, bus, sink),
		cancel:    cancel,
		log:       logg,
	}
	if addr := cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				logg.Errorf("prom server: %v", err)
			}
		}()
	}
	return svc, nil
}

func newEngine(cfg config.SolverConfig, limit time.Duration) *milp.BranchAndBound {
	engine := milp.NewBranchAndBound(limit, logger.New("milp"))
	engine.MaxNodes = cfg.MaxNodes
	engine.Gap = cfg.Gap
	return engine
}

// Plant returns the plant the service plans.
func (s *Service) Plant() *model.Plant { return s.plant }

// Plan solves one horizon. A non-positive horizon selects the plant default.
func (s *Service) Plan(ctx context.Context, horizon int) (*planning.Result, error) {
	if horizon <= 0 {
		horizon = s.plant.Horizon
	}
	lp := loggedPlanner{planner: s.planner, svc: s, source: "plan"}
	return lp.Plan(ctx, horizon)
}

// Recommend runs the horizon feasibility search with the probe time limit
// and returns the plan of the smallest feasible horizon.
func (s *Service) Recommend(ctx context.Context) (*planning.Result, error) {
	engine := newEngine(s.cfg.Solver, s.cfg.Search.ProbeTimeLimit())
	probe, err := planning.NewPlanner(s.plant, engine, s.cfg.Solver.Options(), s.bus, logger.New("planner"))
	if err != nil {
		return nil, err
	}
	search := &planning.Search{
		Plant:      s.plant,
		Planner:    loggedPlanner{planner: probe, svc: s, source: "recommend"},
		MinHorizon: s.cfg.Search.MinHorizon,
		MaxHorizon: s.cfg.Search.MaxHorizon,
		Bus:        s.bus,
		Log:        logger.New("search"),
	}
	h, err := search.Find(ctx)
	if err != nil {
		return nil, err
	}
	res, ok := search.Result(h)
	if !ok {
		return nil, fmt.Errorf("horizon %d was not probed", h)
	}
	s.log.Infof("recommended horizon %d (%d solves)", h, search.Probes())
	return res, nil
}

// Timeline splits every resource of the schedule into day blocks at hour
// granularity.
func (s *Service) Timeline(sched *planning.Schedule) []export.ResourceBlocks {
	out := make([]export.ResourceBlocks, 0, len(sched.Resources))
	for _, rs := range sched.Resources {
		id := rs.Resource
		perDay := float64(s.plant.HoursPerDay) / float64(s.plant.StepHours)
		rate := func(code string) float64 {
			r, _ := s.plant.Rate(id, code)
			return r * perDay
		}
		days := timeline.SplitResource(rs, s.plant.StepHours, s.plant.HoursPerDay, s.plant.Resources[id].ChangeoverHours, rate)
		out = append(out, export.ResourceBlocks{Resource: id, Days: days})
	}
	return out
}

// Report exports the selected plan, publishes it over MQTT and emits its
// KPIs on the event bus. It returns the written file paths.
func (s *Service) Report(ctx context.Context, res *planning.Result) ([]string, error) {
	if res == nil || res.Schedule == nil {
		return nil, fmt.Errorf("%w: result has no schedule", planning.ErrNoSolution)
	}
	s.bus.Publish(newPlanEvent(res))

	files, err := s.export(res)
	if err != nil {
		return files, err
	}
	if s.publisher != nil {
		if err := s.publisher.PublishPlan(ctx, res); err != nil {
			s.log.Errorf("publish plan %s: %v", res.RunID, err)
		}
	}
	return files, nil
}

// Runs queries the run log. It returns nothing when the log is disabled.
func (s *Service) Runs(ctx context.Context, q runlog.RunQuery) ([]runlog.RunRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Query(ctx, q)
}

func (s *Service) export(res *planning.Result) ([]string, error) {
	exp := s.cfg.Export
	if len(exp.Formats) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(exp.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("export dir: %w", err)
	}
	base := filepath.Join(exp.Dir, fmt.Sprintf("plan-h%d-%s", res.Horizon, res.RunID))
	var files []string
	write := func(path string, fn func(f *os.File) error) error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		files = append(files, path)
		return nil
	}
	if exp.Has("json") {
		if err := write(base+".json", func(f *os.File) error { return export.WriteScheduleJSON(f, res.Schedule) }); err != nil {
			return files, err
		}
	}
	if exp.Has("csv") {
		if err := write(base+".csv", func(f *os.File) error { return export.WriteScheduleCSV(f, res.Schedule) }); err != nil {
			return files, err
		}
	}
	if exp.Has("blocks") {
		blocks := s.Timeline(res.Schedule)
		if err := write(base+"-blocks.csv", func(f *os.File) error { return export.WriteBlocksCSV(f, blocks) }); err != nil {
			return files, err
		}
	}
	if exp.Has("html") {
		if err := write(base+".html", func(f *os.File) error { return export.WriteScheduleHTML(f, res.Schedule) }); err != nil {
			return files, err
		}
	}
	return files, nil
}

// Close drains the collector and releases the store, publisher and sinks.
func (s *Service) Close() error {
	s.bus.Close()
	select {
	case <-s.collector:
	case <-time.After(5 * time.Second):
		s.log.Warnf("event collector did not drain, %d events dropped", s.bus.Dropped())
	}
	s.cancel()
	if s.publisher != nil {
		s.publisher.Close()
	}
	closeSink(s.sink)
	monitoring.Flush(2 * time.Second)
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func closeSink(sink coremetrics.MetricsSink) {
	if m, ok := sink.(*coremetrics.MultiSink); ok {
		for _, s := range m.Sinks() {
			closeSink(s)
		}
		return
	}
	if c, ok := sink.(interface{ Close() }); ok {
		c.Close()
	}
}

func closeStore(store runlog.Store, log logger.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		log.Errorf("run log close: %v", err)
	}
}

func (s *Service) logRun(ctx context.Context, res *planning.Result, source string, err error) {
	if s.store == nil || res == nil {
		return
	}
	if aerr := s.store.Append(context.WithoutCancel(ctx), runlog.NewRunRecord(res, source, err)); aerr != nil {
		s.log.Errorf("run log append: %v", aerr)
		monitoring.CaptureException(aerr, map[string]string{"module": "runlog", "run_id": res.RunID})
	}
}

// loggedPlanner records every solve of the wrapped planner in the run log.
type loggedPlanner struct {
	planner planning.HorizonPlanner
	svc     *Service
	source  string
}

func (l loggedPlanner) Plan(ctx context.Context, horizon int) (*planning.Result, error) {
	res, err := l.planner.Plan(ctx, horizon)
	if !errors.Is(err, context.Canceled) {
		l.svc.logRun(ctx, res, l.source, err)
	}
	return res, err
}

func newPlanEvent(res *planning.Result) events.PlanEvent {
	s := res.Schedule
	ev := events.PlanEvent{
		RunID:                   res.RunID,
		Horizon:                 res.Horizon,
		Status:                  res.Status.String(),
		Objective:               res.Objective,
		ChangeoverHours:         s.Metrics.ChangeoverHours,
		BlackoutChangeoverHours: s.Metrics.BlackoutChangeoverHours,
		Stage1Production:        s.Metrics.Stage1Production,
		FinalProduction:         s.Metrics.FinalProduction,
		ResourcesUsed:           s.Metrics.ResourcesUsed,
		LoadEvenness:            s.Metrics.LoadEvenness,
		TargetsMet:              s.TargetsMet,
	}
	final := 0
	for st := range s.Produced {
		final = max(final, st)
	}
	if final > 0 {
		ev.Produced = make(map[string]float64, len(s.Produced[final]))
		for k, v := range s.Produced[final] {
			ev.Produced[k] = v
		}
	}
	return ev
}
