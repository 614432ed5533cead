package metrics

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/millplan/core/metrics"
	"github.com/kilianp07/millplan/infra/logger"
)

// InfluxSink writes planner activity to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client resources.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordSolve writes one point per solved horizon.
func (s *InfluxSink) RecordSolve(rec coremetrics.SolveRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("planner_solve").
		AddTag("run_id", rec.RunID).
		AddTag("status", rec.Status).
		AddTag("targets_met", strconv.FormatBool(rec.TargetsMet)).
		AddField("horizon", rec.Horizon).
		AddField("objective", round3(rec.Objective)).
		AddField("nodes", rec.Nodes).
		AddField("variables", rec.Variables).
		AddField("constraints", rec.Constraints).
		AddField("elapsed_ms", round3(rec.Elapsed.Seconds()*1000))
	if rec.Error != "" {
		p = p.AddField("error", rec.Error)
	}
	p = p.SetTime(stamp(rec.Time))
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordProbe writes a horizon search probe.
func (s *InfluxSink) RecordProbe(rec coremetrics.ProbeRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("planner_probe").
		AddTag("phase", rec.Phase).
		AddTag("feasible", strconv.FormatBool(rec.Feasible)).
		AddTag("cached", strconv.FormatBool(rec.Cached)).
		AddField("horizon", rec.Horizon).
		SetTime(stamp(rec.Time))
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPlan writes the plan KPIs followed by one point per campaign output,
// in a single request.
func (s *InfluxSink) RecordPlan(rec coremetrics.PlanRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts := stamp(rec.Time)
	points := []*write.Point{write.NewPointWithMeasurement("planner_plan").
		AddTag("run_id", rec.RunID).
		AddTag("status", rec.Status).
		AddTag("targets_met", strconv.FormatBool(rec.TargetsMet)).
		AddField("horizon", rec.Horizon).
		AddField("objective", round3(rec.Objective)).
		AddField("changeover_hours", round3(rec.ChangeoverHours)).
		AddField("blackout_changeover_hours", round3(rec.BlackoutChangeoverHours)).
		AddField("stage1_tons", round3(rec.Stage1Production)).
		AddField("final_tons", round3(rec.FinalProduction)).
		AddField("resources_used", rec.ResourcesUsed).
		AddField("load_evenness", round3(rec.LoadEvenness)).
		SetTime(ts)}

	codes := make([]string, 0, len(rec.Produced))
	for c := range rec.Produced {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		points = append(points, write.NewPointWithMeasurement("planner_campaign_output").
			AddTag("run_id", rec.RunID).
			AddTag("campaign", c).
			AddField("tons", round3(rec.Produced[c])).
			SetTime(ts))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordDiagnostic writes a decoding inconsistency.
func (s *InfluxSink) RecordDiagnostic(rec coremetrics.DiagnosticRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("planner_diagnostic").
		AddTag("run_id", rec.RunID).
		AddTag("resource", rec.Resource).
		AddField("step", rec.Step).
		AddField("message", rec.Message).
		SetTime(stamp(rec.Time))
	return s.writeAPI.WritePoint(ctx, p)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
