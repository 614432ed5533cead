package export

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/millplan/core/planning"
)

// WriteScheduleHTML renders an HTML page with the cumulative output per stage
// and one stacked bar chart of tons per step for every resource.
func WriteScheduleHTML(w io.Writer, s *planning.Schedule) error {
	codes := scheduleCampaigns(s)
	page := components.NewPage()
	page.SetPageTitle(fmt.Sprintf("Plan h=%d (%s)", s.Horizon, s.Status))
	page.AddCharts(outputChart(s, codes))
	for _, r := range s.Resources {
		page.AddCharts(resourceChart(r, codes))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func outputChart(s *planning.Schedule, codes []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Output per stage", Subtitle: fmt.Sprintf("targets met: %v", s.TargetsMet)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Campaign"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "t"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(codes)
	stages := make([]int, 0, len(s.Produced))
	for st := range s.Produced {
		stages = append(stages, st)
	}
	sort.Ints(stages)
	for _, st := range stages {
		data := make([]opts.BarData, len(codes))
		for i, k := range codes {
			data[i] = opts.BarData{Value: round2(s.Produced[st][k])}
		}
		bar.AddSeries("stage "+strconv.Itoa(st), data)
	}
	return bar
}

func resourceChart(r *planning.ResourceSchedule, codes []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s (stage %d)", r.Resource, r.Stage),
			Subtitle: fmt.Sprintf("changeover %.0f h, load %d steps", r.ChangeoverHours, r.Load),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "t"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	steps := make([]string, len(r.Slots))
	for i, sl := range r.Slots {
		steps[i] = strconv.Itoa(i+1) + " " + sl.Label()
	}
	bar.SetXAxis(steps)
	for _, k := range codes {
		data := make([]opts.BarData, len(r.Slots))
		ran := false
		for i, sl := range r.Slots {
			if sl.Kind == planning.KindCampaign && sl.Campaign == k {
				data[i] = opts.BarData{Value: round2(sl.Tons)}
				ran = true
			} else {
				data[i] = opts.BarData{Value: 0}
			}
		}
		if ran {
			bar.AddSeries(k, data, charts.WithBarChartOpts(opts.BarChart{Stack: "tons"}))
		}
	}
	return bar
}

// scheduleCampaigns returns the campaign codes present in the schedule,
// sorted.
func scheduleCampaigns(s *planning.Schedule) []string {
	seen := map[string]bool{}
	for _, byCode := range s.Produced {
		for k := range byCode {
			seen[k] = true
		}
	}
	for _, r := range s.Resources {
		for _, sl := range r.Slots {
			if sl.Kind == planning.KindCampaign {
				seen[sl.Campaign] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
