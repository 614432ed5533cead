// Package export writes decoded schedules and day blocks as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/kilianp07/millplan/core/planning"
	"github.com/kilianp07/millplan/core/timeline"
)

type resourceJSON struct {
	Resource                string    `json:"resource"`
	Stage                   int       `json:"stage"`
	Labels                  []string  `json:"labels"`
	Tons                    []float64 `json:"tons"`
	ChangeoverHours         float64   `json:"changeover_hours"`
	BlackoutChangeoverHours float64   `json:"blackout_changeover_hours"`
	Used                    bool      `json:"used"`
	Load                    int       `json:"load"`
}

type diagnosticJSON struct {
	Resource string `json:"resource"`
	Step     int    `json:"step"`
	Message  string `json:"message"`
}

type scheduleJSON struct {
	Horizon     int                           `json:"horizon"`
	Status      string                        `json:"status"`
	Objective   float64                       `json:"objective"`
	TargetsMet  bool                          `json:"targets_met"`
	Metrics     planning.Metrics              `json:"metrics"`
	Produced    map[string]map[string]float64 `json:"produced"`
	Shortfall   map[string]float64            `json:"shortfall,omitempty"`
	Diagnostics []diagnosticJSON              `json:"diagnostics,omitempty"`
	Resources   []resourceJSON                `json:"resources"`
}

// WriteScheduleJSON writes the schedule to w in JSON format. Stage keys of the
// produced table are rendered as "stage<N>".
func WriteScheduleJSON(w io.Writer, s *planning.Schedule) error {
	out := scheduleJSON{
		Horizon:    s.Horizon,
		Status:     s.Status.String(),
		Objective:  s.Objective,
		TargetsMet: s.TargetsMet,
		Metrics:    s.Metrics,
		Produced:   make(map[string]map[string]float64, len(s.Produced)),
		Shortfall:  s.Shortfall,
	}
	for st, byCampaign := range s.Produced {
		out.Produced[fmt.Sprintf("stage%d", st)] = byCampaign
	}
	for _, d := range s.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, diagnosticJSON{Resource: d.Resource, Step: d.Step, Message: d.Message})
	}
	for _, r := range s.Resources {
		rj := resourceJSON{
			Resource:                r.Resource,
			Stage:                   r.Stage,
			Labels:                  r.Labels(),
			Tons:                    make([]float64, len(r.Slots)),
			ChangeoverHours:         r.ChangeoverHours,
			BlackoutChangeoverHours: r.BlackoutChangeoverHours,
			Used:                    r.Used,
			Load:                    r.Load,
		}
		for i, sl := range r.Slots {
			rj.Tons[i] = sl.Tons
		}
		out.Resources = append(out.Resources, rj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// WriteScheduleCSV writes one row per (stage, resource, step).
func WriteScheduleCSV(w io.Writer, s *planning.Schedule) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"stage", "resource", "step", "label", "tons"}); err != nil {
		return err
	}
	for _, r := range s.Resources {
		for i, sl := range r.Slots {
			rec := []string{
				strconv.Itoa(r.Stage),
				r.Resource,
				strconv.Itoa(i + 1),
				sl.Label(),
				formatFloat(sl.Tons),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// ResourceBlocks holds the day blocks of one resource.
type ResourceBlocks struct {
	Resource string
	Days     [][]timeline.Block
}

// WriteBlocksCSV writes one row per day block. Days are 1-based.
func WriteBlocksCSV(w io.Writer, blocks []ResourceBlocks) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"resource", "day", "kind", "campaign", "from", "to", "hours", "tons"}); err != nil {
		return err
	}
	for _, rb := range blocks {
		for d, day := range rb.Days {
			for _, b := range day {
				rec := []string{
					rb.Resource,
					strconv.Itoa(d + 1),
					b.Kind.String(),
					b.Campaign,
					b.From,
					b.To,
					strconv.Itoa(b.Hours),
					formatFloat(b.Tons),
				}
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
