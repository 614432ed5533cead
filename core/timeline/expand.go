package timeline

import "github.com/kilianp07/millplan/core/planning"

// ExpandDays repeats every step label stepHours times. Labels that are not
// campaign codes become idle hours.
func ExpandDays(labels []string, stepHours int) []string {
	if stepHours <= 0 {
		return nil
	}
	out := make([]string, 0, len(labels)*stepHours)
	for _, l := range labels {
		if !planning.IsCampaignLabel(l) {
			l = ""
		}
		for i := 0; i < stepHours; i++ {
			out = append(out, l)
		}
	}
	return out
}

// SplitResource expands a decoded resource timeline to hours and splits it into
// day blocks using the resource's changeover constant.
func SplitResource(rs *planning.ResourceSchedule, stepHours, hoursPerDay, changeoverHours int, rate func(code string) float64) [][]Block {
	sp := Splitter{HoursPerDay: hoursPerDay, ChangeoverHours: changeoverHours, Rate: rate}
	return sp.Split(ExpandDays(rs.Labels(), stepHours))
}
