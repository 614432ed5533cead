package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/millplan/app"
	"github.com/kilianp07/millplan/core/timeline"
	"github.com/kilianp07/millplan/pkg/export"
)

var (
	timelineHorizon  int
	timelineResource string
	timelineCSV      bool
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Solve a horizon and print the hour-level day blocks",
	RunE:  runTimeline,
}

func init() {
	timelineCmd.Flags().IntVar(&timelineHorizon, "horizon", 0, "horizon in steps (plant default when zero)")
	timelineCmd.Flags().StringVar(&timelineResource, "resource", "", "only print this resource")
	timelineCmd.Flags().BoolVar(&timelineCSV, "csv", false, "print CSV instead of text")
	rootCmd.AddCommand(timelineCmd)
}

func runTimeline(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, svc *app.Service) error {
		res, err := svc.Plan(ctx, timelineHorizon)
		if err != nil {
			return err
		}
		if res.Schedule == nil {
			return fmt.Errorf("horizon %d: no plan (status %s)", res.Horizon, res.Status)
		}
		var blocks []export.ResourceBlocks
		for _, rb := range svc.Timeline(res.Schedule) {
			if timelineResource == "" || rb.Resource == timelineResource {
				blocks = append(blocks, rb)
			}
		}
		if len(blocks) == 0 {
			return fmt.Errorf("unknown resource %s", timelineResource)
		}
		w := cmd.OutOrStdout()
		if timelineCSV {
			return export.WriteBlocksCSV(w, blocks)
		}
		for _, rb := range blocks {
			fmt.Fprintf(w, "%s (%d h)\n", rb.Resource, timeline.TotalHours(rb.Days))
			for d, day := range rb.Days {
				fmt.Fprintf(w, "  day %d:", d+1)
				for _, b := range day {
					fmt.Fprintf(w, " %s", blockText(b))
				}
				fmt.Fprintln(w)
			}
		}
		return nil
	})
}

func blockText(b timeline.Block) string {
	switch b.Kind {
	case timeline.BlockCampaign:
		return fmt.Sprintf("[%s %dh %.1ft]", b.Campaign, b.Hours, b.Tons)
	case timeline.BlockChangeover:
		return fmt.Sprintf("[%s->%s %dh]", b.From, b.To, b.Hours)
	default:
		return fmt.Sprintf("[idle %dh]", b.Hours)
	}
}
