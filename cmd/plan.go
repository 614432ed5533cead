package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/millplan/app"
	"github.com/kilianp07/millplan/core/planning"
)

var (
	planHorizon   int
	planRecommend bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Solve the plan for one horizon and export it",
	RunE:  runPlan,
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Find the smallest horizon that meets every target",
	RunE:  runRecommend,
}

func init() {
	planCmd.Flags().IntVar(&planHorizon, "horizon", 0, "horizon in steps (plant default when zero)")
	planCmd.Flags().BoolVar(&planRecommend, "recommend", false, "search for a feasible horizon when the plan falls short")
	rootCmd.AddCommand(planCmd, recommendCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, svc *app.Service) error {
		res, err := svc.Plan(ctx, planHorizon)
		if err != nil {
			return err
		}
		if !res.Feasible() && planRecommend {
			fmt.Fprintf(cmd.OutOrStdout(), "horizon %d: status %s, targets met %v; searching for a feasible horizon\n",
				res.Horizon, res.Status, res.TargetsMet())
			rec, err := svc.Recommend(ctx)
			if err != nil {
				return fmt.Errorf("recommend: %w", err)
			}
			res = rec
		}
		return report(ctx, cmd.OutOrStdout(), svc, res)
	})
}

func runRecommend(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, svc *app.Service) error {
		res, err := svc.Recommend(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recommended horizon: %d\n", res.Horizon)
		return report(ctx, cmd.OutOrStdout(), svc, res)
	})
}

func report(ctx context.Context, w io.Writer, svc *app.Service, res *planning.Result) error {
	if res.Schedule == nil {
		return fmt.Errorf("horizon %d: no plan (status %s)", res.Horizon, res.Status)
	}
	printSchedule(w, res)
	files, err := svc.Report(ctx, res)
	for _, f := range files {
		fmt.Fprintf(w, "wrote %s\n", f)
	}
	return err
}

func printSchedule(w io.Writer, res *planning.Result) {
	s := res.Schedule
	fmt.Fprintf(w, "run %s horizon %d status %s objective %.2f targets met %v\n",
		res.RunID, res.Horizon, res.Status, res.Objective, s.TargetsMet)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	head := []string{"stage", "resource"}
	for t := 1; t <= s.Horizon; t++ {
		head = append(head, fmt.Sprint(t))
	}
	fmt.Fprintln(tw, strings.Join(head, "\t"))
	for _, rs := range s.Resources {
		row := append([]string{fmt.Sprint(rs.Stage), rs.Resource}, rs.Labels()...)
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()

	m := s.Metrics
	fmt.Fprintf(w, "changeover hours %.1f (blackout %.1f), stage 1 %.1f t, final %.1f t, resources used %d, load stddev %.2f\n",
		m.ChangeoverHours, m.BlackoutChangeoverHours, m.Stage1Production, m.FinalProduction, m.ResourcesUsed, m.LoadEvenness)
	if len(s.Shortfall) > 0 {
		codes := make([]string, 0, len(s.Shortfall))
		for k := range s.Shortfall {
			codes = append(codes, k)
		}
		sort.Strings(codes)
		for _, k := range codes {
			fmt.Fprintf(w, "shortfall %s: %.1f t\n", k, s.Shortfall[k])
		}
	}
}
