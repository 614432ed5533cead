package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/millplan/api/runs"
	"github.com/kilianp07/millplan/core/runlog"
	"github.com/kilianp07/millplan/infra/logger"
)

var (
	runsSince  time.Duration
	runsStatus string
	runsLimit  int
	runsServe  string
	runsToken  string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List logged planning runs or serve them over HTTP",
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().DurationVar(&runsSince, "since", 0, "only runs newer than this duration")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by solve status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
	runsCmd.Flags().StringVar(&runsServe, "serve", "", "serve GET /api/runs on this address instead of printing")
	runsCmd.Flags().StringVar(&runsToken, "token", "", "bearer token required by the HTTP endpoint")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runlog.Open(cfg.RunLog)
	if err != nil {
		return fmt.Errorf("run log: %w", err)
	}
	if store == nil {
		return fmt.Errorf("run log is disabled")
	}
	defer func() { _ = store.Close() }()

	if runsServe != "" {
		return serveRuns(store)
	}

	q := runlog.RunQuery{Status: runsStatus, Limit: runsLimit}
	if runsSince > 0 {
		q.Start = time.Now().Add(-runsSince)
	}
	recs, err := store.Query(context.Background(), q)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "time\trun\tsource\thorizon\tstatus\tobjective\ttargets_met")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%.2f\t%v\n",
			r.Timestamp.Format(time.RFC3339), r.RunID, r.Source, r.Horizon, r.Status, r.Objective, r.TargetsMet)
	}
	return tw.Flush()
}

func serveRuns(store runlog.Store) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/api/runs", runs.NewRunHandler(store, runsToken))
	srv := &http.Server{Addr: runsServe, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log := logger.New("runs-api")
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("runs api shutdown: %v", err)
		}
	}()
	log.Infof("serving run log on %s", runsServe)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
