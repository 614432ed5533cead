package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/millplan/app"
	"github.com/kilianp07/millplan/config"
	"github.com/kilianp07/millplan/core/monitoring"
	"github.com/kilianp07/millplan/infra/logger"
)

var (
	cfgPath   string
	plantPath string
)

var rootCmd = &cobra.Command{
	Use:           "millplan",
	Short:         "Campaign planner for multi-stage furnace and mill lines",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVarP(&plantPath, "plant", "p", "", "plant data file, overrides plant_file")
}

// Execute runs the CLI.
func Execute() error {
	defer monitoring.Recover()
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if plantPath != "" {
		cfg.PlantFile = plantPath
	}
	return cfg, nil
}

// withService loads the configuration and plant, builds the service and runs
// fn with a context cancelled on SIGINT or SIGTERM.
func withService(fn func(ctx context.Context, svc *app.Service) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	plant, err := cfg.LoadPlant()
	if err != nil {
		return fmt.Errorf("load plant: %w", err)
	}
	svc, err := app.New(cfg, plant)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return fn(ctx, svc)
}
