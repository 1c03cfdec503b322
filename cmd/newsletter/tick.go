package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jeylabbb/newsletter-hq/internal/app"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler tick and exit",
	Long:  `Scans due scheduled campaigns, due A/B evaluations and due workflow waits, processes each once, and exits. Useful for cron-driven deployments and ops.`,
	RunE:  runTick,
}

func init() {
	tickCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/newsletter/newsletter.yaml", "Path to configuration file")
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Scheduler().Tick(context.Background()); err != nil {
		return err
	}

	fmt.Println("Tick completed")
	return nil
}
