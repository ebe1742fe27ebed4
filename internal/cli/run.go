package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/payops/autopilot/internal/config"
	"github.com/payops/autopilot/internal/loop"
)

var runFlags struct {
	config    string
	duration  float64
	timeScale float64
	snapshot  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runFlags.config)
		if err != nil {
			return err
		}
		if runFlags.duration > 0 {
			cfg.Simulation.DurationSeconds = runFlags.duration
		}
		if runFlags.timeScale > 0 {
			cfg.Simulation.TimeScale = runFlags.timeScale
		}
		if runFlags.snapshot != "" {
			cfg.Paths.Snapshot = runFlags.snapshot
		}
		if err := cfg.Validate(); err != nil {
			// Configuration failure is the only fatal start error class.
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}

		log := config.NewLogger(cfg.Logging, os.Stderr)

		l, err := loop.New(cfg, log)
		if err != nil {
			return err
		}
		defer l.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Threshold edits apply live; topology changes need a restart.
		if runFlags.config != "" {
			stopWatch, err := config.Watch(runFlags.config, log, l.SetThresholds)
			if err != nil {
				log.Warn("config watch unavailable", "error", err)
			} else {
				defer stopWatch()
			}
		}

		return l.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.config, "config", "", "path to YAML configuration")
	runCmd.Flags().Float64Var(&runFlags.duration, "duration", 0, "simulated seconds to run (0 = until interrupted)")
	runCmd.Flags().Float64Var(&runFlags.timeScale, "time-scale", 0, "simulated seconds per wall-clock second")
	runCmd.Flags().StringVar(&runFlags.snapshot, "snapshot", "", "override snapshot path")
	rootCmd.AddCommand(runCmd)
}
