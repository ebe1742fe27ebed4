package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/payops/autopilot/internal/config"
	"github.com/payops/autopilot/internal/scenario"
)

var scenarioFlags struct {
	config string
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario <file>",
	Short: "Run a scripted fault scenario and check expectations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := config.NewLogger(config.LoggingConfig{Level: "warn", Format: "text"}, os.Stderr)
		result, err := scenario.LoadAndRun(args[0], scenarioFlags.config, log)
		if err != nil {
			return err
		}

		fmt.Printf("scenario: %s\n", result.Name)
		for _, rec := range result.Cycles {
			action := "-"
			if rec.Acted {
				action = rec.Action
				if rec.MinFreq {
					action += " (min-freq)"
				}
			}
			patterns := "-"
			if len(rec.Patterns) > 0 {
				patterns = strings.Join(rec.Patterns, ",")
			}
			fmt.Printf("  cycle %2d  patterns=%-40s action=%s\n", rec.Cycle, patterns, action)
		}
		for _, r := range result.Results {
			status := "FAIL"
			if r.Passed {
				status = fmt.Sprintf("ok (cycle %d)", r.MetAtCycle)
			}
			fmt.Printf("  expect %+v: %s\n", r.Expectation, status)
		}

		if result.Failed > 0 {
			return fmt.Errorf("%d/%d expectations failed", result.Failed, result.Failed+result.Passed)
		}
		return nil
	},
}

func init() {
	scenarioCmd.Flags().StringVar(&scenarioFlags.config, "config", "", "path to YAML configuration")
	rootCmd.AddCommand(scenarioCmd)
}
