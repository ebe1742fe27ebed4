package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Autonomous operations agent for a payment-processing fleet",
	Long: "Observes a stream of payment-authorization outcomes, detects anomalies " +
		"against rolling baselines, ranks interventions by net revenue value, and " +
		"executes them under guardrails with time-bound expiry and rollback.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
