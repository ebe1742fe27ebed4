package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/payops/autopilot/internal/audit"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <audit-log>",
	Short: "Verify the audit log's hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := audit.Verify(args[0])
		if err != nil {
			return err
		}
		if !result.Intact() {
			return fmt.Errorf("chain broken at line %d (%d entries verified)", result.FirstBreak, result.Entries)
		}
		fmt.Printf("chain intact: %d entries\n", result.Entries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
