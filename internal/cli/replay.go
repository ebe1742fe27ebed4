package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/payops/autopilot/internal/audit"
)

var replayCmd = &cobra.Command{
	Use:   "replay <audit-log>",
	Short: "Summarize decisions from an audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := audit.Read(args[0])
		if err != nil {
			return err
		}
		s := audit.Summarize(entries)

		fmt.Printf("entries:          %d\n", s.Entries)
		fmt.Printf("actions:          %d\n", s.Actions)
		fmt.Printf("no-actions:       %d\n", s.NoActions)
		fmt.Printf("min-freq forced:  %d\n", s.MinFreq)
		fmt.Printf("escalations:      %d\n", s.Escalations)
		fmt.Printf("total NRV:        %.2f\n", s.TotalNRV)

		if len(s.ByActionType) > 0 {
			fmt.Println("by action type:")
			types := make([]string, 0, len(s.ByActionType))
			for t := range s.ByActionType {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("  %-24s %d\n", t, s.ByActionType[t])
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
