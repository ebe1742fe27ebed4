package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/payops/autopilot/internal/approval"
	"github.com/payops/autopilot/internal/config"
)

var pendingFlags struct {
	config string
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List decisions waiting for human approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(pendingFlags.config)
		if err != nil {
			return err
		}
		store, err := approval.NewStore(cfg.Paths.ApprovalDir)
		if err != nil {
			return err
		}
		pending, err := store.Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("no pending approvals")
			return nil
		}
		for _, req := range pending {
			fmt.Printf("%s  cycle=%d  %s on %s\n    %s\n",
				req.ID, req.CycleID, req.Option.Type.String(), req.Option.Target, req.Rationale)
		}
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a parked decision",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveApproval(approval.StatusApproved),
}

var denyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Deny a parked decision",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveApproval(approval.StatusDenied),
}

func resolveApproval(status approval.Status) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(pendingFlags.config)
		if err != nil {
			return err
		}
		store, err := approval.NewStore(cfg.Paths.ApprovalDir)
		if err != nil {
			return err
		}
		if err := store.Resolve(args[0], status); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], status)
		return nil
	}
}

func init() {
	pendingCmd.Flags().StringVar(&pendingFlags.config, "config", "", "path to YAML configuration")
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
}
