package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending approval requests",
	Long:  "Shows all approval requests in the store with their status, risk, and timestamps.",
	RunE:  runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	store, err := openApprovalStore()
	if err != nil {
		return err
	}

	list, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	fmt.Printf("%-30s %-12s %-8s %-40s %s\n", "KEY", "STATUS", "RISK", "DESCRIPTION", "CREATED")
	for _, a := range list {
		fmt.Printf("%-30s %-12s %-8s %-40s %s\n",
			a.Key,
			a.Status,
			a.RiskLevel,
			truncate(a.Description, 40),
			a.CreatedAt.Format("15:04:05"),
		)
	}
	return nil
}
