package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(denyCmd)
}

var denyCmd = &cobra.Command{
	Use:   "deny <key>",
	Short: "Deny a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	store, err := openApprovalStore()
	if err != nil {
		return err
	}
	if err := store.Deny(args[0]); err != nil {
		return err
	}
	fmt.Printf("Denied %q\n", args[0])
	return nil
}
