package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/overseer/internal/config"
	"github.com/ppiankov/overseer/internal/snapshot"
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect persisted sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted sessions, most recent first",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a persisted session and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func openSnapshots() (*snapshot.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return snapshot.Open(cfg.SnapshotDB)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openSnapshots()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	ids, err := store.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No persisted sessions.")
		return nil
	}

	fmt.Printf("%-38s %-11s %-10s %-6s %s\n", "SESSION", "PHASE", "AUTONOMY", "ITER", "UPDATED")
	for _, id := range ids {
		snap, ok, err := store.Load(ctx, id)
		if err != nil || !ok {
			continue
		}
		fmt.Printf("%-38s %-11s %-10s %-6d %s\n",
			snap.SessionID, snap.Phase, snap.Autonomy, snap.Iteration,
			snap.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openSnapshots()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %q\n", args[0])
	return nil
}
