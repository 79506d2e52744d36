package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/overseer/internal/require"
)

var requirementsJSON bool

func init() {
	rootCmd.AddCommand(requirementsCmd)
	requirementsCmd.Flags().BoolVar(&requirementsJSON, "json", false, "Print requirements as JSON")
}

var requirementsCmd = &cobra.Command{
	Use:   "requirements <task-file>",
	Short: "Parse a task description into trackable requirements",
	Long: "Splits the task text into requirement statements (one per line or modal\n" +
		"clause), assigns priorities from modal strength (must/should/could), and\n" +
		"prints the resulting set with aggregate stats.",
	Args: cobra.ExactArgs(1),
	RunE: runRequirements,
}

func runRequirements(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read task file: %w", err)
	}

	tracker := require.NewTracker()
	tracker.ParseRequirements(string(data))

	if requirementsJSON {
		out, _ := json.MarshalIndent(tracker.All(), "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("%-10s %-8s %-10s %s\n", "STATUS", "PRIORITY", "SOURCE", "DESCRIPTION")
	for _, r := range tracker.All() {
		fmt.Printf("%-10s %-8s %-10s %s\n", r.Status, r.Priority, r.Source, truncate(r.Description, 80))
	}

	stats := tracker.Stats()
	fmt.Printf("\n%d requirements (%d high, of %d total statements parsed)\n",
		stats.Total, countPriority(tracker, require.PriorityHigh), stats.Total)
	return nil
}

func countPriority(t *require.Tracker, p require.Priority) int {
	n := 0
	for _, r := range t.All() {
		if r.Priority == p {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
