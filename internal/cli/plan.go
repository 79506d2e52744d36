package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/overseer/internal/config"
	"github.com/ppiankov/overseer/internal/planner"
	"github.com/ppiankov/overseer/internal/require"
)

var planAutonomy string

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVar(&planAutonomy, "autonomy", "", "Autonomy tier (timid/cautious/balanced/bold/crazy); overrides config")
}

var planCmd = &cobra.Command{
	Use:   "plan <task-file>",
	Short: "Show the next-step plan for a task description",
	Long:  "Parses the task into requirements and prints the planner's proposed\ntasks in priority order with a cycle estimate.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read task file: %w", err)
	}

	tracker := require.NewTracker()
	tracker.ParseRequirements(string(data))

	autonomy := cfg.Session.Autonomy
	if planAutonomy != "" {
		autonomy = planAutonomy
	}

	plan := planner.PlanNextSteps(tracker.Pending(), planner.Context{
		Autonomy:               planner.ParseAutonomy(autonomy),
		MaxFailuresBeforePause: cfg.Session.MaxFailuresBeforePause,
	})

	out, _ := json.MarshalIndent(plan, "", "  ")
	fmt.Println(string(out))
	return nil
}
