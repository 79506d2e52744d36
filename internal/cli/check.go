package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/overseer/internal/approval"
	"github.com/ppiankov/overseer/internal/config"
	"github.com/ppiankov/overseer/internal/governor"
	"github.com/ppiankov/overseer/internal/model"
)

var (
	checkCommand string
	checkPath    string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkCommand, "command", "", "Command text for shell-family tools")
	checkCmd.Flags().StringVar(&checkPath, "path", "", "Target path for file-family tools")
}

var checkCmd = &cobra.Command{
	Use:   "check <tool>",
	Short: "Classify a tool invocation without executing it (dry-run)",
	Long: "Runs the destructive-operation classifier and the governor gate on a\n" +
		"hypothetical tool call. Exit code 77 indicates the action would be\n" +
		"denied or held for approval.",
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := approval.NewStore(cfg.ApprovalDir)
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	input := map[string]any{}
	if checkCommand != "" {
		input["command"] = checkCommand
	}
	if checkPath != "" {
		input["path"] = checkPath
	}

	gov := governor.New(cfg.Governor, store)
	gate := gov.GateAction(args[0], input)

	out, _ := json.MarshalIndent(gate, "", "  ")
	fmt.Println(string(out))

	if gate.Decision == model.RequireApproval && gate.ApprovalKey != "" {
		fmt.Fprintf(os.Stderr, "\nTo approve, run: overseer approve %s\n", gate.ApprovalKey)
	}

	if gate.Decision != model.Allow {
		os.Exit(77)
	}
	return nil
}
