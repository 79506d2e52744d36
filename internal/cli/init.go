package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/overseer/internal/config"
)

var initForce bool

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap overseer configuration",
	Long:  "Creates ~/.overseer/ with a commented default config.yaml.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".overseer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("%s already exists (use --force to overwrite).\n", path)
			return nil
		}
	}

	if err := os.WriteFile(path, []byte(config.DefaultConfigYAML()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Println("overseer init complete.")
	fmt.Println()
	fmt.Printf("Created:\n  %s\n\n", path)
	fmt.Println("Try:")
	fmt.Println("  overseer check shell --command 'rm -rf /'")
	fmt.Println("  echo 'print(1 + 1)' | overseer exec --language starlark -")
	return nil
}
