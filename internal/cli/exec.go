package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/overseer/internal/config"
	"github.com/ppiankov/overseer/internal/sandbox"
)

var (
	execLanguage  string
	execMaxTimeMs int
	execMemoryMB  int
	execNetwork   bool
	execWorkDir   string
	execJSON      bool
	execSelect    bool
)

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringVarP(&execLanguage, "language", "l", "", "Language (starlark/python/javascript/bash/go); inferred from the file extension when omitted")
	execCmd.Flags().IntVar(&execMaxTimeMs, "max-time-ms", 0, "Wall-clock deadline in milliseconds (0 = config default)")
	execCmd.Flags().IntVar(&execMemoryMB, "memory-mb", 0, "Memory cap in MB, container backend only (0 = config default)")
	execCmd.Flags().BoolVar(&execNetwork, "network", false, "Allow network access (container backend only)")
	execCmd.Flags().StringVar(&execWorkDir, "workdir", "", "Directory mounted writable into the container backend")
	execCmd.Flags().BoolVar(&execJSON, "json", false, "Print the full result as JSON")
	execCmd.Flags().BoolVar(&execSelect, "select", false, "Show backend selection without executing")
}

var execCmd = &cobra.Command{
	Use:   "exec <file>",
	Short: "Execute a code file in an isolated sandbox",
	Long: "Runs the file under the backend chosen by the static pre-check:\n" +
		"embedded interpreter for starlark, external process for clean scripts,\n" +
		"container for everything flagged or non-script. Use '-' to read stdin.\n" +
		"The sandbox exit code becomes the command's exit code; 124 means timeout.",
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

// extLanguages maps file extensions to sandbox languages.
var extLanguages = map[string]string{
	".star": "starlark",
	".py":   "python",
	".js":   "javascript",
	".sh":   "bash",
	".go":   "go",
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	code, err := readSource(args[0])
	if err != nil {
		return err
	}

	language := execLanguage
	if language == "" {
		language = extLanguages[strings.ToLower(filepath.Ext(args[0]))]
	}
	if language == "" {
		return fmt.Errorf("cannot infer language from %q; pass --language", args[0])
	}

	limits := cfg.Sandbox.Limits
	if execMaxTimeMs > 0 {
		limits.MaxTimeMs = execMaxTimeMs
	}
	if execMemoryMB > 0 {
		limits.MaxMemoryMB = execMemoryMB
	}
	if execNetwork {
		limits.AllowNetwork = true
	}
	if execWorkDir != "" {
		limits.AllowFileWrite = true
	}

	manager := sandbox.NewManagerWithRuntime(cfg.Sandbox.Precheck, cfg.Sandbox.Runtime)
	req := sandbox.Request{
		Language: language,
		Code:     code,
		Limits:   limits,
		WorkDir:  execWorkDir,
	}

	if execSelect {
		sel := manager.Select(req)
		out, _ := json.MarshalIndent(sel, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := manager.Execute(ctx, req)
	if err != nil {
		var cfgErr *sandbox.ConfigError
		if errors.As(err, &cfgErr) {
			return cfgErr
		}
		return err
	}

	if execJSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Print(result.Stdout)
		if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
		if result.TimedOut {
			fmt.Fprintf(os.Stderr, "timed out after %dms\n", result.DurationMs)
		}
	}

	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}

func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
