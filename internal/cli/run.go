package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/overseer/internal/approval"
	"github.com/ppiankov/overseer/internal/audit"
	"github.com/ppiankov/overseer/internal/budget"
	"github.com/ppiankov/overseer/internal/config"
	"github.com/ppiankov/overseer/internal/governor"
	"github.com/ppiankov/overseer/internal/phase"
	"github.com/ppiankov/overseer/internal/planner"
	"github.com/ppiankov/overseer/internal/sandbox"
	"github.com/ppiankov/overseer/internal/session"
	"github.com/ppiankov/overseer/internal/snapshot"
)

var (
	runGenerator string
	runAutonomy  string
	runResume    string
	runWorkDir   string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runGenerator, "generator", "", "Code-generation command; receives the task as JSON on stdin and must print {\"code\",\"language\"} JSON")
	runCmd.Flags().StringVar(&runAutonomy, "autonomy", "", "Autonomy tier (timid/cautious/balanced/bold/crazy); overrides config")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Resume a persisted session by id instead of starting fresh")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Directory mounted writable into the container backend")
}

var runCmd = &cobra.Command{
	Use:   "run <task-file>",
	Short: "Run an autonomous session over a task description",
	Long: "Drives Plan → Execute → Score → Continue cycles until the task completes,\n" +
		"the session pauses (budget, failures, blocked approvals), or the safety\n" +
		"governor halts it. Exit code 75 means paused, 70 means halted.",
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if runGenerator == "" {
		return fmt.Errorf("--generator is required: overseer does not generate code itself")
	}
	if runResume == "" && len(args) == 0 {
		return fmt.Errorf("a task file is required unless --resume is given")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := approval.NewStore(cfg.ApprovalDir)
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditLog)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	snapshots, err := snapshot.Open(cfg.SnapshotDB)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	autonomy := cfg.Session.Autonomy
	if runAutonomy != "" {
		autonomy = runAutonomy
	}

	opts := session.Options{
		Autonomy:               planner.ParseAutonomy(autonomy),
		MaxFailuresBeforePause: cfg.Session.MaxFailuresBeforePause,
		Limits:                 cfg.Sandbox.Limits,
		WorkDir:                runWorkDir,
		Governor:               governor.New(cfg.Governor, store),
		Sandbox:                sandbox.NewManagerWithRuntime(cfg.Sandbox.Precheck, cfg.Sandbox.Runtime),
		Audit:                  auditLog,
		Snapshots:              snapshots,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted; session state is persisted for --resume")
		cancel()
	}()

	var sess *session.Session
	if runResume != "" {
		snap, ok, err := snapshots.Load(ctx, runResume)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no persisted session %q", runResume)
		}
		opts.Budget = budget.ResumeTracker(cfg.Budget, snap.Usage)
		sess, err = session.Resume(opts, snap)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Resuming session %s from %s\n", sess.ID(), snap.Phase)
	} else {
		opts.Budget = budget.NewTracker(cfg.Budget)
		sess, err = session.New(opts)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read task file: %w", err)
		}
		created := sess.LoadTask(string(data))
		fmt.Fprintf(os.Stderr, "Session %s: %d requirements\n", sess.ID(), len(created))
	}

	result, err := sess.Run(ctx, &execWorkload{command: runGenerator})

	stats := sess.Tracker().Stats()
	fmt.Fprintf(os.Stderr, "\nSession %s finished in %s: %d/%d requirements completed (%d%%)\n",
		sess.ID(), result.Phase, stats.Completed, stats.Total, stats.Percentage)
	if result.Reason != "" {
		fmt.Fprintf(os.Stderr, "Reason: %s\n", result.Reason)
	}

	var halt *governor.SafetyHalt
	switch {
	case errors.As(err, &halt):
		os.Exit(70)
	case err != nil:
		return err
	case result.Phase == phase.Paused:
		fmt.Fprintf(os.Stderr, "Resume with: overseer run --resume %s --generator ...\n", sess.ID())
		os.Exit(75)
	}
	return nil
}

// execWorkload shells out to an external code generator. The task is
// written to its stdin as JSON; it must print a JSON object with "code"
// and "language" fields (optionally "tool", "input", "tokens", "cost_usd").
type execWorkload struct {
	command string
}

func (w *execWorkload) Generate(ctx context.Context, task planner.Task) (session.Step, error) {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return session.Step{}, err
	}

	parts := strings.Fields(w.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(taskJSON)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return session.Step{}, fmt.Errorf("generator failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var step struct {
		Tool     string         `json:"tool"`
		Input    map[string]any `json:"input"`
		Code     string         `json:"code"`
		Language string         `json:"language"`
		Tokens   int64          `json:"tokens"`
		CostUSD  float64        `json:"cost_usd"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &step); err != nil {
		return session.Step{}, fmt.Errorf("generator output is not valid JSON: %w", err)
	}

	return session.Step{
		Tool:     step.Tool,
		Input:    step.Input,
		Code:     step.Code,
		Language: step.Language,
		Tokens:   step.Tokens,
		CostUSD:  step.CostUSD,
	}, nil
}
