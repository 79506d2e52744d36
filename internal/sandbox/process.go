package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Process runs submissions as a child process of the host. Isolation is
// the process boundary only: no filesystem or network confinement. The
// deadline kills the child.
type Process struct{}

// NewProcess creates the external-process backend.
func NewProcess() *Process {
	return &Process{}
}

// Name implements Executor.
func (p *Process) Name() string { return "process" }

// interpreter describes how to launch one script language.
type interpreter struct {
	bin  string
	ext  string
	args func(path string) []string
}

var interpreters = map[string]interpreter{
	langPython:     {bin: "python3", ext: ".py", args: func(p string) []string { return []string{p} }},
	langJavaScript: {bin: "node", ext: ".js", args: func(p string) []string { return []string{p} }},
	langBash:       {bin: "bash", ext: ".sh", args: func(p string) []string { return []string{p} }},
}

// Execute implements Executor.
func (p *Process) Execute(ctx context.Context, req Request) (*Result, error) {
	interp, ok := interpreters[req.Language]
	if !ok {
		return &Result{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("unsupported language %q for process backend", req.Language),
		}, nil
	}

	if _, err := exec.LookPath(interp.bin); err != nil {
		return nil, fmt.Errorf("sandbox: process backend unavailable: %w", err)
	}

	dir, err := os.MkdirTemp("", "overseer-exec-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "main"+interp.ext)
	if err := os.WriteFile(script, []byte(req.Code), 0600); err != nil {
		return nil, fmt.Errorf("sandbox: write script: %w", err)
	}

	deadline := req.Limits.Deadline()
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interp.bin, interp.args(script)...)
	cmd.Dir = dir
	cmd.Env = processEnv(req.Globals)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Give the child a short grace window after the kill signal so we
	// still collect partial output.
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	res := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = ExitTimeout
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("execution exceeded %s deadline", deadline))
		return res, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("sandbox: spawn %s: %w", interp.bin, runErr)
		}
	}

	return res, nil
}

// processEnv passes request globals to the child as a single JSON blob in
// OVERSEER_GLOBALS, on top of a minimal environment.
func processEnv(globals map[string]any) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.TempDir(),
		"LANG=C.UTF-8",
	}
	if len(globals) > 0 {
		if blob, err := json.Marshal(globals); err == nil {
			env = append(env, "OVERSEER_GLOBALS="+string(blob))
		}
	}
	return env
}
