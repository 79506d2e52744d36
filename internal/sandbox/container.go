package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Container runs submissions in an ephemeral, resource-capped container
// with networking off by default. Strongest isolation: filesystem changes
// are confined to the container (and the optional workdir mount), so a
// failed run rolls back by discarding the container.
type Container struct {
	// Runtime is the container CLI, "docker" unless overridden
	// (podman is drop-in compatible for the flags used here).
	Runtime string
}

// NewContainer creates the container backend.
func NewContainer() *Container {
	return &Container{Runtime: "docker"}
}

// Name implements Executor.
func (c *Container) Name() string { return "container" }

// containerImage maps each language to its runtime image and the command
// that executes /sandbox/main.<ext> inside it.
type containerImage struct {
	image string
	ext   string
	cmd   []string
}

var containerImages = map[string]containerImage{
	langPython:     {image: "python:3.12-alpine", ext: ".py", cmd: []string{"python3", "/sandbox/main.py"}},
	langJavaScript: {image: "node:22-alpine", ext: ".js", cmd: []string{"node", "/sandbox/main.js"}},
	langBash:       {image: "alpine:3.20", ext: ".sh", cmd: []string{"sh", "/sandbox/main.sh"}},
	langGo:         {image: "golang:1.25-alpine", ext: ".go", cmd: []string{"go", "run", "/sandbox/main.go"}},
}

// buildArgs assembles the `docker run` argument list for a request. Split
// out from Execute so the flag set is testable without a container
// runtime on the machine.
func (c *Container) buildArgs(req Request, scriptDir string, img containerImage) []string {
	args := []string{
		"run", "--rm",
		"--network", "none",
		"--pids-limit", "128",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"-v", scriptDir + ":/sandbox:ro",
	}
	if req.Limits.AllowNetwork {
		args[3] = "bridge"
	}
	if mem := req.Limits.MaxMemoryMB; mem > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", mem))
	}
	if req.Limits.AllowFileWrite && req.WorkDir != "" {
		args = append(args, "-v", req.WorkDir+":/workdir:rw", "-w", "/workdir")
	}
	args = append(args, img.image)
	args = append(args, img.cmd...)
	return args
}

// Execute implements Executor.
func (c *Container) Execute(ctx context.Context, req Request) (*Result, error) {
	img, ok := containerImages[req.Language]
	if !ok {
		return &Result{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("unsupported language %q for container backend", req.Language),
		}, nil
	}

	runtime := c.Runtime
	if runtime == "" {
		runtime = "docker"
	}
	if _, err := exec.LookPath(runtime); err != nil {
		return nil, fmt.Errorf("sandbox: container backend unavailable: %w", err)
	}

	dir, err := os.MkdirTemp("", "overseer-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("sandbox: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "main"+img.ext), []byte(req.Code), 0644); err != nil {
		return nil, fmt.Errorf("sandbox: write script: %w", err)
	}

	// The wall-clock budget covers container start-up too; callers running
	// under the container backend should size MaxTimeMs accordingly.
	deadline := req.Limits.Deadline()
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, runtime, c.buildArgs(req, dir, img)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

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
			return nil, fmt.Errorf("sandbox: run container: %w", runErr)
		}
	}

	return res, nil
}
