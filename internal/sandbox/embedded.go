package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Embedded runs submissions inside a Starlark interpreter in the host
// process. The interpreter has no predeclared filesystem, network, or
// process access — its isolation is the language itself. The deadline is
// enforced by a watchdog cancelling the thread; Starlark checks the
// cancellation flag between steps, so even tight loops stop promptly.
type Embedded struct{}

// NewEmbedded creates the embedded-interpreter backend.
func NewEmbedded() *Embedded {
	return &Embedded{}
}

// Name implements Executor.
func (e *Embedded) Name() string { return "embedded" }

var starlarkOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Execute implements Executor.
func (e *Embedded) Execute(ctx context.Context, req Request) (*Result, error) {
	var stdout, stderr strings.Builder

	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			stdout.WriteString(msg)
			stdout.WriteByte('\n')
		},
	}

	predeclared, err := toPredeclared(req.Globals)
	if err != nil {
		return nil, &ConfigError{Field: "globals", Detail: err.Error()}
	}

	var timedOut atomic.Bool
	deadline := req.Limits.Deadline()
	watchdog := time.AfterFunc(deadline, func() {
		timedOut.Store(true)
		thread.Cancel("deadline exceeded")
	})
	defer watchdog.Stop()

	// External cancellation rides the same mechanism.
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel("context cancelled")
	})
	defer stop()

	start := time.Now()
	_, execErr := starlark.ExecFileOptions(starlarkOptions, thread, "sandbox.star", req.Code, predeclared)
	duration := time.Since(start)

	res := &Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: duration.Milliseconds(),
	}

	switch {
	case timedOut.Load():
		res.TimedOut = true
		res.ExitCode = ExitTimeout
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("execution exceeded %s deadline", deadline))
	case execErr != nil:
		res.ExitCode = 1
		if evalErr, ok := execErr.(*starlark.EvalError); ok {
			res.Stderr = appendLine(res.Stderr, evalErr.Backtrace())
		} else {
			res.Stderr = appendLine(res.Stderr, execErr.Error())
		}
	}

	return res, nil
}

// toPredeclared converts request globals into Starlark values.
func toPredeclared(globals map[string]any) (starlark.StringDict, error) {
	dict := make(starlark.StringDict, len(globals))
	for name, v := range globals {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", name, err)
		}
		dict[name] = sv
	}
	return dict, nil
}

func toStarlarkValue(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, e := range v {
			sv, err := toStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(v))
		for k, val := range v {
			sv, err := toStarlarkValue(val)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported global type %T", v)
	}
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
