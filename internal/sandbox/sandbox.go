// Package sandbox executes untrusted generated code under one of several
// isolation backends behind a uniform result contract. Code-level failures
// are data (exit code, stderr), never Go errors; only configuration
// problems and backend unavailability surface as errors.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// ExitTimeout is the fixed exit code for any execution stopped by its
// wall-clock deadline, regardless of backend or partial output.
const ExitTimeout = 124

// Limits are per-execution resource bounds. Deadlines are wall-clock, not
// CPU ticks, so cooperative-loop code is interrupted externally.
type Limits struct {
	MaxTimeMs      int  `yaml:"max_time_ms"`
	MaxMemoryMB    int  `yaml:"max_memory_mb"`
	AllowNetwork   bool `yaml:"allow_network"`
	AllowFileWrite bool `yaml:"allow_file_write"`
}

// DefaultLimits returns the stock execution limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTimeMs:   30_000,
		MaxMemoryMB: 256,
	}
}

// Deadline returns the wall-clock budget as a duration.
func (l Limits) Deadline() time.Duration {
	if l.MaxTimeMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(l.MaxTimeMs) * time.Millisecond
}

// Request is one code submission.
type Request struct {
	Language string         `json:"language"`
	Code     string         `json:"code"`
	Globals  map[string]any `json:"globals,omitempty"`
	Limits   Limits         `json:"limits"`
	// WorkDir, when set and AllowFileWrite is true, is mounted writable
	// into the container backend. Other backends ignore it.
	WorkDir string `json:"work_dir,omitempty"`
}

// Result is the uniform execution outcome across backends.
type Result struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
	Backend    string `json:"backend"`
}

// ConfigError reports a malformed request. It is never auto-retried.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sandbox: bad request: %s: %s", e.Field, e.Detail)
}

// Executor runs one submission under one isolation strategy.
type Executor interface {
	Name() string
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Manager selects a backend per request and dispatches to it. Construct
// one per session; it holds no cross-session state beyond its counter.
type Manager struct {
	embedded  Executor
	process   Executor
	container Executor
	precheck  Precheck
	execCount atomic.Int64
}

// NewManager builds a Manager with the three stock backends and the given
// pre-check configuration.
func NewManager(pc Precheck) *Manager {
	return &Manager{
		embedded:  NewEmbedded(),
		process:   NewProcess(),
		container: NewContainer(),
		precheck:  pc,
	}
}

// NewManagerWithRuntime builds a Manager whose container backend uses
// the given CLI (docker or podman).
func NewManagerWithRuntime(pc Precheck, runtime string) *Manager {
	m := NewManager(pc)
	if runtime != "" {
		m.container = &Container{Runtime: runtime}
	}
	return m
}

// NewManagerWithBackends wires explicit backends (tests substitute fakes).
func NewManagerWithBackends(pc Precheck, embedded, process, container Executor) *Manager {
	return &Manager{
		embedded:  embedded,
		process:   process,
		container: container,
		precheck:  pc,
	}
}

// ExecutionCount reports how many Execute calls were made, successful or
// not. Incremented exactly once per call.
func (m *Manager) ExecutionCount() int64 {
	return m.execCount.Load()
}

// Selection explains which backend a request was routed to.
type Selection struct {
	Backend string   `json:"backend"`
	Reasons []string `json:"reasons,omitempty"`
}

// Select routes a request to a backend. The pre-check is advisory: a
// match escalates isolation, but real enforcement lives in the backend
// itself — "not flagged" does not mean "safe".
func (m *Manager) Select(req Request) Selection {
	lang := normalizeLanguage(req.Language)

	if lang == langStarlark {
		// The embedded interpreter has no filesystem or network access
		// at all, so there is nothing stronger to escalate to for it.
		return Selection{Backend: m.embedded.Name()}
	}

	if !scriptLanguages[lang] {
		return Selection{Backend: m.container.Name(), Reasons: []string{"non-script language"}}
	}

	if reasons := m.precheck.Inspect(req.Code); len(reasons) > 0 {
		return Selection{Backend: m.container.Name(), Reasons: reasons}
	}

	return Selection{Backend: m.process.Name()}
}

// Execute validates the request, routes it, and runs it. Unsupported
// languages fail fast with exit code 1 and a descriptive stderr — never a
// silent no-op.
func (m *Manager) Execute(ctx context.Context, req Request) (*Result, error) {
	m.execCount.Add(1)

	if strings.TrimSpace(req.Code) == "" {
		return nil, &ConfigError{Field: "code", Detail: "empty submission"}
	}

	lang := normalizeLanguage(req.Language)
	if !supportedLanguages[lang] {
		return &Result{
			ExitCode: 1,
			Stderr:   fmt.Sprintf("unsupported language %q", req.Language),
		}, nil
	}
	req.Language = lang

	sel := m.Select(req)
	var backend Executor
	switch sel.Backend {
	case m.embedded.Name():
		backend = m.embedded
	case m.container.Name():
		backend = m.container
	default:
		backend = m.process
	}

	res, err := backend.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Backend = sel.Backend
	return res, nil
}

// Language identifiers after normalization.
const (
	langStarlark   = "starlark"
	langPython     = "python"
	langJavaScript = "javascript"
	langBash       = "bash"
	langGo         = "go"
)

// scriptLanguages can run on the process backend; anything else supported
// needs the container.
var scriptLanguages = map[string]bool{
	langPython:     true,
	langJavaScript: true,
	langBash:       true,
}

var supportedLanguages = map[string]bool{
	langStarlark:   true,
	langPython:     true,
	langJavaScript: true,
	langBash:       true,
	langGo:         true,
}

func normalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "starlark", "star":
		return langStarlark
	case "python", "python3", "py":
		return langPython
	case "javascript", "js", "node":
		return langJavaScript
	case "bash", "sh", "shell":
		return langBash
	case "go", "golang":
		return langGo
	default:
		return strings.ToLower(strings.TrimSpace(lang))
	}
}
