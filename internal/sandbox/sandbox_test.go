package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fake is a stub backend recording what reached it.
type fake struct {
	name   string
	called int
	result *Result
	err    error
}

func (f *fake) Name() string { return f.name }

func (f *fake) Execute(_ context.Context, _ Request) (*Result, error) {
	f.called++
	if f.result != nil || f.err != nil {
		return f.result, f.err
	}
	return &Result{}, nil
}

func fakeManager() (*Manager, *fake, *fake, *fake) {
	emb := &fake{name: "embedded"}
	proc := &fake{name: "process"}
	cont := &fake{name: "container"}
	return NewManagerWithBackends(DefaultPrecheck(), emb, proc, cont), emb, proc, cont
}

func TestSelectStarlarkStaysEmbedded(t *testing.T) {
	m, _, _, _ := fakeManager()
	sel := m.Select(Request{Language: "starlark", Code: "x = 1"})
	if sel.Backend != "embedded" {
		t.Errorf("expected embedded, got %s", sel.Backend)
	}
}

func TestSelectCleanScriptUsesProcess(t *testing.T) {
	m, _, _, _ := fakeManager()
	sel := m.Select(Request{Language: "python", Code: "print(1 + 1)"})
	if sel.Backend != "process" {
		t.Errorf("expected process, got %s (%v)", sel.Backend, sel.Reasons)
	}
}

func TestSelectEscalatesOnDisallowedConstructs(t *testing.T) {
	m, _, _, _ := fakeManager()
	cases := []string{
		"import subprocess; subprocess.run(['ls'])",
		"import os\nprint(os.environ['HOME'])",
		"__import__('shutil')",
		"const net = require('net')",
		"fetch('https://example.com')",
	}
	for _, code := range cases {
		sel := m.Select(Request{Language: "python", Code: code})
		if sel.Backend != "container" {
			t.Errorf("expected container escalation for %q, got %s", code, sel.Backend)
		}
		if len(sel.Reasons) == 0 {
			t.Errorf("escalation must carry reasons for %q", code)
		}
	}
}

func TestSelectEscalatesOnSize(t *testing.T) {
	m, _, _, _ := fakeManager()
	sel := m.Select(Request{Language: "python", Code: strings.Repeat("x = 1\n", 2000)})
	if sel.Backend != "container" {
		t.Errorf("expected container for oversized source, got %s", sel.Backend)
	}
}

func TestSelectEscalatesOnFunctionCount(t *testing.T) {
	m, _, _, _ := fakeManager()
	var b strings.Builder
	for i := 0; i < 12; i++ {
		b.WriteString("def f")
		b.WriteByte(byte('a' + i))
		b.WriteString("():\n    pass\n")
	}
	sel := m.Select(Request{Language: "python", Code: b.String()})
	if sel.Backend != "container" {
		t.Errorf("expected container for 12 function defs, got %s", sel.Backend)
	}
}

func TestSelectNonScriptLanguageUsesContainer(t *testing.T) {
	m, _, _, _ := fakeManager()
	sel := m.Select(Request{Language: "go", Code: "package main"})
	if sel.Backend != "container" {
		t.Errorf("expected container for go, got %s", sel.Backend)
	}
}

func TestExecuteRoutesToSelectedBackend(t *testing.T) {
	m, emb, proc, cont := fakeManager()

	m.Execute(context.Background(), Request{Language: "starlark", Code: "x = 1"})
	m.Execute(context.Background(), Request{Language: "python", Code: "print(1)"})
	m.Execute(context.Background(), Request{Language: "go", Code: "package main"})

	if emb.called != 1 || proc.called != 1 || cont.called != 1 {
		t.Errorf("routing mismatch: embedded=%d process=%d container=%d", emb.called, proc.called, cont.called)
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	m, _, _, _ := fakeManager()
	res, err := m.Execute(context.Background(), Request{Language: "cobol", Code: "DISPLAY 'HI'."})
	if err != nil {
		t.Fatalf("unsupported language must be a result, not an error: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("expected exit 1, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "cobol") {
		t.Errorf("stderr must name the language: %q", res.Stderr)
	}
}

func TestExecuteEmptyCodeIsConfigError(t *testing.T) {
	m, _, _, _ := fakeManager()
	_, err := m.Execute(context.Background(), Request{Language: "python", Code: "   "})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
}

func TestExecutionCounterIncrementsOncePerCall(t *testing.T) {
	m, _, _, _ := fakeManager()

	m.Execute(context.Background(), Request{Language: "python", Code: "print(1)"}) // ok
	m.Execute(context.Background(), Request{Language: "cobol", Code: "X."})        // unsupported
	m.Execute(context.Background(), Request{Language: "python", Code: ""})         // config error

	if got := m.ExecutionCount(); got != 3 {
		t.Errorf("expected counter 3, got %d", got)
	}
}

func TestLanguageNormalization(t *testing.T) {
	cases := map[string]string{
		"Python3": langPython,
		"JS":      langJavaScript,
		"sh":      langBash,
		"golang":  langGo,
		"star":    langStarlark,
	}
	for in, want := range cases {
		if got := normalizeLanguage(in); got != want {
			t.Errorf("normalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContainerBuildArgs(t *testing.T) {
	c := NewContainer()
	req := Request{
		Language: "python",
		Limits:   Limits{MaxMemoryMB: 128},
	}
	args := c.buildArgs(req, "/tmp/s", containerImages[langPython])

	joined := strings.Join(args, " ")
	for _, want := range []string{"--network none", "--memory 128m", "--cap-drop ALL", "/tmp/s:/sandbox:ro", "python:3.12-alpine"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in args: %s", want, joined)
		}
	}
	if strings.Contains(joined, "/workdir") {
		t.Error("workdir must not be mounted without AllowFileWrite")
	}
}

func TestContainerBuildArgsWorkdirAndNetwork(t *testing.T) {
	c := NewContainer()
	req := Request{
		Language: "python",
		WorkDir:  "/proj",
		Limits:   Limits{AllowNetwork: true, AllowFileWrite: true},
	}
	args := c.buildArgs(req, "/tmp/s", containerImages[langPython])

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--network bridge") {
		t.Errorf("expected bridge network: %s", joined)
	}
	if !strings.Contains(joined, "/proj:/workdir:rw") {
		t.Errorf("expected writable workdir mount: %s", joined)
	}
}

func TestPrecheckCleanCode(t *testing.T) {
	pc := DefaultPrecheck()
	if reasons := pc.Inspect("def add(a, b):\n    return a + b\nprint(add(1, 2))\n"); len(reasons) != 0 {
		t.Errorf("clean code must not be flagged: %v", reasons)
	}
}
