package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/overseer/internal/budget"
	"github.com/ppiankov/overseer/internal/governor"
	"github.com/ppiankov/overseer/internal/phase"
	"github.com/ppiankov/overseer/internal/planner"
	"github.com/ppiankov/overseer/internal/require"
	"github.com/ppiankov/overseer/internal/sandbox"
	"github.com/ppiankov/overseer/internal/snapshot"
)

type fakeExec struct {
	name string
	fn   func(req sandbox.Request) *sandbox.Result
}

func (f *fakeExec) Name() string { return f.name }

func (f *fakeExec) Execute(_ context.Context, req sandbox.Request) (*sandbox.Result, error) {
	r := f.fn(req)
	r.Backend = f.name
	return r, nil
}

func okBackend(name string) *fakeExec {
	return &fakeExec{name: name, fn: func(sandbox.Request) *sandbox.Result {
		return &sandbox.Result{ExitCode: 0, Stdout: "ok"}
	}}
}

func failBackend(name string) *fakeExec {
	return &fakeExec{name: name, fn: func(sandbox.Request) *sandbox.Result {
		return &sandbox.Result{ExitCode: 1, Stderr: "boom"}
	}}
}

func newManager(embedded sandbox.Executor) *sandbox.Manager {
	return sandbox.NewManagerWithBackends(sandbox.DefaultPrecheck(),
		embedded, okBackend("process"), okBackend("container"))
}

// stepFunc adapts a function to the Workload interface.
type stepFunc func(task planner.Task) Step

func (f stepFunc) Generate(_ context.Context, task planner.Task) (Step, error) {
	return f(task), nil
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Governor == nil {
		opts.Governor = governor.New(governor.DefaultConfig(), nil)
	}
	if opts.Sandbox == nil {
		opts.Sandbox = newManager(okBackend("embedded"))
	}
	if opts.Budget == nil {
		opts.Budget = budget.NewTracker(budget.Budget{})
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRunCompletesSingleRequirement(t *testing.T) {
	s := newSession(t, Options{})
	s.LoadTask("Implement the widget")

	work := stepFunc(func(task planner.Task) Step {
		return Step{Code: "print('done: " + task.RequirementID + "')", Language: "starlark"}
	})

	res, err := s.Run(context.Background(), work)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Phase != phase.Completed {
		t.Errorf("expected completed, got %s (reason %q)", res.Phase, res.Reason)
	}
	if !s.Tracker().AllCompleted() {
		t.Error("requirement not marked completed")
	}
	if res.Execution == nil || res.Execution.ExitCode != 0 {
		t.Errorf("execution result missing: %+v", res.Execution)
	}
}

func TestBudgetExhaustionPausesWithVerbatimReason(t *testing.T) {
	s := newSession(t, Options{
		Budget: budget.NewTracker(budget.Budget{MaxActions: 1}),
	})
	s.LoadTask("Do A\nDo B\nDo C")

	calls := 0
	work := stepFunc(func(planner.Task) Step {
		calls++
		// Distinct code per call so the loop detector sees progress.
		return Step{Code: "x = " + string(rune('0'+calls)), Language: "starlark"}
	})

	res, err := s.Run(context.Background(), work)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Phase != phase.Paused {
		t.Fatalf("expected paused, got %s", res.Phase)
	}
	if !strings.Contains(res.Reason, "budget exceeded") || !strings.Contains(res.Reason, "max_actions") {
		t.Errorf("budget reason not surfaced verbatim: %q", res.Reason)
	}
}

func TestDoomLoopHalts(t *testing.T) {
	s := newSession(t, Options{
		Sandbox:                newManager(failBackend("embedded")),
		MaxFailuresBeforePause: 5,
	})
	s.LoadTask("Make the flaky test pass")

	work := stepFunc(func(planner.Task) Step {
		return Step{Code: "broken()", Language: "starlark"}
	})

	res, err := s.Run(context.Background(), work)
	if err == nil {
		t.Fatal("expected a safety halt error")
	}
	var halt *governor.SafetyHalt
	if !errors.As(err, &halt) {
		t.Fatalf("expected SafetyHalt, got %T: %v", err, err)
	}
	if res.Phase != phase.Halted {
		t.Errorf("expected halted, got %s", res.Phase)
	}
	if !res.Verdict.Detected {
		t.Error("verdict must carry the detection")
	}
	if res.Reason != halt.Reason {
		t.Errorf("halt reason not surfaced verbatim: %q vs %q", res.Reason, halt.Reason)
	}
	if !strings.Contains(res.Reason, "doom loop detected") {
		t.Errorf("unexpected reason: %q", res.Reason)
	}
}

func TestCatastrophicActionDeniedAndBlocked(t *testing.T) {
	s := newSession(t, Options{})
	created := s.LoadTask("Clean up the build directory")

	work := stepFunc(func(planner.Task) Step {
		return Step{Tool: "shell", Input: map[string]any{"command": "rm -rf /"}}
	})

	res, err := s.RunCycle(context.Background(), work)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Gate == nil || res.Gate.Decision != "deny" {
		t.Fatalf("expected deny, got %+v", res.Gate)
	}
	got, _ := s.Tracker().Get(created[0].ID)
	if got.Status != require.StatusBlocked {
		t.Errorf("denied action must block its requirement, got %s", got.Status)
	}

	// With nothing left to plan and a blocked requirement, the session
	// pauses rather than claiming completion.
	res, err = s.RunCycle(context.Background(), work)
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}
	if res.Phase != phase.Paused {
		t.Errorf("expected paused, got %s", res.Phase)
	}
	if !strings.Contains(res.Reason, "blocked") {
		t.Errorf("reason should name the blockage: %q", res.Reason)
	}
}

func TestFailureThenRecovery(t *testing.T) {
	attempt := 0
	backend := &fakeExec{name: "embedded", fn: func(sandbox.Request) *sandbox.Result {
		attempt++
		if attempt == 1 {
			return &sandbox.Result{ExitCode: 1, Stderr: "assertion failed"}
		}
		return &sandbox.Result{ExitCode: 0, Stdout: "pass"}
	}}
	s := newSession(t, Options{Sandbox: newManager(backend)})
	s.LoadTask("Fix the widget")

	work := stepFunc(func(planner.Task) Step {
		return Step{Code: "check(" + string(rune('0'+attempt)) + ")", Language: "starlark"}
	})

	res, err := s.Run(context.Background(), work)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Phase != phase.Completed {
		t.Errorf("expected eventual completion, got %s (reason %q)", res.Phase, res.Reason)
	}
	if attempt != 2 {
		t.Errorf("expected a retry after the failure, got %d attempts", attempt)
	}
}

func TestSnapshotPersistAndResume(t *testing.T) {
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("snapshot.Open: %v", err)
	}
	defer store.Close()

	s := newSession(t, Options{
		ID:        "sess-resume",
		Autonomy:  planner.AutonomyCautious,
		Budget:    budget.NewTracker(budget.Budget{MaxActions: 1}),
		Snapshots: store,
	})
	s.LoadTask("Do A\nDo B")

	work := stepFunc(func(task planner.Task) Step {
		return Step{Code: "work('" + task.RequirementID + "')", Language: "starlark"}
	})
	res, err := s.Run(context.Background(), work)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Phase != phase.Paused {
		t.Fatalf("expected budget pause, got %s", res.Phase)
	}

	snap, ok, err := store.Load(context.Background(), "sess-resume")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if snap.Phase != phase.Paused {
		t.Errorf("persisted phase: %s", snap.Phase)
	}
	if len(snap.Requirements) != 2 {
		t.Fatalf("expected 2 persisted requirements, got %d", len(snap.Requirements))
	}

	// Resume with a raised budget and finish the remaining work.
	resumed, err := Resume(Options{
		Autonomy:  planner.AutonomyCautious,
		Governor:  governor.New(governor.DefaultConfig(), nil),
		Sandbox:   newManager(okBackend("embedded")),
		Budget:    budget.ResumeTracker(budget.Budget{MaxActions: 10}, snap.Usage),
		Snapshots: store,
	}, snap)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ID() != "sess-resume" {
		t.Errorf("resumed id: %s", resumed.ID())
	}

	res, err = resumed.Run(context.Background(), work)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if res.Phase != phase.Completed {
		t.Errorf("expected completion after resume, got %s (reason %q)", res.Phase, res.Reason)
	}
	if !resumed.Tracker().AllCompleted() {
		t.Error("resumed session lost requirement progress")
	}
}

func TestNewRequiresCoreComponents(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("missing components must be rejected")
	}
}
