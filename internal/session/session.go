// Package session wires the governor, sandbox, tracker, planner, budget,
// and state machine into one autonomous execution loop. A session owns
// its components for its lifetime: construct at start, dispose at end, so
// multiple sessions run isolated within one process.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/overseer/internal/audit"
	"github.com/ppiankov/overseer/internal/budget"
	"github.com/ppiankov/overseer/internal/governor"
	"github.com/ppiankov/overseer/internal/history"
	"github.com/ppiankov/overseer/internal/model"
	"github.com/ppiankov/overseer/internal/phase"
	"github.com/ppiankov/overseer/internal/planner"
	"github.com/ppiankov/overseer/internal/require"
	"github.com/ppiankov/overseer/internal/sandbox"
	"github.com/ppiankov/overseer/internal/snapshot"
)

// Step is one unit of generated work. Tool and Input describe how the
// step presents to the safety gate (a step with direct side effects
// declares the effective tool, e.g. "shell" or "write"); Code and
// Language are what runs in the sandbox. A step with an empty Tool is
// gated as plain sandboxed execution, which is always allowed — the
// sandbox backend is its own enforcement.
type Step struct {
	Tool     string
	Input    map[string]any
	Code     string
	Language string
	Tokens   int64
	CostUSD  float64
}

// Workload is the code-generation collaborator: given a task, it returns
// the step that should advance it.
type Workload interface {
	Generate(ctx context.Context, task planner.Task) (Step, error)
}

// Options configures a session. Governor, Sandbox, and Budget are
// required; Audit and Snapshots are optional sinks.
type Options struct {
	ID                     string
	Autonomy               planner.Autonomy
	MaxFailuresBeforePause int
	Limits                 sandbox.Limits
	WorkDir                string

	Governor  *governor.Governor
	Sandbox   *sandbox.Manager
	Budget    *budget.Tracker
	Audit     *audit.Log
	Snapshots *snapshot.Store
}

// Session is one autonomous run over a task.
type Session struct {
	id   string
	opts Options

	machine *phase.Machine
	tracker *require.Tracker
	history *history.Log

	iteration      int
	recentFailures int
	lastExitZero   bool
}

// New creates a session in the Planning phase.
func New(opts Options) (*Session, error) {
	if opts.Governor == nil || opts.Sandbox == nil || opts.Budget == nil {
		return nil, fmt.Errorf("session: governor, sandbox, and budget are required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	return &Session{
		id:      opts.ID,
		opts:    opts,
		machine: phase.NewMachine(),
		tracker: require.NewTracker(),
		history: history.New(),
	}, nil
}

// Resume reconstructs a session from a snapshot. The returned session's
// budget tracker must already carry the restored usage (see
// budget.ResumeTracker); everything else is rebuilt here.
func Resume(opts Options, snap snapshot.Snapshot) (*Session, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	s.id = snap.SessionID
	s.machine = phase.Resume(snap.Phase)
	s.iteration = snap.Iteration
	s.tracker.Restore(snap.Requirements)
	for _, op := range snap.Operations {
		s.history.Append(op)
	}
	// A session persisted mid-cycle resumes at the top of the loop.
	if cat := phase.CategoryOf(snap.Phase); cat == phase.CategoryActive && snap.Phase != phase.Planning {
		s.machine = phase.NewMachine()
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() phase.State { return s.machine.Current() }

// Tracker exposes the requirement tracker for inspection.
func (s *Session) Tracker() *require.Tracker { return s.tracker }

// LoadTask parses task text into requirements.
func (s *Session) LoadTask(text string) []*require.Requirement {
	return s.tracker.ParseRequirements(text)
}

// CycleResult reports what one cycle did.
type CycleResult struct {
	Phase     phase.State                `json:"phase"`
	Task      *planner.Task              `json:"task,omitempty"`
	Gate      *governor.GateResult       `json:"gate,omitempty"`
	Execution *sandbox.Result            `json:"execution,omitempty"`
	Verdict   model.LoopDetectionResult  `json:"verdict"`
	Analysis  planner.CompletionAnalysis `json:"analysis"`
	Reason    string                     `json:"reason,omitempty"`
}

// RunCycle executes one Plan → Execute → Score → Continue cycle. The
// returned error is non-nil only for hard stops: a safety halt, a phase
// bug, or context cancellation. Budget exhaustion and pauses are results,
// not errors, and their reasons are surfaced verbatim.
func (s *Session) RunCycle(ctx context.Context, work Workload) (CycleResult, error) {
	// Calling RunCycle on a paused session is the resume signal.
	if cur := s.machine.Current(); cur == phase.Continuing || cur == phase.Paused {
		if err := s.machine.To(phase.Planning); err != nil {
			return CycleResult{Phase: s.machine.Current()}, err
		}
	}
	if s.machine.Current() != phase.Planning {
		return CycleResult{Phase: s.machine.Current()},
			fmt.Errorf("session: cycle must start from planning, machine is %s", s.machine.Current())
	}

	// Planning.
	if check := s.opts.Budget.Exhausted(); check.Exceeded {
		return s.pause(check.Reason)
	}

	plannerCtx := planner.Context{
		Autonomy:               s.opts.Autonomy,
		Iteration:              s.iteration,
		RecentFailures:         s.recentFailures,
		MaxFailuresBeforePause: s.opts.MaxFailuresBeforePause,
	}
	plan := planner.PlanNextSteps(s.tracker.Pending(), plannerCtx)
	if len(plan.NextTasks) == 0 {
		if s.hasBlocked() {
			return s.pause("remaining requirements are blocked pending human review")
		}
		if err := s.machine.To(phase.Completed); err != nil {
			return CycleResult{Phase: s.machine.Current()}, err
		}
		res := CycleResult{Phase: phase.Completed, Reason: plan.Reason}
		s.emit(res, "")
		s.persist(ctx)
		return res, nil
	}
	if !plan.ShouldContinue {
		return s.pause(plan.Reason)
	}
	task := plan.NextTasks[0]

	// Executing.
	if err := s.machine.To(phase.Executing); err != nil {
		return CycleResult{Phase: s.machine.Current()}, err
	}
	s.iteration++

	res := CycleResult{Task: &task}
	op := model.Operation{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}

	step, err := work.Generate(ctx, task)
	if err != nil {
		op.Tool = "generate"
		op.Error = err.Error()
		s.recordFailure(&res, op, task, fmt.Sprintf("generation failed: %v", err))
	} else {
		s.executeStep(ctx, &res, &op, task, step)
	}

	// Scoring.
	if err := s.machine.To(phase.Scoring); err != nil {
		return CycleResult{Phase: s.machine.Current()}, err
	}

	detector := s.opts.Governor.DetectorConfig()
	now := time.Now().UTC()
	window := s.history.Window(now, detector.WindowAge, detector.WindowCount)
	verdict, haltErr := s.opts.Governor.Verdict(window, now)
	res.Verdict = verdict
	if haltErr != nil {
		if err := s.machine.To(phase.Halted); err != nil {
			return CycleResult{Phase: s.machine.Current()}, err
		}
		res.Phase = phase.Halted
		if halt, ok := haltErr.(*governor.SafetyHalt); ok {
			res.Reason = halt.Reason
		} else {
			res.Reason = haltErr.Error()
		}
		s.emit(res, "")
		s.persist(ctx)
		return res, haltErr
	}

	exhausted := s.opts.Budget.Exhausted()
	criteria := planner.CompletionCriteria{
		RequirementsCompleted: s.tracker.AllCompleted(),
		TestsPassing:          s.lastExitZero,
		VerificationPassed:    s.lastExitZero,
		NoBlockingIssues:      !s.hasBlocked(),
		ResourceExhausted:     exhausted.Exceeded,
	}
	res.Analysis = planner.AnalyzeCompletion(criteria)

	// Continuing (or a terminal/paused exit from Scoring).
	switch {
	case res.Analysis.AllComplete:
		if err := s.machine.To(phase.Completed); err != nil {
			return CycleResult{Phase: s.machine.Current()}, err
		}
		res.Phase = phase.Completed
	case res.Analysis.ShouldPause:
		if err := s.machine.To(phase.Paused); err != nil {
			return CycleResult{Phase: s.machine.Current()}, err
		}
		res.Phase = phase.Paused
		if exhausted.Exceeded {
			res.Reason = exhausted.Reason
		}
	default:
		if err := s.machine.To(phase.Continuing); err != nil {
			return CycleResult{Phase: s.machine.Current()}, err
		}
		res.Phase = phase.Continuing
	}

	s.emit(res, op.Tool)
	s.persist(ctx)
	return res, ctx.Err()
}

// Run drives cycles until the session leaves the active category. The
// result of the last cycle is returned along with any hard-stop error.
func (s *Session) Run(ctx context.Context, work Workload) (CycleResult, error) {
	var last CycleResult
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		res, err := s.RunCycle(ctx, work)
		if err != nil {
			return res, err
		}
		last = res
		if res.Phase != phase.Continuing {
			return last, nil
		}
	}
}

// executeStep gates and runs one generated step, appending the outcome to
// history and updating the requirement it advances.
func (s *Session) executeStep(ctx context.Context, res *CycleResult, op *model.Operation, task planner.Task, step Step) {
	tool := step.Tool
	input := step.Input
	if tool == "" {
		// The code is part of the operation identity: repeating the same
		// submission is what the loop detector must see as a repeat.
		tool = "sandbox"
		input = map[string]any{"language": step.Language, "code": step.Code}
	}
	op.Tool = tool
	op.Input = input

	s.opts.Budget.ChargeTokens(step.Tokens)
	s.opts.Budget.ChargeCost(step.CostUSD)

	gate := s.opts.Governor.GateAction(tool, input)
	res.Gate = &gate
	switch gate.Decision {
	case model.Deny:
		op.Error = fmt.Sprintf("denied: %s", gate.Reason)
		s.history.Append(*op)
		s.opts.Budget.ChargeAction()
		s.tracker.UpdateStatus(task.RequirementID, require.StatusBlocked)
		s.lastExitZero = false
		return
	case model.RequireApproval:
		approved, err := s.opts.Governor.AwaitApproval(ctx, gate.ApprovalKey)
		if err != nil || !approved {
			reason := gate.Reason
			if err != nil {
				reason = fmt.Sprintf("%s (%v)", reason, err)
			}
			op.Error = fmt.Sprintf("approval not granted: %s", reason)
			s.history.Append(*op)
			s.opts.Budget.ChargeAction()
			s.tracker.UpdateStatus(task.RequirementID, require.StatusBlocked)
			s.lastExitZero = false
			return
		}
	}

	if step.Code == "" {
		// Tool-only step: the gate decision is the whole outcome.
		op.Result = "allowed"
		s.history.Append(*op)
		s.chargeAction(gate)
		s.succeed(res, task)
		return
	}

	exec, err := s.opts.Sandbox.Execute(ctx, sandbox.Request{
		Language: step.Language,
		Code:     step.Code,
		Limits:   s.opts.Limits,
		WorkDir:  s.opts.WorkDir,
	})
	if err != nil {
		op.Error = err.Error()
		s.recordFailure(res, *op, task, fmt.Sprintf("execution setup failed: %v", err))
		s.chargeAction(gate)
		return
	}
	res.Execution = exec

	op.Result = exec.Stdout
	if exec.ExitCode != 0 {
		if exec.TimedOut {
			op.Error = fmt.Sprintf("timeout: exit %d", exec.ExitCode)
		} else {
			op.Error = fmt.Sprintf("exit %d: %s", exec.ExitCode, exec.Stderr)
		}
	}
	s.history.Append(*op)
	s.chargeAction(gate)

	if exec.ExitCode == 0 {
		s.succeed(res, task)
	} else {
		s.recentFailures++
		s.lastExitZero = false
		s.tracker.UpdateStatus(task.RequirementID, require.StatusInProgress)
	}
}

func (s *Session) succeed(res *CycleResult, task planner.Task) {
	s.recentFailures = 0
	s.lastExitZero = true
	if task.RequirementID != "" {
		s.tracker.UpdateStatus(task.RequirementID, require.StatusCompleted)
	}
}

func (s *Session) recordFailure(res *CycleResult, op model.Operation, task planner.Task, reason string) {
	s.history.Append(op)
	s.recentFailures++
	s.lastExitZero = false
	if task.RequirementID != "" {
		s.tracker.UpdateStatus(task.RequirementID, require.StatusInProgress)
	}
	if res.Reason == "" {
		res.Reason = reason
	}
}

func (s *Session) chargeAction(gate governor.GateResult) {
	var files []string
	if gate.Classification != nil {
		files = gate.Classification.Files
	}
	s.opts.Budget.ChargeAction(files...)
}

func (s *Session) hasBlocked() bool {
	for _, r := range s.tracker.All() {
		if r.Status == require.StatusBlocked {
			return true
		}
	}
	return false
}

// pause transitions to Paused and surfaces the reason verbatim.
func (s *Session) pause(reason string) (CycleResult, error) {
	if err := s.machine.To(phase.Paused); err != nil {
		return CycleResult{Phase: s.machine.Current()}, err
	}
	res := CycleResult{
		Phase:    phase.Paused,
		Analysis: planner.CompletionAnalysis{ShouldPause: true, Reasons: []string{reason}},
		Reason:   reason,
	}
	s.emit(res, "")
	s.persist(context.Background())
	return res, nil
}

// emit records per-cycle telemetry. Audit failures are not fatal to the
// cycle; the log is a sink, not a gate.
func (s *Session) emit(res CycleResult, tool string) {
	if s.opts.Audit == nil {
		return
	}
	usage := s.opts.Budget.Snapshot()
	entry := audit.Entry{
		SessionID: s.id,
		Phase:     string(res.Phase),
		Operation: audit.EntryOperation{Tool: tool},
		Verdict: audit.EntryVerdict{
			Detected:   res.Verdict.Detected,
			LoopType:   string(res.Verdict.LoopType),
			Confidence: res.Verdict.Confidence,
		},
		Usage: audit.EntryUsage{
			Tokens:       usage.Tokens,
			CostUSD:      usage.CostUSD,
			Actions:      usage.Actions,
			FilesChanged: usage.FilesChanged,
		},
		Reason: res.Reason,
	}
	if res.Gate != nil {
		entry.Decision = string(res.Gate.Decision)
		if res.Gate.Classification != nil && len(res.Gate.Classification.Files) > 0 {
			entry.Operation.Resource = res.Gate.Classification.Files[0]
		}
	}
	if res.Task != nil && entry.Operation.Resource == "" {
		entry.Operation.Resource = res.Task.RequirementID
	}
	_ = s.opts.Audit.Record(entry)
}

// persist saves a crash-recovery snapshot. Best effort: a failed save
// never aborts the cycle.
func (s *Session) persist(ctx context.Context) {
	if s.opts.Snapshots == nil {
		return
	}
	_ = s.opts.Snapshots.Save(ctx, snapshot.Snapshot{
		SessionID:    s.id,
		Phase:        s.machine.Current(),
		Autonomy:     string(s.opts.Autonomy),
		Iteration:    s.iteration,
		Usage:        s.opts.Budget.Snapshot(),
		Operations:   s.history.All(),
		Requirements: s.tracker.All(),
		UpdatedAt:    time.Now().UTC(),
	})
}
