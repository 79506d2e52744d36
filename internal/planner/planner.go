// Package planner decides, each cycle, whether the autonomous loop should
// continue, pause for a human, or stop because the task is done, and
// proposes the next ordered tasks. Every function is synchronous and
// never returns an error — outcomes are discriminated results so callers
// branch deterministically.
package planner

import (
	"fmt"
	"sort"

	"github.com/ppiankov/overseer/internal/require"
)

// CompletionCriteria is the boolean snapshot evaluated each cycle.
type CompletionCriteria struct {
	RequirementsCompleted bool `json:"requirements_completed"`
	TestsPassing          bool `json:"tests_passing"`
	VerificationPassed    bool `json:"verification_passed"`
	NoBlockingIssues      bool `json:"no_blocking_issues"`
	ResourceExhausted     bool `json:"resource_exhausted"`
}

// CompletionAnalysis is the outcome of analyzing completion criteria.
type CompletionAnalysis struct {
	AllComplete bool     `json:"all_complete"`
	CanContinue bool     `json:"can_continue"`
	ShouldPause bool     `json:"should_pause"`
	Reasons     []string `json:"reasons,omitempty"`
}

// AnalyzeCompletion checks the criteria in fixed order. Resource
// exhaustion dominates everything: it always forces a pause, regardless
// of how close the task looks to done.
func AnalyzeCompletion(c CompletionCriteria) CompletionAnalysis {
	if c.ResourceExhausted {
		return CompletionAnalysis{
			AllComplete: false,
			CanContinue: false,
			ShouldPause: true,
			Reasons:     []string{"resource budget exhausted"},
		}
	}

	if c.RequirementsCompleted && c.TestsPassing && c.VerificationPassed && c.NoBlockingIssues {
		return CompletionAnalysis{AllComplete: true, CanContinue: false}
	}

	var reasons []string
	if !c.RequirementsCompleted {
		reasons = append(reasons, "requirements not completed")
	}
	if !c.TestsPassing {
		reasons = append(reasons, "tests not passing")
	}
	if !c.VerificationPassed {
		reasons = append(reasons, "verification not passed")
	}
	if !c.NoBlockingIssues {
		reasons = append(reasons, "blocking issues present")
	}
	return CompletionAnalysis{CanContinue: true, Reasons: reasons}
}

// Context carries the per-cycle facts the planner weighs.
type Context struct {
	Autonomy               Autonomy `json:"autonomy"`
	Iteration              int      `json:"iteration"`
	RecentFailures         int      `json:"recent_failures"`
	MaxFailuresBeforePause int      `json:"max_failures_before_pause"`
	BudgetExhausted        bool     `json:"budget_exhausted"`
}

// failureCeiling returns the effective failure threshold.
func (c Context) failureCeiling() int {
	if c.MaxFailuresBeforePause > 0 {
		return c.MaxFailuresBeforePause
	}
	return 3
}

// ShouldContinue decides whether another unsupervised iteration is
// allowed. Failure and budget checks apply to every tier; the iteration
// ceiling depends on the autonomy level.
func ShouldContinue(ctx Context) bool {
	if ctx.BudgetExhausted {
		return false
	}
	if ctx.RecentFailures >= ctx.failureCeiling() {
		return false
	}
	ceiling := ctx.Autonomy.IterationCeiling()
	if ceiling > 0 && ctx.Iteration >= ceiling {
		return false
	}
	return true
}

// Task is one proposed next step.
type Task struct {
	RequirementID string `json:"requirement_id,omitempty"`
	Subject       string `json:"subject"`
	Priority      string `json:"priority"`
}

// NextStepPlan is the planner's output for one cycle.
type NextStepPlan struct {
	ShouldContinue  bool   `json:"should_continue"`
	ShouldPause     bool   `json:"should_pause"`
	NextTasks       []Task `json:"next_tasks"`
	EstimatedCycles int    `json:"estimated_cycles"`
	Reason          string `json:"reason"`
}

// PlanNextSteps proposes one task per pending requirement, ordered by
// priority (stable within a priority). An empty pending set means the
// work is done.
func PlanNextSteps(pending []require.Requirement, ctx Context) NextStepPlan {
	if len(pending) == 0 {
		return NextStepPlan{
			ShouldContinue:  false,
			NextTasks:       []Task{},
			EstimatedCycles: 0,
			Reason:          "All requirements completed",
		}
	}

	ordered := make([]require.Requirement, len(pending))
	copy(ordered, pending)
	sort.SliceStable(ordered, func(i, j int) bool {
		return require.PriorityRank[ordered[i].Priority] < require.PriorityRank[ordered[j].Priority]
	})

	tasks := make([]Task, len(ordered))
	for i, r := range ordered {
		tasks[i] = Task{
			RequirementID: r.ID,
			Subject:       r.Description,
			Priority:      string(r.Priority),
		}
	}

	// Roughly three requirements per cycle, never less than one.
	cycles := (len(tasks) + 2) / 3

	return NextStepPlan{
		ShouldContinue:  ShouldContinue(ctx),
		NextTasks:       tasks,
		EstimatedCycles: cycles,
		Reason:          fmt.Sprintf("%d pending requirements", len(tasks)),
	}
}

// TestFailureInfo summarizes a failed test run.
type TestFailureInfo struct {
	Failures     int      `json:"failures"`
	FailingTests []string `json:"failing_tests,omitempty"`
	Summary      string   `json:"summary,omitempty"`
}

// PlanAfterTestFailure produces either a single corrective task or, at
// the failure threshold, a pause for human review.
func PlanAfterTestFailure(info TestFailureInfo, ctx Context) NextStepPlan {
	if ctx.RecentFailures >= ctx.failureCeiling() {
		return NextStepPlan{
			ShouldContinue: false,
			ShouldPause:    true,
			NextTasks:      []Task{},
			Reason: fmt.Sprintf("%d consecutive test failures, pausing for review",
				ctx.RecentFailures),
		}
	}

	subject := "Fix failing tests"
	if len(info.FailingTests) > 0 {
		subject = fmt.Sprintf("Fix failing test %s", info.FailingTests[0])
	} else if info.Summary != "" {
		subject = fmt.Sprintf("Fix: %s", info.Summary)
	}

	return NextStepPlan{
		ShouldContinue:  true,
		NextTasks:       []Task{{Subject: subject, Priority: "critical"}},
		EstimatedCycles: 1,
		Reason:          fmt.Sprintf("test failure %d of %d tolerated", ctx.RecentFailures+1, ctx.failureCeiling()),
	}
}
